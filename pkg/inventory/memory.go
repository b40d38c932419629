package inventory

import (
	"context"
	"sync"

	"github.com/rosiehq/rosie/pkg/engine"
)

// MemoryCollector is an in-process collector. Failures can be injected per
// operation for exercising error paths.
type MemoryCollector struct {
	kind     engine.Kind
	pageSize int

	mu        sync.Mutex
	resources []Resource
	deleted   []string

	listErr     error
	tagErr      error
	describeErr map[string]error
	deleteErr   map[string]error
}

// NewMemoryCollector creates an empty collector for kind.
func NewMemoryCollector(kind engine.Kind, pageSize int, resources ...Resource) *MemoryCollector {
	c := &MemoryCollector{
		kind:        kind,
		pageSize:    pageSize,
		describeErr: make(map[string]error),
		deleteErr:   make(map[string]error),
	}
	c.Put(resources...)
	return c
}

// Kind returns the kind this collector handles.
func (c *MemoryCollector) Kind() engine.Kind { return c.kind }

// Put adds or replaces resources.
func (c *MemoryCollector) Put(resources ...Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range resources {
		if i := find(c.resources, r.Name); i >= 0 {
			c.resources[i] = r
			continue
		}
		c.resources = append(c.resources, r)
	}
	sortResources(c.resources)
}

// FailList makes ListPage return err.
func (c *MemoryCollector) FailList(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// FailTags makes TagValue return err.
func (c *MemoryCollector) FailTags(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagErr = err
}

// FailDescribe makes Describe of name return err.
func (c *MemoryCollector) FailDescribe(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.describeErr[name] = err
}

// FailDelete makes Delete of name return err.
func (c *MemoryCollector) FailDelete(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErr[name] = err
}

// Deleted returns the names deleted so far, in order.
func (c *MemoryCollector) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Len returns the number of resources held.
func (c *MemoryCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// ListPage returns the page of resources starting at token.
func (c *MemoryCollector) ListPage(_ context.Context, token string) (engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listErr != nil {
		return engine.Page{}, c.listErr
	}
	return page(c.kind, c.resources, token, c.pageSize)
}

// Describe returns the native description of name.
func (c *MemoryCollector) Describe(_ context.Context, name string) (*engine.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.describeErr[name]; err != nil {
		return nil, err
	}
	i := find(c.resources, name)
	if i < 0 {
		return nil, engine.NewNotFoundError(c.kind, name)
	}
	return c.resources[i].Description(c.kind)
}

// Delete removes name.
func (c *MemoryCollector) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.deleteErr[name]; err != nil {
		return err
	}
	i := find(c.resources, name)
	if i < 0 {
		return engine.NewNotFoundError(c.kind, name)
	}
	c.resources = append(c.resources[:i], c.resources[i+1:]...)
	c.deleted = append(c.deleted, name)
	return nil
}

// TagValue looks up one tag of name.
func (c *MemoryCollector) TagValue(_ context.Context, name, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tagErr != nil {
		return "", false, c.tagErr
	}
	i := find(c.resources, name)
	if i < 0 {
		return "", false, engine.NewNotFoundError(c.kind, name)
	}
	v, ok := tagValue(c.resources[i], key)
	return v, ok, nil
}
