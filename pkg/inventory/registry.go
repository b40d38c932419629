package inventory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Registry maps resource kinds to their collectors.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// collectors maps kind to collector.
	collectors map[engine.Kind]engine.Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[engine.Kind]engine.Collector)}
}

// Register adds c under its kind.
func (r *Registry) Register(c engine.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := c.Kind()
	if !kind.Valid() {
		return fmt.Errorf("invalid resource kind %q", kind)
	}
	if _, exists := r.collectors[kind]; exists {
		return fmt.Errorf("collector for %s already registered", kind)
	}
	r.collectors[kind] = c
	return nil
}

// Get returns the collector for kind.
func (r *Registry) Get(kind engine.Kind) (engine.Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collectors[kind]
	return c, ok
}

// TagResolver returns the tag resolver for kind when its collector implements one.
func (r *Registry) TagResolver(kind engine.Kind) (engine.TagResolver, bool) {
	c, ok := r.Get(kind)
	if !ok {
		return nil, false
	}
	tr, ok := c.(engine.TagResolver)
	return tr, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []engine.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]engine.Kind, 0, len(r.collectors))
	for k := range r.collectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// LoadSnapshots registers a SnapshotCollector for every kind with an
// inventory file under dir. Kinds without a file are skipped.
func LoadSnapshots(dir string, pageSize int, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, kind := range engine.Kinds() {
		p := SnapshotPath(dir, kind)
		if p == "" {
			logger.Debug().Str("kind", string(kind)).Str("dir", dir).Msg("No inventory snapshot")
			continue
		}
		c, err := NewSnapshotCollector(kind, p, pageSize, logger)
		if err != nil {
			return nil, err
		}
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}
