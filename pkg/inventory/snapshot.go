package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rosiehq/rosie/pkg/engine"
)

var snapshotExtensions = []string{".yaml", ".yml", ".json"}

// SnapshotCollector serves one kind from an inventory file exported from the
// account. Delete rewrites the file without the deleted resource.
type SnapshotCollector struct {
	kind     engine.Kind
	path     string
	pageSize int
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewSnapshotCollector creates a collector backed by the file at path.
func NewSnapshotCollector(kind engine.Kind, path string, pageSize int, logger zerolog.Logger) (*SnapshotCollector, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid resource kind %q", kind)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open %s inventory: %w", kind, err)
	}
	return &SnapshotCollector{
		kind:     kind,
		path:     path,
		pageSize: pageSize,
		logger:   logger.With().Str("component", "inventory").Str("kind", string(kind)).Logger(),
	}, nil
}

// SnapshotPath returns the inventory file for kind under dir, or "" when none exists.
func SnapshotPath(dir string, kind engine.Kind) string {
	for _, ext := range snapshotExtensions {
		p := filepath.Join(dir, string(kind)+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Kind returns the kind this collector handles.
func (c *SnapshotCollector) Kind() engine.Kind { return c.kind }

// Path returns the backing file.
func (c *SnapshotCollector) Path() string { return c.path }

// ListPage returns the page of resources starting at token.
func (c *SnapshotCollector) ListPage(_ context.Context, token string) (engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read()
	if err != nil {
		return engine.Page{}, err
	}
	return page(c.kind, doc.Resources, token, c.pageSize)
}

// Describe returns the native description of name.
func (c *SnapshotCollector) Describe(_ context.Context, name string) (*engine.Description, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read()
	if err != nil {
		return nil, err
	}
	i := find(doc.Resources, name)
	if i < 0 {
		return nil, engine.NewNotFoundError(c.kind, name)
	}
	return doc.Resources[i].Description(c.kind)
}

// Delete removes name from the inventory file.
func (c *SnapshotCollector) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read()
	if err != nil {
		return err
	}
	i := find(doc.Resources, name)
	if i < 0 {
		return engine.NewNotFoundError(c.kind, name)
	}
	doc.Resources = append(doc.Resources[:i], doc.Resources[i+1:]...)

	if err := c.write(doc); err != nil {
		return err
	}
	c.logger.Debug().Str("resource", name).Msg("Removed resource from inventory")
	return nil
}

// TagValue looks up one tag of name.
func (c *SnapshotCollector) TagValue(_ context.Context, name, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read()
	if err != nil {
		return "", false, err
	}
	i := find(doc.Resources, name)
	if i < 0 {
		return "", false, engine.NewNotFoundError(c.kind, name)
	}
	v, ok := tagValue(doc.Resources[i], key)
	return v, ok, nil
}

func (c *SnapshotCollector) isJSON() bool {
	return strings.EqualFold(filepath.Ext(c.path), ".json")
}

func (c *SnapshotCollector) read() (*Document, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", c.path, err)
	}

	var doc Document
	if c.isJSON() {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", c.path, err)
	}

	if doc.Kind != "" && doc.Kind != c.kind {
		return nil, fmt.Errorf("inventory %s holds %s resources, expected %s", c.path, doc.Kind, c.kind)
	}
	sortResources(doc.Resources)
	return &doc, nil
}

func (c *SnapshotCollector) write(doc *Document) error {
	doc.Kind = c.kind

	var (
		data []byte
		err  error
	)
	if c.isJSON() {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(doc); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to encode inventory %s: %w", c.path, err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write inventory %s: %w", c.path, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace inventory %s: %w", c.path, err)
	}
	return nil
}

// WriteSnapshot writes resources as the inventory of kind at path. The
// format follows the file extension.
func WriteSnapshot(path string, kind engine.Kind, resources []Resource) error {
	c := &SnapshotCollector{kind: kind, path: path}
	doc := &Document{Resources: append([]Resource(nil), resources...)}
	sortResources(doc.Resources)
	return c.write(doc)
}
