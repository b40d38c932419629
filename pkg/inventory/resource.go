package inventory

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/jinzhu/copier"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Resource is one inventory entry as exported from the account.
type Resource struct {
	Name             string            `json:"name" yaml:"name"`
	CreationDate     time.Time         `json:"creation_date" yaml:"creation_date"`
	LastActivityDate time.Time         `json:"last_activity_date,omitempty" yaml:"last_activity_date,omitempty"`
	Tags             map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Details          map[string]string `json:"details,omitempty" yaml:"details,omitempty"`

	// Metadata is the native description returned by Describe.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Attachments are script or definition bodies keyed by file name.
	Attachments map[string]string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Document is the on-disk shape of a snapshot file.
type Document struct {
	Kind      engine.Kind `json:"kind" yaml:"kind"`
	Resources []Resource  `json:"resources" yaml:"resources"`
}

// Facts converts r into evaluation facts for kind. The facts own their tag
// and detail maps.
func (r Resource) Facts(kind engine.Kind) (engine.Facts, error) {
	var facts engine.Facts
	if err := copier.Copy(&facts, &r); err != nil {
		return engine.Facts{}, fmt.Errorf("failed to convert %s: %w", r.Name, err)
	}
	facts.Kind = kind
	facts.CreationDate = r.CreationDate.UTC()
	facts.LastActivityDate = r.LastActivityDate.UTC()
	facts.Tags = maps.Clone(r.Tags)
	facts.Details = maps.Clone(r.Details)

	// A job that never ran counts as active on the day it was created.
	if r.LastActivityDate.IsZero() && kind == engine.KindGlueJob {
		facts.LastActivityDate = facts.CreationDate
	}
	return facts, nil
}

// Description builds the native description of r.
func (r Resource) Description(kind engine.Kind) (*engine.Description, error) {
	doc := make(map[string]interface{}, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		doc[k] = v
	}
	doc["Name"] = r.Name
	doc["CreationDate"] = r.CreationDate.UTC().Format(time.RFC3339)
	if !r.LastActivityDate.IsZero() {
		doc["LastActivityDate"] = r.LastActivityDate.UTC().Format(time.RFC3339)
	}
	if len(r.Tags) > 0 {
		doc["Tags"] = r.Tags
	}

	metadata, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode description of %s: %w", r.Name, err)
	}

	desc := &engine.Description{Kind: kind, Name: r.Name, Metadata: metadata}
	if kind.HasAttachment() && len(r.Attachments) > 0 {
		desc.Attachments = make(map[string][]byte, len(r.Attachments))
		for name, body := range r.Attachments {
			desc.Attachments[name] = []byte(body)
		}
	}
	return desc, nil
}

func sortResources(resources []Resource) {
	sort.SliceStable(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
}
