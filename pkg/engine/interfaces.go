package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Page is one page of a paginated listing.
type Page struct {
	Facts []Facts

	// NextToken is empty on the last page.
	NextToken string
}

// Collector enumerates and manages resources of one kind.
type Collector interface {
	// Kind returns the kind this collector handles.
	Kind() Kind

	// ListPage returns the page of resources starting at token. An empty token
	// starts from the beginning.
	ListPage(ctx context.Context, token string) (Page, error)

	// Describe returns the full native description of a resource, including
	// script or definition bodies for jobs and workflows. Missing resources
	// return an error satisfying IsNotFound.
	Describe(ctx context.Context, name string) (*Description, error)

	// Delete issues the native delete call.
	Delete(ctx context.Context, name string) error
}

// TagResolver looks up a single tag for BY_TAG classification.
// ok is false when the tag is absent.
type TagResolver interface {
	TagValue(ctx context.Context, name, key string) (value string, ok bool, err error)
}

// ResultSink persists decision records as dated partitions.
type ResultSink interface {
	// Append writes records into partition. Partitions are add-only.
	Append(ctx context.Context, records []DecisionRecord, partition Partition) error

	// Query returns the records matching q.
	Query(ctx context.Context, q Query) ([]DecisionRecord, error)
}

// RunRecorder stores run summaries alongside partitions.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary RunSummary) error
}

// BackupObject describes a committed backup.
type BackupObject struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Class     string    `json:"class_label,omitempty"`
	Date      time.Time `json:"date"`
	Location  string    `json:"location"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// StagedBackup is a backup written but not yet committed. Exactly one of
// Commit or Discard must be called.
type StagedBackup interface {
	// StagingLocation is where the staged data lives until Commit.
	StagingLocation() string
	Commit(ctx context.Context) (*BackupObject, error)
	Discard(ctx context.Context) error
}

// BackupStore writes immutable backups keyed by kind, name and date.
type BackupStore interface {
	// Stage writes desc to a staging area.
	Stage(ctx context.Context, desc *Description, date time.Time) (StagedBackup, error)

	// List returns committed backups, optionally restricted to one kind.
	List(ctx context.Context, kind Kind) ([]BackupObject, error)

	// Remove deletes a committed backup.
	Remove(ctx context.Context, obj BackupObject) error

	// Open reads one file of a committed backup.
	Open(ctx context.Context, obj BackupObject, file string) (io.ReadCloser, error)
}

// ListAll drains pagination for c.
func ListAll(ctx context.Context, c Collector) ([]Facts, error) {
	var (
		out   []Facts
		token string
		seen  = make(map[string]struct{})
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := c.ListPage(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s resources: %w", c.Kind(), err)
		}
		out = append(out, page.Facts...)
		if page.NextToken == "" {
			return out, nil
		}
		if _, dup := seen[page.NextToken]; dup {
			return nil, fmt.Errorf("failed to list %s resources: pagination token %q repeated", c.Kind(), page.NextToken)
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}
}
