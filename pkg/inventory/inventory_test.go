package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

var created = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func nopLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func jobs() []Resource {
	return []Resource{
		{
			Name:         "etl_prod",
			CreationDate: created,
			Tags:         map[string]string{"Environment": "prod"},
			Metadata:     map[string]interface{}{"WorkerType": "G.1X"},
			Attachments:  map[string]string{"etl_prod.py": "print('prod')\n"},
		},
		{
			Name:             "etl_dev",
			CreationDate:     created,
			LastActivityDate: created.AddDate(0, 1, 0),
			Tags:             map[string]string{"environment": "dev"},
			Attachments:      map[string]string{"etl_dev.py": "print('dev')\n"},
		},
		{Name: "etl_hml", CreationDate: created},
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		pages    int
	}{
		{name: "one per page", pageSize: 1, pages: 3},
		{name: "two per page", pageSize: 2, pages: 2},
		{name: "default size", pageSize: 0, pages: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMemoryCollector(engine.KindGlueJob, tt.pageSize, jobs()...)

			var (
				token string
				pages int
				names []string
			)
			for {
				p, err := c.ListPage(context.Background(), token)
				if err != nil {
					t.Fatalf("ListPage(%q) error = %v", token, err)
				}
				pages++
				for _, f := range p.Facts {
					names = append(names, f.Name)
				}
				if p.NextToken == "" {
					break
				}
				token = p.NextToken
			}
			if pages != tt.pages {
				t.Errorf("pages = %d, want %d", pages, tt.pages)
			}
			if got := strings.Join(names, ","); got != "etl_dev,etl_hml,etl_prod" {
				t.Errorf("names = %s", got)
			}

			all, err := engine.ListAll(context.Background(), c)
			if err != nil || len(all) != 3 {
				t.Errorf("ListAll() = %d facts, err %v", len(all), err)
			}
		})
	}
}

func TestInvalidToken(t *testing.T) {
	c := NewMemoryCollector(engine.KindGlueJob, 1, jobs()...)
	for _, token := range []string{"x", "-1", "99"} {
		if _, err := c.ListPage(context.Background(), token); err == nil {
			t.Errorf("ListPage(%q) should fail", token)
		}
	}
}

func TestGlueJobWithoutRunsUsesCreationDate(t *testing.T) {
	tests := []struct {
		kind engine.Kind
		want time.Time
	}{
		{kind: engine.KindGlueJob, want: created},
		{kind: engine.KindS3Path, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			facts, err := Resource{Name: "x", CreationDate: created}.Facts(tt.kind)
			if err != nil {
				t.Fatalf("Facts() error = %v", err)
			}
			if !facts.LastActivityDate.Equal(tt.want) {
				t.Errorf("LastActivityDate = %v, want %v", facts.LastActivityDate, tt.want)
			}
		})
	}
}

func TestFactsCopiesResource(t *testing.T) {
	active := created.AddDate(0, 1, 0)
	tests := []struct {
		name     string
		resource Resource
		kind     engine.Kind
	}{
		{
			name: "glue job",
			resource: Resource{
				Name:             "etl_dev",
				CreationDate:     created.In(time.FixedZone("BRT", -3*3600)),
				LastActivityDate: active,
				Tags:             map[string]string{"team": "data"},
				Details:          map[string]string{"worker_type": "G.1X"},
			},
			kind: engine.KindGlueJob,
		},
		{
			name:     "s3 path without maps",
			resource: Resource{Name: "raw/landing", CreationDate: created},
			kind:     engine.KindS3Path,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := tt.resource.Facts(tt.kind)
			if err != nil {
				t.Fatalf("Facts() error = %v", err)
			}
			if facts.Name != tt.resource.Name || facts.Kind != tt.kind {
				t.Errorf("Facts() = %s/%s, want %s/%s", facts.Kind, facts.Name, tt.kind, tt.resource.Name)
			}
			if facts.CreationDate.Location() != time.UTC || !facts.CreationDate.Equal(tt.resource.CreationDate) {
				t.Errorf("CreationDate = %v, want %v in UTC", facts.CreationDate, tt.resource.CreationDate)
			}
			if len(facts.Tags) != len(tt.resource.Tags) || len(facts.Details) != len(tt.resource.Details) {
				t.Errorf("Facts() maps = %v %v, want %v %v", facts.Tags, facts.Details, tt.resource.Tags, tt.resource.Details)
			}
			if facts.Tags != nil {
				facts.Tags["team"] = "changed"
				facts.Details["worker_type"] = "G.2X"
				if tt.resource.Tags["team"] != "data" || tt.resource.Details["worker_type"] != "G.1X" {
					t.Error("facts must not share maps with the resource")
				}
			}
		})
	}
}

func TestDescribeAndDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollector(engine.KindGlueJob, 10, jobs()...)

	desc, err := c.Describe(ctx, "etl_prod")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(desc.Metadata, &meta); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if meta["Name"] != "etl_prod" || meta["WorkerType"] != "G.1X" {
		t.Errorf("metadata = %v", meta)
	}
	if string(desc.Attachments["etl_prod.py"]) != "print('prod')\n" {
		t.Errorf("attachments = %v", desc.Attachments)
	}

	if err := c.Delete(ctx, "etl_prod"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	_, err = c.Describe(ctx, "etl_prod")
	if !engine.IsNotFound(err) || !engine.IsIsolated(err) {
		t.Errorf("Describe() of deleted resource error = %v, want isolated not-found", err)
	}
	if err := c.Delete(ctx, "etl_prod"); !engine.IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}

func TestAttachmentsOnlyForJobsAndWorkflows(t *testing.T) {
	r := Resource{Name: "raw/x", CreationDate: created, Attachments: map[string]string{"a.txt": "a"}}
	desc, err := r.Description(engine.KindS3Path)
	if err != nil {
		t.Fatalf("Description() error = %v", err)
	}
	if len(desc.Attachments) != 0 {
		t.Errorf("s3 paths should carry no attachments, got %v", desc.Attachments)
	}
}

func TestTagValue(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollector(engine.KindGlueJob, 10, jobs()...)

	if v, ok, err := c.TagValue(ctx, "etl_prod", "environment"); err != nil || !ok || v != "prod" {
		t.Errorf("TagValue() = %q, %v, %v", v, ok, err)
	}
	if _, ok, err := c.TagValue(ctx, "etl_hml", "environment"); err != nil || ok {
		t.Errorf("TagValue() on untagged = %v, %v", ok, err)
	}

	c.FailTags(errors.New("throttled"))
	if _, _, err := c.TagValue(ctx, "etl_prod", "environment"); err == nil {
		t.Error("TagValue() should return the injected error")
	}
}

func TestSnapshotCollector(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			path := filepath.Join(dir, string(engine.KindGlueJob)+ext)
			if err := WriteSnapshot(path, engine.KindGlueJob, jobs()); err != nil {
				t.Fatalf("WriteSnapshot() error = %v", err)
			}

			reg, err := LoadSnapshots(dir, 2, nopLogger())
			if err != nil {
				t.Fatalf("LoadSnapshots() error = %v", err)
			}
			if kinds := reg.Kinds(); len(kinds) != 1 || kinds[0] != engine.KindGlueJob {
				t.Fatalf("Kinds() = %v", kinds)
			}
			c, _ := reg.Get(engine.KindGlueJob)
			if _, ok := reg.TagResolver(engine.KindGlueJob); !ok {
				t.Error("snapshot collector should resolve tags")
			}

			all, err := engine.ListAll(ctx, c)
			if err != nil {
				t.Fatalf("ListAll() error = %v", err)
			}
			if len(all) != 3 || all[0].Name != "etl_dev" || !all[0].LastActivityDate.Equal(created.AddDate(0, 1, 0)) {
				t.Fatalf("ListAll() = %+v", all)
			}

			desc, err := c.Describe(ctx, "etl_dev")
			if err != nil || string(desc.Attachments["etl_dev.py"]) != "print('dev')\n" {
				t.Fatalf("Describe() = %+v, %v", desc, err)
			}

			if err := c.Delete(ctx, "etl_dev"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			reloaded, err := NewSnapshotCollector(engine.KindGlueJob, path, 10, nopLogger())
			if err != nil {
				t.Fatalf("NewSnapshotCollector() error = %v", err)
			}
			all, _ = engine.ListAll(ctx, reloaded)
			if len(all) != 2 {
				t.Errorf("after Delete() resources = %d, want 2", len(all))
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temporary file left behind")
			}
		})
	}
}

func TestSnapshotRejectsMismatchedKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3_path.yaml")
	content := "kind: glue_job\nresources: []\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewSnapshotCollector(engine.KindS3Path, path, 10, nopLogger())
	if err != nil {
		t.Fatalf("NewSnapshotCollector() error = %v", err)
	}
	if _, err := c.ListPage(context.Background(), ""); err == nil {
		t.Error("ListPage() should reject an inventory of another kind")
	}
}

func TestSnapshotRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3_path.yaml")
	content := "kind: s3_path\nresources:\n  - name: raw/x\n    colour: red\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _ := NewSnapshotCollector(engine.KindS3Path, path, 10, nopLogger())
	if _, err := c.ListPage(context.Background(), ""); err == nil {
		t.Error("ListPage() should reject unknown fields")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewMemoryCollector(engine.KindS3Path, 10)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(NewMemoryCollector(engine.KindS3Path, 10)); err == nil {
		t.Error("second Register() should fail")
	}
	if err := reg.Register(NewMemoryCollector("queue", 10)); err == nil {
		t.Error("Register() of an invalid kind should fail")
	}
}
