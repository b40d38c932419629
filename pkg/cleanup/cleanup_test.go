package cleanup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/backup"
	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/inventory"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

var (
	statusDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	clock      = func() time.Time { return time.Date(2024, 6, 30, 6, 0, 0, 0, time.UTC) }
)

// fakeStore records calls and can fail commits.
type fakeStore struct {
	staged    []string
	committed []string
	discarded []string
	commitErr error
	stageErr  error
}

type fakeStaged struct {
	store *fakeStore
	desc  *engine.Description
}

func (f *fakeStore) Stage(_ context.Context, desc *engine.Description, _ time.Time) (engine.StagedBackup, error) {
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	f.staged = append(f.staged, desc.Name)
	return &fakeStaged{store: f, desc: desc}, nil
}

func (f *fakeStore) List(context.Context, engine.Kind) ([]engine.BackupObject, error) { return nil, nil }
func (f *fakeStore) Remove(context.Context, engine.BackupObject) error               { return nil }
func (f *fakeStore) Open(context.Context, engine.BackupObject, string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}

func (s *fakeStaged) StagingLocation() string { return "mem://.staging/" + s.desc.Name }

func (s *fakeStaged) Commit(context.Context) (*engine.BackupObject, error) {
	if s.store.commitErr != nil {
		return nil, s.store.commitErr
	}
	s.store.committed = append(s.store.committed, s.desc.Name)
	return &engine.BackupObject{Kind: s.desc.Kind, Name: s.desc.Name, Location: "mem://" + s.desc.Name}, nil
}

func (s *fakeStaged) Discard(context.Context) error {
	s.store.discarded = append(s.store.discarded, s.desc.Name)
	return nil
}

func jobs() *inventory.MemoryCollector {
	created := statusDate.AddDate(0, -3, 0)
	return inventory.NewMemoryCollector(engine.KindGlueJob, 10,
		inventory.Resource{Name: "etl_dev", CreationDate: created, Attachments: map[string]string{"etl_dev.py": "print(1)\n"}},
		inventory.Resource{Name: "etl_hml", CreationDate: created},
		inventory.Resource{Name: "rosie-orchestrator", CreationDate: created},
	)
}

func registry(t *testing.T, collectors ...engine.Collector) *inventory.Registry {
	t.Helper()
	reg := inventory.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return reg
}

func deleteRecord(kind engine.Kind, name string) engine.DecisionRecord {
	return engine.DecisionRecord{
		ResourceName: name,
		Kind:         kind,
		ClassLabel:   "DEV",
		Status:       engine.StatusDelete,
		Reason:       "DELETE - retention limit expired.",
		StatusDate:   statusDate,
		Tags:         map[string]string{"team": "data"},
		RunID:        "eval-1",
		Phase:        engine.PhaseEvaluation,
	}
}

func newEnactor(reg CollectorSource, store engine.BackupStore) *Enactor {
	return NewEnactor(reg, store, engine.NewReservedSet(),
		WithClock(clock),
		WithRunID("cleanup-1"),
		WithLogger(zerolog.New(nil).Level(zerolog.Disabled)),
	)
}

func TestTransactionOrder(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	c := jobs()

	tx := NewTransaction(engine.KindGlueJob, "etl_dev", "DEV")
	if err := tx.Delete(ctx, c); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Delete() before Stage() error = %v, want ErrInvalidTransition", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("Commit() before Delete() error = %v, want ErrInvalidTransition", err)
	}
	if tx.State() != StatePendingDelete {
		t.Fatalf("state = %s after rejected steps", tx.State())
	}

	steps := []struct {
		run  func() error
		want State
	}{
		{run: func() error { return tx.Stage(ctx, c, store, statusDate) }, want: StateBackedUp},
		{run: func() error { return tx.Delete(ctx, c) }, want: StateDeleted},
		{run: func() error { return tx.Commit(ctx) }, want: StateCommitted},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("step to %s error = %v", step.want, err)
		}
		if tx.State() != step.want {
			t.Fatalf("state = %s, want %s", tx.State(), step.want)
		}
	}
	if err := tx.Stage(ctx, c, store, statusDate); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("Stage() after Commit() error = %v, want ErrInvalidTransition", err)
	}
	if tx.Backup() == nil || tx.Backup().Location != "mem://etl_dev" {
		t.Errorf("Backup() = %+v", tx.Backup())
	}
}

func TestRetireSuccess(t *testing.T) {
	store := &fakeStore{}
	c := jobs()
	e := newEnactor(registry(t, c), store)

	out := e.Retire(context.Background(), engine.KindGlueJob, "etl_dev")
	if out.Status != engine.StatusDeletedBackup {
		t.Fatalf("Status = %s, detail %s", out.Status, out.Detail)
	}
	if out.BackupLocation != "mem://etl_dev" || out.DeletedAt == nil || !out.DeletedAt.Equal(clock()) {
		t.Errorf("outcome = %+v", out)
	}
	if got := c.Deleted(); len(got) != 1 || got[0] != "etl_dev" {
		t.Errorf("Deleted() = %v", got)
	}
	if len(store.committed) != 1 || len(store.discarded) != 0 {
		t.Errorf("committed %v discarded %v", store.committed, store.discarded)
	}
}

func TestRetireFailures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(c *inventory.MemoryCollector, s *fakeStore)
		resource      string
		wantNotFound  bool
		wantDiscarded bool
		wantDetail    string
	}{
		{
			name:         "already deleted",
			setup:        func(*inventory.MemoryCollector, *fakeStore) {},
			resource:     "etl_gone",
			wantNotFound: true,
			wantDetail:   "resource not found",
		},
		{
			name:       "describe rejected",
			setup:      func(c *inventory.MemoryCollector, _ *fakeStore) { c.FailDescribe("etl_dev", errors.New("throttled")) },
			resource:   "etl_dev",
			wantDetail: "failed to describe resource",
		},
		{
			name:       "stage fails",
			setup:      func(_ *inventory.MemoryCollector, s *fakeStore) { s.stageErr = errors.New("disk full") },
			resource:   "etl_dev",
			wantDetail: "failed to stage backup",
		},
		{
			name:          "delete rejected",
			setup:         func(c *inventory.MemoryCollector, _ *fakeStore) { c.FailDelete("etl_dev", errors.New("access denied")) },
			resource:      "etl_dev",
			wantDiscarded: true,
			wantDetail:    "failed to delete resource",
		},
		{
			name:       "commit fails",
			setup:      func(_ *inventory.MemoryCollector, s *fakeStore) { s.commitErr = errors.New("rename failed") },
			resource:   "etl_dev",
			wantDetail: "staged backup at mem://.staging/etl_dev",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			c := jobs()
			tt.setup(c, store)
			e := newEnactor(registry(t, c), store)

			out := e.Retire(context.Background(), engine.KindGlueJob, tt.resource)
			if out.Status != engine.StatusError {
				t.Fatalf("Status = %s, want error", out.Status)
			}
			if !engine.IsIsolated(out.Err) {
				t.Errorf("error %v should be isolated", out.Err)
			}
			if engine.IsNotFound(out.Err) != tt.wantNotFound {
				t.Errorf("IsNotFound() = %v, want %v", engine.IsNotFound(out.Err), tt.wantNotFound)
			}
			if !strings.Contains(out.Detail, tt.wantDetail) {
				t.Errorf("Detail = %q, want it to contain %q", out.Detail, tt.wantDetail)
			}
			if (len(store.discarded) == 1) != tt.wantDiscarded {
				t.Errorf("discarded = %v, want discarded %v", store.discarded, tt.wantDiscarded)
			}
			if len(store.committed) != 0 {
				t.Errorf("no backup should be committed, got %v", store.committed)
			}
		})
	}
}

func TestEnactIsolatesFailures(t *testing.T) {
	store := &fakeStore{}
	glue := jobs()
	glue.FailDelete("etl_hml", errors.New("access denied"))
	tel := telemetry.Nop()
	tel.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true})

	e := NewEnactor(registry(t, glue), store, engine.NewReservedSet(),
		WithClock(clock), WithRunID("cleanup-1"), WithTelemetry(tel))

	keep := deleteRecord(engine.KindGlueJob, "etl_dev")
	keep.Status = engine.StatusKeep
	records := []engine.DecisionRecord{
		keep,
		deleteRecord(engine.KindGlueJob, "etl_gone"),
		deleteRecord(engine.KindGlueJob, "etl_hml"),
		deleteRecord(engine.KindGlueJob, "rosie-orchestrator"),
		deleteRecord(engine.KindS3Path, "raw/landing"),
		deleteRecord(engine.KindGlueJob, "etl_dev"),
	}

	report, err := e.Enact(context.Background(), records)
	if err != nil {
		t.Fatalf("Enact() error = %v", err)
	}

	if len(report.Records) != 3 || report.Failed != 2 || report.Retired() != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 (reserved)", report.Skipped)
	}
	if len(report.Unmapped) != 1 || report.Unmapped[0].Status != engine.StatusDelete || report.Unmapped[0].Phase != engine.PhaseEvaluation {
		t.Errorf("Unmapped = %+v, want the s3 record unmodified", report.Unmapped)
	}

	byName := make(map[string]engine.DecisionRecord)
	for _, rec := range report.Records {
		if rec.Phase != engine.PhaseCleanup || rec.RunID != "cleanup-1" {
			t.Errorf("%s not stamped for cleanup: phase %s run %s", rec.ResourceName, rec.Phase, rec.RunID)
		}
		byName[rec.ResourceName] = rec
	}

	dev := byName["etl_dev"]
	if dev.Status != engine.StatusDeletedBackup || dev.BackupLocation == "" || dev.DeletedAt == nil {
		t.Errorf("etl_dev = %+v, want deleted-backup (last record wins)", dev)
	}
	if byName["etl_gone"].Status != engine.StatusError || byName["etl_hml"].Status != engine.StatusError {
		t.Errorf("failed records = %+v / %+v", byName["etl_gone"], byName["etl_hml"])
	}
	if byName["etl_hml"].DeletedAt != nil {
		t.Error("failed record must not carry a deletion time")
	}

	dev.Tags["team"] = "changed"
	if records[5].Tags["team"] != "data" {
		t.Error("updated records must not share tags with their input")
	}

	if _, ok := byName["rosie-orchestrator"]; ok {
		t.Error("reserved resource must not be reported")
	}
	for _, name := range glue.Deleted() {
		if name == "rosie-orchestrator" {
			t.Error("reserved resource was deleted")
		}
	}
}

func TestEnactStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := jobs()
	e := newEnactor(registry(t, c), &fakeStore{})
	report, err := e.Enact(ctx, []engine.DecisionRecord{deleteRecord(engine.KindGlueJob, "etl_dev")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Enact() error = %v, want context.Canceled", err)
	}
	if len(report.Records) != 0 || len(c.Deleted()) != 0 {
		t.Errorf("nothing should be retired after cancellation, report %+v", report)
	}
}

func TestRetireWithFilesystemStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := backup.NewFilesystemStore(root, zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewFilesystemStore() error = %v", err)
	}

	c := jobs()
	c.FailDelete("etl_hml", errors.New("access denied"))
	e := newEnactor(registry(t, c), store)

	report, err := e.Enact(ctx, []engine.DecisionRecord{
		deleteRecord(engine.KindGlueJob, "etl_dev"),
		deleteRecord(engine.KindGlueJob, "etl_hml"),
	})
	if err != nil {
		t.Fatalf("Enact() error = %v", err)
	}
	if report.Retired() != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	objs, err := store.List(ctx, engine.KindGlueJob)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "etl_dev" || objs[0].Class != "DEV" {
		t.Fatalf("List() = %+v, want only the etl_dev backup", objs)
	}
	if objs[0].Location != report.Records[0].BackupLocation {
		t.Errorf("record location %s, backup %s", report.Records[0].BackupLocation, objs[0].Location)
	}

	rc, err := store.Open(ctx, objs[0], "attachments/etl_dev.py")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "print(1)\n" {
		t.Errorf("script = %q", body)
	}

	entries, err := os.ReadDir(filepath.Join(root, ".staging"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging area has %d entries after a failed delete, want 0", len(entries))
	}
}

func TestEnactUnmappedOnlyForDeleteRecords(t *testing.T) {
	reserved := deleteRecord(engine.KindS3Path, "rosie-landing")
	tests := []struct {
		name         string
		status       engine.Status
		record       engine.DecisionRecord
		wantSkipped  int
		wantUnmapped int
	}{
		{"keep", engine.StatusKeep, deleteRecord(engine.KindS3Path, "raw/landing"), 1, 0},
		{"deletion coming", engine.StatusDeletionComing, deleteRecord(engine.KindS3Path, "raw/landing"), 1, 0},
		{"reserved delete", engine.StatusDelete, reserved, 1, 0},
		{"delete", engine.StatusDelete, deleteRecord(engine.KindS3Path, "raw/landing"), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnactor(registry(t, jobs()), &fakeStore{}, engine.NewReservedSet("rosie-landing"), WithClock(clock))
			rec := tt.record
			rec.Status = tt.status

			report, err := e.Enact(context.Background(), []engine.DecisionRecord{rec})
			if err != nil {
				t.Fatalf("Enact() error = %v", err)
			}
			if report.Skipped != tt.wantSkipped || len(report.Unmapped) != tt.wantUnmapped {
				t.Errorf("Skipped = %d, Unmapped = %d, want %d and %d",
					report.Skipped, len(report.Unmapped), tt.wantSkipped, tt.wantUnmapped)
			}
			if len(report.Records) != 0 {
				t.Errorf("Records = %+v, want none", report.Records)
			}
		})
	}
}
