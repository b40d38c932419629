package backup

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir(), zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewFilesystemStore() error = %v", err)
	}
	return s
}

func jobDescription(name string) *engine.Description {
	return &engine.Description{
		Kind:        engine.KindGlueJob,
		Name:        name,
		ClassLabel:  "DEV",
		Metadata:    json.RawMessage(`{"Name":"` + name + `","WorkerType":"G.1X"}`),
		Attachments: map[string][]byte{"script.py": []byte("print('hi')\n")},
	}
}

var backupDate = time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)

func TestStageCommitList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	staged, err := s.Stage(ctx, jobDescription("etl-dev"), backupDate)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	// Staged backups are not visible.
	objs, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 0 {
		t.Fatalf("List() before commit = %d objects, want 0", len(objs))
	}

	obj, err := staged.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !strings.HasSuffix(obj.Location, "/glue_job/etl-dev/2024-06-30") {
		t.Errorf("Location = %q", obj.Location)
	}
	if loc := staged.StagingLocation(); loc != "" {
		t.Errorf("StagingLocation() after commit = %q, want empty", loc)
	}
	if len(obj.Files) != 2 {
		t.Errorf("Files = %v, want metadata and script", obj.Files)
	}

	objs, err = s.List(ctx, engine.KindGlueJob)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "etl-dev" || objs[0].Class != "DEV" {
		t.Fatalf("List() = %+v", objs)
	}
	if !objs[0].Date.Equal(engine.Day(backupDate)) {
		t.Errorf("Date = %v, want %v", objs[0].Date, engine.Day(backupDate))
	}

	rc, err := s.Open(ctx, objs[0], "attachments/script.py")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "print('hi')\n" {
		t.Errorf("script body = %q", body)
	}

	if _, err := staged.Commit(ctx); err == nil {
		t.Error("second Commit() should fail")
	}
}

func TestCommitUsesNextSlot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		staged, err := s.Stage(ctx, jobDescription("etl-dev"), backupDate)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		obj, err := staged.Commit(ctx)
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if i == 1 && !strings.HasSuffix(obj.Location, "2024-06-30.1") {
			t.Errorf("second Location = %q, want .1 slot", obj.Location)
		}
	}

	objs, err := s.List(ctx, engine.KindGlueJob)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("List() = %d objects, want 2", len(objs))
	}
}

func TestStagingLocationPointsAtStagedData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Stage(ctx, jobDescription("etl-dev"), backupDate)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	committed, err := first.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	second, err := s.Stage(ctx, jobDescription("etl-dev"), backupDate)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	loc := second.StagingLocation()
	if !strings.Contains(loc, "/"+stagingDir+"/") {
		t.Errorf("StagingLocation() = %q, want a %s path", loc, stagingDir)
	}
	if loc == committed.Location {
		t.Errorf("StagingLocation() = %q, points at the committed backup", loc)
	}
	if _, err := os.Stat(filepath.Join(filepath.FromSlash(strings.TrimPrefix(loc, "file://")), metadataFile)); err != nil {
		t.Errorf("staged metadata not found at %s: %v", loc, err)
	}

	if err := second.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if got := second.StagingLocation(); got != "" {
		t.Errorf("StagingLocation() after discard = %q, want empty", got)
	}
}

func TestDiscardLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	staged, err := s.Stage(ctx, jobDescription("etl-dev"), backupDate)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := staged.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := staged.Commit(ctx); err == nil {
		t.Error("Commit() after Discard() should fail")
	}

	entries, err := os.ReadDir(filepath.Join(s.root, stagingDir))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging area has %d entries, want 0", len(entries))
	}
}

func TestNamesWithSlashesAreEscaped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	desc := &engine.Description{Kind: engine.KindS3Path, Name: "raw/sales/2023", Metadata: json.RawMessage(`{}`)}
	staged, err := s.Stage(ctx, desc, backupDate)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	obj, err := staged.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	objs, err := s.List(ctx, engine.KindS3Path)
	if err != nil || len(objs) != 1 {
		t.Fatalf("List() = %v, %v", objs, err)
	}
	if objs[0].Name != "raw/sales/2023" {
		t.Errorf("Name = %q", objs[0].Name)
	}

	if err := s.Remove(ctx, *obj); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	objs, _ = s.List(ctx, engine.KindS3Path)
	if len(objs) != 0 {
		t.Errorf("List() after Remove() = %d objects", len(objs))
	}
}

func TestRemoveRejectsForeignLocation(t *testing.T) {
	s := newTestStore(t)
	err := s.Remove(context.Background(), engine.BackupObject{Location: "sftp://elsewhere/backups/glue_job/x/2024-01-01"})
	if err == nil {
		t.Fatal("expected error for foreign location")
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 25, 0, 0, 0, 0, time.UTC),
	}
	for i, d := range dates {
		desc := jobDescription("job")
		if i == 0 {
			desc.ClassLabel = "PROD"
		}
		staged, err := s.Stage(ctx, desc, d)
		if err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if _, err := staged.Commit(ctx); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	retention := func(obj engine.BackupObject) int {
		if obj.Class == "PROD" {
			return 0
		}
		return 14
	}
	p := NewPruner(s, retention, zerolog.New(nil).Level(zerolog.Disabled))
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	dry, err := p.Prune(ctx, "", now, true)
	if err != nil {
		t.Fatalf("Prune(dry) error = %v", err)
	}
	if dry.Examined != 3 || len(dry.Removed) != 1 {
		t.Fatalf("dry run: examined=%d removed=%d, want 3 1", dry.Examined, len(dry.Removed))
	}

	res, err := p.Prune(ctx, engine.KindGlueJob, now, false)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(res.Removed) != 1 || !res.Removed[0].Date.Equal(dates[1]) {
		t.Errorf("Removed = %+v, want the 2024-06-01 backup", res.Removed)
	}

	left, _ := s.List(ctx, "")
	if len(left) != 2 {
		t.Errorf("remaining = %d, want 2 (PROD kept forever, recent kept)", len(left))
	}
}

func TestSFTPConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SFTPConfig
		wantErr bool
	}{
		{
			name: "password",
			cfg:  SFTPConfig{Host: "backup.local", User: "rosie", AuthMethod: AuthMethodPassword, Password: "secret", Root: "/srv/rosie"},
		},
		{
			name:    "missing host",
			cfg:     SFTPConfig{User: "rosie", AuthMethod: AuthMethodPassword, Password: "secret", Root: "/srv"},
			wantErr: true,
		},
		{
			name:    "missing password",
			cfg:     SFTPConfig{Host: "h", User: "rosie", AuthMethod: AuthMethodPassword, Root: "/srv"},
			wantErr: true,
		},
		{
			name:    "missing root",
			cfg:     SFTPConfig{Host: "h", User: "rosie", AuthMethod: AuthMethodPassword, Password: "x"},
			wantErr: true,
		},
		{
			name:    "bad port",
			cfg:     SFTPConfig{Host: "h", Port: 70000, User: "rosie", AuthMethod: AuthMethodPassword, Password: "x", Root: "/srv"},
			wantErr: true,
		},
		{
			name:    "missing key file",
			cfg:     SFTPConfig{Host: "h", User: "rosie", AuthMethod: AuthMethodKey, PrivateKeyPath: "/nonexistent/id_ed25519", Root: "/srv"},
			wantErr: true,
		},
		{
			name:    "unsupported auth",
			cfg:     SFTPConfig{Host: "h", User: "rosie", AuthMethod: "agent", Root: "/srv"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (cfg.Port != 22 || cfg.ConnectionTimeout != 30*time.Second) {
				t.Errorf("defaults not applied: port=%d timeout=%v", cfg.Port, cfg.ConnectionTimeout)
			}
		})
	}
}

func TestSFTPBuildClientConfigPassword(t *testing.T) {
	cfg := SFTPConfig{Host: "h", User: "rosie", AuthMethod: AuthMethodPassword, Password: "secret", Root: "/srv"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	cc, err := cfg.BuildSSHClientConfig()
	if err != nil {
		t.Fatalf("BuildSSHClientConfig() error = %v", err)
	}
	if cc.User != "rosie" || len(cc.Auth) != 2 {
		t.Errorf("client config = user %q, %d auth methods", cc.User, len(cc.Auth))
	}
	if cfg.Address() != "h:22" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}
