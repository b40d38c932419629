package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/lifecycle"
)

var today = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultRoundTripsInEveryFormat(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatJSON, FormatCUE} {
		t.Run(string(format), func(t *testing.T) {
			out, err := Marshal(Default(today), format)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			doc, err := Load(writeFile(t, "rosie."+string(format), string(out)))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !reflect.DeepEqual(doc.Monitoring, Default(today).Monitoring) {
				t.Errorf("monitoring changed in round trip:\n got  %+v\n want %+v", doc.Monitoring, Default(today).Monitoring)
			}
			if doc.Legacy.ReferenceStartDate != "2024-06-30" {
				t.Errorf("ReferenceStartDate = %q", doc.Legacy.ReferenceStartDate)
			}
		})
	}
}

func TestLoadCUEAppliesSchema(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "defaults filled",
			content: `
monitoring: s3_path: lifecycle: {
	strategy:        "FIXED"
	retention_days:  30
	alert_lead_days: 5
}
backup: path: "/var/backups/rosie"
`,
		},
		{
			name: "unknown field rejected",
			content: `
monitoring: s3_path: lifecycle: {strategy: "FIXED", retention_days: 30, colour: "red"}
backup: path: "b"
`,
			wantErr: "colour",
		},
		{
			name: "negative days rejected",
			content: `
monitoring: s3_path: lifecycle: {strategy: "FIXED", retention_days: -1}
backup: path: "b"
`,
			wantErr: "retention_days",
		},
		{
			name:    "syntax error",
			content: "monitoring: {",
			wantErr: "invalid configuration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Load(writeFile(t, "rosie.cue", tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to mention %q", err, tt.wantErr)
				}
				if !engine.IsFatal(err) {
					t.Errorf("malformed document error should be fatal")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !doc.Monitoring["s3_path"].Enabled {
				t.Error("enabled should default to true in CUE documents")
			}
		})
	}
}

func TestLoadRejectsUnknownYAMLFields(t *testing.T) {
	path := writeFile(t, "rosie.yaml", `
monitoring:
  glue_job:
    enabled: true
    lifecycle:
      strategy: FIXED
      retention_days: 30
      retention_dayz: 31
backup:
  path: b
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	if _, err := Load(writeFile(t, "rosie.toml", "")); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func fixedDoc(lc LifecycleConfig) *Document {
	return &Document{
		Monitoring: map[string]MonitoringConfig{"glue_job": {Enabled: true, Lifecycle: lc}},
		Backup:     BackupConfig{Path: "backups"},
	}
}

func twoClasses() []ClassConfig {
	return []ClassConfig{
		{Label: "DEV", Retention: WindowConfig{Enabled: true, Days: 30, AlertLeadDays: 5}},
		{Label: "PROD", Idle: IdleConfig{Enabled: true, IdleDays: 14, AlertLeadDays: 3}},
	}
}

func TestValidateLifecycleRules(t *testing.T) {
	tests := []struct {
		name     string
		doc      *Document
		wantPath string
	}{
		{
			name: "valid fixed",
			doc:  fixedDoc(LifecycleConfig{Strategy: "FIXED", RetentionDays: 30, AlertLeadDays: 5}),
		},
		{
			name:     "retention too short",
			doc:      fixedDoc(LifecycleConfig{Strategy: "UNIQUE", RetentionDays: 6}),
			wantPath: "monitoring.glue_job.lifecycle.retention_days",
		},
		{
			name:     "alert not shorter than retention",
			doc:      fixedDoc(LifecycleConfig{Strategy: "FIXED", RetentionDays: 10, AlertLeadDays: 10}),
			wantPath: "monitoring.glue_job.lifecycle.alert_lead_days",
		},
		{
			name: "valid by name",
			doc:  fixedDoc(LifecycleConfig{Strategy: "RESOURCE_NAME", Separator: "-", Affix: "suffix", Classes: twoClasses()}),
		},
		{
			name:     "bad separator",
			doc:      fixedDoc(LifecycleConfig{Strategy: "BY_NAME", Separator: ".", Affix: "PREFIX", Classes: twoClasses()}),
			wantPath: "monitoring.glue_job.lifecycle.separator",
		},
		{
			name:     "bad affix",
			doc:      fixedDoc(LifecycleConfig{Strategy: "BY_NAME", Separator: "_", Affix: "MIDDLE", Classes: twoClasses()}),
			wantPath: "monitoring.glue_job.lifecycle.affix",
		},
		{
			name:     "single class",
			doc:      fixedDoc(LifecycleConfig{Strategy: "TAG", TagKey: "env", Classes: twoClasses()[:1]}),
			wantPath: "monitoring.glue_job.lifecycle.classes",
		},
		{
			name:     "missing tag key",
			doc:      fixedDoc(LifecycleConfig{Strategy: "BY_TAG", Classes: twoClasses()}),
			wantPath: "monitoring.glue_job.lifecycle.tag_key",
		},
		{
			name: "idle alert too long",
			doc: fixedDoc(LifecycleConfig{Strategy: "BY_TAG", TagKey: "env", Classes: []ClassConfig{
				{Label: "DEV", Idle: IdleConfig{Enabled: true, IdleDays: 14, AlertLeadDays: 14}},
				{Label: "PROD"},
			}}),
			wantPath: "monitoring.glue_job.lifecycle.classes[0].idle.alert_lead_days",
		},
		{
			name: "duplicate class",
			doc: fixedDoc(LifecycleConfig{Strategy: "BY_TAG", TagKey: "env", Classes: []ClassConfig{
				{Label: "dev"}, {Label: "DEV"},
			}}),
			wantPath: "monitoring.glue_job.lifecycle.classes[1].label",
		},
		{
			name:     "short quarantine",
			doc:      fixedDoc(LifecycleConfig{Strategy: "BY_TAG", TagKey: "env", Classes: twoClasses(), IrregularFormat: IrregularConfig{Quarantine: true, QuarantineDays: 3}}),
			wantPath: "monitoring.glue_job.lifecycle.irregular_format.quarantine_days",
		},
		{
			name: "unknown strategy is not a validation error",
			doc:  fixedDoc(LifecycleConfig{Strategy: "BY_MOOD"}),
		},
		{
			name: "unknown kind",
			doc: &Document{
				Monitoring: map[string]MonitoringConfig{"lambda": {Enabled: true, Lifecycle: LifecycleConfig{Strategy: "FIXED", RetentionDays: 30}}},
				Backup:     BackupConfig{Path: "b"},
			},
			wantPath: "monitoring.lambda",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.doc.Validate()
			if tt.wantPath == "" {
				if len(errs) != 0 {
					t.Fatalf("Validate() = %v, want no errors", errs)
				}
				return
			}
			for _, e := range errs {
				if e.Path == tt.wantPath {
					return
				}
			}
			t.Errorf("Validate() = %v, want an error at %s", errs, tt.wantPath)
		})
	}
}

func TestValidateLegacyScheduleAndBackup(t *testing.T) {
	doc := fixedDoc(LifecycleConfig{Strategy: "FIXED", RetentionDays: 30})
	doc.Legacy = LegacyConfig{Enabled: true, AdequacyTermDays: 89, ReferenceStartDate: "30/06/2024"}
	doc.Runtime.Schedule = "every day"
	doc.Backup = BackupConfig{Type: BackupSFTP}

	paths := make(map[string]bool)
	for _, e := range doc.Validate() {
		paths[e.Path] = true
	}
	for _, want := range []string{"legacy.adequacy_term_days", "legacy.reference_start_date", "runtime.schedule", "backup.sftp"} {
		if !paths[want] {
			t.Errorf("missing error at %s (got %v)", want, paths)
		}
	}
}

func TestToPolicies(t *testing.T) {
	doc := &Document{
		Monitoring: map[string]MonitoringConfig{
			"glue_job_monitoring": {Enabled: true, Lifecycle: LifecycleConfig{
				Strategy: "RESOURCE_NAME", Separator: "_", Affix: "PREFIX", Classes: twoClasses(),
				IrregularFormat: IrregularConfig{Quarantine: true, QuarantineDays: 10},
			}},
			"step_function": {Enabled: true, Lifecycle: LifecycleConfig{Strategy: "BY_MOOD"}},
			"s3_path":       {Enabled: true, Lifecycle: LifecycleConfig{Strategy: "unique", RetentionDays: 30, AlertLeadDays: 5}},
			"catalog_table": {Enabled: false, Lifecycle: LifecycleConfig{Strategy: "FIXED", RetentionDays: 30}},
		},
	}

	policies, err := doc.ToPolicies()
	if err != nil {
		t.Fatalf("ToPolicies() error = %v", err)
	}

	want := []engine.Kind{engine.KindGlueJob, engine.KindS3Path, engine.KindStepFunction}
	if !reflect.DeepEqual(policies.Kinds, want) {
		t.Fatalf("Kinds = %v, want %v", policies.Kinds, want)
	}

	glue, _ := policies.Get(engine.KindGlueJob)
	byName, ok := glue.Policy.Strategy.(lifecycle.ByName)
	if !ok {
		t.Fatalf("glue strategy = %T, want ByName", glue.Policy.Strategy)
	}
	if byName.Affix != lifecycle.AffixPrefix || byName.Classes[1].Idle.Days != 14 || !byName.Irregular.Quarantine {
		t.Errorf("ByName = %+v", byName)
	}

	s3, _ := policies.Get(engine.KindS3Path)
	if s3.Policy.Strategy != (lifecycle.Fixed{RetentionDays: 30, AlertLeadDays: 5}) {
		t.Errorf("s3 strategy = %+v", s3.Policy.Strategy)
	}

	sf, _ := policies.Get(engine.KindStepFunction)
	if !errors.Is(sf.Err, ErrUnknownStrategy) || sf.Strategy != "BY_MOOD" {
		t.Errorf("step_function = %+v, want ErrUnknownStrategy", sf)
	}

	if _, ok := policies.Get(engine.KindCatalogTable); ok {
		t.Error("disabled kind should not produce a policy")
	}
}

func TestBackupRetention(t *testing.T) {
	doc := Default(today)
	policies, err := doc.ToPolicies()
	if err != nil {
		t.Fatalf("ToPolicies() error = %v", err)
	}
	if got := policies.BackupRetention(engine.KindGlueJob, "PROD", 7); got != 365 {
		t.Errorf("PROD glue backup retention = %d, want 365", got)
	}
	if got := policies.BackupRetention(engine.KindS3Path, "FIXED", 7); got != 7 {
		t.Errorf("fixed s3 backup retention = %d, want fallback 7", got)
	}
}

func TestEvaluatorFromDocument(t *testing.T) {
	doc := Default(today)
	doc.Runtime.ReservedNames = []string{"shared-etl-bootstrap"}

	ev, err := doc.Evaluator()
	if err != nil {
		t.Fatalf("Evaluator() error = %v", err)
	}
	if !ev.Legacy.Enabled || ev.Legacy.AdequacyTermDays != 90 || !ev.Legacy.ReferenceStartDate.Equal(today) {
		t.Errorf("Legacy = %+v", ev.Legacy)
	}
	if !ev.Reserved.Contains("SHARED-ETL-BOOTSTRAP") || !ev.Reserved.Contains("rosie-results") {
		t.Error("reserved set should include defaults and extras")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabasePath, "/tmp/other.db")
	t.Setenv(EnvConfigPath, "/etc/rosie/rosie.cue")

	doc := Default(today)
	doc.ApplyEnv()
	if doc.Runtime.DatabasePath != "/tmp/other.db" {
		t.Errorf("DatabasePath = %q", doc.Runtime.DatabasePath)
	}
	if got := ResolvePath(""); got != "/etc/rosie/rosie.cue" {
		t.Errorf("ResolvePath() = %q", got)
	}
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Errorf("ResolvePath(flag) = %q", got)
	}
}

func TestLoadValidatesEnvOverrides(t *testing.T) {
	const content = `
monitoring:
  glue_job:
    enabled: true
    lifecycle:
      strategy: FIXED
      retention_days: 30
runtime:
  database_path: from-file.db
backup:
  path: b
`
	tests := []struct {
		name    string
		env     string
		want    string
		wantErr bool
	}{
		{name: "no override", env: "", want: "from-file.db"},
		{name: "override", env: "/tmp/other.db", want: "/tmp/other.db"},
		{name: "directory override", env: "/var/lib/rosie/", wantErr: true},
		{name: "padded override", env: " rosie.db", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDatabasePath, tt.env)
			doc, err := Load(writeFile(t, "rosie.yaml", content))
			if tt.wantErr {
				var derr *DocumentError
				if !errors.As(err, &derr) || !strings.Contains(err.Error(), "runtime.database_path") {
					t.Fatalf("Load() error = %v, want runtime.database_path problem", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if doc.Runtime.DatabasePath != tt.want {
				t.Errorf("DatabasePath = %q, want %q", doc.Runtime.DatabasePath, tt.want)
			}
		})
	}
}
