package config

import (
	"os"
	"time"

	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

const (
	// DefaultPath is the configuration file used when none is given.
	DefaultPath = "rosie.yaml"

	// DefaultDatabasePath is the default result sink location.
	DefaultDatabasePath = "rosie.db"

	// EnvConfigPath overrides the configuration file location.
	EnvConfigPath = "ROSIE_CONFIG"

	// EnvDatabasePath overrides runtime.database_path.
	EnvDatabasePath = "ROSIE_DB"
)

func envClasses() []ClassConfig {
	days := func(d int) *int { return &d }
	return []ClassConfig{
		{Label: "DEV", Retention: WindowConfig{Enabled: true, Days: 30, AlertLeadDays: 5}, BackupDays: days(30)},
		{Label: "HML", Retention: WindowConfig{Enabled: true, Days: 60, AlertLeadDays: 7}, BackupDays: days(60)},
		{Label: "PROD", Idle: IdleConfig{Enabled: true, IdleDays: 90, AlertLeadDays: 10}, BackupDays: days(365)},
	}
}

// Default returns the document written by "rosie init". Legacy is enabled
// with an adequacy term starting on today.
func Default(today time.Time) *Document {
	quarantine := IrregularConfig{Quarantine: true, QuarantineDays: 15}
	return &Document{
		Legacy: LegacyConfig{
			Enabled:            true,
			AdequacyTermDays:   minimumAdequacyTermDays,
			ReferenceStartDate: engine.Day(today).Format(engine.DateLayout),
		},
		Monitoring: map[string]MonitoringConfig{
			string(engine.KindGlueJob): {
				Enabled: true,
				Lifecycle: LifecycleConfig{
					Strategy:        engine.StrategyByName,
					Separator:       "_",
					Affix:           "SUFFIX",
					Classes:         envClasses(),
					IrregularFormat: quarantine,
				},
			},
			string(engine.KindStepFunction): {
				Enabled: true,
				Lifecycle: LifecycleConfig{
					Strategy:        engine.StrategyByTag,
					TagKey:          "environment",
					Classes:         envClasses(),
					IrregularFormat: quarantine,
				},
			},
			string(engine.KindS3Path): {
				Enabled: true,
				Lifecycle: LifecycleConfig{
					Strategy:      engine.StrategyFixed,
					RetentionDays: 90,
					AlertLeadDays: 10,
				},
			},
			string(engine.KindCatalogTable): {
				Enabled: false,
				Lifecycle: LifecycleConfig{
					Strategy:      engine.StrategyFixed,
					RetentionDays: 180,
					AlertLeadDays: 15,
				},
			},
		},
		Runtime: RuntimeConfig{
			DatabasePath: DefaultDatabasePath,
			Schedule:     "0 6 * * *",
		},
		Backup: BackupConfig{
			Type:          BackupFilesystem,
			Path:          "backups",
			RetentionDays: 30,
		},
		Inventory: InventoryConfig{
			Path:     "inventory",
			PageSize: 100,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ApplyEnv applies environment overrides to doc.
func (d *Document) ApplyEnv() {
	if v := os.Getenv(EnvDatabasePath); v != "" {
		d.Runtime.DatabasePath = v
	}
	if d.Runtime.DatabasePath == "" {
		d.Runtime.DatabasePath = DefaultDatabasePath
	}
}

// ResolvePath returns the configuration path to use given an explicit flag
// value, falling back to ROSIE_CONFIG and then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}
