package config

import (
	"fmt"
	"strings"

	"github.com/rosiehq/rosie/pkg/backup"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

// Document is the complete Rosie configuration.
type Document struct {
	// Account identifies the cloud account being housekept.
	Account AccountConfig `json:"account" yaml:"account"`

	// Legacy configures the adequacy term granted to pre-existing resources.
	Legacy LegacyConfig `json:"legacy" yaml:"legacy"`

	// Monitoring holds one lifecycle policy per resource kind.
	Monitoring map[string]MonitoringConfig `json:"monitoring" yaml:"monitoring" validate:"required,min=1,dive"`

	// Runtime contains process level settings.
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`

	// Backup selects where retired resources are backed up.
	Backup BackupConfig `json:"backup" yaml:"backup"`

	// Inventory points the offline collectors at an exported inventory.
	Inventory InventoryConfig `json:"inventory" yaml:"inventory"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// AccountConfig identifies the account.
type AccountConfig struct {
	ID     string `json:"id" yaml:"id"`
	Region string `json:"region" yaml:"region"`
}

// LegacyConfig is the legacy grace period.
type LegacyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// AdequacyTermDays is the number of days after the reference start date
	// during which deletions are suspended.
	AdequacyTermDays int `json:"adequacy_term_days" yaml:"adequacy_term_days" validate:"omitempty,min=0"`

	// ReferenceStartDate is the first day of the term (YYYY-MM-DD).
	ReferenceStartDate string `json:"reference_start_date,omitempty" yaml:"reference_start_date,omitempty"`
}

// MonitoringConfig enables a kind and holds its lifecycle policy.
type MonitoringConfig struct {
	Enabled   bool            `json:"enabled" yaml:"enabled"`
	Lifecycle LifecycleConfig `json:"lifecycle" yaml:"lifecycle"`
}

// LifecycleConfig is the serialized form of a management strategy.
type LifecycleConfig struct {
	// Strategy is FIXED, BY_NAME or BY_TAG. UNIQUE, RESOURCE_NAME and TAG are
	// accepted as aliases.
	Strategy string `json:"strategy" yaml:"strategy" validate:"required"`

	// Fixed strategy
	RetentionDays int `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	AlertLeadDays int `json:"alert_lead_days,omitempty" yaml:"alert_lead_days,omitempty"`

	// Name strategy
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
	Affix     string `json:"affix,omitempty" yaml:"affix,omitempty"`

	// Tag strategy
	TagKey string `json:"tag_key,omitempty" yaml:"tag_key,omitempty"`

	Classes         []ClassConfig   `json:"classes,omitempty" yaml:"classes,omitempty" validate:"dive"`
	IrregularFormat IrregularConfig `json:"irregular_format" yaml:"irregular_format"`
}

// ClassConfig is one allowed class value.
type ClassConfig struct {
	Label      string       `json:"label" yaml:"label" validate:"required"`
	Retention  WindowConfig `json:"retention" yaml:"retention"`
	Idle       IdleConfig   `json:"idle" yaml:"idle"`
	BackupDays *int         `json:"backup_days,omitempty" yaml:"backup_days,omitempty" validate:"omitempty,min=0"`
}

// WindowConfig is a retention threshold.
type WindowConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	Days          int  `json:"days,omitempty" yaml:"days,omitempty"`
	AlertLeadDays int  `json:"alert_lead_days,omitempty" yaml:"alert_lead_days,omitempty"`
}

// IdleConfig is an idle threshold.
type IdleConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	IdleDays      int  `json:"idle_days,omitempty" yaml:"idle_days,omitempty"`
	AlertLeadDays int  `json:"alert_lead_days,omitempty" yaml:"alert_lead_days,omitempty"`
}

// IrregularConfig controls resources without a valid class.
type IrregularConfig struct {
	Quarantine     bool `json:"quarantine" yaml:"quarantine"`
	QuarantineDays int  `json:"quarantine_days,omitempty" yaml:"quarantine_days,omitempty" validate:"omitempty,min=0"`
}

// RuntimeConfig contains process level settings.
type RuntimeConfig struct {
	// DatabasePath is the SQLite result sink location.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// Schedule is a standard five field cron expression.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// ReservedNames are extra housekeeping resources that are never touched.
	ReservedNames []string `json:"reserved_names,omitempty" yaml:"reserved_names,omitempty"`
}

// Backup store types.
const (
	BackupFilesystem = "filesystem"
	BackupSFTP       = "sftp"
)

// BackupConfig selects the backup store.
type BackupConfig struct {
	Type string `json:"type" yaml:"type" validate:"omitempty,oneof=filesystem sftp"`

	// Path is the root directory of the filesystem store.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// RetentionDays is the default backup retention. Zero keeps backups forever.
	RetentionDays int `json:"retention_days,omitempty" yaml:"retention_days,omitempty" validate:"omitempty,min=0"`

	SFTP *backup.SFTPConfig `json:"sftp,omitempty" yaml:"sftp,omitempty"`
}

// InventoryConfig locates the exported inventory snapshots.
type InventoryConfig struct {
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	PageSize int    `json:"page_size,omitempty" yaml:"page_size,omitempty" validate:"omitempty,min=1"`
}

// ValidationError describes one problem in a configuration document.
type ValidationError struct {
	// Path is the location in the document (e.g., "monitoring.glue_job.lifecycle").
	Path string `json:"path,omitempty"`

	// File is the source file name.
	File string `json:"file,omitempty"`

	// Line is the line number in the source file.
	Line int `json:"line,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	msg := e.Message
	if e.Path != "" && !strings.HasPrefix(msg, e.Path) {
		msg = e.Path + ": " + msg
	}
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, msg)
	}
	return msg
}
