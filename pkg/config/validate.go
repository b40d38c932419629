package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/lifecycle"
)

const (
	// minimumWindowDays is the smallest retention, idle or quarantine
	// horizon accepted; horizons must exceed it.
	minimumWindowDays = 6

	// minimumAdequacyTermDays is the shortest legacy adequacy term.
	minimumAdequacyTermDays = 90

	// minimumClasses is the smallest number of class values of a
	// class-based strategy.
	minimumClasses = 2
)

var validate = validator.New()

// Validate checks doc against its struct constraints and the lifecycle
// rules. Unknown strategies are not reported: they produce unknown records
// at evaluation time.
func (d *Document) Validate() []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Path:    strings.TrimPrefix(fe.Namespace(), "Document."),
					Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{Message: err.Error()})
		}
	}

	kinds := make([]string, 0, len(d.Monitoring))
	for k := range d.Monitoring {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	seen := make(map[engine.Kind]string)
	for _, key := range kinds {
		path := "monitoring." + key
		kind, err := engine.ParseKind(key)
		if err != nil {
			errs = append(errs, ValidationError{Path: path, Message: err.Error()})
			continue
		}
		if prev, dup := seen[kind]; dup {
			errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("duplicates %s", prev)})
			continue
		}
		seen[kind] = key
		errs = append(errs, validateLifecycle(path+".lifecycle", d.Monitoring[key].Lifecycle)...)
	}

	errs = append(errs, d.validateLegacy()...)
	errs = append(errs, d.validateRuntime()...)
	errs = append(errs, d.validateBackup()...)

	if d.Telemetry != nil {
		if err := d.Telemetry.Validate(); err != nil {
			errs = append(errs, ValidationError{Path: "telemetry", Message: err.Error()})
		}
	}
	return errs
}

func validateLifecycle(path string, lc LifecycleConfig) []ValidationError {
	var errs []ValidationError
	add := func(p, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: p, Message: fmt.Sprintf(format, args...)})
	}

	name, ok := canonicalStrategy(lc.Strategy)
	if !ok {
		return nil
	}

	switch name {
	case engine.StrategyFixed:
		if lc.RetentionDays <= minimumWindowDays {
			add(path+".retention_days", "must be greater than %d, got %d", minimumWindowDays, lc.RetentionDays)
		}
		if lc.AlertLeadDays < 0 || lc.AlertLeadDays >= lc.RetentionDays {
			add(path+".alert_lead_days", "must be less than retention_days (%d), got %d", lc.RetentionDays, lc.AlertLeadDays)
		}
		return errs

	case engine.StrategyByName:
		if lc.Separator != "_" && lc.Separator != "-" {
			add(path+".separator", "must be '_' or '-', got %q", lc.Separator)
		}
		if _, err := lifecycle.ParseAffix(lc.Affix); err != nil {
			add(path+".affix", "%v", err)
		}

	case engine.StrategyByTag:
		if strings.TrimSpace(lc.TagKey) == "" {
			add(path+".tag_key", "is required")
		}
	}

	if len(lc.Classes) < minimumClasses {
		add(path+".classes", "at least %d class values are required, got %d", minimumClasses, len(lc.Classes))
	}
	labels := make(map[string]bool)
	for i, c := range lc.Classes {
		cp := fmt.Sprintf("%s.classes[%d]", path, i)
		label := strings.ToUpper(strings.TrimSpace(c.Label))
		if labels[label] {
			add(cp+".label", "duplicate class value %q", c.Label)
		}
		labels[label] = true
		if label == engine.LabelUnclassified || label == engine.LabelReserved || label == engine.LabelFixed {
			add(cp+".label", "%q is a reserved label", c.Label)
		}
		if c.Retention.Enabled {
			if c.Retention.Days <= minimumWindowDays {
				add(cp+".retention.days", "must be greater than %d, got %d", minimumWindowDays, c.Retention.Days)
			}
			if c.Retention.AlertLeadDays < 0 || c.Retention.AlertLeadDays >= c.Retention.Days {
				add(cp+".retention.alert_lead_days", "must be less than days (%d), got %d", c.Retention.Days, c.Retention.AlertLeadDays)
			}
		}
		if c.Idle.Enabled {
			if c.Idle.IdleDays <= minimumWindowDays {
				add(cp+".idle.idle_days", "must be greater than %d, got %d", minimumWindowDays, c.Idle.IdleDays)
			}
			if c.Idle.AlertLeadDays < 0 || c.Idle.AlertLeadDays >= c.Idle.IdleDays {
				add(cp+".idle.alert_lead_days", "must be less than idle_days (%d), got %d", c.Idle.IdleDays, c.Idle.AlertLeadDays)
			}
		}
	}

	if lc.IrregularFormat.Quarantine && lc.IrregularFormat.QuarantineDays <= minimumWindowDays {
		add(path+".irregular_format.quarantine_days", "must be greater than %d, got %d", minimumWindowDays, lc.IrregularFormat.QuarantineDays)
	}
	return errs
}

func (d *Document) validateLegacy() []ValidationError {
	if !d.Legacy.Enabled {
		return nil
	}
	var errs []ValidationError
	if d.Legacy.AdequacyTermDays < minimumAdequacyTermDays {
		errs = append(errs, ValidationError{
			Path:    "legacy.adequacy_term_days",
			Message: fmt.Sprintf("must be at least %d, got %d", minimumAdequacyTermDays, d.Legacy.AdequacyTermDays),
		})
	}
	if _, err := engine.ParseDate(d.Legacy.ReferenceStartDate); err != nil {
		errs = append(errs, ValidationError{Path: "legacy.reference_start_date", Message: err.Error()})
	}
	return errs
}

func (d *Document) validateRuntime() []ValidationError {
	var errs []ValidationError
	if p := d.Runtime.DatabasePath; p != "" && (strings.TrimSpace(p) != p || strings.HasSuffix(p, "/")) {
		errs = append(errs, ValidationError{Path: "runtime.database_path", Message: fmt.Sprintf("%q does not name a file", p)})
	}
	if d.Runtime.Schedule == "" {
		return errs
	}
	if _, err := cron.ParseStandard(d.Runtime.Schedule); err != nil {
		errs = append(errs, ValidationError{Path: "runtime.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}
	return errs
}

func (d *Document) validateBackup() []ValidationError {
	switch d.Backup.Type {
	case BackupSFTP:
		if d.Backup.SFTP == nil {
			return []ValidationError{{Path: "backup.sftp", Message: "is required for the sftp backup type"}}
		}
		cfg := *d.Backup.SFTP
		if err := cfg.Validate(); err != nil {
			return []ValidationError{{Path: "backup.sftp", Message: err.Error()}}
		}
	case BackupFilesystem, "":
		if d.Backup.Path == "" {
			return []ValidationError{{Path: "backup.path", Message: "is required for the filesystem backup type"}}
		}
	}
	return nil
}
