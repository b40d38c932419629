package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Reason messages written into decision records.
const (
	reasonRetentionComing  = "DELETE COMING - retention limit expires in %d day(s)."
	reasonRetentionExpired = "DELETE - retention limit expired."
	reasonRetentionKeep    = "KEEP - resource within retention limit."
	reasonIdleComing       = "DELETE COMING - resource idle for %d day(s), will be deleted in %d day(s)."
	reasonIdleExpired      = "DELETE - resource idle for %d day(s). Idle limit of %d day(s) expired."
	reasonIdleKeep         = "KEEP - resource active and not idle."
	reasonNoCheck          = "KEEP - resource active. No idle check configured."
	reasonQuarantine       = "QUARANTINE - resource has no valid classification and will be kept for %d day(s) to be adjusted."
	reasonIrregular        = "DELETE - resource has no valid classification."
	reasonIgnore           = "IGNORE - resource belongs to the housekeeping system."
	reasonUnknown          = "UNKNOWN - management strategy %q is not registered."
)

// Evaluator decides the lifecycle status of resources. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	Reserved engine.ReservedSet
	Legacy   Legacy
}

// Evaluate classifies facts under policy and applies the legacy override.
func (e Evaluator) Evaluate(policy Policy, facts engine.Facts, statusDate time.Time) engine.DecisionRecord {
	if e.Reserved.Contains(facts.Name) {
		return ignored(strategyName(policy.Strategy), facts, statusDate)
	}
	rec := Decide(policy.Strategy, facts, statusDate)
	if rec.Kind == "" {
		rec.Kind = policy.Kind
	}
	return ApplyLegacy(rec, e.Legacy, statusDate)
}

// Unknown builds the record for a resource whose kind has an unregistered
// strategy. Reserved resources are still ignored.
func (e Evaluator) Unknown(strategyName string, facts engine.Facts, statusDate time.Time) engine.DecisionRecord {
	if e.Reserved.Contains(facts.Name) {
		return ignored(strategyName, facts, statusDate)
	}
	rec := base(strategyName, facts, statusDate)
	rec.ClassLabel = engine.LabelUnclassified
	rec.Status = engine.StatusUnknown
	rec.Reason = fmt.Sprintf(reasonUnknown, strategyName)
	return rec
}

func ignored(strategyName string, facts engine.Facts, statusDate time.Time) engine.DecisionRecord {
	rec := base(strategyName, facts, statusDate)
	rec.ClassLabel = engine.LabelReserved
	rec.Status = engine.StatusIgnore
	rec.Reason = reasonIgnore
	return rec
}

func base(strategyName string, facts engine.Facts, statusDate time.Time) engine.DecisionRecord {
	age := engine.DaysBetween(statusDate, facts.CreationDate)
	idleDays := age
	lastActivity := facts.LastActivityDate
	if lastActivity.IsZero() {
		lastActivity = facts.CreationDate
	} else {
		idleDays = engine.DaysBetween(statusDate, lastActivity)
	}
	return engine.DecisionRecord{
		ResourceName:       facts.Name,
		Kind:               facts.Kind,
		ManagementStrategy: strategyName,
		CreationDate:       engine.Day(facts.CreationDate),
		LastActivityDate:   engine.Day(lastActivity),
		AgeDays:            age,
		IdleDays:           idleDays,
		Tags:               facts.Tags,
		Details:            facts.Details,
		StatusDate:         engine.Day(statusDate),
	}
}

// Decide evaluates facts against a strategy without the reserved check or the
// legacy override.
func Decide(s Strategy, facts engine.Facts, statusDate time.Time) engine.DecisionRecord {
	rec := base(strategyName(s), facts, statusDate)

	switch v := s.(type) {
	case Fixed:
		rec.ClassLabel = engine.LabelFixed
		rec.Status, rec.Reason = retention(v.RetentionDays, v.AlertLeadDays, rec.AgeDays)
		rec.RetentionDays = intPtr(v.RetentionDays)
	case ByName:
		token := Classify(facts.Name, v.Separator, v.Affix, labels(v.Classes))
		classify(&rec, token, v.Classes, v.Irregular)
	case ByTag:
		token := engine.LabelUnclassified
		if tag, ok := facts.TagValue(v.TagKey); ok {
			token = strings.ToUpper(strings.TrimSpace(tag))
		}
		classify(&rec, token, v.Classes, v.Irregular)
	default:
		rec.ClassLabel = engine.LabelUnclassified
		rec.Status = engine.StatusUnknown
		rec.Reason = fmt.Sprintf(reasonUnknown, rec.ManagementStrategy)
	}
	return rec
}

func strategyName(s Strategy) string {
	if s == nil {
		return ""
	}
	return s.Name()
}

func classify(rec *engine.DecisionRecord, token string, classes []ClassValue, irregular IrregularFormat) {
	class, ok := LookupClass(classes, token)
	if !ok {
		rec.ClassLabel = engine.LabelUnclassified
		handleIrregular(rec, irregular)
		return
	}
	rec.ClassLabel = strings.ToUpper(class.Label)
	handleClass(rec, class)
}

func handleIrregular(rec *engine.DecisionRecord, irregular IrregularFormat) {
	if !irregular.Quarantine {
		rec.Status = engine.StatusDelete
		rec.Reason = reasonIrregular
		return
	}
	rec.RetentionDays = intPtr(irregular.QuarantineDays)
	if rec.AgeDays <= irregular.QuarantineDays {
		rec.Status = engine.StatusQuarantine
		rec.Reason = fmt.Sprintf(reasonQuarantine, irregular.QuarantineDays)
		return
	}
	rec.Status = engine.StatusDelete
	rec.Reason = reasonIrregular
}

func handleClass(rec *engine.DecisionRecord, class ClassValue) {
	switch {
	case class.Retention.Enabled:
		rec.Status, rec.Reason = retention(class.Retention.Days, class.Retention.AlertLeadDays, rec.AgeDays)
		rec.RetentionDays = intPtr(class.Retention.Days)
	case class.Idle.Enabled:
		rec.Status, rec.Reason = idle(class.Idle.Days, class.Idle.AlertLeadDays, rec.IdleDays)
	default:
		rec.Status = engine.StatusKeep
		rec.Reason = reasonNoCheck
	}
}

// retention is the three-way comparison shared by FIXED and per-class
// retention: (limit-alert, limit] warns, above limit deletes.
func retention(limit, alert, age int) (engine.Status, string) {
	switch {
	case age > limit:
		return engine.StatusDelete, reasonRetentionExpired
	case age > limit-alert:
		return engine.StatusDeletionComing, fmt.Sprintf(reasonRetentionComing, limit-age+1)
	default:
		return engine.StatusKeep, reasonRetentionKeep
	}
}

func idle(limit, alert, idleDays int) (engine.Status, string) {
	switch {
	case idleDays > limit:
		return engine.StatusDelete, fmt.Sprintf(reasonIdleExpired, idleDays, limit)
	case idleDays > limit-alert:
		return engine.StatusDeletionComing, fmt.Sprintf(reasonIdleComing, idleDays, limit-idleDays+1)
	default:
		return engine.StatusKeep, reasonIdleKeep
	}
}

func intPtr(v int) *int { return &v }
