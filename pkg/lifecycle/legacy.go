package lifecycle

import (
	"fmt"
	"time"

	"github.com/rosiehq/rosie/pkg/engine"
)

const (
	reasonLegacyDelete = "QUARANTINE - LEGACY grace period of %d day(s) in effect, deletion suspended for %d more day(s). Pending: %s"
	reasonLegacyNotice = " LEGACY - adequacy term of %d day(s) in effect, %d day(s) remaining."
)

// Legacy is the global grace period granted to resources that predate policy adoption.
type Legacy struct {
	Enabled            bool
	AdequacyTermDays   int
	ReferenceStartDate time.Time
}

// Active reports whether the grace period covers statusDate.
func (l Legacy) Active(statusDate time.Time) bool {
	if !l.Enabled {
		return false
	}
	return engine.DaysBetween(statusDate, l.ReferenceStartDate) <= l.AdequacyTermDays
}

// Remaining returns the days left in the grace period at statusDate.
func (l Legacy) Remaining(statusDate time.Time) int {
	return l.AdequacyTermDays - engine.DaysBetween(statusDate, l.ReferenceStartDate) + 1
}

// ApplyLegacy rewrites rec while the grace period is active. A delete becomes
// a quarantine; every other status keeps its kind and gains the adequacy
// notice. Ignore and unknown records pass through unchanged.
func ApplyLegacy(rec engine.DecisionRecord, l Legacy, statusDate time.Time) engine.DecisionRecord {
	if !l.Active(statusDate) {
		return rec
	}
	switch rec.Status {
	case engine.StatusIgnore, engine.StatusUnknown:
		return rec
	case engine.StatusDelete:
		rec.Status = engine.StatusQuarantine
		rec.Reason = fmt.Sprintf(reasonLegacyDelete, l.AdequacyTermDays, l.Remaining(statusDate), rec.Reason)
	default:
		rec.Reason += fmt.Sprintf(reasonLegacyNotice, l.AdequacyTermDays, l.Remaining(statusDate))
	}
	rec.Legacy = true
	return rec
}
