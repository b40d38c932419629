package cleanup

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

// CollectorSource resolves the collector of a kind.
type CollectorSource interface {
	Get(kind engine.Kind) (engine.Collector, bool)
}

// Outcome is the result of retiring one resource.
type Outcome struct {
	Status         engine.Status `json:"status"`
	Detail         string        `json:"detail"`
	BackupLocation string        `json:"backup_location,omitempty"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`

	// Err is the underlying failure when Status is error.
	Err error `json:"-"`
}

// Report is the result of enacting a batch of records.
type Report struct {
	// Records are the updated records, one per retired or failed resource.
	Records []engine.DecisionRecord `json:"records"`

	// Unmapped are input records whose kind has no collector, unmodified.
	Unmapped []engine.DecisionRecord `json:"unmapped,omitempty"`

	// Skipped counts reserved resources and records not marked for deletion.
	Skipped int `json:"skipped"`

	// Failed counts records that ended in error.
	Failed int `json:"failed"`
}

// Retired counts records that ended in deleted-backup.
func (r *Report) Retired() int {
	return len(r.Records) - r.Failed
}

// Enactor retires resources marked for deletion: backup first, then delete.
// Resources are processed sequentially and every failure stays scoped to its
// resource.
type Enactor struct {
	collectors CollectorSource
	store      engine.BackupStore
	reserved   engine.ReservedSet
	tel        *telemetry.Telemetry
	logger     zerolog.Logger
	now        func() time.Time
	runID      string
}

// Option configures an Enactor.
type Option func(*Enactor)

// WithTelemetry sets the telemetry used for metrics, spans and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Enactor) { e.tel = tel }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Enactor) { e.logger = logger }
}

// WithClock sets the clock used for deletion timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Enactor) { e.now = now }
}

// WithRunID sets the cleanup run id stamped on updated records and events.
func WithRunID(runID string) Option {
	return func(e *Enactor) { e.runID = runID }
}

// NewEnactor creates an enactor.
func NewEnactor(collectors CollectorSource, store engine.BackupStore, reserved engine.ReservedSet, opts ...Option) *Enactor {
	e := &Enactor{
		collectors: collectors,
		store:      store,
		reserved:   reserved,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tel = telemetry.OrNop(e.tel)
	e.logger = e.logger.With().Str("component", "cleanup").Logger()
	return e
}

// Retire backs up and deletes one resource, dating the backup with the
// enactor's clock.
func (e *Enactor) Retire(ctx context.Context, kind engine.Kind, name string) Outcome {
	return e.retire(ctx, kind, name, "", engine.Day(e.now()))
}

func (e *Enactor) retire(ctx context.Context, kind engine.Kind, name, classLabel string, date time.Time) Outcome {
	if e.reserved.Contains(name) {
		return Outcome{Status: engine.StatusIgnore, Detail: "reserved resource, not retired"}
	}
	c, ok := e.collectors.Get(kind)
	if !ok {
		err := engine.NewIsolatedError(fmt.Sprintf("no collector for kind %s", kind), nil).WithResource(kind, name)
		return Outcome{Status: engine.StatusError, Detail: err.Error(), Err: err}
	}

	ctx, span := e.tel.Tracer.StartResourceSpan(ctx, "rosie.cleanup.retire", kind, name)
	tx := NewTransaction(kind, name, classLabel)

	err := tx.Stage(ctx, c, e.store, date)
	if err == nil {
		err = tx.Delete(ctx, c)
	}
	if err == nil {
		err = tx.Commit(ctx)
	}
	telemetry.EndSpan(span, err)

	logger := e.logger.With().Str("kind", string(kind)).Str("resource", name).Logger()
	if err != nil {
		detail := err.Error()
		if loc := tx.StagedLocation(); loc != "" {
			detail = fmt.Sprintf("%s (staged backup at %s)", detail, loc)
		}
		logger.Error().Err(err).Str("state", string(tx.State())).Msg("Failed to retire resource")
		e.tel.Metrics.RecordCleanupOutcome(kind, engine.StatusError)
		_ = e.tel.Events.PublishRetireFailed(e.runID, kind, name, err)
		return Outcome{Status: engine.StatusError, Detail: detail, Err: err}
	}

	deletedAt := e.now().UTC()
	location := tx.Backup().Location
	logger.Info().Str("backup", location).Msg("Resource retired")
	e.tel.Metrics.RecordCleanupOutcome(kind, engine.StatusDeletedBackup)
	_ = e.tel.Events.PublishRetired(e.runID, kind, name, location)
	return Outcome{
		Status:         engine.StatusDeletedBackup,
		Detail:         fmt.Sprintf("DELETED - backup committed at %s.", location),
		BackupLocation: location,
		DeletedAt:      &deletedAt,
	}
}

// Enact retires every delete record. When several records name the same
// resource the last one wins. Reserved resources and records with another
// status are skipped. Delete records of a kind with no collector are
// reported as unmapped. Enact stops between resources when ctx is done and
// returns the partial report with ctx's error.
func (e *Enactor) Enact(ctx context.Context, records []engine.DecisionRecord) (*Report, error) {
	report := &Report{}

	for _, rec := range dedupe(records) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if rec.Status != engine.StatusDelete || e.reserved.Contains(rec.ResourceName) {
			report.Skipped++
			continue
		}
		if _, ok := e.collectors.Get(rec.Kind); !ok {
			report.Unmapped = append(report.Unmapped, rec)
			continue
		}

		date := rec.StatusDate
		if date.IsZero() {
			date = engine.Day(e.now())
		}
		outcome := e.retire(ctx, rec.Kind, rec.ResourceName, rec.ClassLabel, date)

		updated := e.apply(rec, outcome)
		if updated.Status == engine.StatusError {
			report.Failed++
		}
		report.Records = append(report.Records, updated)
	}

	if len(report.Unmapped) > 0 {
		e.logger.Warn().Int("count", len(report.Unmapped)).Msg("Records with no collector left untouched")
	}
	return report, nil
}

// apply returns a copy of rec carrying outcome.
func (e *Enactor) apply(rec engine.DecisionRecord, outcome Outcome) engine.DecisionRecord {
	updated := rec
	updated.Tags = maps.Clone(rec.Tags)
	updated.Details = maps.Clone(rec.Details)
	updated.Status = outcome.Status
	updated.Reason = outcome.Detail
	updated.DeletedAt = outcome.DeletedAt
	updated.BackupLocation = outcome.BackupLocation
	updated.Phase = engine.PhaseCleanup
	if e.runID != "" {
		updated.RunID = e.runID
	}
	return updated
}

type resourceKey struct {
	kind engine.Kind
	name string
}

// dedupe keeps the last record for every resource, in first-seen order.
func dedupe(records []engine.DecisionRecord) []engine.DecisionRecord {
	index := make(map[resourceKey]int, len(records))
	out := make([]engine.DecisionRecord, 0, len(records))
	for _, rec := range records {
		key := resourceKey{rec.Kind, rec.ResourceName}
		if i, ok := index[key]; ok {
			out[i] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}
