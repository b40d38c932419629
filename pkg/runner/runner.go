package runner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/cleanup"
	"github.com/rosiehq/rosie/pkg/config"
	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/lifecycle"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

// Sink is the result store used by runs.
type Sink interface {
	engine.ResultSink
	engine.RunRecorder
	LatestRun(ctx context.Context, phase engine.Phase, date time.Time) (*engine.RunSummary, error)
}

// Collectors resolves collectors and tag resolvers by kind.
type Collectors interface {
	Get(kind engine.Kind) (engine.Collector, bool)
	TagResolver(kind engine.Kind) (engine.TagResolver, bool)
}

// Config wires a Runner.
type Config struct {
	Policies   config.Policies
	Evaluator  lifecycle.Evaluator
	Collectors Collectors
	Sink       Sink
	Backups    engine.BackupStore
	Telemetry  *telemetry.Telemetry
	Logger     zerolog.Logger

	// Clock stamps run start and finish times. Defaults to time.Now.
	Clock func() time.Time
}

// Runner executes evaluation and cleanup runs.
type Runner struct {
	cfg    Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Collectors == nil {
		return nil, fmt.Errorf("collectors are required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("result sink is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Runner{
		cfg:    cfg,
		tel:    telemetry.OrNop(cfg.Telemetry),
		logger: cfg.Logger.With().Str("component", "runner").Logger(),
		now:    now,
	}, nil
}

// Evaluate classifies every resource of every enabled kind as of statusDate
// and appends one evaluation partition per kind. A kind that fails to list
// is recorded in the summary and the run moves on. Sink errors abort the run.
func (r *Runner) Evaluate(ctx context.Context, statusDate time.Time) (*engine.RunSummary, error) {
	statusDate = engine.Day(statusDate)
	runID := uuid.NewString()
	scope := r.tel.StartRun(ctx, runID, engine.PhaseEvaluation, statusDate)
	ctx = scope.Ctx

	summary := &engine.RunSummary{
		RunID:      runID,
		Phase:      engine.PhaseEvaluation,
		StatusDate: statusDate,
		StartedAt:  r.now().UTC(),
	}
	logger := r.logger.With().Str("run_id", runID).Str("status_date", statusDate.Format(engine.DateLayout)).Logger()
	logger.Info().Int("kinds", len(r.cfg.Policies.Kinds)).Msg("Starting evaluation run")

	err := r.evaluateKinds(ctx, runID, statusDate, summary, logger)
	return r.finish(ctx, scope, summary, err, logger)
}

func (r *Runner) evaluateKinds(ctx context.Context, runID string, statusDate time.Time, summary *engine.RunSummary, logger zerolog.Logger) error {
	for _, kind := range r.cfg.Policies.Kinds {
		if err := ctx.Err(); err != nil {
			return err
		}
		kp, _ := r.cfg.Policies.Get(kind)
		klog := logger.With().Str("kind", string(kind)).Logger()

		records, err := r.evaluateKind(ctx, kind, kp, statusDate, summary, klog)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			klog.Error().Err(err).Msg("Failed to collect resources")
			r.tel.Metrics.RecordCollectorError(kind)
			summary.Fail(kind, err)
			continue
		}

		for i := range records {
			if records[i].Kind == "" {
				records[i].Kind = kind
			}
			records[i].RunID = runID
			records[i].Phase = engine.PhaseEvaluation
			summary.Add(records[i])
			r.tel.Metrics.RecordDecision(kind, records[i].Status)
			_ = r.tel.Events.PublishDecision(records[i])
		}
		if err := r.append(ctx, records, kind, engine.PhaseEvaluation, runID, statusDate, summary); err != nil {
			return err
		}
		klog.Info().
			Int("resources", len(records)).
			Int("delete", summary.Kind(kind).Statuses[engine.StatusDelete]).
			Msg("Kind evaluated")
	}
	return nil
}

func (r *Runner) evaluateKind(ctx context.Context, kind engine.Kind, kp config.KindPolicy, statusDate time.Time, summary *engine.RunSummary, logger zerolog.Logger) ([]engine.DecisionRecord, error) {
	ctx, span := r.tel.Tracer.StartKindSpan(ctx, "rosie.evaluate.kind", kind)
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	c, ok := r.cfg.Collectors.Get(kind)
	if !ok {
		spanErr = fmt.Errorf("no collector registered for %s", kind)
		return nil, spanErr
	}
	facts, err := engine.ListAll(ctx, c)
	if err != nil {
		spanErr = err
		return nil, err
	}
	summary.Kind(kind).Discovered = len(facts)
	r.tel.Metrics.RecordDiscovered(kind, len(facts))

	if kp.Err != nil {
		logger.Warn().Err(kp.Err).Str("strategy", kp.Strategy).Msg("Unknown management strategy, resources recorded as unknown")
	}

	records := make([]engine.DecisionRecord, 0, len(facts))
	for _, f := range facts {
		if kp.Err != nil {
			records = append(records, r.cfg.Evaluator.Unknown(kp.Strategy, f, statusDate))
			continue
		}
		if byTag, ok := kp.Policy.Strategy.(lifecycle.ByTag); ok {
			f = r.resolveTag(ctx, kind, f, byTag.TagKey, logger)
		}
		records = append(records, r.cfg.Evaluator.Evaluate(kp.Policy, f, statusDate))
	}
	return records, nil
}

// resolveTag fills the classification tag of f from the kind's tag resolver
// when the listing did not carry it. A failed lookup leaves the resource
// unclassified.
func (r *Runner) resolveTag(ctx context.Context, kind engine.Kind, f engine.Facts, key string, logger zerolog.Logger) engine.Facts {
	if _, ok := f.TagValue(key); ok {
		return f
	}
	resolver, ok := r.cfg.Collectors.TagResolver(kind)
	if !ok {
		return f
	}
	value, ok, err := resolver.TagValue(ctx, f.Name, key)
	if err != nil {
		logger.Warn().Err(err).Str("resource", f.Name).Str("tag", key).Msg("Tag lookup failed, resource left unclassified")
		return f
	}
	if !ok {
		return f
	}
	tags := maps.Clone(f.Tags)
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags[key] = value
	f.Tags = tags
	return f
}

// Cleanup retires the resources marked delete by an evaluation run of
// statusDate and appends one cleanup partition per kind. An empty
// evaluationRunID selects the latest evaluation run of that date.
func (r *Runner) Cleanup(ctx context.Context, statusDate time.Time, evaluationRunID string) (*engine.RunSummary, *cleanup.Report, error) {
	statusDate = engine.Day(statusDate)
	runID := uuid.NewString()
	scope := r.tel.StartRun(ctx, runID, engine.PhaseCleanup, statusDate)
	ctx = scope.Ctx

	summary := &engine.RunSummary{
		RunID:      runID,
		Phase:      engine.PhaseCleanup,
		StatusDate: statusDate,
		StartedAt:  r.now().UTC(),
	}
	logger := r.logger.With().Str("run_id", runID).Str("status_date", statusDate.Format(engine.DateLayout)).Logger()

	report, err := r.enact(ctx, runID, statusDate, evaluationRunID, summary, logger)
	summary, err = r.finish(ctx, scope, summary, err, logger)
	return summary, report, err
}

func (r *Runner) enact(ctx context.Context, runID string, statusDate time.Time, evaluationRunID string, summary *engine.RunSummary, logger zerolog.Logger) (*cleanup.Report, error) {
	if r.cfg.Backups == nil {
		return nil, engine.NewFatalError("backup store is required for cleanup", nil)
	}

	if evaluationRunID == "" {
		id, err := r.latestEvaluation(ctx, statusDate)
		if err != nil {
			return nil, err
		}
		if id == "" {
			logger.Warn().Msg("No evaluation run for this date, nothing to clean up")
			return &cleanup.Report{}, nil
		}
		evaluationRunID = id
	}

	records, err := r.cfg.Sink.Query(ctx, engine.Query{
		Date:   statusDate,
		Phase:  engine.PhaseEvaluation,
		Status: engine.StatusDelete,
		RunID:  evaluationRunID,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("evaluation_run", evaluationRunID).Int("records", len(records)).Msg("Starting cleanup run")

	enactor := cleanup.NewEnactor(r.cfg.Collectors, r.cfg.Backups, r.cfg.Evaluator.Reserved,
		cleanup.WithTelemetry(r.tel),
		cleanup.WithLogger(logger),
		cleanup.WithClock(r.now),
		cleanup.WithRunID(runID),
	)
	report, enactErr := enactor.Enact(ctx, records)

	byKind := make(map[engine.Kind][]engine.DecisionRecord)
	for _, rec := range report.Records {
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
		summary.Add(rec)
	}
	for _, rec := range report.Unmapped {
		summary.Kind(rec.Kind).Unmapped++
	}

	kinds := make([]engine.Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		// Partial results are still persisted when the run was cancelled.
		if err := r.append(context.WithoutCancel(ctx), byKind[kind], kind, engine.PhaseCleanup, runID, statusDate, summary); err != nil {
			return report, err
		}
	}
	return report, enactErr
}

// latestEvaluation returns the id of the most recent evaluation run of date.
func (r *Runner) latestEvaluation(ctx context.Context, date time.Time) (string, error) {
	run, err := r.cfg.Sink.LatestRun(ctx, engine.PhaseEvaluation, date)
	if err != nil || run == nil {
		return "", err
	}
	return run.RunID, nil
}

// append writes records as one partition. Fatal sink errors are returned;
// other failures are recorded against the kind.
func (r *Runner) append(ctx context.Context, records []engine.DecisionRecord, kind engine.Kind, phase engine.Phase, runID string, date time.Time, summary *engine.RunSummary) error {
	if len(records) == 0 {
		return nil
	}
	partition := engine.Partition{Date: date, Kind: kind, Phase: phase, RunID: runID}
	if err := r.cfg.Sink.Append(ctx, records, partition); err != nil {
		if engine.IsFatal(err) {
			return err
		}
		r.logger.Error().Err(err).Str("partition", partition.String()).Msg("Failed to append partition")
		summary.Fail(kind, err)
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, scope *telemetry.RunScope, summary *engine.RunSummary, runErr error, logger zerolog.Logger) (*engine.RunSummary, error) {
	summary.FinishedAt = r.now().UTC()

	if runErr == nil || !engine.IsFatal(runErr) {
		if err := r.cfg.Sink.RecordRun(context.WithoutCancel(ctx), *summary); err != nil {
			logger.Error().Err(err).Msg("Failed to record run summary")
			if runErr == nil {
				runErr = err
			}
		}
	}

	scope.End(*summary, runErr)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Run aborted")
		return summary, runErr
	}
	logger.Info().
		Int("errors", summary.Errors()).
		Bool("failed", summary.Failed()).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Run completed")
	return summary, nil
}
