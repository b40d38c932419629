package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/backup"
	"github.com/rosiehq/rosie/pkg/engine"
)

// Scheduler runs evaluation, then cleanup, then backup pruning on a cron
// schedule.
type Scheduler struct {
	job     atomic.Pointer[job]
	cleanup bool
	now     func() time.Time

	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	mu      sync.Mutex
	logger  zerolog.Logger
	running bool
}

// job is what one scheduled cycle runs. It is swapped whole on Replace.
type job struct {
	runner *Runner
	pruner *backup.Pruner
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPruner prunes expired backups after each cleanup.
func WithPruner(p *backup.Pruner) SchedulerOption {
	return func(s *Scheduler) {
		j := *s.job.Load()
		j.pruner = p
		s.job.Store(&j)
	}
}

// WithoutCleanup limits scheduled runs to evaluation.
func WithoutCleanup() SchedulerOption {
	return func(s *Scheduler) { s.cleanup = false }
}

// WithSchedulerClock sets the clock deciding each run's status date.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler for r.
func NewScheduler(r *Runner, logger zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cleanup: true,
		now:     time.Now,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	s.job.Store(&job{runner: r})
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules runs with the given cron expression. Runs stop when ctx
// is done.
//
// Common cron expressions:
//   - "0 6 * * *"    - Daily at 6 AM
//   - "0 */12 * * *" - Every 12 hours
//   - "0 6 * * 1"    - Weekly on Monday at 6 AM
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if err := s.schedule(ctx, spec); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", spec).Bool("cleanup", s.cleanup).Msg("Scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Reschedule replaces the cron expression of a running scheduler.
func (s *Scheduler) Reschedule(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec {
		return nil
	}
	previous := s.entry
	if err := s.schedule(ctx, spec); err != nil {
		return err
	}
	s.cron.Remove(previous)
	s.logger.Info().Str("schedule", spec).Msg("Schedule updated")
	return nil
}

// Replace swaps the runner and pruner used by the next cycle. A cycle in
// progress finishes with the previous ones.
func (s *Scheduler) Replace(r *Runner, p *backup.Pruner) {
	s.job.Store(&job{runner: r, pruner: p})
	s.logger.Info().Msg("Run configuration replaced")
}

func (s *Scheduler) schedule(ctx context.Context, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	id, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule runs: %w", err)
	}
	s.entry = id
	s.spec = spec
	return nil
}

// RunOnce performs one scheduled cycle for today's date.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	j := s.job.Load()
	statusDate := engine.Day(s.now())
	logger := s.logger.With().Str("status_date", statusDate.Format(engine.DateLayout)).Logger()

	summary, err := j.runner.Evaluate(ctx, statusDate)
	if err != nil {
		logger.Error().Err(err).Msg("Scheduled evaluation failed")
		return err
	}
	if !s.cleanup {
		return nil
	}

	if _, _, err := j.runner.Cleanup(ctx, statusDate, summary.RunID); err != nil {
		logger.Error().Err(err).Msg("Scheduled cleanup failed")
		return err
	}

	if j.pruner != nil {
		result, err := j.pruner.Prune(ctx, "", statusDate, false)
		if err != nil {
			logger.Error().Err(err).Msg("Scheduled backup pruning failed")
			return err
		}
		j.runner.tel.Metrics.RecordBackupsPruned(len(result.Removed))
	}
	return nil
}

// Stop stops the scheduler and waits for a running cycle to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info().Msg("Scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Schedule returns the active cron expression.
func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// NextRun returns the next scheduled run time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.cron.Entry(s.entry)
	if !entry.Valid() {
		return nil
	}
	next := entry.Next
	return &next
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
