package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

// RetentionFunc returns how many days obj is kept. Zero or less keeps it forever.
type RetentionFunc func(obj engine.BackupObject) int

// FixedRetention keeps every backup for days.
func FixedRetention(days int) RetentionFunc {
	return func(engine.BackupObject) int { return days }
}

// PruneResult summarizes a prune pass.
type PruneResult struct {
	Examined int
	Removed  []engine.BackupObject
	Failed   map[string]error
}

// Pruner removes backups older than their retention.
type Pruner struct {
	store     engine.BackupStore
	retention RetentionFunc
	logger    zerolog.Logger
}

// NewPruner creates a pruner for store.
func NewPruner(store engine.BackupStore, retention RetentionFunc, logger zerolog.Logger) *Pruner {
	if retention == nil {
		retention = FixedRetention(0)
	}
	return &Pruner{
		store:     store,
		retention: retention,
		logger:    logger.With().Str("component", "backup.prune").Logger(),
	}
}

// Expired reports whether obj has outlived its retention at now.
func (p *Pruner) Expired(obj engine.BackupObject, now time.Time) bool {
	days := p.retention(obj)
	return days > 0 && engine.DaysBetween(now, obj.Date) > days
}

// Prune removes expired backups of kind (all kinds when empty). With dryRun
// set, expired backups are reported but kept. A failure to remove one backup
// does not stop the pass.
func (p *Pruner) Prune(ctx context.Context, kind engine.Kind, now time.Time, dryRun bool) (*PruneResult, error) {
	objs, err := p.store.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	result := &PruneResult{Examined: len(objs), Failed: make(map[string]error)}
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !p.Expired(obj, now) {
			continue
		}
		if !dryRun {
			if err := p.store.Remove(ctx, obj); err != nil {
				p.logger.Error().Err(err).Str("location", obj.Location).Msg("failed to prune backup")
				result.Failed[obj.Location] = err
				continue
			}
		}
		result.Removed = append(result.Removed, obj)
	}

	p.logger.Info().
		Int("examined", result.Examined).
		Int("removed", len(result.Removed)).
		Int("failed", len(result.Failed)).
		Bool("dry_run", dryRun).
		Msg("backup pruning completed")
	return result, nil
}
