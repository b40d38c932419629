package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rosiehq/rosie/pkg/backup"
	"github.com/rosiehq/rosie/pkg/config"
	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/inventory"
	"github.com/rosiehq/rosie/pkg/runner"
	"github.com/rosiehq/rosie/pkg/stores"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

// needs selects which stores a command opens.
type needs struct {
	sink      bool
	backups   bool
	inventory bool
}

// session holds everything a command opened from the configuration.
type session struct {
	path       string
	doc        *config.Document
	tel        *telemetry.Telemetry
	logger     zerolog.Logger
	sink       *stores.SQLiteSink
	backups    *backup.Store
	collectors *inventory.Registry
}

func loadDocument() (*config.Document, string, error) {
	path := config.ResolvePath(configPath)
	doc, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return doc, path, nil
}

// relativeTo resolves p against the directory of the configuration file.
func relativeTo(configFile, p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(filepath.Dir(configFile), p)
}

func openSession(ctx context.Context, n needs) (*session, error) {
	doc, path, err := loadDocument()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetryWithLogger(doc.Telemetry, telemetry.Wrap(log.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{path: path, doc: doc, tel: tel, logger: log.Logger}

	if n.sink {
		if err := s.openSink(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}
	if n.backups {
		if err := s.openBackups(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}
	if n.inventory {
		dir := relativeTo(path, doc.Inventory.Path)
		s.collectors, err = inventory.LoadSnapshots(dir, doc.Inventory.PageSize, s.logger)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("failed to load inventory from %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *session) openSink(ctx context.Context) error {
	sink, err := stores.NewSQLiteSink(stores.Config{Path: relativeTo(s.path, s.doc.Runtime.DatabasePath)})
	if err != nil {
		return engine.NewFatalError("failed to create result sink", err)
	}
	if err := sink.Init(ctx); err != nil {
		return err
	}
	if err := sink.Migrate(ctx); err != nil {
		_ = sink.Close()
		return err
	}
	s.sink = sink
	return nil
}

func (s *session) openBackups(ctx context.Context) error {
	var (
		store *backup.Store
		err   error
	)
	switch s.doc.Backup.Type {
	case config.BackupSFTP:
		if s.doc.Backup.SFTP == nil {
			return engine.NewFatalError("backup.sftp is required for the sftp backup store", nil)
		}
		store, err = backup.NewSFTPStore(ctx, *s.doc.Backup.SFTP, s.logger)
	default:
		root := s.doc.Backup.Path
		if root == "" {
			root = "backups"
		}
		store, err = backup.NewFilesystemStore(relativeTo(s.path, root), s.logger)
	}
	if err != nil {
		return engine.NewFatalError("failed to open backup store", err)
	}
	s.backups = store
	return nil
}

// pruner prunes with each backup's class retention, falling back to the
// configured default.
func (s *session) pruner(policies config.Policies) *backup.Pruner {
	fallback := s.doc.Backup.RetentionDays
	retention := func(obj engine.BackupObject) int {
		return policies.BackupRetention(obj.Kind, obj.Class, fallback)
	}
	return backup.NewPruner(s.backups, retention, s.logger)
}

func (s *session) runner(doc *config.Document) (*runner.Runner, config.Policies, error) {
	policies, err := doc.ToPolicies()
	if err != nil {
		return nil, config.Policies{}, engine.NewFatalError("invalid monitoring policies", err).WithCode(engine.ErrCodeValidation)
	}
	evaluator, err := doc.Evaluator()
	if err != nil {
		return nil, config.Policies{}, engine.NewFatalError("invalid legacy policy", err).WithCode(engine.ErrCodeValidation)
	}

	cfg := runner.Config{
		Policies:   policies,
		Evaluator:  evaluator,
		Collectors: s.collectors,
		Sink:       s.sink,
		Telemetry:  s.tel,
		Logger:     s.logger,
	}
	if s.backups != nil {
		cfg.Backups = s.backups
	}
	r, err := runner.New(cfg)
	if err != nil {
		return nil, config.Policies{}, err
	}
	return r, policies, nil
}

// Close releases the stores and flushes telemetry.
func (s *session) Close(ctx context.Context) {
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close result sink")
		}
	}
	if s.backups != nil {
		if err := s.backups.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close backup store")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// statusDate parses the --date flag, defaulting to today.
func statusDate(flag string) (time.Time, error) {
	if flag == "" {
		return engine.Day(time.Now()), nil
	}
	d, err := engine.ParseDate(flag)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date: %w", err)
	}
	return d, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runResult is the error a command returns for a finished run.
func runResult(summary *engine.RunSummary) error {
	if summary != nil && summary.Failed() {
		return ErrRunIncomplete
	}
	return nil
}
