package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rosiehq/rosie/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestampLayout is a fixed width UTC layout so that stored timestamps sort
// chronologically as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrPartitionExists is returned when appending to a partition that already holds records.
var ErrPartitionExists = errors.New("partition already written")

// SQLiteSink implements engine.ResultSink using SQLite.
type SQLiteSink struct {
	db  *sql.DB
	cfg Config
}

var (
	_ engine.ResultSink  = (*SQLiteSink)(nil)
	_ engine.RunRecorder = (*SQLiteSink)(nil)
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteSink creates a new SQLite sink instance
func NewSQLiteSink(cfg Config) (*SQLiteSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteSink{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteSink) Init(ctx context.Context) error {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if !isMemory(s.cfg.Path) {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	dsn := s.cfg.Path + sep + pragmas

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return engine.NewFatalError("failed to open database", fmt.Errorf("%w: %v", engine.ErrSinkUnavailable, err)).
			WithCode(engine.ErrCodeUnreachable)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return engine.NewFatalError("failed to ping database", fmt.Errorf("%w: %v", engine.ErrSinkUnavailable, err)).
			WithCode(engine.ErrCodeUnreachable)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteSink) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteSink) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return engine.NewFatalError("database not initialized", engine.ErrSinkUnavailable)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return engine.NewFatalError("database health check failed", fmt.Errorf("%w: %v", engine.ErrSinkUnavailable, err)).
			WithCode(engine.ErrCodeUnreachable)
	}
	return nil
}

// classify turns driver errors that make the sink unusable into fatal errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return engine.NewFatalError(op, fmt.Errorf("%w: %v", engine.ErrSinkUnavailable, err)).WithCode(engine.ErrCodeSchema)
	case strings.Contains(msg, "database is closed"), strings.Contains(msg, "unable to open database"):
		return engine.NewFatalError(op, fmt.Errorf("%w: %v", engine.ErrSinkUnavailable, err)).WithCode(engine.ErrCodeUnreachable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteSink) ready() error {
	if s.db == nil {
		return engine.NewFatalError("database not initialized", engine.ErrSinkUnavailable)
	}
	return nil
}

// Append writes records into partition within one transaction. Records are
// stamped with the partition's date, phase and run id.
func (s *SQLiteSink) Append(ctx context.Context, records []engine.DecisionRecord, partition engine.Partition) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := partition.Validate(); err != nil {
		return engine.NewInvalidError("invalid partition", err)
	}
	date := partition.Date.UTC().Format(engine.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_records WHERE status_date = ? AND kind = ? AND phase = ? AND run_id = ?`,
		date, partition.Kind, partition.Phase, partition.RunID,
	).Scan(&existing)
	if err != nil {
		return classify("failed to inspect partition", err)
	}
	if existing > 0 {
		return fmt.Errorf("failed to append to %s: %w", partition, ErrPartitionExists)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decision_records (
			status_date, kind, phase, run_id, resource_name, management_strategy,
			class_label, status, reason, retention_days, creation_date, last_activity_date,
			age_days, idle_days, tags, details, legacy, deleted_at, backup_location
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return classify("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.Kind != partition.Kind {
			return engine.NewInvalidError(
				fmt.Sprintf("record %s has kind %s, partition is %s", rec.ResourceName, rec.Kind, partition.Kind), nil)
		}
		tags, err := encodeMap(rec.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags of %s: %w", rec.ResourceName, err)
		}
		details, err := encodeMap(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to encode details of %s: %w", rec.ResourceName, err)
		}

		_, err = stmt.ExecContext(ctx,
			date,
			partition.Kind,
			partition.Phase,
			partition.RunID,
			rec.ResourceName,
			rec.ManagementStrategy,
			rec.ClassLabel,
			rec.Status,
			rec.Reason,
			nullableInt(rec.RetentionDays),
			rec.CreationDate.UTC().Format(engine.DateLayout),
			rec.LastActivityDate.UTC().Format(engine.DateLayout),
			rec.AgeDays,
			rec.IdleDays,
			tags,
			details,
			rec.Legacy,
			nullableTime(rec.DeletedAt),
			nullableString(rec.BackupLocation),
		)
		if err != nil {
			return classify(fmt.Sprintf("failed to insert record %s", rec.ResourceName), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("failed to commit partition", err)
	}
	return nil
}

// Query returns the records matching q, ordered by partition and insertion.
func (s *SQLiteSink) Query(ctx context.Context, q engine.Query) ([]engine.DecisionRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []interface{}
	)
	if !q.Date.IsZero() {
		where = append(where, "status_date = ?")
		args = append(args, q.Date.UTC().Format(engine.DateLayout))
	}
	if len(q.Kinds) > 0 {
		marks := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, string(q.Phase))
	}
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}

	query := `
		SELECT status_date, kind, phase, run_id, resource_name, management_strategy,
			class_label, status, reason, retention_days, creation_date, last_activity_date,
			age_days, idle_days, tags, details, legacy, deleted_at, backup_location
		FROM decision_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY status_date, kind, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("failed to query records", err)
	}
	defer rows.Close()

	var out []engine.DecisionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (engine.DecisionRecord, error) {
	var (
		rec                                engine.DecisionRecord
		statusDate, creation, lastActivity string
		kind, phase, status                string
		tags, details                      string
		retention                          sql.NullInt64
		deletedAt, backupLocation          sql.NullString
	)
	err := rows.Scan(
		&statusDate, &kind, &phase, &rec.RunID, &rec.ResourceName, &rec.ManagementStrategy,
		&rec.ClassLabel, &status, &rec.Reason, &retention, &creation, &lastActivity,
		&rec.AgeDays, &rec.IdleDays, &tags, &details, &rec.Legacy, &deletedAt, &backupLocation,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Kind = engine.Kind(kind)
	rec.Phase = engine.Phase(phase)
	rec.Status = engine.Status(status)
	if rec.StatusDate, err = engine.ParseDate(statusDate); err != nil {
		return rec, err
	}
	if rec.CreationDate, err = engine.ParseDate(creation); err != nil {
		return rec, err
	}
	if rec.LastActivityDate, err = engine.ParseDate(lastActivity); err != nil {
		return rec, err
	}
	if retention.Valid {
		v := int(retention.Int64)
		rec.RetentionDays = &v
	}
	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return rec, fmt.Errorf("invalid deleted_at %q: %w", deletedAt.String, err)
		}
		rec.DeletedAt = &t
	}
	rec.BackupLocation = backupLocation.String
	if rec.Tags, err = decodeMap(tags); err != nil {
		return rec, fmt.Errorf("failed to decode tags of %s: %w", rec.ResourceName, err)
	}
	if rec.Details, err = decodeMap(details); err != nil {
		return rec, fmt.Errorf("failed to decode details of %s: %w", rec.ResourceName, err)
	}
	return rec, nil
}

// RecordRun stores a run summary.
func (s *SQLiteSink) RecordRun(ctx context.Context, summary engine.RunSummary) error {
	if err := s.ready(); err != nil {
		return err
	}
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, phase, status_date, started_at, finished_at, errors, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID,
		summary.Phase,
		summary.StatusDate.UTC().Format(engine.DateLayout),
		summary.StartedAt.UTC().Format(timestampLayout),
		summary.FinishedAt.UTC().Format(timestampLayout),
		summary.Errors(),
		string(blob),
	)
	if err != nil {
		return classify("failed to record run", err)
	}
	return nil
}

// ListRuns returns the most recent run summaries first.
func (s *SQLiteSink) ListRuns(ctx context.Context, limit int) ([]engine.RunSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classify("failed to list runs", err)
	}
	defer rows.Close()

	var out []engine.RunSummary
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var summary engine.RunSummary
		if err := json.Unmarshal([]byte(blob), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// LatestRun returns the most recent run of phase for the status date, or nil
// when there is none.
func (s *SQLiteSink) LatestRun(ctx context.Context, phase engine.Phase, date time.Time) (*engine.RunSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var blob string
	err := s.db.QueryRowContext(ctx, `
		SELECT summary FROM runs
		WHERE phase = ? AND status_date = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, phase, date.UTC().Format(engine.DateLayout)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find latest run", err)
	}
	var summary engine.RunSummary
	if err := json.Unmarshal([]byte(blob), &summary); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	return &summary, nil
}

func encodeMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMap(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timestampLayout)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
