package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Dialect captures the placeholder syntax of the target database.
type Dialect struct {
	Name        string
	Placeholder func(n int) string
}

var (
	// SQLite uses positional question mark placeholders.
	SQLite = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}
	// Postgres uses numbered placeholders.
	Postgres = Dialect{Name: "postgres", Placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
)

// Runner applies pending migrations against a database handle.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner constructs a Runner. A nil logger falls back to slog.Default.
func NewRunner(db *sql.DB, dialect Dialect, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "migration", "dialect", dialect.Name),
		now:     time.Now,
	}
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// AppliedVersions returns the set of versions recorded in schema_migrations.
func (r *Runner) AppliedVersions(ctx context.Context) (map[int]struct{}, error) {
	if _, err := r.db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, &MigrationError{File: "schema_migrations", Operation: "create version table", Err: err}
	}
	rows, err := r.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, &MigrationError{File: "schema_migrations", Operation: "query applied versions", Err: err}
	}
	defer rows.Close()

	applied := make(map[int]struct{})
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, &MigrationError{File: "schema_migrations", Operation: "scan applied version", Err: err}
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &MigrationError{File: "schema_migrations", Operation: "iterate applied versions", Err: err}
	}
	return applied, nil
}

// Run applies every migration not yet recorded, in version order, each
// inside its own transaction. It returns the number of migrations applied.
func (r *Runner) Run(ctx context.Context, migrations []Migration) (int, error) {
	applied, err := r.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		start := r.now()
		if err := r.apply(ctx, m); err != nil {
			r.logger.Error("migration failed", "version", m.Version, "file", m.File, "error", err)
			return count, err
		}
		count++
		r.logger.Info("migration applied",
			"version", m.Version,
			"description", m.Description,
			"duration_ms", r.now().Sub(start).Milliseconds(),
		)
	}
	if count == 0 {
		r.logger.Debug("schema up to date", "known", len(migrations))
	}
	return count, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: m.Version, File: m.File, Operation: "begin transaction", Err: err}
	}

	for i, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return &MigrationError{
				Version:   m.Version,
				File:      m.File,
				Operation: fmt.Sprintf("execute statement %d", i+1),
				Err:       fmt.Errorf("%w: %v", ErrMigrationFailed, err),
			}
		}
	}

	record := fmt.Sprintf(
		`INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (%s, %s, %s, %s)`,
		r.dialect.Placeholder(1), r.dialect.Placeholder(2), r.dialect.Placeholder(3), r.dialect.Placeholder(4),
	)
	if _, err := tx.ExecContext(ctx, record, m.Version, m.Description, m.Checksum, r.now().UTC().Format(time.RFC3339)); err != nil {
		_ = tx.Rollback()
		return &MigrationError{Version: m.Version, File: m.File, Operation: "record migration", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: m.Version, File: m.File, Operation: "commit", Err: err}
	}
	return nil
}
