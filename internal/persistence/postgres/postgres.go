// Package postgres implements the hosted-a store on PostgreSQL using
// github.com/lib/pq, including a LISTEN/NOTIFY sync transport.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const uniqueViolation = "23505"

// Store is a persistence.Store backed by PostgreSQL.
type Store struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := New(db, logger)
	s.dsn = dsn
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. Migrate is not run.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "postgres_store")}
}

// DB exposes the handle for transports sharing the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// DSN returns the connection string the store was opened with.
func (s *Store) DSN() string { return s.dsn }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	migrations, err := migration.Scan(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: load migrations: %w", err)
	}
	if _, err := migration.NewRunner(s.db, migration.Postgres, s.logger).Run(ctx, migrations); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Name implements persistence.Store.
func (s *Store) Name() string { return "hosted-a" }

// Probe performs a bounded count read.
func (s *Store) Probe(ctx context.Context) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendees`).Scan(&count); err != nil {
		return fmt.Errorf("postgres: probe: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "idx_attendees_name_key" {
		return fmt.Errorf("%w: %v", persistence.ErrDuplicateName, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const attendeeColumns = `id, name, group_name, present, arrival_time, created_at, updated_at`

func scanAttendee(row rowScanner) (persistence.Attendee, error) {
	var (
		attendee persistence.Attendee
		arrival  sql.NullTime
	)
	if err := row.Scan(&attendee.ID, &attendee.Name, &attendee.Group, &attendee.Present, &arrival,
		&attendee.CreatedAt, &attendee.UpdatedAt); err != nil {
		return persistence.Attendee{}, err
	}
	if arrival.Valid {
		at := arrival.Time.UTC()
		attendee.ArrivalTime = &at
	}
	attendee.CreatedAt = attendee.CreatedAt.UTC()
	attendee.UpdatedAt = attendee.UpdatedAt.UTC()
	return attendee, nil
}

const insertAttendee = `INSERT INTO attendees (id, name, name_key, group_name, present, arrival_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func attendeeArgs(attendee persistence.Attendee) []any {
	var arrival sql.NullTime
	if attendee.ArrivalTime != nil {
		arrival = sql.NullTime{Time: attendee.ArrivalTime.UTC(), Valid: true}
	}
	return []any{
		attendee.ID,
		attendee.Name,
		persistence.NameKey(attendee.Name),
		attendee.Group,
		attendee.Present,
		arrival,
		attendee.CreatedAt.UTC(),
		attendee.UpdatedAt.UTC(),
	}
}

const insertSurvey = `INSERT INTO survey_responses (id, participant_name, score, quality_rating, instructor_rating, comments, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func surveyArgs(survey persistence.SurveyResponse) []any {
	return []any{
		survey.ID,
		survey.ParticipantName,
		survey.Score,
		survey.QualityRating,
		survey.InstructorRating,
		survey.Comments,
		survey.CreatedAt.UTC(),
	}
}

// ListAttendees implements persistence.Store.
func (s *Store) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attendeeColumns+` FROM attendees ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("list attendees", err)
	}
	defer rows.Close()

	attendees := []persistence.Attendee{}
	for rows.Next() {
		attendee, err := scanAttendee(rows)
		if err != nil {
			return nil, mapError("scan attendee", err)
		}
		attendees = append(attendees, attendee)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate attendees", err)
	}
	return attendees, nil
}

// CreateAttendee implements persistence.Store. The unique index on name_key
// arbitrates concurrent creations from different devices.
func (s *Store) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	_, err := s.db.ExecContext(ctx, insertAttendee, attendeeArgs(attendee)...)
	return mapError("create attendee", err)
}

// setPresence evaluates every SET expression against the old row, so the
// arrival time only changes on the false to true transition.
const setPresence = `UPDATE attendees SET
    arrival_time = CASE
        WHEN $2 AND NOT present THEN $3
        WHEN NOT $2 THEN NULL
        ELSE arrival_time
    END,
    present = $2,
    updated_at = $3
WHERE id = $1
RETURNING ` + attendeeColumns

// SetPresence implements persistence.Store as a single UPDATE statement.
func (s *Store) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	attendee, err := scanAttendee(s.db.QueryRowContext(ctx, setPresence, id, present, at.UTC()))
	if err != nil {
		return persistence.Attendee{}, mapError("set presence", err)
	}
	return attendee, nil
}

// DeleteAttendee implements persistence.Store.
func (s *Store) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attendees WHERE id = $1`, id)
	if err != nil {
		return false, mapError("delete attendee", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, mapError("delete attendee", err)
	}
	return affected > 0, nil
}

// ClearAttendees implements persistence.Store.
func (s *Store) ClearAttendees(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attendees`)
	return mapError("clear attendees", err)
}

// ListSurveys implements persistence.Store.
func (s *Store) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, participant_name, score, quality_rating, instructor_rating, comments, created_at
FROM survey_responses ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("list surveys", err)
	}
	defer rows.Close()

	surveys := []persistence.SurveyResponse{}
	for rows.Next() {
		var survey persistence.SurveyResponse
		if err := rows.Scan(&survey.ID, &survey.ParticipantName, &survey.Score, &survey.QualityRating,
			&survey.InstructorRating, &survey.Comments, &survey.CreatedAt); err != nil {
			return nil, mapError("scan survey", err)
		}
		survey.CreatedAt = survey.CreatedAt.UTC()
		surveys = append(surveys, survey)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate surveys", err)
	}
	return surveys, nil
}

// CreateSurvey implements persistence.Store.
func (s *Store) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	_, err := s.db.ExecContext(ctx, insertSurvey, surveyArgs(survey)...)
	return mapError("create survey", err)
}

// ClearSurveys implements persistence.Store.
func (s *Store) ClearSurveys(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM survey_responses`)
	return mapError("clear surveys", err)
}

// ReplaceAll implements persistence.Store inside one transaction.
func (s *Store) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin replace", err)
	}
	rollback := func(op string, err error) error {
		_ = tx.Rollback()
		return mapError(op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendees`); err != nil {
		return rollback("replace attendees", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_responses`); err != nil {
		return rollback("replace surveys", err)
	}
	for _, attendee := range attendees {
		if _, err := tx.ExecContext(ctx, insertAttendee, attendeeArgs(attendee)...); err != nil {
			return rollback("replace attendees", err)
		}
	}
	for _, survey := range surveys {
		if _, err := tx.ExecContext(ctx, insertSurvey, surveyArgs(survey)...); err != nil {
			return rollback("replace surveys", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit replace", err)
	}
	return nil
}
