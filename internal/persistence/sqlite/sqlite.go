// Package sqlite implements the embedded-sql store on top of
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Storage is a persistence.Store backed by an SQLite database file.
type Storage struct {
	pool   *ConnectionPool
	retry  RetryConfig
	logger *slog.Logger
}

// Open opens the database at path and applies pending schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(ctx, DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	s := &Storage{
		pool:   pool,
		retry:  DefaultRetryConfig(),
		logger: logger.With("component", "sqlite_store"),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	migrations, err := migration.Scan(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: load migrations: %w", err)
	}
	if _, err := migration.NewRunner(s.pool.DB(), migration.SQLite, s.logger).Run(ctx, migrations); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Name implements persistence.Store.
func (s *Storage) Name() string { return "embedded-sql" }

// Probe performs a bounded read against the attendees table.
func (s *Storage) Probe(ctx context.Context) error {
	var count int
	if err := s.pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM attendees`).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: probe: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.pool.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const attendeeColumns = `id, name, group_name, present, arrival_time, created_at, updated_at`

func scanAttendee(row rowScanner) (persistence.Attendee, error) {
	var (
		attendee  persistence.Attendee
		present   int
		arrival   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&attendee.ID, &attendee.Name, &attendee.Group, &present, &arrival, &createdAt, &updatedAt); err != nil {
		return persistence.Attendee{}, err
	}
	attendee.Present = present != 0
	var err error
	if arrival.Valid {
		at, err := parseTime(arrival.String)
		if err != nil {
			return persistence.Attendee{}, err
		}
		attendee.ArrivalTime = &at
	}
	if attendee.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Attendee{}, err
	}
	if attendee.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Attendee{}, err
	}
	return attendee, nil
}

func attendeeArgs(attendee persistence.Attendee) []any {
	var arrival any
	if attendee.ArrivalTime != nil {
		arrival = formatTime(*attendee.ArrivalTime)
	}
	present := 0
	if attendee.Present {
		present = 1
	}
	return []any{
		attendee.ID,
		attendee.Name,
		persistence.NameKey(attendee.Name),
		attendee.Group,
		present,
		arrival,
		formatTime(attendee.CreatedAt),
		formatTime(attendee.UpdatedAt),
	}
}

const insertAttendee = `INSERT INTO attendees (id, name, name_key, group_name, present, arrival_time, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const insertSurvey = `INSERT INTO survey_responses (id, participant_name, score, quality_rating, instructor_rating, comments, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func surveyArgs(survey persistence.SurveyResponse) []any {
	return []any{
		survey.ID,
		survey.ParticipantName,
		survey.Score,
		survey.QualityRating,
		survey.InstructorRating,
		survey.Comments,
		formatTime(survey.CreatedAt),
	}
}

// ListAttendees implements persistence.Store.
func (s *Storage) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	rows, err := s.pool.DB().QueryContext(ctx, `SELECT `+attendeeColumns+` FROM attendees ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attendees: %w", err)
	}
	defer rows.Close()

	attendees := []persistence.Attendee{}
	for rows.Next() {
		attendee, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan attendee: %w", err)
		}
		attendees = append(attendees, attendee)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate attendees: %w", err)
	}
	return attendees, nil
}

// CreateAttendee implements persistence.Store.
func (s *Storage) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.pool.DB().ExecContext(ctx, insertAttendee, attendeeArgs(attendee)...)
		return err
	})
}

// SetPresence implements persistence.Store.
func (s *Storage) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	var updated persistence.Attendee
	err := withRetry(ctx, s.retry, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			current, err := scanAttendee(tx.QueryRowContext(ctx, `SELECT `+attendeeColumns+` FROM attendees WHERE id = ?`, id))
			if err != nil {
				return err
			}
			updated = persistence.ApplyPresence(current, present, at)
			args := attendeeArgs(updated)
			_, err = tx.ExecContext(ctx,
				`UPDATE attendees SET present = ?, arrival_time = ?, updated_at = ? WHERE id = ?`,
				args[4], args[5], args[7], id,
			)
			return err
		})
	})
	if err != nil {
		return persistence.Attendee{}, err
	}
	return updated, nil
}

// DeleteAttendee implements persistence.Store.
func (s *Storage) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := withRetry(ctx, s.retry, func() error {
		res, err := s.pool.DB().ExecContext(ctx, `DELETE FROM attendees WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		return nil
	})
	return removed, err
}

// ClearAttendees implements persistence.Store.
func (s *Storage) ClearAttendees(ctx context.Context) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.pool.DB().ExecContext(ctx, `DELETE FROM attendees`)
		return err
	})
}

// ListSurveys implements persistence.Store.
func (s *Storage) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT id, participant_name, score, quality_rating, instructor_rating, comments, created_at
		FROM survey_responses ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list surveys: %w", err)
	}
	defer rows.Close()

	surveys := []persistence.SurveyResponse{}
	for rows.Next() {
		var (
			survey    persistence.SurveyResponse
			createdAt string
		)
		if err := rows.Scan(&survey.ID, &survey.ParticipantName, &survey.Score, &survey.QualityRating,
			&survey.InstructorRating, &survey.Comments, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan survey: %w", err)
		}
		if survey.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		surveys = append(surveys, survey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate surveys: %w", err)
	}
	return surveys, nil
}

// CreateSurvey implements persistence.Store.
func (s *Storage) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.pool.DB().ExecContext(ctx, insertSurvey, surveyArgs(survey)...)
		return err
	})
}

// ClearSurveys implements persistence.Store.
func (s *Storage) ClearSurveys(ctx context.Context) error {
	return withRetry(ctx, s.retry, func() error {
		_, err := s.pool.DB().ExecContext(ctx, `DELETE FROM survey_responses`)
		return err
	})
}

// ReplaceAll implements persistence.Store.
func (s *Storage) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	return withRetry(ctx, s.retry, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM attendees`); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM survey_responses`); err != nil {
				return err
			}
			for _, attendee := range attendees {
				if _, err := tx.ExecContext(ctx, insertAttendee, attendeeArgs(attendee)...); err != nil {
					return err
				}
			}
			for _, survey := range surveys {
				if _, err := tx.ExecContext(ctx, insertSurvey, surveyArgs(survey)...); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
