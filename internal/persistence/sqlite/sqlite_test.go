package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/storetest"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	storage, err := Open(context.Background(), filepath.Join(t.TempDir(), "checkin.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestStorageConformance(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) persistence.Store {
		return newTestStorage(t)
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkin.db")

	storage, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, storage.CreateAttendee(ctx, storetest.NewAttendee("a-1", "Ana", "Sales", 0)))
	require.NoError(t, storage.Close())

	reopened, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	var versions int
	require.NoError(t, reopened.pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, 2, versions)

	attendees, err := reopened.ListAttendees(ctx)
	require.NoError(t, err)
	assert.Len(t, attendees, 1)
}

func TestSchemaRejectsOutOfRangeScores(t *testing.T) {
	storage := newTestStorage(t)
	survey := storetest.NewSurvey("s-1", 11, 0)
	err := storage.CreateSurvey(context.Background(), survey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHECK constraint failed")
}

func TestWithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	sentinel := errors.New("abort")
	err := storage.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertAttendee, attendeeArgs(storetest.NewAttendee("a-1", "Ana", "Sales", 0))...); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	attendees, err := storage.ListAttendees(ctx)
	require.NoError(t, err)
	assert.Empty(t, attendees)
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(errors.New("constraint failed: UNIQUE constraint failed: attendees.name_key (2067)")), persistence.ErrDuplicateName)
	assert.ErrorIs(t, mapError(sql.ErrNoRows), persistence.ErrNotFound)
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("no such table")))
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, RetryConfig{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 1}, func() error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
