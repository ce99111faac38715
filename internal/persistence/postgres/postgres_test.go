package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/storetest"
)

var attendeeRowColumns = []string{"id", "name", "group_name", "present", "arrival_time", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil), mock
}

func TestCreateAttendeeMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendees")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "idx_attendees_name_key"})

	err := store.CreateAttendee(context.Background(), storetest.NewAttendee("a-1", "Ana", "Sales", 0))
	require.ErrorIs(t, err, persistence.ErrDuplicateName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAttendeeKeepsOtherErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendees")).
		WillReturnError(errors.New("connection reset by peer"))

	err := store.CreateAttendee(context.Background(), storetest.NewAttendee("a-1", "Ana", "Sales", 0))
	require.Error(t, err)
	assert.False(t, persistence.IsDomainError(err))
}

func TestSetPresence(t *testing.T) {
	t.Run("returns the updated row", func(t *testing.T) {
		store, mock := newMockStore(t)
		at := storetest.ReferenceTime.Add(time.Minute)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE attendees SET")).
			WithArgs("a-1", true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(attendeeRowColumns).
				AddRow("a-1", "Ana", "Sales", true, at, storetest.ReferenceTime, at))

		attendee, err := store.SetPresence(context.Background(), "a-1", true, at)
		require.NoError(t, err)
		assert.True(t, attendee.Present)
		require.NotNil(t, attendee.ArrivalTime)
		assert.True(t, attendee.ArrivalTime.Equal(at))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE attendees SET")).
			WithArgs("missing", false, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(attendeeRowColumns))

		_, err := store.SetPresence(context.Background(), "missing", false, storetest.ReferenceTime)
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})
}

func TestDeleteAttendeeReportsExistence(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendees WHERE id = $1")).
		WithArgs("a-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendees WHERE id = $1")).
		WithArgs("a-1").WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := store.DeleteAttendee(context.Background(), "a-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.DeleteAttendee(context.Background(), "a-1")
	require.NoError(t, err)
	assert.False(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAttendeesScansNullArrival(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, group_name")).
		WillReturnRows(sqlmock.NewRows(attendeeRowColumns).
			AddRow("a-1", "Ana", "Sales", false, nil, storetest.ReferenceTime, storetest.ReferenceTime))

	attendees, err := store.ListAttendees(context.Background())
	require.NoError(t, err)
	require.Len(t, attendees, 1)
	assert.Nil(t, attendees[0].ArrivalTime)
	assert.Equal(t, "Sales", attendees[0].Group)
}

func TestReplaceAllRollsBackOnDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendees")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM survey_responses")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendees")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendees")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "idx_attendees_name_key"})
	mock.ExpectRollback()

	err := store.ReplaceAll(context.Background(), []persistence.Attendee{
		storetest.NewAttendee("a-1", "Ana", "", 0),
		storetest.NewAttendee("a-2", "ana", "", time.Second),
	}, nil)
	require.ErrorIs(t, err, persistence.ErrDuplicateName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeWrapsFailures(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM attendees")).
		WillReturnError(errors.New("dial tcp: connection refused"))

	require.Error(t, store.Probe(context.Background()))
}

// TestStoreConformance runs against a real server when
// CHECKIN_TEST_POSTGRES_DSN is set.
func TestStoreConformance(t *testing.T) {
	dsn := os.Getenv("CHECKIN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHECKIN_TEST_POSTGRES_DSN not set")
	}
	storetest.RunStoreTests(t, func(t *testing.T) persistence.Store {
		store, err := Open(context.Background(), dsn, nil)
		require.NoError(t, err)
		require.NoError(t, store.ReplaceAll(context.Background(), nil, nil))
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
