package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	notifications chan *pq.Notification
	channels      []string
	closed        chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		notifications: make(chan *pq.Notification, 4),
		closed:        make(chan struct{}),
	}
}

func (l *fakeListener) Listen(channel string) error {
	l.channels = append(l.channels, channel)
	return nil
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.notifications }

func (l *fakeListener) Close() error {
	close(l.closed)
	return nil
}

func newMockTransport(t *testing.T) (*NotifyTransport, sqlmock.Sqlmock, *fakeListener) {
	t.Helper()
	store, mock := newMockStore(t)
	listener := newFakeListener()
	transport := NewNotifyTransport(store, nil)
	transport.newListener = func() notificationListener { return listener }
	return transport, mock, listener
}

func TestNotifyTransportPublish(t *testing.T) {
	transport, mock, _ := newMockTransport(t)

	mock.ExpectExec(regexp.QuoteMeta("WITH ins AS (")).
		WithArgs(DefaultChannel, `{"kind":"attendee-added"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, transport.Publish(context.Background(), []byte(`{"kind":"attendee-added"}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyTransportDeliversRowsAfterWatermark(t *testing.T) {
	transport, mock, listener := newMockTransport(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(id), 0) FROM sync_envelopes")).
		WithArgs(DefaultChannel).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, payload FROM sync_envelopes")).
		WithArgs(DefaultChannel, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).AddRow(6, "first").AddRow(7, "second"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, payload FROM sync_envelopes")).
		WithArgs(DefaultChannel, 7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := transport.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultChannel}, listener.channels)

	listener.notifications <- &pq.Notification{Channel: DefaultChannel, Extra: "6"}
	assert.Equal(t, "first", string(receive(t, out)))
	assert.Equal(t, "second", string(receive(t, out)))

	// A reconnect is reported as a nil notification and only fetches newer rows.
	listener.notifications <- nil
	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-listener.closed:
	case <-time.After(time.Second):
		t.Fatal("listener was not closed after cancellation")
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		require.True(t, ok, "channel closed")
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}
