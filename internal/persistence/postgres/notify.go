package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
)

// DefaultChannel is the NOTIFY channel used for sync envelopes.
const DefaultChannel = "checkin_sync"

const (
	pruneEvery       = 100
	defaultRetention = time.Hour
)

// notificationListener is the subset of *pq.Listener the transport uses.
type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NotifyTransport fans sync envelopes out through the sync_envelopes table
// and LISTEN/NOTIFY. Notifications carry only the row id, subscribers read
// every row newer than the last one they saw, so a dropped connection is
// caught up on reconnect.
type NotifyTransport struct {
	db          *sql.DB
	channel     string
	retention   time.Duration
	newListener func() notificationListener
	logger      *slog.Logger
	published   atomic.Int64
}

// NewNotifyTransport builds a transport on the store's connection pool.
func NewNotifyTransport(store *Store, logger *slog.Logger) *NotifyTransport {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres_notify")
	dsn := store.DSN()
	return &NotifyTransport{
		db:        store.DB(),
		channel:   DefaultChannel,
		retention: defaultRetention,
		logger:    logger,
		newListener: func() notificationListener {
			return pq.NewListener(dsn, 500*time.Millisecond, 30*time.Second, func(ev pq.ListenerEventType, err error) {
				if err != nil {
					logger.Warn("listener event", "event", int(ev), "error", err)
				}
			})
		},
	}
}

const publishEnvelope = `WITH ins AS (
    INSERT INTO sync_envelopes (channel, payload) VALUES ($1, $2) RETURNING id
)
SELECT pg_notify($1, id::text) FROM ins`

// Publish stores the payload and notifies subscribers.
func (t *NotifyTransport) Publish(ctx context.Context, payload []byte) error {
	if _, err := t.db.ExecContext(ctx, publishEnvelope, t.channel, string(payload)); err != nil {
		return fmt.Errorf("postgres: publish envelope: %w", err)
	}
	if t.published.Add(1)%pruneEvery == 0 {
		t.prune(ctx)
	}
	return nil
}

func (t *NotifyTransport) prune(ctx context.Context) {
	cutoff := time.Now().Add(-t.retention).UTC()
	res, err := t.db.ExecContext(ctx, `DELETE FROM sync_envelopes WHERE channel = $1 AND created_at < $2`, t.channel, cutoff)
	if err != nil {
		t.logger.Warn("prune sync envelopes failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		t.logger.Debug("pruned sync envelopes", "count", n)
	}
}

// Subscribe starts listening. Envelopes published before the call are not
// delivered. The returned channel closes when ctx is cancelled.
func (t *NotifyTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	var lastID int64
	if err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM sync_envelopes WHERE channel = $1`, t.channel).Scan(&lastID); err != nil {
		return nil, fmt.Errorf("postgres: read sync watermark: %w", err)
	}

	listener := t.newListener()
	if err := listener.Listen(t.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("postgres: listen %s: %w", t.channel, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-listener.NotificationChannel():
				if !ok {
					return
				}
				// A nil notification signals a reconnect; fetching by id
				// covers both cases.
				next, err := t.deliver(ctx, lastID, out)
				if err != nil {
					if ctx.Err() == nil {
						t.logger.Warn("fetch sync envelopes failed", "error", err)
					}
					continue
				}
				lastID = next
			}
		}
	}()
	return out, nil
}

func (t *NotifyTransport) deliver(ctx context.Context, after int64, out chan<- []byte) (int64, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, payload FROM sync_envelopes WHERE channel = $1 AND id > $2 ORDER BY id`, t.channel, after)
	if err != nil {
		return after, err
	}
	defer rows.Close()

	last := after
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return last, err
		}
		select {
		case out <- []byte(payload):
		case <-ctx.Done():
			return last, ctx.Err()
		}
		last = id
	}
	return last, rows.Err()
}

// Close implements the transport contract. The connection pool belongs to
// the store.
func (t *NotifyTransport) Close() error { return nil }
