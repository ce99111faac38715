package syncer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"
)

// DefaultSyncInterval is how often a polled slot is re-read.
const DefaultSyncInterval = 2 * time.Second

// Slot is a single shared value that peers overwrite. The last write wins.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
}

// Notifier is implemented by slots that can signal a change before the next
// poll.
type Notifier interface {
	Notify(ctx context.Context) (<-chan struct{}, error)
}

// PollingTransport turns a Slot into a Transport by re-reading it on an
// interval and emitting content that differs from the last read. Writes that
// land within one interval of each other may be coalesced.
type PollingTransport struct {
	slot     Slot
	interval time.Duration
	logger   *slog.Logger
}

// NewPollingTransport wraps slot. A non-positive interval selects
// DefaultSyncInterval.
func NewPollingTransport(slot Slot, interval time.Duration, logger *slog.Logger) *PollingTransport {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingTransport{slot: slot, interval: interval, logger: logger.With("component", "polling_transport")}
}

// Publish implements Transport.
func (t *PollingTransport) Publish(ctx context.Context, payload []byte) error {
	return t.slot.Write(ctx, payload)
}

// Subscribe implements Transport. Content already in the slot when Subscribe
// is called is not delivered.
func (t *PollingTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	last, err := t.slot.Read(ctx)
	if err != nil {
		return nil, err
	}

	var wake <-chan struct{}
	if n, ok := t.slot.(Notifier); ok {
		wake, err = n.Notify(ctx)
		if err != nil {
			t.logger.Warn("change notifications unavailable, polling only", "error", err)
			wake = nil
		}
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-wake:
				if !ok {
					wake = nil
					continue
				}
			}

			current, err := t.slot.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.logger.Warn("slot read failed", "error", err)
				}
				continue
			}
			if len(current) == 0 || bytes.Equal(current, last) {
				continue
			}
			last = current
			select {
			case out <- current:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Coalesces implements Coalescing.
func (t *PollingTransport) Coalesces() bool { return true }

// Close implements Transport and closes the slot when it holds resources.
func (t *PollingTransport) Close() error {
	if c, ok := t.slot.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
