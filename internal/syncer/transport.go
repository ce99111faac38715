package syncer

import (
	"context"
	"sync"
)

// Transport is a broadcast channel shared by every peer.
type Transport interface {
	// Publish sends payload to every subscriber, this device included.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe delivers payloads published after the call until ctx is
	// done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

const hubBufferLength = 64

// Hub is an in-process Transport. Slow subscribers miss payloads once their
// buffer is full.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Publish implements Transport.
func (h *Hub) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe implements Transport.
func (h *Hub) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte, hubBufferLength)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, nil
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close implements Transport and ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.closed = true
	return nil
}
