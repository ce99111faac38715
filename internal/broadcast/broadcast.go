// Package broadcast fans values out to any number of channel subscribers.
//
// AddListener returns a new receive-only channel; RemoveListener unsubscribes
// and closes it; Broadcast sends a value to every subscriber; Close
// unsubscribes and closes everything.
package broadcast

import "sync"

// SubscriberBufferLength is the capacity of every subscriber channel.
const SubscriberBufferLength = 16

// Broadcaster publishes values of type V. A subscriber whose buffer is full
// misses the value instead of stalling the publisher.
type Broadcaster[V any] struct {
	mu          sync.Mutex
	subscribers []subscriber[V]
	dropped     uint64
	closed      bool
}

type subscriber[V any] struct {
	sendCh    chan<- V
	receiveCh <-chan V
}

// New creates an empty Broadcaster.
func New[V any]() *Broadcaster[V] {
	return &Broadcaster[V]{}
}

// AddListener adds a subscriber and returns its channel. After Close the
// returned channel is already closed.
func (b *Broadcaster[V]) AddListener() <-chan V {
	ch := make(chan V, SubscriberBufferLength)
	var receiveCh <-chan V = ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return receiveCh
	}
	b.subscribers = append(b.subscribers, subscriber[V]{sendCh: ch, receiveCh: receiveCh})
	return receiveCh
}

// RemoveListener unsubscribes the channel returned by AddListener and closes it.
func (b *Broadcaster[V]) RemoveListener(ch <-chan V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		// receiveCh is kept alongside sendCh because a chan V never
		// compares equal to a <-chan V.
		if s.receiveCh == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(s.sendCh)
			return
		}
	}
}

// HasListeners reports whether anyone is subscribed.
func (b *Broadcaster[V]) HasListeners() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers) > 0
}

// Broadcast delivers value to every subscriber with room in its buffer.
func (b *Broadcaster[V]) Broadcast(value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		select {
		case s.sendCh <- value:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broadcaster[V]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel. Later listeners receive a closed channel.
func (b *Broadcaster[V]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		close(s.sendCh)
	}
	b.subscribers = nil
	b.closed = true
}
