package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// PubSubTransport carries sync envelopes over a Redis pub/sub channel.
type PubSubTransport struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewPubSubTransport shares the store's client. The channel is derived from
// the store prefix so separate deployments on one server stay isolated.
func NewPubSubTransport(store *Store, logger *slog.Logger) *PubSubTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubTransport{
		client:  store.Client(),
		channel: store.Prefix() + ":sync",
		logger:  logger.With("component", "redis_pubsub"),
	}
}

// Publish implements the transport contract.
func (t *PubSubTransport) Publish(ctx context.Context, payload []byte) error {
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, so envelopes
// published afterwards are not lost.
func (t *PubSubTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", t.channel, err)
	}

	out := make(chan []byte, 16)
	messages := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements the transport contract. The client belongs to the store.
func (t *PubSubTransport) Close() error { return nil }
