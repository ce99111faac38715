package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/storetest"
)

func TestOpenRejectsInvalidURL(t *testing.T) {
	_, err := Open(Options{URL: "http://not-redis"}, nil)
	require.Error(t, err)
}

func TestKeysUsePrefix(t *testing.T) {
	store, err := Open(Options{URL: "redis://localhost:6379/0", Prefix: "event42"}, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "event42:attendees", store.attendeesKey())
	assert.Equal(t, "event42:attendee_names", store.namesKey())
	assert.Equal(t, "event42:surveys", store.surveysKey())
	assert.Equal(t, "event42:sync", NewPubSubTransport(store, nil).channel)
}

func integrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CHECKIN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHECKIN_TEST_REDIS_URL not set")
	}
	store, err := Open(Options{URL: url, Prefix: "checkin-test-" + uuid.NewString()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.ReplaceAll(context.Background(), nil, nil)
		_ = store.Close()
	})
	return store
}

func TestStoreConformance(t *testing.T) {
	if os.Getenv("CHECKIN_TEST_REDIS_URL") == "" {
		t.Skip("CHECKIN_TEST_REDIS_URL not set")
	}
	storetest.RunStoreTests(t, func(t *testing.T) persistence.Store {
		return integrationStore(t)
	})
}

func TestPubSubTransportRoundTrip(t *testing.T) {
	store := integrationStore(t)
	transport := NewPubSubTransport(store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := transport.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, transport.Publish(ctx, []byte(`{"kind":"bulk-cleared"}`)))

	select {
	case payload := <-out:
		assert.JSONEq(t, `{"kind":"bulk-cleared"}`, string(payload))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
