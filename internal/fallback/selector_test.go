package fallback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/memory"
)

// hangingStore never answers probes.
type hangingStore struct {
	persistence.Store
}

func (hangingStore) Probe(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func openerFor(store persistence.Store, calls *atomic.Int32) Opener {
	return func(context.Context) (persistence.Store, error) {
		calls.Add(1)
		return store, nil
	}
}

func TestPlaceholderCredentialsSkipProbe(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{Preferred: "hosted-a", Placeholder: true, Open: openerFor(memory.New(""), &calls)})

	assert.Equal(t, StateLocalOnly, s.Resolve(context.Background()))
	assert.Zero(t, calls.Load(), "no client is opened for placeholder credentials")
	assert.Equal(t, "placeholder credentials", s.Status().Reason)
	assert.False(t, s.NetworkRestored(context.Background()))
}

func TestResolveSucceeds(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{Preferred: "hosted-b", Open: openerFor(memory.New("hosted"), &calls)})
	statuses := s.Statuses()

	assert.Equal(t, StateUnprobed, s.State())
	assert.Equal(t, StateRemoteActive, s.Resolve(context.Background()))
	assert.Equal(t, StateRemoteActive, s.Resolve(context.Background()), "resolution happens once")
	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, s.Store())

	assert.Equal(t, StateProbingRemote, (<-statuses).State)
	assert.Equal(t, StateRemoteActive, (<-statuses).State)
	require.NoError(t, s.Close())
}

func TestResolveDegradesOnOpenFailure(t *testing.T) {
	s := New(Config{Preferred: "hosted-c", Open: func(context.Context) (persistence.Store, error) {
		return nil, errors.New("client library missing")
	}})
	assert.Equal(t, StateLocalOnly, s.Resolve(context.Background()))
	assert.Contains(t, s.Status().Reason, "client library missing")
	assert.Nil(t, s.Store())
}

func TestResolveDegradesOnProbeFailure(t *testing.T) {
	store := memory.New("hosted")
	store.SetUnavailable(errors.New("connection refused"))
	var calls atomic.Int32
	s := New(Config{Preferred: "hosted-a", Open: openerFor(store, &calls)})

	assert.Equal(t, StateLocalOnly, s.Resolve(context.Background()))

	store.SetUnavailable(nil)
	assert.True(t, s.NetworkRestored(context.Background()))
	assert.Equal(t, StateRemoteActive, s.State())
	assert.Equal(t, int32(1), calls.Load(), "the opened client is reused for re-probes")
}

func TestProbeTimeout(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{
		Preferred:    "hosted-a",
		Open:         openerFor(hangingStore{Store: memory.New("")}, &calls),
		ProbeTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	assert.Equal(t, StateLocalOnly, s.Resolve(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, s.Status().Reason, "timed out")
}

func TestNetworkLostAndRestored(t *testing.T) {
	store := memory.New("hosted")
	var calls atomic.Int32
	s := New(Config{Preferred: "hosted-b", Open: openerFor(store, &calls)})
	require.Equal(t, StateRemoteActive, s.Resolve(context.Background()))

	s.NetworkLost()
	assert.Equal(t, StateLocalOnly, s.State())
	assert.False(t, s.Status().Online)

	store.SetUnavailable(errors.New("still down"))
	assert.False(t, s.NetworkRestored(context.Background()))
	assert.Equal(t, StateLocalOnly, s.State())
	assert.True(t, s.Status().Online)

	store.SetUnavailable(nil)
	assert.True(t, s.NetworkRestored(context.Background()))
	assert.False(t, s.NetworkRestored(context.Background()), "already active")
}

func TestLocalConfiguredStaysLocal(t *testing.T) {
	s := New(Config{Preferred: "local"})
	assert.Equal(t, StateLocalOnly, s.Resolve(context.Background()))
	assert.False(t, s.NetworkRestored(context.Background()))
	require.NoError(t, s.Close())
}
