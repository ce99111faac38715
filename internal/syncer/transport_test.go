package syncer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/testfixtures"
)

func TestLogicalClock(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	lc := NewLogicalClock(clock.NowFunc())

	first := lc.Next()
	assert.Equal(t, clock.Current().UnixMilli(), first)
	assert.Equal(t, first+1, lc.Next(), "frozen wall time still yields increasing stamps")

	clock.Advance(time.Minute)
	assert.Equal(t, clock.Current().UnixMilli(), lc.Next())

	lc.Observe(clock.Current().UnixMilli() + 5000)
	assert.Equal(t, clock.Current().UnixMilli()+5001, lc.Next())
}

func TestEnvelopeWireForm(t *testing.T) {
	env := NewEnvelope(persistence.Mutation{
		Kind:       persistence.MutationBulkCleared,
		Collection: persistence.CollectionSurveys,
	}, "device_a", 42)
	payload, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"bulk-cleared","collection":"surveys","originId":"device_a","logicalTimestamp":42}`, string(payload))

	decoded, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)

	_, err = DecodeEnvelope([]byte(`{"kind":"attendee-added","logicalTimestamp":1}`))
	assert.Error(t, err)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	ch, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, hub.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestPollingTransportOverFileSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	slot, err := NewFileSlot(dir, nil)
	require.NoError(t, err)
	require.NoError(t, slot.Write(ctx, []byte(`{"stale":true}`)))

	transport := NewPollingTransport(slot, 20*time.Millisecond, nil)
	feed, err := transport.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case payload := <-feed:
		t.Fatalf("pre-existing content delivered: %s", payload)
	case <-time.After(60 * time.Millisecond):
	}

	peer, err := NewFileSlot(dir, nil)
	require.NoError(t, err)
	require.NoError(t, NewPollingTransport(peer, 0, nil).Publish(ctx, []byte(`{"fresh":true}`)))

	select {
	case payload := <-feed:
		assert.JSONEq(t, `{"fresh":true}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("slot change not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-feed
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, transport.Close())
}

func TestFileSlotReadMissing(t *testing.T) {
	slot, err := NewFileSlot(filepath.Join(t.TempDir(), "nested"), nil)
	require.NoError(t, err)
	payload, err := slot.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Equal(t, SlotFileName, filepath.Base(slot.Path()))
}

func TestDeviceID(t *testing.T) {
	dir := t.TempDir()

	id, err := DeviceID(dir, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "device_"))

	again, err := DeviceID(dir, "")
	require.NoError(t, err)
	assert.Equal(t, id, again, "device id must be stable per data dir")

	raw, err := os.ReadFile(filepath.Join(dir, DeviceIDFileName))
	require.NoError(t, err)
	assert.Equal(t, id, strings.TrimSpace(string(raw)))

	override, err := DeviceID(dir, " kiosk-1 ")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", override)
}
