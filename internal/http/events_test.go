package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, stream *eventsource.Stream) eventsource.Event {
	t.Helper()
	select {
	case ev := <-stream.Events:
		return ev
	case err := <-stream.Errors:
		require.FailNow(t, "stream error", "%v", err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for event")
	}
	return nil
}

func TestEventStreamSendsStatusThenPublishedEvents(t *testing.T) {
	t.Parallel()

	events := NewEventStream(func() any { return map[string]string{"state": "local-only"} }, nil)
	srv := httptest.NewServer(events)
	t.Cleanup(func() {
		events.Close()
		srv.Close()
	})

	stream, err := eventsource.Subscribe(srv.URL, "")
	require.NoError(t, err)
	t.Cleanup(stream.Close)

	first := nextEvent(t, stream)
	assert.Equal(t, EventStatus, first.Event())
	assert.JSONEq(t, `{"state":"local-only"}`, first.Data())

	events.Publish(EventChange, map[string]any{"kind": "attendee-added", "remote": false})
	change := nextEvent(t, stream)
	require.Equal(t, EventChange, change.Event())
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(change.Data()), &payload))
	assert.Equal(t, "attendee-added", payload["kind"])
}

func TestForwardStopsWhenChannelCloses(t *testing.T) {
	t.Parallel()

	events := NewEventStream(nil, nil)
	t.Cleanup(events.Close)

	ch := make(chan int, 2)
	ch <- 1
	ch <- 2
	close(ch)

	done := make(chan struct{})
	go func() {
		Forward(t.Context(), events, EventNotice, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after the channel closed")
	}
}
