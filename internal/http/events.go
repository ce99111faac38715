package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/launchdarkly/eventsource"
)

// eventsChannel is the single SSE channel every client joins.
const eventsChannel = "checkin"

// Event names sent on the stream.
const (
	EventStatus = "status"
	EventChange = "change"
	EventNotice = "notice"
)

type sseEvent struct {
	id, event, data string
}

func (e sseEvent) Id() string    { return e.id }
func (e sseEvent) Event() string { return e.event }
func (e sseEvent) Data() string  { return e.data }

// EventStream fans gateway changes, sync notices and status updates out to
// server-sent event clients. New clients first receive the current status.
type EventStream struct {
	server *eventsource.Server
	status func() any
	seq    atomic.Uint64
	logger *slog.Logger
	closed sync.Once
}

// NewEventStream builds a stream. status may be nil.
func NewEventStream(status func() any, logger *slog.Logger) *EventStream {
	s := &EventStream{
		server: eventsource.NewServer(),
		status: status,
		logger: defaultLogger(logger).With("component", "event_stream"),
	}
	s.server.ReplayAll = true
	s.server.Register(eventsChannel, s)
	return s
}

// Replay implements eventsource.Repository.
func (s *EventStream) Replay(channel, id string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	if s.status != nil {
		if ev, ok := s.encode(EventStatus, s.status()); ok {
			out <- ev
		}
	}
	close(out)
	return out
}

func (s *EventStream) encode(event string, payload any) (eventsource.Event, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode event", "event", event, "error", err)
		return nil, false
	}
	return sseEvent{id: strconv.FormatUint(s.seq.Add(1), 10), event: event, data: string(data)}, true
}

// Publish sends payload as a JSON event to every client.
func (s *EventStream) Publish(event string, payload any) {
	if ev, ok := s.encode(event, payload); ok {
		s.server.Publish([]string{eventsChannel}, ev)
	}
}

// ServeHTTP streams events until the client disconnects.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler(eventsChannel).ServeHTTP(w, r)
}

// Close disconnects every client. Later calls do nothing.
func (s *EventStream) Close() {
	s.closed.Do(s.server.Close)
}

// Forward publishes every value received from ch as an event until ctx is
// done or ch is closed.
func Forward[T any](ctx context.Context, s *EventStream, event string, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			s.Publish(event, v)
		}
	}
}
