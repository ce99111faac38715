package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/broadcast"
	"github.com/example/event-checkin/internal/persistence"
)

// Mode names the channel the engine currently uses.
type Mode string

const (
	ModeLocal  Mode = "local-channel"
	ModeRemote Mode = "remote-channel"
)

// Outcome reports what Handle did with an inbound payload.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeSelfEcho
	OutcomeStale
	OutcomeInvalid
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSelfEcho:
		return "self_echo"
	case OutcomeStale:
		return "stale"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Applier applies inbound mutations to local state.
type Applier interface {
	ApplyRemote(ctx context.Context, m persistence.Mutation) error
}

// Reloader is implemented by appliers that can re-read the shared store.
type Reloader interface {
	ReloadShared(ctx context.Context, m persistence.Mutation) (bool, error)
}

// Coalescing is implemented by transports that may deliver only the latest
// of several writes made close together.
type Coalescing interface {
	Coalesces() bool
}

// Notice is the transient "data changed remotely" notification.
type Notice struct {
	Kind     persistence.MutationKind `json:"kind"`
	OriginID string                   `json:"originId"`
	Message  string                   `json:"message"`
	At       time.Time                `json:"at"`
}

// Config wires an Engine.
type Config struct {
	DeviceID string
	// Local is the local-channel transport. Required.
	Local Transport
	// Remote is the store's push transport, nil when the store has none.
	Remote  Transport
	Applier Applier
	Logger  *slog.Logger
	Now     func() time.Time
	// RetryInterval paces re-subscription after a transport failure.
	RetryInterval time.Duration
}

// Engine publishes local mutations and applies inbound ones.
type Engine struct {
	deviceID string
	clock    *LogicalClock
	applier  Applier
	reloader Reloader
	now      func() time.Time
	logger   *slog.Logger
	retry    time.Duration
	notices  *broadcast.Broadcaster[Notice]

	// handleMu serializes inbound application.
	handleMu sync.Mutex

	mu         sync.Mutex
	local      Transport
	remote     Transport
	offline    bool
	watermarks map[string]int64
	rebind     chan struct{}
}

// New validates cfg and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("syncer: device id is required")
	}
	if cfg.Local == nil {
		return nil, errors.New("syncer: local transport is required")
	}
	if cfg.Applier == nil {
		return nil, errors.New("syncer: applier is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultSyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reloader, _ := cfg.Applier.(Reloader)
	return &Engine{
		deviceID:   cfg.DeviceID,
		clock:      NewLogicalClock(cfg.Now),
		applier:    cfg.Applier,
		reloader:   reloader,
		now:        cfg.Now,
		logger:     logger.With("component", "sync_engine", "device_id", cfg.DeviceID),
		retry:      cfg.RetryInterval,
		notices:    broadcast.New[Notice](),
		local:      cfg.Local,
		remote:     cfg.Remote,
		watermarks: make(map[string]int64),
		rebind:     make(chan struct{}, 1),
	}, nil
}

// DeviceID returns the origin id stamped on outgoing envelopes.
func (e *Engine) DeviceID() string { return e.deviceID }

// Mode reports the channel in use.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote != nil && !e.offline {
		return ModeRemote
	}
	return ModeLocal
}

// Watermark returns the last applied logical timestamp of collection.
func (e *Engine) Watermark(collection string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermarks[collection]
}

// Notices subscribes to remote-change notices.
func (e *Engine) Notices() <-chan Notice { return e.notices.AddListener() }

// RemoveNoticeListener unsubscribes a channel returned by Notices.
func (e *Engine) RemoveNoticeListener(ch <-chan Notice) { e.notices.RemoveListener(ch) }

func (e *Engine) activeLocked() Transport {
	if e.remote != nil && !e.offline {
		return e.remote
	}
	return e.local
}

func (e *Engine) advanceLocked(collections []string, ts int64) {
	for _, c := range collections {
		if ts > e.watermarks[c] {
			e.watermarks[c] = ts
		}
	}
}

func (e *Engine) signalRebind() {
	select {
	case e.rebind <- struct{}{}:
	default:
	}
}

// Publish stamps m and broadcasts it on the active channel. The local
// watermark advances even when the broadcast fails.
func (e *Engine) Publish(ctx context.Context, m persistence.Mutation) error {
	env := NewEnvelope(m, e.deviceID, e.clock.Next())
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("syncer: encode %s: %w", m.Kind, err)
	}

	e.mu.Lock()
	e.advanceLocked(m.Collections(), env.LogicalTimestamp)
	transport := e.activeLocked()
	e.mu.Unlock()

	if err := transport.Publish(ctx, payload); err != nil {
		e.logger.WarnContext(ctx, "publish failed", "operation", "Publish", "kind", m.Kind, "error", err)
		return fmt.Errorf("syncer: publish %s: %w", m.Kind, err)
	}
	e.logger.DebugContext(ctx, "envelope published", "operation", "Publish", "kind", m.Kind, "logical_timestamp", env.LogicalTimestamp)
	return nil
}

// Handle processes one inbound payload.
func (e *Engine) Handle(ctx context.Context, payload []byte) Outcome {
	logger := e.logger.With("operation", "Handle")

	env, err := DecodeEnvelope(payload)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed envelope", "error", err)
		return OutcomeInvalid
	}
	if env.OriginID == e.deviceID {
		return OutcomeSelfEcho
	}

	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	mutation := env.Mutation()
	collections := mutation.Collections()

	e.mu.Lock()
	for _, c := range collections {
		if env.LogicalTimestamp <= e.watermarks[c] {
			e.mu.Unlock()
			logger.DebugContext(ctx, "dropping stale envelope", "kind", env.Kind, "collection", c,
				"logical_timestamp", env.LogicalTimestamp, "watermark", e.watermarks[c])
			return OutcomeStale
		}
	}
	e.mu.Unlock()

	if err := e.applier.ApplyRemote(ctx, mutation); err != nil {
		logger.ErrorContext(ctx, "failed to apply envelope", "kind", env.Kind, "origin_id", env.OriginID,
			"error", err, "error_kind", persistence.ErrorKind(err))
		return OutcomeFailed
	}

	e.mu.Lock()
	e.advanceLocked(collections, env.LogicalTimestamp)
	e.mu.Unlock()
	e.clock.Observe(env.LogicalTimestamp)

	logger.InfoContext(ctx, "remote change applied", "kind", env.Kind, "origin_id", env.OriginID,
		"logical_timestamp", env.LogicalTimestamp)
	e.notices.Broadcast(Notice{
		Kind:     env.Kind,
		OriginID: env.OriginID,
		Message:  "data changed remotely",
		At:       e.now(),
	})
	return OutcomeApplied
}

// HandleShared processes one payload from a coalescing transport. Such a
// delivery only tells that the shared store moved: earlier writes, and
// writes from peers whose clocks lag behind, may hide behind it, so the
// store is re-read on every delivery instead of applying the envelope.
func (e *Engine) HandleShared(ctx context.Context, payload []byte) Outcome {
	if e.reloader == nil {
		return e.Handle(ctx, payload)
	}
	logger := e.logger.With("operation", "HandleShared")

	env, err := DecodeEnvelope(payload)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed envelope", "error", err)
		return OutcomeInvalid
	}

	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	mutation := env.Mutation()
	changed, err := e.reloader.ReloadShared(ctx, mutation)
	if err != nil {
		logger.ErrorContext(ctx, "failed to reload shared store", "kind", env.Kind, "origin_id", env.OriginID,
			"error", err, "error_kind", persistence.ErrorKind(err))
		return OutcomeFailed
	}

	e.mu.Lock()
	e.advanceLocked(mutation.Collections(), env.LogicalTimestamp)
	e.mu.Unlock()
	e.clock.Observe(env.LogicalTimestamp)

	switch {
	case env.OriginID == e.deviceID:
		return OutcomeSelfEcho
	case !changed:
		return OutcomeStale
	}
	logger.InfoContext(ctx, "shared store reloaded", "kind", env.Kind, "origin_id", env.OriginID,
		"logical_timestamp", env.LogicalTimestamp)
	e.notices.Broadcast(Notice{
		Kind:     env.Kind,
		OriginID: env.OriginID,
		Message:  "data changed remotely",
		At:       e.now(),
	})
	return OutcomeApplied
}

// Run subscribes to the active channel and handles payloads until ctx is
// done. Mode changes re-subscribe; transport failures are retried.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.mu.Lock()
		transport := e.activeLocked()
		e.mu.Unlock()

		subCtx, cancel := context.WithCancel(ctx)
		ch, err := transport.Subscribe(subCtx)
		if err != nil {
			cancel()
			e.logger.WarnContext(ctx, "subscribe failed", "operation", "Run", "error", err)
			if !e.wait(ctx) {
				return nil
			}
			continue
		}
		e.logger.InfoContext(ctx, "subscribed", "operation", "Run", "mode", e.Mode())

		handle := e.Handle
		if c, ok := transport.(Coalescing); ok && c.Coalesces() {
			handle = e.HandleShared
		}
		resubscribe := e.consume(ctx, ch, handle)
		cancel()
		if !resubscribe {
			return nil
		}
	}
}

// consume handles payloads until the context ends (false) or the
// subscription must be replaced (true).
func (e *Engine) consume(ctx context.Context, ch <-chan []byte, handle func(context.Context, []byte) Outcome) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.rebind:
			return true
		case payload, ok := <-ch:
			if !ok {
				e.logger.WarnContext(ctx, "subscription closed", "operation", "Run")
				return e.wait(ctx)
			}
			handle(ctx, payload)
		}
	}
}

// wait pauses for the retry interval or a rebind signal and reports whether
// the engine should keep running.
func (e *Engine) wait(ctx context.Context) bool {
	timer := time.NewTimer(e.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.rebind:
		return true
	case <-timer.C:
		return true
	}
}

// GoOffline freezes the engine in local-channel mode. Remote writes are not
// queued.
func (e *Engine) GoOffline() {
	e.mu.Lock()
	changed := !e.offline
	e.offline = true
	e.mu.Unlock()
	if changed {
		e.logger.Info("sync going offline", "operation", "GoOffline")
		e.signalRebind()
	}
}

// GoOnline switches to remote (when not nil) and publishes resync so peers
// replace their state with this device's.
func (e *Engine) GoOnline(ctx context.Context, remote Transport, resync persistence.Mutation) error {
	e.mu.Lock()
	if remote != nil {
		e.remote = remote
	}
	e.offline = false
	e.mu.Unlock()
	e.signalRebind()

	e.logger.InfoContext(ctx, "sync going online", "operation", "GoOnline", "mode", e.Mode())
	if resync.Kind == "" {
		return nil
	}
	return e.Publish(ctx, resync)
}

// Close ends every notice subscription.
func (e *Engine) Close() {
	e.notices.Close()
}
