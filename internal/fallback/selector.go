// Package fallback decides once per session whether the preferred store is
// usable and otherwise degrades to device-bound local storage.
package fallback

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

// State of the selector.
type State string

const (
	StateUnprobed      State = "unprobed"
	StateProbingRemote State = "probing-remote"
	StateRemoteActive  State = "remote-active"
	StateLocalOnly     State = "local-only"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 3 * time.Second

// Status is what the UI status indicator shows.
type Status struct {
	State     State     `json:"state"`
	Preferred string    `json:"preferred"`
	Online    bool      `json:"online"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Opener creates a client for the preferred store. An error stands for a
// missing or unusable client library.
type Opener func(ctx context.Context) (persistence.Store, error)

// Config wires a Selector.
type Config struct {
	// Preferred is the configured store kind, used for status reports.
	Preferred string
	// Placeholder marks configuration carrying placeholder or mock
	// credentials; no client is opened in that case.
	Placeholder  bool
	Open         Opener
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Selector is the Unprobed → ProbingRemote → RemoteActive | LocalOnly state
// machine.
type Selector struct {
	cfg      Config
	logger   *slog.Logger
	statuses *broadcast.Broadcaster[Status]

	mu      sync.Mutex
	state   State
	reason  string
	offline bool
	store   persistence.Store
}

// New builds a selector in the Unprobed state.
func New(cfg Config) *Selector {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:      cfg,
		logger:   logger.With("component", "fallback_selector", "preferred", cfg.Preferred),
		statuses: broadcast.New[Status](),
		state:    StateUnprobed,
	}
}

// State returns the current state.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current status.
func (s *Selector) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Selector) statusLocked() Status {
	return Status{
		State:     s.state,
		Preferred: s.cfg.Preferred,
		Online:    !s.offline,
		Reason:    s.reason,
		At:        s.cfg.Now().UTC(),
	}
}

// Statuses subscribes to status changes.
func (s *Selector) Statuses() <-chan Status { return s.statuses.AddListener() }

// RemoveStatusListener unsubscribes a channel returned by Statuses.
func (s *Selector) RemoveStatusListener(ch <-chan Status) { s.statuses.RemoveListener(ch) }

// Store returns the opened preferred store, nil when none was opened.
func (s *Selector) Store() persistence.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Selector) transitionLocked(state State, reason string) {
	s.state = state
	s.reason = reason
	s.statuses.Broadcast(s.statusLocked())
}

// Resolve probes the preferred store once. Failures are logged and lead to
// LocalOnly; they are never returned. Later calls return the settled state.
func (s *Selector) Resolve(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnprobed {
		return s.state
	}

	if s.cfg.Placeholder {
		s.logger.WarnContext(ctx, "placeholder credentials configured, using local storage")
		s.transitionLocked(StateLocalOnly, "placeholder credentials")
		return s.state
	}
	if s.cfg.Open == nil {
		s.transitionLocked(StateLocalOnly, "local storage configured")
		return s.state
	}

	s.transitionLocked(StateProbingRemote, "")
	if err := s.probeLocked(ctx); err != nil {
		s.logger.WarnContext(ctx, "preferred store unavailable, using local storage", "error", err)
		s.transitionLocked(StateLocalOnly, err.Error())
		return s.state
	}
	s.logger.InfoContext(ctx, "preferred store active", "store", s.store.Name())
	s.transitionLocked(StateRemoteActive, "")
	return s.state
}

// probeLocked opens the store when needed and probes it within ProbeTimeout.
func (s *Selector) probeLocked(ctx context.Context) error {
	if s.store == nil {
		store, err := s.cfg.Open(ctx)
		if err != nil {
			return fmt.Errorf("open %s: %w", s.cfg.Preferred, err)
		}
		s.store = store
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.store.Probe(probeCtx) }()

	var err error
	select {
	case err = <-done:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("probe timed out after %s", s.cfg.ProbeTimeout)
		}
		return fmt.Errorf("%w: %v", persistence.ErrRemoteUnavailable, err)
	}
	return nil
}

// NetworkLost records that connectivity dropped. An active remote store is
// abandoned until NetworkRestored succeeds.
func (s *Selector) NetworkLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return
	}
	s.offline = true
	s.logger.Info("network lost")
	if s.state == StateRemoteActive {
		s.transitionLocked(StateLocalOnly, "network lost")
		return
	}
	s.statuses.Broadcast(s.statusLocked())
}

// NetworkRestored re-probes the preferred store once and reports whether the
// selector moved to RemoteActive.
func (s *Selector) NetworkRestored(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = false

	if s.state == StateRemoteActive || s.cfg.Placeholder || s.cfg.Open == nil {
		s.statuses.Broadcast(s.statusLocked())
		return false
	}

	s.transitionLocked(StateProbingRemote, "")
	if err := s.probeLocked(ctx); err != nil {
		s.logger.WarnContext(ctx, "preferred store still unavailable", "error", err)
		s.transitionLocked(StateLocalOnly, err.Error())
		return false
	}
	s.logger.InfoContext(ctx, "preferred store reachable again", "store", s.store.Name())
	s.transitionLocked(StateRemoteActive, "")
	return true
}

// Close closes the opened store and ends status subscriptions.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses.Close()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
