// Package app composes configuration, the fallback selector, the storage
// gateway and the sync engine into one running check-in device.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/fallback"
	"github.com/example/event-checkin/internal/gateway"
	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/localfile"
	"github.com/example/event-checkin/internal/syncer"
)

// Options wires an App.
type Options struct {
	Config      config.Config
	Logger      *slog.Logger
	Now         func() time.Time
	IDGenerator func() string
	// Open replaces the store factory derived from Config.
	Open fallback.Opener
	// Bind replaces BindStore.
	Bind func(persistence.Store) (Binding, error)
}

// Status is the combined connectivity report shown to operators.
type Status struct {
	fallback.Status
	Store            string      `json:"store"`
	Shared           bool        `json:"shared"`
	SyncMode         syncer.Mode `json:"syncMode"`
	DeviceID         string      `json:"deviceId"`
	PendingMigration bool        `json:"pendingMigration"`
}

// App is one check-in device.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	bind   func(persistence.Store) (Binding, error)

	local          *localfile.Store
	localTransport syncer.Transport
	selector       *fallback.Selector
	gateway        *gateway.Gateway
	engine         *syncer.Engine

	// mu serializes connectivity transitions.
	mu          sync.Mutex
	boundStore  persistence.Store
	binding     Binding
	lastMigrate gateway.MigrationResult
}

// New prepares the data dir and builds every component. Nothing is probed
// until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, errors.New("app: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}

	deviceID, err := syncer.DeviceID(cfg.DataDir, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	logger = logger.With("device_id", deviceID)

	local, err := localfile.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("app: open local store: %w", err)
	}
	slot, err := syncer.NewFileSlot(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open sync slot: %w", err)
	}
	localTransport := syncer.NewPollingTransport(slot, cfg.SyncInterval, logger)

	a := &App{
		cfg:            cfg,
		logger:         logger.With("component", "app"),
		local:          local,
		localTransport: localTransport,
	}

	a.bind = opts.Bind
	if a.bind == nil {
		a.bind = func(store persistence.Store) (Binding, error) {
			return BindStore(store, cfg.SyncInterval, logger)
		}
	}

	open := opts.Open
	if open == nil {
		open = StoreOpener(cfg, logger)
	}
	if cfg.Backend.Store == config.StoreLocal {
		open = nil
	}
	a.selector = fallback.New(fallback.Config{
		Preferred:    string(cfg.Backend.Store),
		Placeholder:  cfg.Backend.Placeholder(),
		Open:         open,
		ProbeTimeout: cfg.ProbeTimeout,
		Logger:       logger,
		Now:          opts.Now,
	})

	a.gateway = gateway.New(local, gateway.Options{
		Fallback:    local,
		OnFailover:  a.failedOver,
		IDGenerator: opts.IDGenerator,
		Now:         opts.Now,
		Logger:      logger,
	})

	a.engine, err = syncer.New(syncer.Config{
		DeviceID:      deviceID,
		Local:         localTransport,
		Applier:       a.gateway,
		Logger:        logger,
		Now:           opts.Now,
		RetryInterval: cfg.SyncInterval,
	})
	if err != nil {
		_ = localTransport.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.gateway.SetPublisher(a.engine)
	return a, nil
}

// Gateway returns the storage gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Engine returns the sync engine.
func (a *App) Engine() *syncer.Engine { return a.engine }

// Selector returns the fallback selector.
func (a *App) Selector() *fallback.Selector { return a.selector }

// Start resolves the preferred store. When it is usable, records left in
// local storage by an earlier offline session are migrated to it before the
// gateway binds to it. Storage selection problems are logged, not returned.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	logger := a.logger.With("operation", "Start")

	if a.selector.Resolve(ctx) == fallback.StateRemoteActive {
		if err := a.attachLocked(ctx); err == nil {
			return nil
		}
		a.selector.NetworkLost()
	}
	if err := a.gateway.Refresh(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to load local records", "error", err)
		return fmt.Errorf("load local records: %w", err)
	}
	logger.InfoContext(ctx, "running on local storage", "reason", a.selector.Status().Reason)
	return nil
}

// attachLocked moves the gateway and engine onto the selector's store.
func (a *App) attachLocked(ctx context.Context) error {
	logger := a.logger.With("operation", "attach")
	store := a.selector.Store()
	if store == nil {
		return errors.New("no preferred store opened")
	}

	binding := a.binding
	if a.boundStore != store {
		var err error
		binding, err = a.bind(store)
		if err != nil {
			logger.ErrorContext(ctx, "failed to bind sync transport", "store", store.Name(), "error", err)
			return err
		}
		if a.binding.Transport != nil {
			_ = a.binding.Transport.Close()
		}
		a.boundStore, a.binding = store, binding
	}

	result, err := a.gateway.MigrateLocal(ctx, store)
	if err != nil {
		logger.WarnContext(ctx, "local records stay on this device", "error", err)
		return err
	}
	a.lastMigrate = result
	if err := a.gateway.Rebind(ctx, store, binding.Shared); err != nil {
		return err
	}

	var resync persistence.Mutation
	if result.Attendees+result.Updated+result.Surveys > 0 {
		resync = a.gateway.ResyncMutation()
	}
	if err := a.engine.GoOnline(ctx, binding.Transport, resync); err != nil {
		logger.WarnContext(ctx, "failed to publish resync", "error", err)
	}
	logger.InfoContext(ctx, "preferred store attached", "store", store.Name(), "shared", binding.Shared)
	return nil
}

// Run drives the sync engine until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.engine.Run(ctx)
}

// failedOver runs when a shared store failed in the middle of an operation.
func (a *App) failedOver() {
	a.selector.NetworkLost()
	a.engine.GoOffline()
}

// NetworkLost detaches from a shared store and freezes sync in local-channel
// mode.
func (a *App) NetworkLost(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selector.NetworkLost()
	a.engine.GoOffline()
	if err := a.gateway.Detach(ctx); err != nil {
		a.logger.ErrorContext(ctx, "failed to detach from shared store", "operation", "NetworkLost", "error", err)
	}
}

// NetworkRestored re-probes the preferred store. When it is reachable again
// local records are migrated, the gateway rebinds and the engine republishes
// this device's state. It reports whether the preferred store is in use.
func (a *App) NetworkRestored(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	logger := a.logger.With("operation", "NetworkRestored")

	wasActive := a.selector.State() == fallback.StateRemoteActive
	reattached := a.selector.NetworkRestored(ctx)
	if reattached || (wasActive && a.gateway.PendingMigration()) {
		if err := a.attachLocked(ctx); err != nil {
			a.selector.NetworkLost()
			a.engine.GoOffline()
			return false, err
		}
		return true, nil
	}
	if a.selector.State() != fallback.StateRemoteActive && a.binding.Transport != nil {
		logger.InfoContext(ctx, "preferred store still unreachable, sync stays local")
		return false, nil
	}

	if err := a.engine.GoOnline(ctx, nil, a.gateway.ResyncMutation()); err != nil {
		logger.WarnContext(ctx, "failed to publish resync", "error", err)
	}
	return wasActive, nil
}

// LastMigration reports what the latest attach copied from local storage.
func (a *App) LastMigration() gateway.MigrationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastMigrate
}

// Status returns the connectivity report.
func (a *App) Status() Status {
	return Status{
		Status:           a.selector.Status(),
		Store:            a.gateway.StoreName(),
		Shared:           a.gateway.Remote(),
		SyncMode:         a.engine.Mode(),
		DeviceID:         a.engine.DeviceID(),
		PendingMigration: a.gateway.PendingMigration(),
	}
}

// Close releases every component.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Close()
	a.gateway.Close()

	var errs []error
	if a.binding.Transport != nil {
		errs = append(errs, a.binding.Transport.Close())
	}
	errs = append(errs,
		a.localTransport.Close(),
		a.selector.Close(),
		a.local.Close(),
	)
	return errors.Join(errs...)
}
