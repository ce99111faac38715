package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/fallback"
	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/dynamodb"
	"github.com/example/event-checkin/internal/persistence/postgres"
	"github.com/example/event-checkin/internal/persistence/redis"
	"github.com/example/event-checkin/internal/persistence/sqlite"
	"github.com/example/event-checkin/internal/syncer"
)

// SQLiteFileName is the embedded-sql database inside the data dir.
const SQLiteFileName = "checkin.db"

// Binding describes how a preferred store takes part in sync.
type Binding struct {
	// Transport is the store's push channel, nil for device-bound stores.
	Transport syncer.Transport
	// Shared marks stores other devices write to as well.
	Shared bool
}

// StoreOpener returns the factory for the configured backend, nil when the
// backend is device-bound local storage.
func StoreOpener(cfg config.Config, logger *slog.Logger) fallback.Opener {
	backend := cfg.Backend
	switch backend.EffectiveStore() {
	case config.StoreEmbeddedSQL:
		return func(ctx context.Context) (persistence.Store, error) {
			return sqlite.Open(ctx, filepath.Join(cfg.DataDir, SQLiteFileName), logger)
		}
	case config.StoreHostedA:
		return func(ctx context.Context) (persistence.Store, error) {
			ctx, cancel := context.WithTimeout(ctx, openTimeout(cfg))
			defer cancel()
			return postgres.Open(ctx, backend.Endpoint, logger)
		}
	case config.StoreHostedB:
		return func(context.Context) (persistence.Store, error) {
			return redis.Open(redis.Options{
				URL:      backend.Endpoint,
				Password: backend.APIKey,
				Prefix:   backend.Prefix,
			}, logger)
		}
	case config.StoreHostedC:
		return func(context.Context) (persistence.Store, error) {
			return dynamodb.Open(dynamodb.Options{
				Table:       backend.Table,
				Region:      backend.Region,
				Endpoint:    backend.Endpoint,
				Credentials: backend.APIKey,
				Prefix:      backend.Prefix,
			}, logger)
		}
	}
	return nil
}

// openTimeout bounds connection setup, which runs ahead of the probe.
func openTimeout(cfg config.Config) time.Duration {
	if cfg.ProbeTimeout <= 0 {
		return fallback.DefaultProbeTimeout
	}
	return cfg.ProbeTimeout
}

// BindStore returns the sync binding of a concrete store.
func BindStore(store persistence.Store, interval time.Duration, logger *slog.Logger) (Binding, error) {
	switch s := store.(type) {
	case *postgres.Store:
		return Binding{Transport: postgres.NewNotifyTransport(s, logger), Shared: true}, nil
	case *redis.Store:
		return Binding{Transport: redis.NewPubSubTransport(s, logger), Shared: true}, nil
	case *dynamodb.Store:
		slot := dynamodb.NewSyncSlot(s)
		return Binding{Transport: syncer.NewPollingTransport(slot, interval, logger), Shared: true}, nil
	case *sqlite.Storage:
		return Binding{}, nil
	}
	return Binding{}, fmt.Errorf("no sync binding for store %q", store.Name())
}
