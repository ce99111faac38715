package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/fallback"
	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/persistence/localfile"
	"github.com/example/event-checkin/internal/persistence/memory"
	"github.com/example/event-checkin/internal/persistence/storetest"
	"github.com/example/event-checkin/internal/syncer"
)

type sharedBackend struct {
	store *memory.Storage
	hub   *syncer.Hub
}

func newSharedBackend() *sharedBackend {
	return &sharedBackend{store: memory.New("hosted-b"), hub: syncer.NewHub()}
}

func testConfig(t *testing.T, store config.StoreKind, deviceID string) config.Config {
	t.Helper()
	return config.Config{
		DataDir:      t.TempDir(),
		DeviceID:     deviceID,
		Backend:      config.Backend{Store: store, Endpoint: "redis://checkin.internal:6379/0"},
		ProbeTimeout: time.Second,
		SyncInterval: 20 * time.Millisecond,
	}
}

func newApp(t *testing.T, cfg config.Config, backend *sharedBackend) *App {
	t.Helper()
	opts := Options{Config: cfg}
	if backend != nil {
		opts.Open = func(context.Context) (persistence.Store, error) { return backend.store, nil }
		opts.Bind = func(persistence.Store) (Binding, error) {
			return Binding{Transport: backend.hub, Shared: true}, nil
		}
	}
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPlaceholderCredentialsRunLocally(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.StoreHostedA, "device_a")
	cfg.Backend.Endpoint = "https://your-project.supabase.co"

	opened := false
	a, err := New(Options{Config: cfg, Open: func(context.Context) (persistence.Store, error) {
		opened = true
		return nil, errors.New("must not open")
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Start(ctx))
	assert.False(t, opened)

	status := a.Status()
	assert.Equal(t, fallback.StateLocalOnly, status.State)
	assert.Equal(t, "placeholder credentials", status.Reason)
	assert.Equal(t, "local", status.Store)
	assert.Equal(t, syncer.ModeLocal, status.SyncMode)
	assert.Equal(t, "device_a", status.DeviceID)

	added, err := a.Gateway().AddAttendee(ctx, "Ana", "")
	require.NoError(t, err)
	assert.Equal(t, persistence.DefaultGroup, added.Group)

	reopened, err := localfile.Open(cfg.DataDir)
	require.NoError(t, err)
	stored, err := reopened.ListAttendees(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Ana", stored[0].Name)
}

func TestLocalBackendNeverProbes(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t, config.StoreLocal, ""), newSharedBackend())
	require.NoError(t, a.Start(ctx))

	status := a.Status()
	assert.Equal(t, fallback.StateLocalOnly, status.State)
	assert.Equal(t, "local storage configured", status.Reason)
	assert.Regexp(t, `^device_[0-9a-f-]{36}$`, status.DeviceID)

	restored, err := a.NetworkRestored(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestStartMigratesLeftoverLocalRecords(t *testing.T) {
	ctx := context.Background()
	backend := newSharedBackend()
	cfg := testConfig(t, config.StoreHostedB, "device_a")

	leftover, err := localfile.Open(cfg.DataDir)
	require.NoError(t, err)
	require.NoError(t, leftover.CreateAttendee(ctx, storetest.NewAttendee("att-1", "Ana", "Sales", 0)))

	a := newApp(t, cfg, backend)
	require.NoError(t, a.Start(ctx))

	status := a.Status()
	assert.Equal(t, fallback.StateRemoteActive, status.State)
	assert.Equal(t, "hosted-b", status.Store)
	assert.True(t, status.Shared)
	assert.Equal(t, syncer.ModeRemote, status.SyncMode)
	assert.Equal(t, 1, a.LastMigration().Attendees)

	remote, err := backend.store.ListAttendees(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "att-1", remote[0].ID)

	local, err := localfile.Open(cfg.DataDir)
	require.NoError(t, err)
	remaining, err := local.ListAttendees(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReconnectMigratesOfflineWork(t *testing.T) {
	ctx := context.Background()
	backend := newSharedBackend()
	backend.store.SetUnavailable(errors.New("connection refused"))

	a := newApp(t, testConfig(t, config.StoreHostedB, "device_a"), backend)
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, fallback.StateLocalOnly, a.Status().State)

	_, err := a.Gateway().AddAttendee(ctx, "Ana", "Sales")
	require.NoError(t, err)

	restored, err := a.NetworkRestored(ctx)
	require.NoError(t, err)
	assert.False(t, restored, "store still unreachable")
	assert.Equal(t, "local", a.Status().Store)

	backend.store.Reopen()
	restored, err = a.NetworkRestored(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	status := a.Status()
	assert.Equal(t, fallback.StateRemoteActive, status.State)
	assert.Equal(t, "hosted-b", status.Store)
	assert.False(t, status.PendingMigration)

	remote, err := backend.store.ListAttendees(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "Ana", remote[0].Name)
}

func TestNetworkLostKeepsWorkingLocally(t *testing.T) {
	ctx := context.Background()
	backend := newSharedBackend()
	a := newApp(t, testConfig(t, config.StoreHostedB, "device_a"), backend)
	require.NoError(t, a.Start(ctx))

	ana, err := a.Gateway().AddAttendee(ctx, "Ana", "Sales")
	require.NoError(t, err)

	backend.store.SetUnavailable(errors.New("offline"))
	a.NetworkLost(ctx)

	status := a.Status()
	assert.Equal(t, fallback.StateLocalOnly, status.State)
	assert.False(t, status.Online)
	assert.Equal(t, "local", status.Store)
	assert.Equal(t, syncer.ModeLocal, status.SyncMode)
	assert.True(t, status.PendingMigration)

	_, err = a.Gateway().SetPresence(ctx, ana.ID, true)
	require.NoError(t, err)
	_, err = a.Gateway().AddAttendee(ctx, "Bruno", "Ops")
	require.NoError(t, err)

	backend.store.Reopen()
	restored, err := a.NetworkRestored(ctx)
	require.NoError(t, err)
	require.True(t, restored)

	result := a.LastMigration()
	assert.Equal(t, 1, result.Attendees)
	assert.Equal(t, 1, result.Updated)

	remote, err := backend.store.ListAttendees(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 2)
	assert.True(t, remote[0].Present)
	assert.Equal(t, syncer.ModeRemote, a.Status().SyncMode)
}

func TestMidOperationFailureSwitchesConnectivity(t *testing.T) {
	ctx := context.Background()
	backend := newSharedBackend()
	a := newApp(t, testConfig(t, config.StoreHostedB, "device_a"), backend)
	require.NoError(t, a.Start(ctx))

	backend.store.SetUnavailable(errors.New("connection reset"))
	_, err := a.Gateway().AddAttendee(ctx, "Ana", "Sales")
	require.NoError(t, err)

	status := a.Status()
	assert.Equal(t, fallback.StateLocalOnly, status.State)
	assert.Equal(t, syncer.ModeLocal, status.SyncMode)
	assert.Equal(t, "local", status.Store)
}

func TestTwoDevicesShareChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	backend := newSharedBackend()

	front := newApp(t, testConfig(t, config.StoreHostedB, "device_front"), backend)
	side := newApp(t, testConfig(t, config.StoreHostedB, "device_side"), backend)
	require.NoError(t, front.Start(ctx))
	require.NoError(t, side.Start(ctx))

	go func() { _ = front.Run(ctx) }()
	go func() { _ = side.Run(ctx) }()
	require.Eventually(t, func() bool { return backend.hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, backend.hub.Subscribers())

	notices := side.Engine().Notices()
	_, err := front.Gateway().AddAttendee(ctx, "Ana", "Sales")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(side.Gateway().Attendees()) == 1 }, 2*time.Second, 10*time.Millisecond)
	select {
	case notice := <-notices:
		assert.Equal(t, persistence.MutationAttendeeAdded, notice.Kind)
		assert.Equal(t, "device_front", notice.OriginID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a remote change notice")
	}

	_, err = side.Gateway().AddAttendee(ctx, "ana", "Ops")
	require.ErrorIs(t, err, persistence.ErrDuplicateName)
}

func TestTabsOnOneDataDirKeepEveryRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfgA := testConfig(t, config.StoreLocal, "tab_a")
	cfgA.SyncInterval = 100 * time.Millisecond
	cfgB := cfgA
	cfgB.DeviceID = "tab_b"

	tabA := newApp(t, cfgA, nil)
	tabB := newApp(t, cfgB, nil)
	t.Cleanup(cancel)
	require.NoError(t, tabA.Start(ctx))
	require.NoError(t, tabB.Start(ctx))
	go func() { _ = tabA.Run(ctx) }()
	go func() { _ = tabB.Run(ctx) }()

	// Each tab sees a write of the other once both subscriptions are live.
	_, err := tabB.Gateway().AddAttendee(ctx, "Warmup B", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(tabA.Gateway().Attendees()) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err = tabA.Gateway().AddAttendee(ctx, "Warmup A", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(tabB.Gateway().Attendees()) == 2 }, 2*time.Second, 10*time.Millisecond)

	var g errgroup.Group
	g.Go(func() error {
		for i := range 30 {
			if _, err := tabA.Gateway().AddAttendee(ctx, fmt.Sprintf("A %02d", i), "Sales"); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := range 10 {
			if _, err := tabB.Gateway().AddAttendee(ctx, fmt.Sprintf("B %02d", i), "Ops"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	const want = 42
	require.Eventually(t, func() bool { return len(tabB.Gateway().Attendees()) == want }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(tabA.Gateway().Attendees()) == want }, 3*time.Second, 20*time.Millisecond)

	reopened, err := localfile.Open(cfgA.DataDir)
	require.NoError(t, err)
	stored, err := reopened.ListAttendees(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, want)
}
