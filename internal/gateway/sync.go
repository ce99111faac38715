package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/event-checkin/internal/persistence"
)

// ApplyRemote applies a mutation received from a peer to the cache. The
// store is left alone: the peer has already written the change to the store
// both devices share.
func (g *Gateway) ApplyRemote(ctx context.Context, m persistence.Mutation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "ApplyRemote", "kind", m.Kind)

	switch m.Kind {
	case persistence.MutationAttendeeAdded:
		for _, a := range m.Attendees {
			g.cache.insertAttendee(a)
		}
	case persistence.MutationAttendeeUpdated:
		for _, a := range m.Attendees {
			g.cache.replaceAttendee(a)
		}
	case persistence.MutationAttendeeRemoved:
		for _, a := range m.Attendees {
			g.cache.removeAttendee(a.ID)
		}
	case persistence.MutationSurveyAdded:
		for _, s := range m.Surveys {
			g.cache.insertSurvey(s)
		}
	case persistence.MutationBulkCleared:
		switch m.Collection {
		case persistence.CollectionAttendees:
			g.cache.setAttendees(nil)
		case persistence.CollectionSurveys:
			g.cache.setSurveys(nil)
		default:
			return fmt.Errorf("apply %s: unknown collection %q", m.Kind, m.Collection)
		}
	case persistence.MutationOfflineResync:
		attendees := persistence.CloneAttendees(m.Attendees)
		persistence.SortAttendees(attendees)
		surveys := persistence.CloneSurveys(m.Surveys)
		persistence.SortSurveys(surveys)
		g.cache.setAttendees(attendees)
		g.cache.setSurveys(surveys)
	default:
		return fmt.Errorf("apply: unknown mutation kind %q", m.Kind)
	}

	logger.DebugContext(ctx, "remote change applied to cache")
	g.emit(ctx, logger, m, true)
	return nil
}

// ReloadShared re-reads the bound store after a peer signalled a change on a
// channel that may have merged several writes into one signal. It reports
// whether the cache changed; a change is broadcast as remote with m's kind.
func (g *Gateway) ReloadShared(ctx context.Context, m persistence.Mutation) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "ReloadShared", "kind", m.Kind)

	attendees, surveys, err := g.readAll(ctx, logger)
	if err != nil {
		logResult(ctx, logger, err, "failed to reload shared store")
		return false, err
	}
	if g.cache.matches(attendees, surveys) {
		return false, nil
	}
	g.cache.setAttendees(attendees)
	g.cache.setSurveys(surveys)
	g.changes.Broadcast(Change{
		Kind:        m.Kind,
		Collections: []string{persistence.CollectionAttendees, persistence.CollectionSurveys},
		Remote:      true,
		At:          g.now().UTC(),
	})
	return true, nil
}

// ResyncMutation returns the cached state as an offline-resync mutation.
func (g *Gateway) ResyncMutation() persistence.Mutation {
	attendees, surveys := g.cache.snapshot()
	return persistence.Mutation{Kind: persistence.MutationOfflineResync, Attendees: attendees, Surveys: surveys}
}

// Detach moves a shared binding onto the fallback store, seeding it with the
// cache. Device-bound bindings are left alone.
func (g *Gateway) Detach(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.remote || g.fallback == nil {
		return nil
	}
	logger := g.loggerWith(ctx, "Detach", "fallback", g.fallback.Name())

	attendees, surveys := g.cache.snapshot()
	if err := g.fallback.ReplaceAll(ctx, attendees, surveys); err != nil {
		logger.ErrorContext(ctx, "failed to seed local fallback", "error", err)
		return fmt.Errorf("seed fallback: %w", err)
	}
	g.store = g.fallback
	g.remote = false
	g.pending = true
	logger.InfoContext(ctx, "gateway detached from shared store")
	return nil
}

// Rebind switches the gateway to store and reloads the cache from it. On
// failure the previous binding is kept.
func (g *Gateway) Rebind(ctx context.Context, store persistence.Store, remote bool) error {
	if store == nil {
		return errors.New("rebind: store is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "Rebind", "target", store.Name())

	prevStore, prevRemote := g.store, g.remote
	g.store, g.remote = store, remote
	if err := g.reload(ctx, logger); err != nil {
		g.store, g.remote = prevStore, prevRemote
		logger.ErrorContext(ctx, "rebind failed, keeping previous store", "error", err)
		return fmt.Errorf("rebind to %s: %w", store.Name(), err)
	}
	logger.InfoContext(ctx, "gateway rebound", "remote", remote)
	g.changes.Broadcast(Change{
		Kind:        persistence.MutationOfflineResync,
		Collections: []string{persistence.CollectionAttendees, persistence.CollectionSurveys},
		At:          g.now().UTC(),
	})
	return nil
}

// MigrateLocal copies the records held by the fallback store into target,
// then empties the fallback. Attendees target already has only carry over a
// presence change made after the remote copy was last updated. Attendees whose
// name target already holds are dropped and counted as conflicts.
func (g *Gateway) MigrateLocal(ctx context.Context, target persistence.Store) (result MigrationResult, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger := g.loggerWith(ctx, "MigrateLocal")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "local migration failed", "error", err)
			return
		}
		logger.InfoContext(ctx, "local migration finished",
			"attendees", result.Attendees, "surveys", result.Surveys, "conflicts", result.Conflicts)
	}()

	if g.fallback == nil || target == nil || target == g.fallback {
		return
	}

	localAttendees, err := g.fallback.ListAttendees(ctx)
	if err != nil {
		return result, fmt.Errorf("read local attendees: %w", err)
	}
	localSurveys, err := g.fallback.ListSurveys(ctx)
	if err != nil {
		return result, fmt.Errorf("read local surveys: %w", err)
	}
	if len(localAttendees) == 0 && len(localSurveys) == 0 {
		g.pending = false
		return
	}

	remoteAttendees, err := target.ListAttendees(ctx)
	if err != nil {
		return result, fmt.Errorf("read remote attendees: %w", err)
	}
	known := make(map[string]persistence.Attendee, len(remoteAttendees))
	for _, a := range remoteAttendees {
		known[a.ID] = a
	}
	for _, a := range localAttendees {
		if existing, ok := known[a.ID]; ok {
			if !a.UpdatedAt.After(existing.UpdatedAt) || a.Present == existing.Present {
				continue
			}
			at := a.UpdatedAt
			if a.ArrivalTime != nil {
				at = *a.ArrivalTime
			}
			if _, err := target.SetPresence(ctx, a.ID, a.Present, at); err != nil && !errors.Is(err, persistence.ErrNotFound) {
				return result, fmt.Errorf("migrate presence of %s: %w", a.ID, err)
			}
			result.Updated++
			continue
		}
		switch createErr := target.CreateAttendee(ctx, a); {
		case errors.Is(createErr, persistence.ErrDuplicateName):
			result.Conflicts++
		case createErr != nil:
			return result, fmt.Errorf("migrate attendee %s: %w", a.ID, createErr)
		default:
			result.Attendees++
		}
	}

	remoteSurveys, err := target.ListSurveys(ctx)
	if err != nil {
		return result, fmt.Errorf("read remote surveys: %w", err)
	}
	knownSurveys := make(map[string]struct{}, len(remoteSurveys))
	for _, s := range remoteSurveys {
		knownSurveys[s.ID] = struct{}{}
	}
	for _, s := range localSurveys {
		if _, ok := knownSurveys[s.ID]; ok {
			continue
		}
		if err := target.CreateSurvey(ctx, s); err != nil {
			return result, fmt.Errorf("migrate survey %s: %w", s.ID, err)
		}
		result.Surveys++
	}

	if err := g.fallback.ReplaceAll(ctx, nil, nil); err != nil {
		return result, fmt.Errorf("clear local store: %w", err)
	}
	g.pending = false
	return result, nil
}
