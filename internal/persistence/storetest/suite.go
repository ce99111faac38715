// Package storetest holds the behaviour every persistence.Store must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
)

// ReferenceTime is the base instant used by the suite. It is truncated to
// milliseconds so every backend can store it losslessly.
var ReferenceTime = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) persistence.Store

// NewAttendee returns an absent attendee created offset after ReferenceTime.
func NewAttendee(id, name, group string, offset time.Duration) persistence.Attendee {
	at := ReferenceTime.Add(offset)
	return persistence.Attendee{ID: id, Name: name, Group: group, CreatedAt: at, UpdatedAt: at}
}

// NewSurvey returns a valid survey response created offset after ReferenceTime.
func NewSurvey(id string, score int, offset time.Duration) persistence.SurveyResponse {
	return persistence.SurveyResponse{
		ID:               id,
		ParticipantName:  "Participant " + id,
		Score:            score,
		QualityRating:    4,
		InstructorRating: 5,
		Comments:         "ok",
		CreatedAt:        ReferenceTime.Add(offset),
	}
}

// RunStoreTests exercises the persistence.Store contract against fresh stores
// produced by newStore.
func RunStoreTests(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("probe succeeds on a reachable store", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Probe(ctx))
		assert.NotEmpty(t, store.Name())
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		store := newStore(t)
		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		assert.Empty(t, attendees)
		surveys, err := store.ListSurveys(ctx)
		require.NoError(t, err)
		assert.Empty(t, surveys)
	})

	t.Run("creates attendees and lists them in creation order", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-2", "Bruno", "Ops", 2*time.Second)))
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-1", "Ana", "Sales", time.Second)))

		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		require.Len(t, attendees, 2)
		assert.Equal(t, "a-1", attendees[0].ID)
		assert.Equal(t, "Ana", attendees[0].Name)
		assert.Equal(t, "Sales", attendees[0].Group)
		assert.False(t, attendees[0].Present)
		assert.Nil(t, attendees[0].ArrivalTime)
		assert.True(t, attendees[0].CreatedAt.Equal(ReferenceTime.Add(time.Second)))
		assert.Equal(t, "a-2", attendees[1].ID)
	})

	t.Run("rejects case-insensitive duplicate names without mutating", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-1", "Ana", "Sales", 0)))

		err := store.CreateAttendee(ctx, NewAttendee("a-2", "  aNA ", "Ops", time.Second))
		require.ErrorIs(t, err, persistence.ErrDuplicateName)

		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		require.Len(t, attendees, 1)
		assert.Equal(t, "Sales", attendees[0].Group)
	})

	t.Run("exactly one concurrent creation of the same name survives", func(t *testing.T) {
		store := newStore(t)
		const writers = 4
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			successes  int
			duplicates int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.CreateAttendee(ctx, NewAttendee(fmt.Sprintf("c-%d", i), "Ana", "Sales", time.Duration(i)*time.Millisecond))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, persistence.ErrDuplicateName):
					duplicates++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, duplicates)

		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		assert.Len(t, attendees, 1)
	})

	t.Run("presence round trip restores the absent state", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-1", "Ana", "Sales", 0)))

		arrival := ReferenceTime.Add(time.Hour)
		present, err := store.SetPresence(ctx, "a-1", true, arrival)
		require.NoError(t, err)
		assert.True(t, present.Present)
		require.NotNil(t, present.ArrivalTime)
		assert.True(t, present.ArrivalTime.Equal(arrival))
		assert.True(t, present.UpdatedAt.Equal(arrival))

		again, err := store.SetPresence(ctx, "a-1", true, arrival.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, again.ArrivalTime)
		assert.True(t, again.ArrivalTime.Equal(arrival), "arrival is kept while already present")

		absent, err := store.SetPresence(ctx, "a-1", false, arrival.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, absent.Present)
		assert.Nil(t, absent.ArrivalTime)

		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		require.Len(t, attendees, 1)
		assert.False(t, attendees[0].Present)
		assert.Nil(t, attendees[0].ArrivalTime)
		assert.Equal(t, "Ana", attendees[0].Name)
	})

	t.Run("presence on unknown attendee is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.SetPresence(ctx, "missing", true, ReferenceTime)
		require.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("delete is idempotent and frees the name", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-1", "Ana", "Sales", 0)))

		removed, err := store.DeleteAttendee(ctx, "a-1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.DeleteAttendee(ctx, "a-1")
		require.NoError(t, err)
		assert.False(t, removed)

		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-2", "ana", "Ops", time.Second)))
	})

	t.Run("clear attendees empties the collection and frees names", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-1", "Ana", "Sales", 0)))
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-2", "Bruno", "Ops", time.Second)))
		require.NoError(t, store.CreateSurvey(ctx, NewSurvey("s-1", 9, 0)))

		require.NoError(t, store.ClearAttendees(ctx))
		require.NoError(t, store.ClearAttendees(ctx))

		attendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		assert.Empty(t, attendees)
		surveys, err := store.ListSurveys(ctx)
		require.NoError(t, err)
		assert.Len(t, surveys, 1, "clearing attendees keeps surveys")

		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("a-3", "Ana", "Sales", 2*time.Second)))
	})

	t.Run("surveys are stored and cleared", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateSurvey(ctx, NewSurvey("s-2", 10, time.Second)))
		require.NoError(t, store.CreateSurvey(ctx, NewSurvey("s-1", 0, 0)))

		surveys, err := store.ListSurveys(ctx)
		require.NoError(t, err)
		require.Len(t, surveys, 2)
		assert.Equal(t, "s-1", surveys[0].ID)
		assert.Equal(t, 0, surveys[0].Score)
		assert.Equal(t, 10, surveys[1].Score)
		assert.Equal(t, 4, surveys[1].QualityRating)
		assert.Equal(t, 5, surveys[1].InstructorRating)
		assert.Equal(t, "Participant s-2", surveys[1].ParticipantName)
		assert.Equal(t, "ok", surveys[1].Comments)
		assert.True(t, surveys[1].CreatedAt.Equal(ReferenceTime.Add(time.Second)))

		require.NoError(t, store.ClearSurveys(ctx))
		require.NoError(t, store.ClearSurveys(ctx))
		surveys, err = store.ListSurveys(ctx)
		require.NoError(t, err)
		assert.Empty(t, surveys)
	})

	t.Run("replace all swaps the full contents", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAttendee(ctx, NewAttendee("old", "Old", "Sales", 0)))
		require.NoError(t, store.CreateSurvey(ctx, NewSurvey("s-old", 3, 0)))

		arrival := ReferenceTime.Add(30 * time.Minute)
		present := NewAttendee("a-1", "Ana", "Sales", time.Second)
		present.Present = true
		present.ArrivalTime = &arrival
		present.UpdatedAt = arrival
		attendees := []persistence.Attendee{present, NewAttendee("a-2", "Old", "Ops", 2*time.Second)}
		surveys := []persistence.SurveyResponse{NewSurvey("s-1", 8, time.Second)}

		require.NoError(t, store.ReplaceAll(ctx, attendees, surveys))

		gotAttendees, err := store.ListAttendees(ctx)
		require.NoError(t, err)
		require.Len(t, gotAttendees, 2)
		assert.Equal(t, "a-1", gotAttendees[0].ID)
		assert.True(t, gotAttendees[0].Present)
		require.NotNil(t, gotAttendees[0].ArrivalTime)
		assert.True(t, gotAttendees[0].ArrivalTime.Equal(arrival))
		assert.Equal(t, "a-2", gotAttendees[1].ID)

		gotSurveys, err := store.ListSurveys(ctx)
		require.NoError(t, err)
		require.Len(t, gotSurveys, 1)
		assert.Equal(t, "s-1", gotSurveys[0].ID)

		err = store.CreateAttendee(ctx, NewAttendee("a-3", "ANA", "Ops", 3*time.Second))
		require.ErrorIs(t, err, persistence.ErrDuplicateName, "replaced names are enforced")

		require.NoError(t, store.ReplaceAll(ctx, nil, nil))
		gotAttendees, err = store.ListAttendees(ctx)
		require.NoError(t, err)
		assert.Empty(t, gotAttendees)
	})
}
