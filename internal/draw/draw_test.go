package draw

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/testfixtures"
)

func roster(presentCount, absentCount int) []persistence.Attendee {
	var out []persistence.Attendee
	for range presentCount {
		out = append(out, testfixtures.NewAttendee(testfixtures.WithArrival(testfixtures.ReferenceTime())))
	}
	for range absentCount {
		out = append(out, testfixtures.NewAttendee())
	}
	return out
}

func TestGroupsDealsDistinctPresentAttendees(t *testing.T) {
	d := New(rand.NewPCG(1, 2))
	groups, err := d.Groups(roster(7, 3), 3, 2)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	seen := make(map[string]struct{})
	for _, g := range groups {
		require.Len(t, g, 2)
		for _, a := range g {
			assert.True(t, a.Present)
			_, dup := seen[a.ID]
			assert.False(t, dup, "attendee %s drawn twice", a.ID)
			seen[a.ID] = struct{}{}
		}
	}
}

func TestGroupsIsDeterministicForASeed(t *testing.T) {
	people := roster(6, 0)
	first, err := New(rand.NewPCG(7, 7)).Groups(people, 2, 3)
	require.NoError(t, err)
	second, err := New(rand.NewPCG(7, 7)).Groups(people, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGroupsRejectsImpossibleDraws(t *testing.T) {
	d := New(nil)

	_, err := d.Groups(roster(1, 5), 1, 1)
	require.ErrorIs(t, err, ErrNotEnoughAttendees)

	_, err = d.Groups(roster(4, 0), 3, 2)
	require.ErrorIs(t, err, ErrNotEnoughAttendees)

	_, err = d.Groups(roster(3, 0), 3, 3074457345618258603)
	require.ErrorIs(t, err, ErrNotEnoughAttendees, "groups*size overflows int")

	_, err = d.Groups(roster(4, 0), math.MaxInt, math.MaxInt)
	require.ErrorIs(t, err, ErrNotEnoughAttendees)

	_, err = d.Groups(roster(4, 0), 0, 2)
	var vErr *persistence.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "groups")
}

func TestPrize(t *testing.T) {
	d := New(rand.NewPCG(3, 4))
	people := roster(3, 2)
	winner, err := d.Prize(people)
	require.NoError(t, err)
	assert.True(t, winner.Present)

	_, err = d.Prize(roster(0, 2))
	require.ErrorIs(t, err, ErrNotEnoughAttendees)
}
