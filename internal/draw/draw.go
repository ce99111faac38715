// Package draw picks random groups and prize winners among present attendees.
package draw

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/persistence"
)

// ErrNotEnoughAttendees is returned when too few attendees are present.
var ErrNotEnoughAttendees = errors.New("draw: not enough present attendees")

// MinGroupDrawAttendees is the smallest roll call a group draw accepts.
const MinGroupDrawAttendees = 2

// Drawer draws from an injectable random source.
type Drawer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Drawer reading src, or a time-seeded PCG when src is nil.
func New(src rand.Source) *Drawer {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &Drawer{rng: rand.New(src)}
}

func present(attendees []persistence.Attendee) []persistence.Attendee {
	out := make([]persistence.Attendee, 0, len(attendees))
	for _, a := range attendees {
		if a.Present {
			out = append(out, persistence.CloneAttendee(a))
		}
	}
	return out
}

// Groups shuffles the present attendees and deals groups*size of them into
// groups of exactly size members. Attendees beyond that are left out.
func (d *Drawer) Groups(attendees []persistence.Attendee, groups, size int) ([][]persistence.Attendee, error) {
	vErr := &persistence.ValidationError{}
	if groups < 1 {
		vErr.Add("groups", "at least one group is required")
	}
	if size < 1 {
		vErr.Add("size", "groups need at least one member")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	pool := present(attendees)
	if len(pool) < MinGroupDrawAttendees {
		return nil, fmt.Errorf("%w: need at least %d, have %d", ErrNotEnoughAttendees, MinGroupDrawAttendees, len(pool))
	}
	// Compared by division so huge requests cannot overflow groups*size.
	if size > len(pool)/groups {
		return nil, fmt.Errorf("%w: %d groups of %d need more than the %d present", ErrNotEnoughAttendees, groups, size, len(pool))
	}

	d.mu.Lock()
	d.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	d.mu.Unlock()

	out := make([][]persistence.Attendee, groups)
	for i := range out {
		out[i] = pool[i*size : (i+1)*size : (i+1)*size]
	}
	return out, nil
}

// Prize returns one present attendee chosen uniformly.
func (d *Drawer) Prize(attendees []persistence.Attendee) (persistence.Attendee, error) {
	pool := present(attendees)
	if len(pool) == 0 {
		return persistence.Attendee{}, fmt.Errorf("%w: nobody is present", ErrNotEnoughAttendees)
	}
	d.mu.Lock()
	idx := d.rng.IntN(len(pool))
	d.mu.Unlock()
	return pool[idx], nil
}
