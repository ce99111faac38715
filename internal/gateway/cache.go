package gateway

import (
	"sync"

	"github.com/example/event-checkin/internal/persistence"
)

// cache is the single in-memory copy of both collections used for rendering
// and for answering reads while the store is unreachable.
type cache struct {
	mu        sync.RWMutex
	attendees []persistence.Attendee
	surveys   []persistence.SurveyResponse
}

func (c *cache) snapshot() ([]persistence.Attendee, []persistence.SurveyResponse) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return persistence.CloneAttendees(c.attendees), persistence.CloneSurveys(c.surveys)
}

func (c *cache) listAttendees() []persistence.Attendee {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := persistence.CloneAttendees(c.attendees)
	if out == nil {
		out = []persistence.Attendee{}
	}
	return out
}

func (c *cache) listSurveys() []persistence.SurveyResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := persistence.CloneSurveys(c.surveys)
	if out == nil {
		out = []persistence.SurveyResponse{}
	}
	return out
}

func (c *cache) setAttendees(attendees []persistence.Attendee) {
	c.mu.Lock()
	c.attendees = persistence.CloneAttendees(attendees)
	c.mu.Unlock()
}

func (c *cache) setSurveys(surveys []persistence.SurveyResponse) {
	c.mu.Lock()
	c.surveys = persistence.CloneSurveys(surveys)
	c.mu.Unlock()
}

func (c *cache) findAttendee(id string) (persistence.Attendee, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.attendees {
		if a.ID == id {
			return persistence.CloneAttendee(a), true
		}
	}
	return persistence.Attendee{}, false
}

func (c *cache) hasName(name string) bool {
	key := persistence.NameKey(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.attendees {
		if persistence.NameKey(a.Name) == key {
			return true
		}
	}
	return false
}

// insertAttendee adds a unless its id or name is already cached.
func (c *cache) insertAttendee(a persistence.Attendee) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := persistence.NameKey(a.Name)
	for _, existing := range c.attendees {
		if existing.ID == a.ID || persistence.NameKey(existing.Name) == key {
			return false
		}
	}
	c.attendees = append(c.attendees, persistence.CloneAttendee(a))
	persistence.SortAttendees(c.attendees)
	return true
}

// replaceAttendee overwrites the record with a's id.
func (c *cache) replaceAttendee(a persistence.Attendee) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.attendees {
		if c.attendees[i].ID == a.ID {
			c.attendees[i] = persistence.CloneAttendee(a)
			return true
		}
	}
	return false
}

func (c *cache) removeAttendee(id string) (persistence.Attendee, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.attendees {
		if a.ID == id {
			c.attendees = append(c.attendees[:i:i], c.attendees[i+1:]...)
			return a, true
		}
	}
	return persistence.Attendee{}, false
}

func (c *cache) insertSurvey(s persistence.SurveyResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.surveys {
		if existing.ID == s.ID {
			return false
		}
	}
	c.surveys = append(c.surveys, s)
	persistence.SortSurveys(c.surveys)
	return true
}

// matches reports whether the cache already holds exactly the given
// collections. Surveys are immutable, so ids suffice for them.
func (c *cache) matches(attendees []persistence.Attendee, surveys []persistence.SurveyResponse) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.attendees) != len(attendees) || len(c.surveys) != len(surveys) {
		return false
	}
	byID := make(map[string]persistence.Attendee, len(c.attendees))
	for _, a := range c.attendees {
		byID[a.ID] = a
	}
	for _, a := range attendees {
		cached, ok := byID[a.ID]
		if !ok || cached.Name != a.Name || cached.Group != a.Group || cached.Present != a.Present ||
			!cached.UpdatedAt.Equal(a.UpdatedAt) {
			return false
		}
	}
	ids := make(map[string]struct{}, len(c.surveys))
	for _, s := range c.surveys {
		ids[s.ID] = struct{}{}
	}
	for _, s := range surveys {
		if _, ok := ids[s.ID]; !ok {
			return false
		}
	}
	return true
}
