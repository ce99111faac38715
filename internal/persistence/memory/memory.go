// Package memory provides a map backed persistence.Store. It is used as the
// shared "server" in multi-device tests and whenever an ephemeral store is
// enough.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/persistence"
)

var errClosed = errors.New("memory: store closed")

// Storage provides an in-memory persistence layer implementation.
type Storage struct {
	mu        sync.RWMutex
	name      string
	attendees map[string]persistence.Attendee
	names     map[string]string
	surveys   map[string]persistence.SurveyResponse

	// fail, when set, is returned by every operation.
	fail error
}

// New returns an empty Storage labelled name.
func New(name string) *Storage {
	if name == "" {
		name = "memory"
	}
	return &Storage{
		name:      name,
		attendees: make(map[string]persistence.Attendee),
		names:     make(map[string]string),
		surveys:   make(map[string]persistence.SurveyResponse),
	}
}

// Name implements persistence.Store.
func (s *Storage) Name() string { return s.name }

// Probe implements persistence.Store.
func (s *Storage) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fail
}

// Close marks the storage closed. Stored data is kept so that tests sharing
// one Storage between simulated devices can keep using it after Reopen.
func (s *Storage) Close() error {
	s.SetUnavailable(errClosed)
	return nil
}

// Reopen makes a closed or unavailable storage usable again.
func (s *Storage) Reopen() {
	s.SetUnavailable(nil)
}

// SetUnavailable makes every operation, Probe included, fail with err until
// it is called again with nil.
func (s *Storage) SetUnavailable(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// ListAttendees returns all attendees ordered by CreatedAt ascending.
func (s *Storage) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}

	attendees := make([]persistence.Attendee, 0, len(s.attendees))
	for _, attendee := range s.attendees {
		attendees = append(attendees, persistence.CloneAttendee(attendee))
	}
	persistence.SortAttendees(attendees)
	return attendees, nil
}

// CreateAttendee stores a new attendee.
func (s *Storage) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}

	key := persistence.NameKey(attendee.Name)
	if _, ok := s.names[key]; ok {
		return persistence.ErrDuplicateName
	}
	if _, ok := s.attendees[attendee.ID]; ok {
		return errors.New("memory: attendee " + attendee.ID + " already exists")
	}

	s.attendees[attendee.ID] = persistence.CloneAttendee(attendee)
	s.names[key] = attendee.ID
	return nil
}

// SetPresence updates the presence of an existing attendee.
func (s *Storage) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return persistence.Attendee{}, s.fail
	}

	attendee, ok := s.attendees[id]
	if !ok {
		return persistence.Attendee{}, persistence.ErrNotFound
	}
	updated := persistence.ApplyPresence(attendee, present, at)
	s.attendees[id] = updated
	return persistence.CloneAttendee(updated), nil
}

// DeleteAttendee removes an attendee by ID.
func (s *Storage) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}

	attendee, ok := s.attendees[id]
	if !ok {
		return false, nil
	}
	delete(s.attendees, id)
	delete(s.names, persistence.NameKey(attendee.Name))
	return true, nil
}

// ClearAttendees removes every attendee.
func (s *Storage) ClearAttendees(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.attendees = make(map[string]persistence.Attendee)
	s.names = make(map[string]string)
	return nil
}

// ListSurveys returns all survey responses ordered by CreatedAt ascending.
func (s *Storage) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}

	surveys := make([]persistence.SurveyResponse, 0, len(s.surveys))
	for _, survey := range s.surveys {
		surveys = append(surveys, survey)
	}
	persistence.SortSurveys(surveys)
	return surveys, nil
}

// CreateSurvey stores a survey response.
func (s *Storage) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.surveys[survey.ID]; ok {
		return errors.New("memory: survey " + survey.ID + " already exists")
	}
	s.surveys[survey.ID] = survey
	return nil
}

// ClearSurveys removes every survey response.
func (s *Storage) ClearSurveys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.surveys = make(map[string]persistence.SurveyResponse)
	return nil
}

// ReplaceAll swaps the full contents of the storage.
func (s *Storage) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	nextAttendees := make(map[string]persistence.Attendee, len(attendees))
	nextNames := make(map[string]string, len(attendees))
	for _, attendee := range attendees {
		key := persistence.NameKey(attendee.Name)
		if _, ok := nextNames[key]; ok {
			return persistence.ErrDuplicateName
		}
		nextAttendees[attendee.ID] = persistence.CloneAttendee(attendee)
		nextNames[key] = attendee.ID
	}
	nextSurveys := make(map[string]persistence.SurveyResponse, len(surveys))
	for _, survey := range surveys {
		nextSurveys[survey.ID] = survey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.attendees = nextAttendees
	s.names = nextNames
	s.surveys = nextSurveys
	return nil
}
