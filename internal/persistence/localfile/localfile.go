// Package localfile implements the device-bound store: both collections are
// kept in one JSON document under the data directory and rewritten
// atomically after every mutation. Every operation re-reads the document
// while holding the file lock, so several stores opened on the same
// directory (in one process or across processes) never overwrite each
// other's records.
package localfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/event-checkin/internal/atomicfile"
	"github.com/example/event-checkin/internal/persistence"
)

// FileName is the document name used inside the data directory.
const FileName = "checkin-data.json"

type document struct {
	Attendees []persistence.Attendee       `json:"attendees"`
	Surveys   []persistence.SurveyResponse `json:"surveys"`
}

// Store is a persistence.Store backed by a local JSON document.
type Store struct {
	path string
	lock *fileLock
}

// Open checks that the document in dir is readable, creating dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localfile: create data dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	s := &Store{path: path, lock: lockFor(path)}
	if err := s.view(func(*document) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the backing document.
func (s *Store) Path() string { return s.path }

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{Attendees: []persistence.Attendee{}, Surveys: []persistence.SurveyResponse{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localfile: read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("localfile: decode %s: %w", s.path, err)
	}
	if doc.Attendees == nil {
		doc.Attendees = []persistence.Attendee{}
	}
	if doc.Surveys == nil {
		doc.Surveys = []persistence.SurveyResponse{}
	}
	return &doc, nil
}

func (s *Store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("localfile: encode: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0o600); err != nil {
		return fmt.Errorf("localfile: %w", err)
	}
	return nil
}

// view runs fn against the current document under the file lock.
func (s *Store) view(fn func(doc *document) error) error {
	unlock, err := s.lock.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

// update re-reads the document under the file lock, lets fn modify it and
// writes it back. Nothing is written when fn fails or reports no change.
func (s *Store) update(fn func(doc *document) (bool, error)) error {
	unlock, err := s.lock.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return s.write(doc)
}

// Name implements persistence.Store.
func (s *Store) Name() string { return "local" }

// Probe verifies the data directory is still accessible.
func (s *Store) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("localfile: %w", err)
	}
	return nil
}

// Close implements persistence.Store.
func (s *Store) Close() error { return nil }

// ListAttendees implements persistence.Store.
func (s *Store) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	var attendees []persistence.Attendee
	err := s.view(func(doc *document) error {
		attendees = doc.Attendees
		return nil
	})
	if err != nil {
		return nil, err
	}
	persistence.SortAttendees(attendees)
	return attendees, nil
}

// CreateAttendee implements persistence.Store.
func (s *Store) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	return s.update(func(doc *document) (bool, error) {
		key := persistence.NameKey(attendee.Name)
		for _, existing := range doc.Attendees {
			if persistence.NameKey(existing.Name) == key {
				return false, persistence.ErrDuplicateName
			}
			if existing.ID == attendee.ID {
				return false, fmt.Errorf("localfile: attendee %s already exists", attendee.ID)
			}
		}
		doc.Attendees = append(doc.Attendees, persistence.CloneAttendee(attendee))
		return true, nil
	})
}

// SetPresence implements persistence.Store.
func (s *Store) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	var updated persistence.Attendee
	err := s.update(func(doc *document) (bool, error) {
		for i, attendee := range doc.Attendees {
			if attendee.ID != id {
				continue
			}
			doc.Attendees[i] = persistence.ApplyPresence(attendee, present, at)
			updated = persistence.CloneAttendee(doc.Attendees[i])
			return true, nil
		}
		return false, persistence.ErrNotFound
	})
	if err != nil {
		return persistence.Attendee{}, err
	}
	return updated, nil
}

// DeleteAttendee implements persistence.Store.
func (s *Store) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.update(func(doc *document) (bool, error) {
		kept := make([]persistence.Attendee, 0, len(doc.Attendees))
		for _, attendee := range doc.Attendees {
			if attendee.ID != id {
				kept = append(kept, attendee)
			}
		}
		deleted = len(kept) != len(doc.Attendees)
		doc.Attendees = kept
		return deleted, nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ClearAttendees implements persistence.Store.
func (s *Store) ClearAttendees(ctx context.Context) error {
	return s.update(func(doc *document) (bool, error) {
		doc.Attendees = []persistence.Attendee{}
		return true, nil
	})
}

// ListSurveys implements persistence.Store.
func (s *Store) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	var surveys []persistence.SurveyResponse
	err := s.view(func(doc *document) error {
		surveys = doc.Surveys
		return nil
	})
	if err != nil {
		return nil, err
	}
	persistence.SortSurveys(surveys)
	return surveys, nil
}

// CreateSurvey implements persistence.Store.
func (s *Store) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	return s.update(func(doc *document) (bool, error) {
		for _, existing := range doc.Surveys {
			if existing.ID == survey.ID {
				return false, fmt.Errorf("localfile: survey %s already exists", survey.ID)
			}
		}
		doc.Surveys = append(doc.Surveys, survey)
		return true, nil
	})
}

// ClearSurveys implements persistence.Store.
func (s *Store) ClearSurveys(ctx context.Context) error {
	return s.update(func(doc *document) (bool, error) {
		doc.Surveys = []persistence.SurveyResponse{}
		return true, nil
	})
}

// ReplaceAll implements persistence.Store.
func (s *Store) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	names := make(map[string]struct{}, len(attendees))
	for _, attendee := range attendees {
		key := persistence.NameKey(attendee.Name)
		if _, ok := names[key]; ok {
			return persistence.ErrDuplicateName
		}
		names[key] = struct{}{}
	}
	nextAttendees := persistence.CloneAttendees(attendees)
	if nextAttendees == nil {
		nextAttendees = []persistence.Attendee{}
	}
	nextSurveys := persistence.CloneSurveys(surveys)
	if nextSurveys == nil {
		nextSurveys = []persistence.SurveyResponse{}
	}
	return s.update(func(doc *document) (bool, error) {
		doc.Attendees, doc.Surveys = nextAttendees, nextSurveys
		return true, nil
	})
}
