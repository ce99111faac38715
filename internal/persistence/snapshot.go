package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// SnapshotFormatVersion tags snapshots produced by this module.
const SnapshotFormatVersion = "3.0"

// Snapshot is a complete, store-agnostic representation of both record kinds.
type Snapshot struct {
	Attendees     []Attendee
	Surveys       []SurveyResponse
	ExportedAt    time.Time
	FormatVersion string

	// hasAttendees and hasSurveys record which collections a decoded
	// document actually carried.
	hasAttendees bool
	hasSurveys   bool
}

type snapshotDocument struct {
	Attendees     *[]Attendee       `json:"attendees,omitempty"`
	Surveys       *[]SurveyResponse `json:"surveys,omitempty"`
	ExportedAt    string            `json:"exportedAt"`
	FormatVersion string            `json:"formatVersion"`
}

// NewSnapshot builds a snapshot carrying both collections.
func NewSnapshot(attendees []Attendee, surveys []SurveyResponse, exportedAt time.Time) Snapshot {
	if attendees == nil {
		attendees = []Attendee{}
	}
	if surveys == nil {
		surveys = []SurveyResponse{}
	}
	return Snapshot{
		Attendees:     CloneAttendees(attendees),
		Surveys:       CloneSurveys(surveys),
		ExportedAt:    exportedAt.UTC(),
		FormatVersion: SnapshotFormatVersion,
		hasAttendees:  true,
		hasSurveys:    true,
	}
}

// HasAttendees reports whether the snapshot carries the attendee collection.
func (s Snapshot) HasAttendees() bool { return s.hasAttendees || s.Attendees != nil }

// HasSurveys reports whether the snapshot carries the survey collection.
func (s Snapshot) HasSurveys() bool { return s.hasSurveys || s.Surveys != nil }

// MarshalJSON renders the snapshot file format.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	doc := snapshotDocument{
		ExportedAt:    s.ExportedAt.UTC().Format(time.RFC3339Nano),
		FormatVersion: s.FormatVersion,
	}
	if s.HasAttendees() {
		attendees := s.Attendees
		if attendees == nil {
			attendees = []Attendee{}
		}
		doc.Attendees = &attendees
	}
	if s.HasSurveys() {
		surveys := s.Surveys
		if surveys == nil {
			surveys = []SurveyResponse{}
		}
		doc.Surveys = &surveys
	}
	return json.Marshal(doc)
}

// UnmarshalJSON parses the snapshot file format.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	decoded := Snapshot{FormatVersion: doc.FormatVersion}
	if doc.ExportedAt != "" {
		exportedAt, err := time.Parse(time.RFC3339Nano, doc.ExportedAt)
		if err != nil {
			return fmt.Errorf("%w: exportedAt: %v", ErrInvalidSnapshot, err)
		}
		decoded.ExportedAt = exportedAt
	}
	if doc.Attendees != nil {
		decoded.Attendees = *doc.Attendees
		decoded.hasAttendees = true
	}
	if doc.Surveys != nil {
		decoded.Surveys = *doc.Surveys
		decoded.hasSurveys = true
	}
	*s = decoded
	return nil
}

// DecodeSnapshot reads and validates a snapshot document.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		if errors.Is(err, io.EOF) {
			return Snapshot{}, fmt.Errorf("%w: empty document", ErrInvalidSnapshot)
		}
		if errors.Is(err, ErrInvalidSnapshot) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Validate checks that the snapshot can be replayed into any store.
func (s Snapshot) Validate() error {
	if !s.HasAttendees() && !s.HasSurveys() {
		return fmt.Errorf("%w: attendees or surveys must be present", ErrInvalidSnapshot)
	}
	if s.FormatVersion == "" {
		return fmt.Errorf("%w: formatVersion is required", ErrInvalidSnapshot)
	}

	ids := make(map[string]struct{}, len(s.Attendees))
	names := make(map[string]struct{}, len(s.Attendees))
	for i, attendee := range s.Attendees {
		if vErr := ValidateAttendee(attendee); vErr.HasErrors() {
			return fmt.Errorf("%w: attendee %d: %v", ErrInvalidSnapshot, i, vErr)
		}
		if _, ok := ids[attendee.ID]; ok {
			return fmt.Errorf("%w: duplicate attendee id %q", ErrInvalidSnapshot, attendee.ID)
		}
		key := NameKey(attendee.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("%w: duplicate attendee name %q", ErrInvalidSnapshot, attendee.Name)
		}
		ids[attendee.ID] = struct{}{}
		names[key] = struct{}{}
	}

	surveyIDs := make(map[string]struct{}, len(s.Surveys))
	for i, survey := range s.Surveys {
		if survey.ID == "" {
			return fmt.Errorf("%w: survey %d: id is required", ErrInvalidSnapshot, i)
		}
		if vErr := ValidateSurvey(survey); vErr.HasErrors() {
			return fmt.Errorf("%w: survey %d: %v", ErrInvalidSnapshot, i, vErr)
		}
		if _, ok := surveyIDs[survey.ID]; ok {
			return fmt.Errorf("%w: duplicate survey id %q", ErrInvalidSnapshot, survey.ID)
		}
		surveyIDs[survey.ID] = struct{}{}
	}
	return nil
}
