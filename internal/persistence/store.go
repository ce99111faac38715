package persistence

import (
	"context"
	"sort"
	"time"
)

// Store is the contract every concrete backend implements. It exposes only
// operations that can be expressed against key-value local storage, embedded
// SQL and the hosted services alike.
type Store interface {
	// Name returns a short label used in logs and status reports.
	Name() string
	// Probe performs a lightweight bounded read to verify the store is reachable.
	Probe(ctx context.Context) error

	// ListAttendees returns every attendee ordered by CreatedAt, then ID.
	ListAttendees(ctx context.Context) ([]Attendee, error)
	// CreateAttendee stores a fully materialized attendee. It returns
	// ErrDuplicateName when the name is already taken (case-insensitive).
	CreateAttendee(ctx context.Context, attendee Attendee) error
	// SetPresence updates the presence flag and arrival time in one write,
	// following ApplyPresence, and returns the stored record.
	SetPresence(ctx context.Context, id string, present bool, at time.Time) (Attendee, error)
	// DeleteAttendee removes an attendee and reports whether it existed.
	DeleteAttendee(ctx context.Context, id string) (bool, error)
	ClearAttendees(ctx context.Context) error

	// ListSurveys returns every survey response ordered by CreatedAt, then ID.
	ListSurveys(ctx context.Context) ([]SurveyResponse, error)
	CreateSurvey(ctx context.Context, survey SurveyResponse) error
	ClearSurveys(ctx context.Context) error

	// ReplaceAll discards all records and stores the provided ones.
	ReplaceAll(ctx context.Context, attendees []Attendee, surveys []SurveyResponse) error

	Close() error
}

// MutationKind enumerates the mutation notifications exchanged between peers.
type MutationKind string

const (
	MutationAttendeeAdded   MutationKind = "attendee-added"
	MutationAttendeeUpdated MutationKind = "attendee-updated"
	MutationAttendeeRemoved MutationKind = "attendee-removed"
	MutationSurveyAdded     MutationKind = "survey-added"
	MutationBulkCleared     MutationKind = "bulk-cleared"
	MutationOfflineResync   MutationKind = "offline-resync"
)

// Collection names used to scope mutations and sync watermarks.
const (
	CollectionAttendees = "attendees"
	CollectionSurveys   = "surveys"
)

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationAttendeeAdded, MutationAttendeeUpdated, MutationAttendeeRemoved,
		MutationSurveyAdded, MutationBulkCleared, MutationOfflineResync:
		return true
	}
	return false
}

// Mutation describes one change applied to the records of a store, carrying
// full-record snapshots of what changed.
type Mutation struct {
	Kind       MutationKind
	Collection string
	Attendees  []Attendee
	Surveys    []SurveyResponse
}

// Collections returns the collections touched by the mutation.
func (m Mutation) Collections() []string {
	switch m.Kind {
	case MutationAttendeeAdded, MutationAttendeeUpdated, MutationAttendeeRemoved:
		return []string{CollectionAttendees}
	case MutationSurveyAdded:
		return []string{CollectionSurveys}
	case MutationBulkCleared:
		if m.Collection == "" {
			return nil
		}
		return []string{m.Collection}
	case MutationOfflineResync:
		return []string{CollectionAttendees, CollectionSurveys}
	}
	return nil
}

// ValidateSurvey checks the boundaries of a survey response.
func ValidateSurvey(survey SurveyResponse) *ValidationError {
	vErr := &ValidationError{}
	if survey.Score < MinScore || survey.Score > MaxScore {
		vErr.Add("score", "score must be between 0 and 10")
	}
	if survey.QualityRating < MinRating || survey.QualityRating > MaxRating {
		vErr.Add("qualityRating", "rating must be between 1 and 5")
	}
	if survey.InstructorRating < MinRating || survey.InstructorRating > MaxRating {
		vErr.Add("instructorRating", "rating must be between 1 and 5")
	}
	return vErr
}

// ValidateAttendee checks the fields required for an attendee record.
func ValidateAttendee(attendee Attendee) *ValidationError {
	vErr := &ValidationError{}
	if attendee.ID == "" {
		vErr.Add("id", "id is required")
	}
	if NameKey(attendee.Name) == "" {
		vErr.Add("name", "name is required")
	}
	if attendee.Present && attendee.ArrivalTime == nil {
		vErr.Add("arrivalTime", "arrival time is required for present attendees")
	}
	if !attendee.Present && attendee.ArrivalTime != nil {
		vErr.Add("arrivalTime", "arrival time must be empty for absent attendees")
	}
	return vErr
}

// SortAttendees orders attendees by CreatedAt, then ID.
func SortAttendees(attendees []Attendee) {
	sort.Slice(attendees, func(i, j int) bool {
		if attendees[i].CreatedAt.Equal(attendees[j].CreatedAt) {
			return attendees[i].ID < attendees[j].ID
		}
		return attendees[i].CreatedAt.Before(attendees[j].CreatedAt)
	})
}

// SortSurveys orders survey responses by CreatedAt, then ID.
func SortSurveys(surveys []SurveyResponse) {
	sort.Slice(surveys, func(i, j int) bool {
		if surveys[i].CreatedAt.Equal(surveys[j].CreatedAt) {
			return surveys[i].ID < surveys[j].ID
		}
		return surveys[i].CreatedAt.Before(surveys[j].CreatedAt)
	})
}
