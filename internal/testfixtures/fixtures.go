package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/event-checkin/internal/persistence"
)

var (
	attendeeCounter uint64
	surveyCounter   uint64
)

var referenceTime = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// --------------------------- Attendee fixtures ---------------------------

// AttendeeOption configures the generated attendee.
type AttendeeOption func(*persistence.Attendee)

// NewAttendee returns a deterministic absent attendee with optional overrides.
func NewAttendee(opts ...AttendeeOption) persistence.Attendee {
	idx := atomic.AddUint64(&attendeeCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	attendee := persistence.Attendee{
		ID:        fmt.Sprintf("attendee-%03d", idx),
		Name:      fmt.Sprintf("Attendee %03d", idx),
		Group:     persistence.DefaultGroup,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&attendee)
	}
	return attendee
}

// WithAttendeeID overrides the identifier.
func WithAttendeeID(id string) AttendeeOption {
	return func(a *persistence.Attendee) { a.ID = id }
}

// WithName overrides the display name.
func WithName(name string) AttendeeOption {
	return func(a *persistence.Attendee) { a.Name = name }
}

// WithGroup overrides the group label.
func WithGroup(group string) AttendeeOption {
	return func(a *persistence.Attendee) { a.Group = group }
}

// WithArrival marks the attendee present since at.
func WithArrival(at time.Time) AttendeeOption {
	return func(a *persistence.Attendee) {
		*a = persistence.ApplyPresence(*a, true, at)
	}
}

// WithCreatedAt overrides both timestamps.
func WithCreatedAt(at time.Time) AttendeeOption {
	return func(a *persistence.Attendee) {
		a.CreatedAt = at
		a.UpdatedAt = at
	}
}

// ---------------------------- Survey fixtures ----------------------------

// SurveyOption configures the generated survey response.
type SurveyOption func(*persistence.SurveyResponse)

// NewSurvey returns a deterministic valid survey response with optional overrides.
func NewSurvey(opts ...SurveyOption) persistence.SurveyResponse {
	idx := atomic.AddUint64(&surveyCounter, 1)
	survey := persistence.SurveyResponse{
		ID:               fmt.Sprintf("survey-%03d", idx),
		Score:            8,
		QualityRating:    4,
		InstructorRating: 4,
		CreatedAt:        referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&survey)
	}
	return survey
}

// WithScore overrides the loyalty score.
func WithScore(score int) SurveyOption {
	return func(s *persistence.SurveyResponse) { s.Score = score }
}

// WithRatings overrides the quality and instructor ratings.
func WithRatings(quality, instructor int) SurveyOption {
	return func(s *persistence.SurveyResponse) {
		s.QualityRating = quality
		s.InstructorRating = instructor
	}
}

// WithComments sets the free-text comments.
func WithComments(comments string) SurveyOption {
	return func(s *persistence.SurveyResponse) { s.Comments = comments }
}
