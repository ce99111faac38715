package persistence

import (
	"strings"
	"time"
)

// DefaultGroup labels attendees that were registered without a group.
const DefaultGroup = "unspecified"

// Score and rating bounds accepted for survey responses.
const (
	MinScore  = 0
	MaxScore  = 10
	MinRating = 1
	MaxRating = 5
)

// Attendee represents a participant tracked for presence at an event.
type Attendee struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Group       string     `json:"group"`
	Present     bool       `json:"present"`
	ArrivalTime *time.Time `json:"arrivalTime"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SurveyResponse represents one satisfaction survey submission.
type SurveyResponse struct {
	ID               string    `json:"id"`
	ParticipantName  string    `json:"participantName,omitempty"`
	Score            int       `json:"score"`
	QualityRating    int       `json:"qualityRating"`
	InstructorRating int       `json:"instructorRating"`
	Comments         string    `json:"comments,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NameKey returns the case-insensitive uniqueness key for an attendee name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ApplyPresence returns a copy of the attendee with the presence flag set.
// The arrival time is stamped only on the false to true transition and is
// cleared whenever the attendee is marked absent.
func ApplyPresence(attendee Attendee, present bool, at time.Time) Attendee {
	updated := CloneAttendee(attendee)
	switch {
	case present && !attendee.Present:
		arrival := at
		updated.ArrivalTime = &arrival
	case !present:
		updated.ArrivalTime = nil
	}
	updated.Present = present
	updated.UpdatedAt = at
	return updated
}

// CloneAttendee returns a deep copy of the attendee.
func CloneAttendee(attendee Attendee) Attendee {
	clone := attendee
	if attendee.ArrivalTime != nil {
		arrival := *attendee.ArrivalTime
		clone.ArrivalTime = &arrival
	}
	return clone
}

// CloneAttendees returns deep copies of the provided attendees.
func CloneAttendees(attendees []Attendee) []Attendee {
	if attendees == nil {
		return nil
	}
	out := make([]Attendee, 0, len(attendees))
	for _, attendee := range attendees {
		out = append(out, CloneAttendee(attendee))
	}
	return out
}

// CloneSurveys returns a copy of the provided survey responses.
func CloneSurveys(surveys []SurveyResponse) []SurveyResponse {
	if surveys == nil {
		return nil
	}
	out := make([]SurveyResponse, len(surveys))
	copy(out, surveys)
	return out
}
