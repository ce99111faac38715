package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/event-checkin/internal/persistence"
)

// RecordFactory builds records with deterministic identifiers and timestamps.
type RecordFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// RecordFactoryOption configures a RecordFactory instance.
type RecordFactoryOption func(*RecordFactory)

// NewRecordFactory constructs a RecordFactory with defaults.
func NewRecordFactory(opts ...RecordFactoryOption) *RecordFactory {
	factory := &RecordFactory{
		Clock:       NewTickingClock(time.Time{}, time.Second),
		IDGenerator: NewIDGenerator("rec"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewTickingClock(time.Time{}, time.Second)
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("rec")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) RecordFactoryOption {
	return func(factory *RecordFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) RecordFactoryOption {
	return func(factory *RecordFactory) {
		factory.IDGenerator = generator
	}
}

// Attendee returns an absent attendee created at the next clock reading.
func (f *RecordFactory) Attendee(name, group string) persistence.Attendee {
	at := f.Clock.Now()
	return NewAttendee(
		WithAttendeeID(f.IDGenerator.Next()),
		WithName(name),
		WithGroup(group),
		WithCreatedAt(at),
	)
}

// PresentAttendee returns an attendee who arrived at the next clock reading.
func (f *RecordFactory) PresentAttendee(name, group string) persistence.Attendee {
	attendee := f.Attendee(name, group)
	return persistence.ApplyPresence(attendee, true, f.Clock.Now())
}

// Survey returns a survey response with the given score.
func (f *RecordFactory) Survey(score, quality, instructor int) persistence.SurveyResponse {
	survey := NewSurvey(WithScore(score), WithRatings(quality, instructor))
	survey.ID = f.IDGenerator.Next()
	survey.CreatedAt = f.Clock.Now()
	return survey
}

// Seed writes the records into store, failing the test on error.
func Seed(tb testing.TB, store persistence.Store, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) {
	tb.Helper()
	ctx := context.Background()
	for _, attendee := range attendees {
		if err := store.CreateAttendee(ctx, attendee); err != nil {
			tb.Fatalf("seed attendee %s: %v", attendee.ID, err)
		}
	}
	for _, survey := range surveys {
		if err := store.CreateSurvey(ctx, survey); err != nil {
			tb.Fatalf("seed survey %s: %v", survey.ID, err)
		}
	}
}
