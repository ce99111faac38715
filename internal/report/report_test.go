package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/event-checkin/internal/persistence"
	"github.com/example/event-checkin/internal/testfixtures"
)

func TestComputeAttendance(t *testing.T) {
	at := testfixtures.ReferenceTime()
	attendees := []persistence.Attendee{
		testfixtures.NewAttendee(testfixtures.WithGroup("Sales"), testfixtures.WithArrival(at)),
		testfixtures.NewAttendee(testfixtures.WithGroup("Sales")),
		testfixtures.NewAttendee(testfixtures.WithGroup("Ops"), testfixtures.WithArrival(at)),
		testfixtures.NewAttendee(testfixtures.WithGroup("")),
	}

	got := ComputeAttendance(attendees)
	assert.Equal(t, 4, got.Total)
	assert.Equal(t, 2, got.Present)
	assert.Equal(t, 2, got.Absent)
	assert.Equal(t, 50.0, got.Rate)
	assert.Equal(t, []GroupAttendance{
		{Group: "Ops", Total: 1, Present: 1},
		{Group: "Sales", Total: 2, Present: 1},
		{Group: persistence.DefaultGroup, Total: 1, Present: 0},
	}, got.Groups)

	empty := ComputeAttendance(nil)
	assert.Zero(t, empty.Rate)
	assert.Empty(t, empty.Groups)
}

func TestCategorize(t *testing.T) {
	cases := map[int]Category{0: Detractor, 6: Detractor, 7: Passive, 8: Passive, 9: Promoter, 10: Promoter}
	for score, want := range cases {
		assert.Equal(t, want, Categorize(score), "score %d", score)
	}
}

func TestSummarizeSurveys(t *testing.T) {
	surveys := []persistence.SurveyResponse{
		testfixtures.NewSurvey(testfixtures.WithScore(10), testfixtures.WithRatings(5, 5)),
		testfixtures.NewSurvey(testfixtures.WithScore(9), testfixtures.WithRatings(4, 5)),
		testfixtures.NewSurvey(testfixtures.WithScore(8), testfixtures.WithRatings(4, 4)),
		testfixtures.NewSurvey(testfixtures.WithScore(3), testfixtures.WithRatings(2, 3)),
	}

	got := SummarizeSurveys(surveys)
	assert.Equal(t, 4, got.Responses)
	assert.Equal(t, 2, got.Promoters)
	assert.Equal(t, 1, got.Passives)
	assert.Equal(t, 1, got.Detractors)
	assert.Equal(t, 25, got.NPS)
	assert.Equal(t, RatingAverage, got.Rating)
	assert.Equal(t, 7.5, got.AverageScore)
	assert.Equal(t, 3.8, got.AverageQuality)
	assert.Equal(t, 4.3, got.AverageInstructor)
	assert.Equal(t, [5]int{0, 1, 0, 2, 1}, got.QualityDistribution)

	assert.Equal(t, SurveySummary{}, SummarizeSurveys(nil))
}

func TestRateNPS(t *testing.T) {
	assert.Equal(t, RatingExcellent, RateNPS(70))
	assert.Equal(t, RatingGood, RateNPS(50))
	assert.Equal(t, RatingAverage, RateNPS(0))
	assert.Equal(t, RatingPoor, RateNPS(-1))
}
