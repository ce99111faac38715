// Package report derives attendance and satisfaction summaries from records.
package report

import (
	"math"
	"sort"

	"github.com/example/event-checkin/internal/persistence"
)

// GroupAttendance counts one group.
type GroupAttendance struct {
	Group   string `json:"group"`
	Total   int    `json:"total"`
	Present int    `json:"present"`
}

// Attendance summarizes the roll call.
type Attendance struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	// Rate is the present share in percent, 0 when nobody is registered.
	Rate   float64           `json:"rate"`
	Groups []GroupAttendance `json:"groups"`
}

// ComputeAttendance counts attendees overall and per group, groups sorted by name.
func ComputeAttendance(attendees []persistence.Attendee) Attendance {
	byGroup := make(map[string]*GroupAttendance)
	out := Attendance{Total: len(attendees), Groups: []GroupAttendance{}}
	for _, a := range attendees {
		group := a.Group
		if group == "" {
			group = persistence.DefaultGroup
		}
		g, ok := byGroup[group]
		if !ok {
			g = &GroupAttendance{Group: group}
			byGroup[group] = g
		}
		g.Total++
		if a.Present {
			out.Present++
			g.Present++
		}
	}
	out.Absent = out.Total - out.Present
	if out.Total > 0 {
		out.Rate = roundTo(float64(out.Present)/float64(out.Total)*100, 1)
	}
	for _, g := range byGroup {
		out.Groups = append(out.Groups, *g)
	}
	sort.Slice(out.Groups, func(i, j int) bool { return out.Groups[i].Group < out.Groups[j].Group })
	return out
}

// Category buckets a loyalty score.
type Category string

const (
	Promoter  Category = "promoter"
	Passive   Category = "passive"
	Detractor Category = "detractor"
)

// Categorize returns the bucket for score: 9-10 promoter, 7-8 passive,
// otherwise detractor.
func Categorize(score int) Category {
	switch {
	case score >= 9:
		return Promoter
	case score >= 7:
		return Passive
	default:
		return Detractor
	}
}

// Rating labels an NPS value.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingAverage   Rating = "average"
	RatingPoor      Rating = "poor"
)

// SurveySummary aggregates survey responses.
type SurveySummary struct {
	Responses  int `json:"responses"`
	Promoters  int `json:"promoters"`
	Passives   int `json:"passives"`
	Detractors int `json:"detractors"`
	// NPS is %promoters - %detractors rounded to an integer.
	NPS               int     `json:"nps"`
	Rating            Rating  `json:"rating,omitempty"`
	AverageScore      float64 `json:"averageScore"`
	AverageQuality    float64 `json:"averageQuality"`
	AverageInstructor float64 `json:"averageInstructor"`
	// QualityDistribution and InstructorDistribution count ratings 1..5 at
	// index rating-1.
	QualityDistribution    [persistence.MaxRating]int `json:"qualityDistribution"`
	InstructorDistribution [persistence.MaxRating]int `json:"instructorDistribution"`
}

// SummarizeSurveys computes the NPS summary. An empty input yields a zero
// summary without a rating.
func SummarizeSurveys(surveys []persistence.SurveyResponse) SurveySummary {
	out := SurveySummary{Responses: len(surveys)}
	if len(surveys) == 0 {
		return out
	}

	var score, quality, instructor int
	for _, s := range surveys {
		switch Categorize(s.Score) {
		case Promoter:
			out.Promoters++
		case Passive:
			out.Passives++
		default:
			out.Detractors++
		}
		score += s.Score
		quality += s.QualityRating
		instructor += s.InstructorRating
		if s.QualityRating >= persistence.MinRating && s.QualityRating <= persistence.MaxRating {
			out.QualityDistribution[s.QualityRating-1]++
		}
		if s.InstructorRating >= persistence.MinRating && s.InstructorRating <= persistence.MaxRating {
			out.InstructorDistribution[s.InstructorRating-1]++
		}
	}

	n := float64(len(surveys))
	out.NPS = int(math.Round(float64(out.Promoters-out.Detractors) / n * 100))
	out.Rating = RateNPS(out.NPS)
	out.AverageScore = roundTo(float64(score)/n, 1)
	out.AverageQuality = roundTo(float64(quality)/n, 1)
	out.AverageInstructor = roundTo(float64(instructor)/n, 1)
	return out
}

// RateNPS labels nps: 70 and above excellent, 50 good, 0 average, below poor.
func RateNPS(nps int) Rating {
	switch {
	case nps >= 70:
		return RatingExcellent
	case nps >= 50:
		return RatingGood
	case nps >= 0:
		return RatingAverage
	default:
		return RatingPoor
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
