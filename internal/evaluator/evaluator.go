// Package evaluator turns an adherence summary and the athlete's wellness into advisory insights and proposed
// plan modifications. Nothing proposed here changes the plan until it is approved.
package evaluator

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/workout"
)

// Evaluator proposes changes to the plan.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// Input is everything an evaluator may look at. It is read-only.
type Input struct {
	Athlete  athlete.Athlete   `json:"athlete"`
	Wellness *athlete.Wellness `json:"wellness,omitempty"`
	Summary  Summary           `json:"summary"`
}

// Result of an evaluation. Modifications are proposals, their status is ignored.
type Result struct {
	Insights        string
	Recommendations string
	Modifications   []review.Modification
}

// CategorySummary is the adherence of one workout category with volumes in minutes.
type CategorySummary struct {
	Category     workout.Category `json:"category"`
	Scheduled    int              `json:"scheduled"`
	Completed    int              `json:"completed"`
	Adherence    *float64         `json:"adherence"`
	PlannedMin   float64          `json:"planned_min"`
	CompletedMin float64          `json:"completed_min"`
}

// UpcomingWorkout is a planned workout the evaluator may propose to change.
type UpcomingWorkout struct {
	Date        string  `json:"date"`
	Week        int     `json:"week"`
	WorkoutType string  `json:"workout_type"`
	Title       string  `json:"title"`
	PlannedMin  float64 `json:"planned_min"`
}

// Summary is the adherence of a trailing window plus the upcoming workouts.
type Summary struct {
	From           string              `json:"from"`
	To             string              `json:"to"`
	CurrentWeek    int                 `json:"current_week"`
	Adherence      *float64            `json:"adherence"`
	VolumeDeltaMin float64             `json:"volume_delta_min"`
	Categories     []CategorySummary   `json:"categories"`
	Patterns       []adherence.Pattern `json:"patterns"`
	Upcoming       []UpcomingWorkout   `json:"upcoming"`
}

// NewSummary condenses an adherence result for evaluation.
func NewSummary(res adherence.Result, currentWeek int, upcoming []plan.ScheduledWorkout) Summary {
	s := Summary{
		From:           res.Window.From.Format(time.DateOnly),
		To:             res.Window.To.Format(time.DateOnly),
		CurrentWeek:    currentWeek,
		Adherence:      res.Overall.Adherence,
		VolumeDeltaMin: res.Overall.VolumeDelta().Minutes(),
		Categories:     nil,
		Patterns:       res.Patterns,
		Upcoming:       nil,
	}
	for c, stats := range res.Categories {
		s.Categories = append(s.Categories, CategorySummary{
			Category:     c,
			Scheduled:    stats.Scheduled,
			Completed:    stats.Completed,
			Adherence:    stats.Adherence,
			PlannedMin:   stats.PlannedVolume.Minutes(),
			CompletedMin: stats.CompletedVolume.Minutes(),
		})
	}
	slices.SortFunc(s.Categories, func(a, b CategorySummary) int { return cmp.Compare(a.Category, b.Category) })
	for _, w := range upcoming {
		s.Upcoming = append(s.Upcoming, UpcomingWorkout{
			Date:        w.Date.Format(time.DateOnly),
			Week:        w.Week,
			WorkoutType: w.WorkoutType,
			Title:       w.Definition.Title(),
			PlannedMin:  w.Definition.PlannedDuration().Minutes(),
		})
	}
	return s
}

// Static returns the same result for every input.
type Static struct {
	Result Result
}

func (s Static) Evaluate(context.Context, Input) (Result, error) {
	return s.Result, nil
}
