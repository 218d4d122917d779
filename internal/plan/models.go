// Package plan expands periodization templates into dated workouts and owns the canonical training plan.
package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/coach/internal/workout"
)

// Status of a scheduled workout.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Plan is an athlete's generated program.
type Plan struct {
	ID           string
	AthleteID    string
	Name         string
	StartDate    time.Time
	HorizonWeeks int
}

// ScheduledWorkout is a dated occurrence of a workout definition. A plan holds at most one per
// (date, workout type).
type ScheduledWorkout struct {
	ID          string
	PlanID      string
	Date        time.Time
	Week        int
	WorkoutType string
	Definition  workout.Definition
	Status      Status
	IsTestWeek  bool
	// RemoteWorkoutID is set once the workout exists on the remote calendar.
	RemoteWorkoutID *string
	// CompletedActivityID references the activity matched against this workout.
	CompletedActivityID *string
	// SyncFault describes the last failure to apply or export this workout.
	SyncFault *string
}

// Category is the coarse category of the workout type.
func (w ScheduledWorkout) Category() workout.Category {
	return workout.CategoryOf(w.WorkoutType)
}

var (
	ErrNotFound  = errors.New("not found")
	ErrSlotTaken = errors.New("slot already scheduled")
)

// ConfigurationError reports a template that cannot produce a plan.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("plan configuration: %s", e.Reason)
}
