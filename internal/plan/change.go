package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/workout"
)

// ChangeType is the kind of plan modification.
type ChangeType string

const (
	ChangeVolume       ChangeType = "volume_change"
	ChangeFocusShift   ChangeType = "focus_shift"
	ChangeReschedule   ChangeType = "reschedule"
	ChangeDeload       ChangeType = "deload"
	ChangeExerciseSwap ChangeType = "exercise_swap"
)

// Valid reports whether t is a known change type.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeVolume, ChangeFocusShift, ChangeReschedule, ChangeDeload, ChangeExerciseSwap:
		return true
	}
	return false
}

// Change holds the parameters of a modification. Which fields are used depends on Type.
type Change struct {
	Type ChangeType `json:"type"`
	// Week is the 1-based plan week the change applies to.
	Week int `json:"week"`
	// WorkoutType restricts the change to one workout type or coarse category of the week.
	WorkoutType string `json:"workout_type,omitempty"`
	// Date selects a single workout for reschedule, formatted as YYYY-MM-DD.
	Date string `json:"date,omitempty"`
	// NewDate is the reschedule target, formatted as YYYY-MM-DD.
	NewDate string `json:"new_date,omitempty"`
	// Percent is the signed volume change, or the reduction of a deload.
	Percent float64 `json:"percent,omitempty"`
	// NewWorkoutType is the focus shift target.
	NewWorkoutType string `json:"new_workout_type,omitempty"`
	FromExercise   string `json:"from_exercise,omitempty"`
	ToExercise     string `json:"to_exercise,omitempty"`
}

// DefaultDeloadPercent is the volume reduction of a deload without an explicit percentage.
const DefaultDeloadPercent = 40

// ErrNoAffectedWorkouts is returned when a change matches no scheduled workout.
var ErrNoAffectedWorkouts = errors.New("no scheduled workout affected")

// Applier turns a Change into concrete mutations of scheduled workouts.
type Applier struct {
	// Template regenerates definitions for focus shifts.
	Template Template
	// DeloadPercent defaults to DefaultDeloadPercent.
	DeloadPercent float64
}

// Mutate returns mutated copies of the workouts affected by c. Only workouts with status scheduled are
// touched. plan is used to recompute week numbers and all holds every workout of the plan.
func (a Applier) Mutate(p Plan, all []ScheduledWorkout, c Change) ([]ScheduledWorkout, error) {
	if !c.Type.Valid() {
		return nil, fmt.Errorf("unknown change type %q", c.Type)
	}
	var targets []ScheduledWorkout
	for _, w := range all {
		if w.Week == c.Week && w.Status == StatusScheduled && matchesType(w, c.WorkoutType) {
			targets = append(targets, w)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%s in week %d: %w", c.Type, c.Week, ErrNoAffectedWorkouts)
	}

	switch c.Type {
	case ChangeVolume:
		if c.Percent == 0 || c.Percent <= -100 {
			return nil, fmt.Errorf("volume change of %v%% is not applicable", c.Percent)
		}
		return scaleAll(targets, 1+c.Percent/100), nil //nolint:mnd // percent.
	case ChangeDeload:
		reduction := a.DeloadPercent
		if c.Percent != 0 {
			reduction = max(c.Percent, -c.Percent)
		}
		if reduction == 0 {
			reduction = DefaultDeloadPercent
		}
		if reduction >= 100 { //nolint:mnd // percent.
			return nil, fmt.Errorf("deload of %v%% removes the workout", reduction)
		}
		return scaleAll(targets, 1-reduction/100), nil //nolint:mnd // percent.
	case ChangeReschedule:
		return reschedule(p, all, targets, c)
	case ChangeFocusShift:
		return a.focusShift(all, targets, c)
	case ChangeExerciseSwap:
		var swapped []ScheduledWorkout
		for _, w := range targets {
			if def, ok := workout.SwapExercise(w.Definition, c.FromExercise, c.ToExercise); ok {
				w.Definition = def
				swapped = append(swapped, w)
			}
		}
		if len(swapped) == 0 {
			return nil, fmt.Errorf("swap %q in week %d: %w", c.FromExercise, c.Week, ErrNoAffectedWorkouts)
		}
		return swapped, nil
	}
	return nil, fmt.Errorf("unknown change type %q", c.Type)
}

func matchesType(w ScheduledWorkout, workoutType string) bool {
	return workoutType == "" || w.WorkoutType == workoutType || string(w.Category()) == workoutType
}

func scaleAll(targets []ScheduledWorkout, factor float64) []ScheduledWorkout {
	for i := range targets {
		targets[i].Definition = workout.Scale(targets[i].Definition, factor)
	}
	return targets
}

func reschedule(p Plan, all, targets []ScheduledWorkout, c Change) ([]ScheduledWorkout, error) {
	if c.Date != "" {
		date, err := time.Parse(sqlite.DateFormat, c.Date)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		var onDate []ScheduledWorkout
		for _, w := range targets {
			if w.Date.Equal(date) {
				onDate = append(onDate, w)
			}
		}
		targets = onDate
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("reschedule needs exactly one workout, week %d matches %d: %w",
			c.Week, len(targets), ErrNoAffectedWorkouts)
	}
	newDate, err := time.Parse(sqlite.DateFormat, c.NewDate)
	if err != nil {
		return nil, fmt.Errorf("parse new date: %w", err)
	}
	w := targets[0]
	if newDate.Before(p.StartDate) {
		return nil, fmt.Errorf("new date %s is before the plan starts", c.NewDate)
	}
	if slotTaken(all, w.ID, newDate, w.WorkoutType) {
		return nil, fmt.Errorf("%s on %s: %w", w.WorkoutType, c.NewDate, ErrSlotTaken)
	}
	w.Date = newDate
	w.Week = WeekOf(p.StartDate, newDate)
	return []ScheduledWorkout{w}, nil
}

func (a Applier) focusShift(all, targets []ScheduledWorkout, c Change) ([]ScheduledWorkout, error) {
	if c.NewWorkoutType == "" {
		return nil, errors.New("focus shift without new workout type")
	}
	phase, slot, ok := a.Template.slotFor(c.Week, c.NewWorkoutType)
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no %s slot in the phase of week %d", c.NewWorkoutType, c.Week)}
	}
	def, err := slotDefinition(phase, slot, c.Week)
	if err != nil {
		return nil, err
	}
	shifted := make([]ScheduledWorkout, 0, len(targets))
	for _, w := range targets {
		if slotTaken(all, w.ID, w.Date, c.NewWorkoutType) {
			return nil, fmt.Errorf("%s on %s: %w", c.NewWorkoutType, w.Date.Format(sqlite.DateFormat), ErrSlotTaken)
		}
		w.WorkoutType = c.NewWorkoutType
		w.Definition = def
		shifted = append(shifted, w)
	}
	return shifted, nil
}

func slotTaken(all []ScheduledWorkout, exceptID string, date time.Time, workoutType string) bool {
	for _, other := range all {
		if other.ID != exceptID && other.Date.Equal(date) && other.WorkoutType == workoutType {
			return true
		}
	}
	return false
}
