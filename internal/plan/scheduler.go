package plan

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/workout"
)

//nolint:gochecknoglobals // namespace for deterministic workout ids.
var workoutNamespace = uuid.MustParse("5b0f2c7e-8f0e-4d0a-9b53-6b7f4ad1f1a2")

// WorkoutID derives a stable id from the workout's slot so that regenerating a plan yields identical ids.
func WorkoutID(planID string, date time.Time, workoutType string) string {
	name := fmt.Sprintf("%s/%s/%s", planID, date.Format(sqlite.DateFormat), workoutType)
	return uuid.NewSHA1(workoutNamespace, []byte(name)).String()
}

// Generate expands t into the dated workouts of weeks 1 through horizonWeeks starting at start.
//
// A slot's date is start + 7*(week-1) days plus the distance from start's weekday to the slot's weekday, so
// a plan starting on a Wednesday schedules Monday slots five days later. In test weeks the first slot of each
// category with a test protocol is replaced by that protocol and its workout type becomes "<category>_test".
// The output is deterministic and ordered by date and workout type.
func Generate(t Template, planID string, start time.Time, horizonWeeks int) ([]ScheduledWorkout, error) {
	if horizonWeeks < 1 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("horizon must be at least one week, got %d", horizonWeeks)}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	start = dateOnly(start)

	var workouts []ScheduledWorkout
	for week := 1; week <= horizonWeeks; week++ {
		phase, ok := t.phaseFor(week)
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no phase covers week %d", week)}
		}
		weekWorkouts, err := generateWeek(t, phase, planID, start, week)
		if err != nil {
			return nil, err
		}
		workouts = append(workouts, weekWorkouts...)
	}
	return workouts, nil
}

func generateWeek(t Template, phase Phase, planID string, start time.Time, week int) ([]ScheduledWorkout, error) {
	isTestWeek := slices.Contains(t.TestWeeks, week)

	slots := slices.Clone(phase.Slots)
	slices.SortStableFunc(slots, func(a, b Slot) int {
		return cmp.Or(
			cmp.Compare(weekdayOffset(start, a.Weekday), weekdayOffset(start, b.Weekday)),
			cmp.Compare(a.WorkoutType, b.WorkoutType),
		)
	})

	tested := make(map[workout.Category]bool)
	workouts := make([]ScheduledWorkout, 0, len(slots))
	for _, slot := range slots {
		date := start.AddDate(0, 0, 7*(week-1)+weekdayOffset(start, slot.Weekday))
		workoutType := slot.WorkoutType
		def, err := slotDefinition(phase, slot, week)
		if err != nil {
			return nil, err
		}

		category := workout.CategoryOf(workoutType)
		if protocol, ok := t.TestProtocols[category]; ok && isTestWeek && !tested[category] {
			tested[category] = true
			if def, err = protocol.Definition(); err != nil {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("test protocol %s: %v", category, err)}
			}
			workoutType = string(category) + "_test"
		}

		workouts = append(workouts, ScheduledWorkout{
			ID:                  WorkoutID(planID, date, workoutType),
			PlanID:              planID,
			Date:                date,
			Week:                week,
			WorkoutType:         workoutType,
			Definition:          def,
			Status:              StatusScheduled,
			IsTestWeek:          isTestWeek,
			RemoteWorkoutID:     nil,
			CompletedActivityID: nil,
			SyncFault:           nil,
		})
	}
	return workouts, nil
}

// slotDefinition instantiates slot for week, applying progression by week in phase and the phase volume.
func slotDefinition(phase Phase, slot Slot, week int) (workout.Definition, error) {
	def, err := slot.Base.Definition()
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("slot %s: %v", slot.WorkoutType, err)}
	}
	def = workout.Progress(def, slot.Progression, week-phase.StartWeek)
	if phase.VolumePercent > 0 && phase.VolumePercent != 100 { //nolint:mnd // percent.
		def = workout.Scale(def, float64(phase.VolumePercent)/100) //nolint:mnd // percent.
	}
	return def, nil
}

func weekdayOffset(start time.Time, weekday Weekday) int {
	return (int(weekday) - int(start.Weekday()) + 7) % 7 //nolint:mnd // days in week.
}

// WeekOf returns the 1-based plan week containing date.
func WeekOf(start, date time.Time) int {
	days := int(dateOnly(date).Sub(dateOnly(start)).Hours() / 24) //nolint:mnd // hours in day.
	if days < 0 {
		return 0
	}
	return days/7 + 1 //nolint:mnd // days in week.
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
