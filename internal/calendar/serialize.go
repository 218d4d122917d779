package calendar

import (
	"fmt"
	"time"

	"github.com/myrjola/coach/internal/workout"
)

// SerializationError reports a definition that cannot be expressed in the wire format.
type SerializationError struct {
	Title string
	// Block is the 1-based block index, zero when the definition as a whole is at fault.
	Block  int
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Block == 0 {
		return fmt.Sprintf("serialize %q: %s", e.Title, e.Reason)
	}
	return fmt.Sprintf("serialize %q: block %d: %s", e.Title, e.Block, e.Reason)
}

// Serialize lays the definition out as one segment of steps. Each block produces steps from the first of its
// fields that is set, in the order strides, duration, sets with reps and distance.
func Serialize(def workout.Definition) (Payload, error) {
	if def == nil {
		return Payload{}, &SerializationError{Title: "", Block: 0, Reason: "no definition"}
	}
	blocks := def.Blocks()
	if len(blocks) == 0 {
		return Payload{}, &SerializationError{Title: def.Title(), Block: 0, Reason: "no blocks"}
	}

	sport := sportOf(def)
	order := 0
	next := func() int {
		order++
		return order
	}
	steps := make([]Step, 0, len(blocks))
	for i, b := range blocks {
		step, err := blockStep(b, next)
		if err != nil {
			return Payload{}, &SerializationError{Title: def.Title(), Block: i + 1, Reason: err.Error()}
		}
		steps = append(steps, step)
	}

	return Payload{
		WorkoutID:               "",
		WorkoutName:             def.Title(),
		Description:             "",
		SportType:               sportType(sport),
		EstimatedDurationInSecs: int(def.PlannedDuration() / time.Second),
		PoolLength:              0,
		PoolLengthUnit:          nil,
		WorkoutSegments: []Segment{{
			SegmentOrder: 1,
			SportType:    sportType(sport),
			WorkoutSteps: steps,
		}},
	}, nil
}

// Check reports whether def can be serialized.
func Check(def workout.Definition) error {
	_, err := Serialize(def)
	return err
}

func sportOf(def workout.Definition) int {
	switch d := def.(type) {
	case workout.Swim:
		return SportSwimming
	case workout.Lift:
		return SportStrengthTraining
	case workout.CardioInterval:
		switch d.Sport {
		case workout.SportRun:
			return SportRunning
		case workout.SportBike:
			return SportCycling
		case workout.SportOther:
			return SportCardioTraining
		}
		return SportCardioTraining
	}
	return SportOther
}

func blockStep(b workout.Block, next func() int) (Step, error) {
	switch {
	case b.Strides != nil:
		s := b.Strides
		if s.Count <= 0 || s.Work <= 0 {
			return Step{}, fmt.Errorf("strides need a count and a work duration, got %d x %s", s.Count, s.Work)
		}
		group := repeat(next(), b.Description, s.Count)
		group.WorkoutSteps = append(group.WorkoutSteps,
			executable(next(), StepInterval, "", ConditionTime, s.Work.Seconds()))
		if s.Recovery > 0 {
			group.WorkoutSteps = append(group.WorkoutSteps,
				executable(next(), StepRecovery, "", ConditionTime, s.Recovery.Seconds()))
		}
		return group, nil
	case b.Duration > 0:
		return executable(next(), stepTypeID(b.StepType), b.Description, ConditionTime, b.Duration.Seconds()), nil
	case b.Sets > 0:
		if b.Reps <= 0 {
			return Step{}, fmt.Errorf("%d sets without reps", b.Sets)
		}
		group := repeat(next(), b.Description, b.Sets)
		group.WorkoutSteps = []Step{
			executable(next(), stepTypeID(b.StepType), b.Description, ConditionReps, float64(b.Reps)),
		}
		return group, nil
	case b.Distance > 0:
		return executable(next(), stepTypeID(b.StepType), b.Description, ConditionDistance, b.Distance), nil
	}
	return Step{}, fmt.Errorf("no step-producing field in %q", b.Description)
}

func repeat(order int, description string, iterations int) Step {
	return Step{
		Type:               TypeRepeatGroup,
		StepOrder:          order,
		StepType:           stepType(StepRepeat),
		Description:        description,
		EndCondition:       nil,
		EndConditionValue:  0,
		NumberOfIterations: iterations,
		WorkoutSteps:       nil,
	}
}

func executable(order int, stepTypeID int, description string, condition int, value float64) Step {
	return Step{
		Type:               TypeExecutable,
		StepOrder:          order,
		StepType:           stepType(stepTypeID),
		Description:        description,
		EndCondition:       conditionType(condition),
		EndConditionValue:  value,
		NumberOfIterations: 0,
		WorkoutSteps:       nil,
	}
}

func stepTypeID(t workout.StepType) int {
	switch t {
	case workout.StepWarmup:
		return StepWarmup
	case workout.StepCooldown:
		return StepCooldown
	case workout.StepRecovery:
		return StepRecovery
	case workout.StepRest:
		return StepRest
	case workout.StepInterval:
		return StepInterval
	}
	return StepInterval
}
