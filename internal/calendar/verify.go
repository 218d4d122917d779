package calendar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/myrjola/coach/internal/workout"
)

// DriftError reports a remote payload that no longer matches its definition.
type DriftError struct {
	// Path locates the offending step, e.g. "segment 1/step 2/step 1".
	Path   string
	Reason string
}

func (e *DriftError) Error() string {
	if e.Path == "" {
		return "drift: " + e.Reason
	}
	return fmt.Sprintf("drift at %s: %s", e.Path, e.Reason)
}

// Verify re-reads payload against a fresh serialization of def. Strength steps have to be reps-bounded inside
// repeat groups, cardio warmups and cooldowns have to be time-bounded and the step shape has to be unchanged.
// A definition that cannot be serialized is returned as a SerializationError, any mismatch as a DriftError.
func Verify(payload Payload, def workout.Definition) error {
	fresh, err := Serialize(def)
	if err != nil {
		return err
	}

	var errs []error
	for i, seg := range payload.WorkoutSegments {
		walk(seg.WorkoutSteps, fmt.Sprintf("segment %d", i+1), false, func(path string, s Step, inRepeat bool) {
			if reason := ruleViolation(def.Kind(), s, inRepeat); reason != "" {
				errs = append(errs, &DriftError{Path: path, Reason: reason})
			}
		})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if payload.SportType.SportTypeID != fresh.SportType.SportTypeID {
		return &DriftError{
			Path:   "",
			Reason: fmt.Sprintf("sport %d, want %d", payload.SportType.SportTypeID, fresh.SportType.SportTypeID),
		}
	}
	if len(payload.WorkoutSegments) != len(fresh.WorkoutSegments) {
		return &DriftError{
			Path:   "",
			Reason: fmt.Sprintf("%d segments, want %d", len(payload.WorkoutSegments), len(fresh.WorkoutSegments)),
		}
	}
	for i := range fresh.WorkoutSegments {
		path := fmt.Sprintf("segment %d", i+1)
		if err = sameSteps(path, payload.WorkoutSegments[i].WorkoutSteps, fresh.WorkoutSegments[i].WorkoutSteps); err != nil {
			return err
		}
	}
	return nil
}

func walk(steps []Step, path string, inRepeat bool, visit func(path string, s Step, inRepeat bool)) {
	for i, s := range steps {
		p := fmt.Sprintf("%s/step %d", path, i+1)
		visit(p, s, inRepeat)
		if s.IsRepeat() {
			walk(s.WorkoutSteps, p, true, visit)
		}
	}
}

func ruleViolation(kind workout.Kind, s Step, inRepeat bool) string {
	if s.IsRepeat() {
		return ""
	}
	condition := 0
	if s.EndCondition != nil {
		condition = s.EndCondition.ConditionTypeID
	}
	switch kind {
	case workout.KindLift:
		if condition == ConditionLapButton {
			return "strength step ends on lap button instead of reps"
		}
		if condition == ConditionReps && !inRepeat {
			return "strength sets flattened out of their repeat group"
		}
	case workout.KindCardioInterval:
		id := s.StepType.StepTypeID
		if (id == StepWarmup || id == StepCooldown) && condition != ConditionTime {
			return fmt.Sprintf("%s is not time-bounded", stepKeys[id])
		}
	case workout.KindSwim:
	}
	return ""
}

func sameSteps(path string, got, want []Step) error {
	if len(got) != len(want) {
		return &DriftError{Path: path, Reason: fmt.Sprintf("%d steps, want %d", len(got), len(want))}
	}
	for i := range want {
		p := fmt.Sprintf("%s/step %d", path, i+1)
		if diff := stepDiff(got[i], want[i]); diff != "" {
			return &DriftError{Path: p, Reason: diff}
		}
		if want[i].IsRepeat() {
			if err := sameSteps(p, got[i].WorkoutSteps, want[i].WorkoutSteps); err != nil {
				return err
			}
		}
	}
	return nil
}

// stepDiff compares the executable shape of two steps, ignoring order numbers and descriptions.
func stepDiff(got, want Step) string {
	var diffs []string
	if got.Type != want.Type {
		diffs = append(diffs, fmt.Sprintf("type %s, want %s", got.Type, want.Type))
	}
	if got.StepType.StepTypeID != want.StepType.StepTypeID {
		diffs = append(diffs, fmt.Sprintf("step type %d, want %d", got.StepType.StepTypeID, want.StepType.StepTypeID))
	}
	if want.IsRepeat() {
		if got.NumberOfIterations != want.NumberOfIterations {
			diffs = append(diffs, fmt.Sprintf("%d iterations, want %d", got.NumberOfIterations, want.NumberOfIterations))
		}
		return strings.Join(diffs, ", ")
	}
	gotCondition, wantCondition := 0, 0
	if got.EndCondition != nil {
		gotCondition = got.EndCondition.ConditionTypeID
	}
	if want.EndCondition != nil {
		wantCondition = want.EndCondition.ConditionTypeID
	}
	if gotCondition != wantCondition {
		diffs = append(diffs, fmt.Sprintf("end condition %d, want %d", gotCondition, wantCondition))
	}
	if got.EndConditionValue != want.EndConditionValue {
		diffs = append(diffs, fmt.Sprintf("value %g, want %g", got.EndConditionValue, want.EndConditionValue))
	}
	return strings.Join(diffs, ", ")
}
