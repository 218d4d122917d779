package calendar_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/workout"
)

func squats() workout.Lift {
	return workout.Lift{
		Name:      "Lift A",
		Exercises: []workout.Exercise{{Name: "Squat", Sets: 3, Reps: 8, WeightKg: 60}},
	}
}

func strides() workout.CardioInterval {
	return workout.CardioInterval{
		Name:      "Strides",
		Sport:     workout.SportRun,
		Warmup:    10 * time.Minute,
		Intervals: &workout.Strides{Count: 6, Work: 30 * time.Second, Recovery: 90 * time.Second},
		Cooldown:  5 * time.Minute,
	}
}

// shape flattens steps to a compact description for comparisons.
type shape struct {
	Type       string
	StepType   int
	Condition  int
	Value      float64
	Iterations int
	Children   []shape
}

func shapeOf(steps []calendar.Step) []shape {
	var shapes []shape
	for _, s := range steps {
		sh := shape{Type: s.Type, StepType: s.StepType.StepTypeID, Value: s.EndConditionValue, Iterations: s.NumberOfIterations}
		if s.EndCondition != nil {
			sh.Condition = s.EndCondition.ConditionTypeID
		}
		sh.Children = shapeOf(s.WorkoutSteps)
		shapes = append(shapes, sh)
	}
	return shapes
}

func TestSerialize(t *testing.T) {
	tests := []struct {
		name  string
		def   workout.Definition
		sport int
		want  []shape
	}{
		{
			name:  "sets become a repeat group of reps",
			def:   squats(),
			sport: calendar.SportStrengthTraining,
			want: []shape{{
				Type: calendar.TypeRepeatGroup, StepType: calendar.StepRepeat, Iterations: 3,
				Children: []shape{{
					Type: calendar.TypeExecutable, StepType: calendar.StepInterval,
					Condition: calendar.ConditionReps, Value: 8,
				}},
			}},
		},
		{
			name:  "strides take priority over duration",
			def:   strides(),
			sport: calendar.SportRunning,
			want: []shape{
				{Type: calendar.TypeExecutable, StepType: calendar.StepWarmup, Condition: calendar.ConditionTime, Value: 600},
				{
					Type: calendar.TypeRepeatGroup, StepType: calendar.StepRepeat, Iterations: 6,
					Children: []shape{
						{Type: calendar.TypeExecutable, StepType: calendar.StepInterval, Condition: calendar.ConditionTime, Value: 30},
						{Type: calendar.TypeExecutable, StepType: calendar.StepRecovery, Condition: calendar.ConditionTime, Value: 90},
					},
				},
				{Type: calendar.TypeExecutable, StepType: calendar.StepCooldown, Condition: calendar.ConditionTime, Value: 300},
			},
		},
		{
			name:  "duration takes priority over distance",
			def:   workout.Swim{Name: "Swim A", Stroke: "freestyle", Duration: 45 * time.Minute, Distance: 2000},
			sport: calendar.SportSwimming,
			want: []shape{
				{Type: calendar.TypeExecutable, StepType: calendar.StepInterval, Condition: calendar.ConditionTime, Value: 2700},
			},
		},
		{
			name: "distance segments",
			def: workout.Swim{Name: "Test", Segments: []workout.SwimSegment{
				{Description: "Warmup", StepType: workout.StepWarmup, Distance: 200},
				{Description: "400m time trial", Distance: 400},
			}},
			sport: calendar.SportSwimming,
			want: []shape{
				{Type: calendar.TypeExecutable, StepType: calendar.StepWarmup, Condition: calendar.ConditionDistance, Value: 200},
				{Type: calendar.TypeExecutable, StepType: calendar.StepInterval, Condition: calendar.ConditionDistance, Value: 400},
			},
		},
		{
			name: "steady cardio on a bike",
			def: workout.CardioInterval{
				Sport: workout.SportBike, Steady: 40 * time.Minute,
			},
			sport: calendar.SportCycling,
			want: []shape{
				{Type: calendar.TypeExecutable, StepType: calendar.StepInterval, Condition: calendar.ConditionTime, Value: 2400},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calendar.Serialize(tt.def)
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if got.SportType.SportTypeID != tt.sport {
				t.Errorf("sport = %d, want %d", got.SportType.SportTypeID, tt.sport)
			}
			if got.WorkoutName != tt.def.Title() {
				t.Errorf("name = %q, want %q", got.WorkoutName, tt.def.Title())
			}
			if len(got.WorkoutSegments) != 1 {
				t.Fatalf("expected one segment, got %d", len(got.WorkoutSegments))
			}
			if diff := cmp.Diff(tt.want, shapeOf(got.WorkoutSegments[0].WorkoutSteps)); diff != "" {
				t.Errorf("steps mismatch (-want +got):\n%s", diff)
			}
			if err = calendar.Verify(got, tt.def); err != nil {
				t.Errorf("Verify() of fresh payload error = %v", err)
			}
		})
	}
}

func TestSerialize_stepOrder(t *testing.T) {
	got, err := calendar.Serialize(strides())
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	steps := got.WorkoutSegments[0].WorkoutSteps
	orders := []int{steps[0].StepOrder, steps[1].StepOrder, steps[1].WorkoutSteps[0].StepOrder,
		steps[1].WorkoutSteps[1].StepOrder, steps[2].StepOrder}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, orders); diff != "" {
		t.Errorf("step orders mismatch (-want +got):\n%s", diff)
	}
	if got.EstimatedDurationInSecs != 1620 {
		t.Errorf("estimated duration = %d, want 1620", got.EstimatedDurationInSecs)
	}
}

func TestSerialize_errors(t *testing.T) {
	tests := []struct {
		name  string
		def   workout.Definition
		block int
	}{
		{name: "empty exercise", def: workout.Lift{Name: "Lift", Exercises: []workout.Exercise{{Name: "Squat"}}}, block: 1},
		{name: "sets without reps", def: workout.Lift{Exercises: []workout.Exercise{
			{Name: "Squat", Sets: 3, Reps: 8}, {Name: "Row", Sets: 3},
		}}, block: 2},
		{name: "no blocks", def: workout.Lift{Name: "Lift"}, block: 0},
		{name: "nil", def: nil, block: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calendar.Serialize(tt.def)
			var serErr *calendar.SerializationError
			if !errors.As(err, &serErr) {
				t.Fatalf("Serialize() error = %v, want SerializationError", err)
			}
			if serErr.Block != tt.block {
				t.Errorf("block = %d, want %d", serErr.Block, tt.block)
			}
			if calendar.Check(tt.def) == nil {
				t.Error("Check() accepted the definition")
			}
		})
	}
}

func TestPayload_WithPool(t *testing.T) {
	swim, err := calendar.Serialize(workout.Swim{Duration: 30 * time.Minute})
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if got := swim.WithPool(25); got.PoolLength != 25 || got.PoolLengthUnit == nil {
		t.Errorf("swim pool = %v %v", got.PoolLength, got.PoolLengthUnit)
	}
	lift, err := calendar.Serialize(squats())
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if got := lift.WithPool(25); got.PoolLength != 0 {
		t.Errorf("lift pool = %v, want 0", got.PoolLength)
	}
}

func TestVerify(t *testing.T) {
	mutate := func(def workout.Definition, fn func(p *calendar.Payload)) calendar.Payload {
		t.Helper()
		p, err := calendar.Serialize(def)
		if err != nil {
			t.Fatalf("Serialize() error = %v", err)
		}
		// Round trip through JSON to work on a deep copy, like a payload read back from the remote.
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var remote calendar.Payload
		if err = json.Unmarshal(data, &remote); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		fn(&remote)
		return remote
	}

	tests := []struct {
		name    string
		def     workout.Definition
		payload calendar.Payload
		drift   bool
	}{
		{
			name:    "remote copy with ids verifies",
			def:     squats(),
			payload: mutate(squats(), func(p *calendar.Payload) { p.WorkoutID = "123" }),
			drift:   false,
		},
		{
			name: "lap button in strength",
			def:  squats(),
			payload: mutate(squats(), func(p *calendar.Payload) {
				child := &p.WorkoutSegments[0].WorkoutSteps[0].WorkoutSteps[0]
				child.EndCondition = &calendar.ConditionType{ConditionTypeID: calendar.ConditionLapButton}
				child.EndConditionValue = 0
			}),
			drift: true,
		},
		{
			name: "flattened sets",
			def:  squats(),
			payload: mutate(squats(), func(p *calendar.Payload) {
				steps := p.WorkoutSegments[0].WorkoutSteps
				p.WorkoutSegments[0].WorkoutSteps = steps[0].WorkoutSteps
			}),
			drift: true,
		},
		{
			name: "warmup on lap button",
			def:  strides(),
			payload: mutate(strides(), func(p *calendar.Payload) {
				p.WorkoutSegments[0].WorkoutSteps[0].EndCondition = &calendar.ConditionType{
					ConditionTypeID: calendar.ConditionLapButton,
				}
			}),
			drift: true,
		},
		{
			name: "changed iterations",
			def:  strides(),
			payload: mutate(strides(), func(p *calendar.Payload) {
				p.WorkoutSegments[0].WorkoutSteps[1].NumberOfIterations = 4
			}),
			drift: true,
		},
		{
			name: "missing cooldown",
			def:  strides(),
			payload: mutate(strides(), func(p *calendar.Payload) {
				p.WorkoutSegments[0].WorkoutSteps = p.WorkoutSegments[0].WorkoutSteps[:2]
			}),
			drift: true,
		},
		{
			name:    "stale definition",
			def:     workout.Scale(squats(), 1.5),
			payload: mutate(squats(), func(*calendar.Payload) {}),
			drift:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := calendar.Verify(tt.payload, tt.def)
			var drift *calendar.DriftError
			if got := errors.As(err, &drift); got != tt.drift {
				t.Errorf("Verify() error = %v, want drift %v", err, tt.drift)
			}
		})
	}
}
