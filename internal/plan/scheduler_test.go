package plan_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/workout"
)

func date(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func swimLiftTemplate() plan.Template {
	return plan.Template{
		Name: "swim and lift",
		Phases: []plan.Phase{{
			Name:      "base",
			StartWeek: 1,
			EndWeek:   4,
			Slots: []plan.Slot{
				{
					Weekday:     plan.Weekday(time.Wednesday),
					WorkoutType: "lift_a",
					Base: workout.Document{
						Kind:      workout.KindLift,
						Name:      "Lift A",
						Exercises: []workout.ExerciseDoc{{Name: "Squat", Sets: 3, Reps: 8}},
					},
				},
				{
					Weekday:     plan.Weekday(time.Monday),
					WorkoutType: "swim_a",
					Base:        workout.Document{Kind: workout.KindSwim, Name: "Swim A", Duration: "45m"},
					Progression: workout.Progression{Duration: 5 * time.Minute},
				},
			},
		}},
		TestWeeks: []int{2},
		TestProtocols: map[workout.Category]workout.Document{
			workout.CategorySwim: {Kind: workout.KindSwim, Name: "Swim test", Distance: 400},
		},
	}
}

func TestGenerate_oneWeek(t *testing.T) {
	got, err := plan.Generate(swimLiftTemplate(), "p1", date("2026-01-19"), 1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 workouts, got %d", len(got))
	}
	want := []struct {
		date        string
		workoutType string
	}{{"2026-01-19", "swim_a"}, {"2026-01-21", "lift_a"}}
	for i, w := range want {
		if d := got[i].Date.Format(time.DateOnly); d != w.date || got[i].WorkoutType != w.workoutType {
			t.Errorf("workout %d = %s %s, want %s %s", i, d, got[i].WorkoutType, w.date, w.workoutType)
		}
		if got[i].Status != plan.StatusScheduled || got[i].IsTestWeek {
			t.Errorf("workout %d status = %s, test week = %v", i, got[i].Status, got[i].IsTestWeek)
		}
	}
	if d := got[0].Definition.PlannedDuration(); d != 45*time.Minute {
		t.Errorf("swim duration = %v, want 45m", d)
	}
}

func TestGenerate_deterministic(t *testing.T) {
	start := date("2026-01-19")
	first, err := plan.Generate(plan.ReferenceTemplate(), "p1", start, 24)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := plan.Generate(plan.ReferenceTemplate(), "p1", start, 24)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("generation is not deterministic (-first +second):\n%s", diff)
	}
	for i := range first {
		a, _ := workout.Marshal(first[i].Definition)
		b, _ := workout.Marshal(second[i].Definition)
		if string(a) != string(b) || first[i].ID != second[i].ID {
			t.Errorf("workout %d differs: %s vs %s", i, a, b)
		}
	}
}

func TestGenerate_testWeekSubstitution(t *testing.T) {
	workouts, err := plan.Generate(swimLiftTemplate(), "p1", date("2026-01-19"), 2)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var week2 []plan.ScheduledWorkout
	for _, w := range workouts {
		if w.Week == 2 {
			week2 = append(week2, w)
		}
	}
	if len(week2) != 2 {
		t.Fatalf("expected 2 workouts in week 2, got %d", len(week2))
	}
	swim := week2[0]
	if swim.WorkoutType != "swim_test" || !swim.IsTestWeek {
		t.Errorf("week 2 swim = %s, test week %v", swim.WorkoutType, swim.IsTestWeek)
	}
	want := workout.Swim{Name: "Swim test", Distance: 400}
	if diff := cmp.Diff(workout.Definition(want), swim.Definition); diff != "" {
		t.Errorf("week 2 swim is not the test protocol (-want +got):\n%s", diff)
	}
	if lift := week2[1]; lift.WorkoutType != "lift_a" || !lift.IsTestWeek {
		t.Errorf("lift without protocol = %s, test week %v", lift.WorkoutType, lift.IsTestWeek)
	}
}

func TestGenerate_progressionAndStartWeekday(t *testing.T) {
	// A Wednesday start puts the Monday slot at the end of each plan week.
	workouts, err := plan.Generate(swimLiftTemplate(), "p1", date("2026-01-21"), 3)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var swims []plan.ScheduledWorkout
	for _, w := range workouts {
		if w.Category() == workout.CategorySwim && !w.IsTestWeek {
			swims = append(swims, w)
		}
	}
	if len(swims) != 2 {
		t.Fatalf("expected 2 regular swims, got %d", len(swims))
	}
	if d := swims[0].Date.Format(time.DateOnly); d != "2026-01-26" {
		t.Errorf("first swim on %s, want 2026-01-26", d)
	}
	if d := swims[1].Definition.PlannedDuration(); d != 55*time.Minute {
		t.Errorf("week 3 swim = %v, want 55m after two progressions", d)
	}
}

func TestGenerate_configurationErrors(t *testing.T) {
	overlapping := swimLiftTemplate()
	overlapping.Phases = append(overlapping.Phases, plan.Phase{Name: "build", StartWeek: 4, EndWeek: 8})

	badDefinition := swimLiftTemplate()
	badDefinition.Phases[0].Slots[0].Base.Kind = "yoga"

	tests := []struct {
		name    string
		tmpl    plan.Template
		horizon int
	}{
		{name: "week beyond last phase", tmpl: swimLiftTemplate(), horizon: 5},
		{name: "overlapping phases", tmpl: overlapping, horizon: 1},
		{name: "bad definition", tmpl: badDefinition, horizon: 1},
		{name: "empty horizon", tmpl: swimLiftTemplate(), horizon: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plan.Generate(tt.tmpl, "p1", date("2026-01-19"), tt.horizon)
			var configErr *plan.ConfigurationError
			if !errors.As(err, &configErr) {
				t.Errorf("Generate() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestReferenceTemplate(t *testing.T) {
	workouts, err := plan.Generate(plan.ReferenceTemplate(), "p1", date("2026-01-19"), 24)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	testWeeks := map[int]bool{}
	for _, w := range workouts {
		if w.IsTestWeek {
			testWeeks[w.Week] = true
		}
	}
	if diff := cmp.Diff(map[int]bool{2: true, 12: true, 24: true}, testWeeks); diff != "" {
		t.Errorf("test weeks mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTemplate(t *testing.T) {
	tmpl, err := plan.ParseTemplate([]byte(`
name: short
phases:
  - name: only
    start_week: 1
    end_week: 1
    slots:
      - weekday: tue
        workout_type: run
        base: {kind: cardio_interval, warmup: 10m, steady: 30m, cooldown: 5m}
`))
	if err != nil {
		t.Fatalf("ParseTemplate() error = %v", err)
	}
	workouts, err := plan.Generate(tmpl, "p1", date("2026-01-19"), 1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(workouts) != 1 || workouts[0].Date.Format(time.DateOnly) != "2026-01-20" {
		t.Fatalf("unexpected workouts %+v", workouts)
	}

	if _, err = plan.ParseTemplate([]byte("phases:\n  - slots:\n      - weekday: someday\n")); err == nil {
		t.Error("expected unknown weekday to fail")
	}
	if _, err = plan.ParseTemplate([]byte("unknown_key: 1\n")); err == nil {
		t.Error("expected unknown field to fail")
	}
}
