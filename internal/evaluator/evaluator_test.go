package evaluator_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/evaluator"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/testhelpers"
	"github.com/myrjola/coach/internal/workout"
	"github.com/openai/openai-go/v3/option"
)

func TestNewSummary(t *testing.T) {
	from := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	res := adherence.Result{
		Window: adherence.Days(from, 7),
		Overall: adherence.Stats{
			Scheduled:       2,
			Completed:       1,
			Adherence:       ptr.Ref(0.5),
			PlannedVolume:   80 * time.Minute,
			CompletedVolume: 50 * time.Minute,
		},
		Categories: map[workout.Category]adherence.Stats{
			workout.CategoryStrength: {Scheduled: 1, Completed: 0, Adherence: ptr.Ref(0.0), PlannedVolume: 35 * time.Minute},
			workout.CategorySwim: {
				Scheduled: 1, Completed: 1, Adherence: ptr.Ref(1.0),
				PlannedVolume: 45 * time.Minute, CompletedVolume: 50 * time.Minute,
			},
		},
	}
	upcoming := []plan.ScheduledWorkout{{
		ID:          "w1",
		Date:        time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		Week:        2,
		WorkoutType: "swim_a",
		Definition:  workout.Swim{Name: "Endurance swim", Duration: 45 * time.Minute},
		Status:      plan.StatusScheduled,
	}}

	got := evaluator.NewSummary(res, 1, upcoming)
	want := evaluator.Summary{
		From:           "2026-01-12",
		To:             "2026-01-19",
		CurrentWeek:    1,
		Adherence:      ptr.Ref(0.5),
		VolumeDeltaMin: -30,
		Categories: []evaluator.CategorySummary{
			{Category: workout.CategoryStrength, Scheduled: 1, Adherence: ptr.Ref(0.0), PlannedMin: 35},
			{Category: workout.CategorySwim, Scheduled: 1, Completed: 1, Adherence: ptr.Ref(1.0), PlannedMin: 45, CompletedMin: 50},
		},
		Upcoming: []evaluator.UpcomingWorkout{
			{Date: "2026-01-20", Week: 2, WorkoutType: "swim_a", Title: "Endurance swim", PlannedMin: 45},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewSummary() mismatch (-want +got):\n%s", diff)
	}
}

func TestHeuristic_Evaluate(t *testing.T) {
	tests := []struct {
		name  string
		input evaluator.Input
		want  []plan.Change
		recs  string
	}{
		{
			name: "on track",
			input: evaluator.Input{
				Summary: evaluator.Summary{CurrentWeek: 2, Adherence: ptr.Ref(0.9)},
			},
			want: nil,
			recs: "Keep following the plan.",
		},
		{
			name: "recurring missed lifts",
			input: evaluator.Input{
				Summary: evaluator.Summary{
					CurrentWeek: 2,
					Adherence:   ptr.Ref(0.8),
					Patterns: []adherence.Pattern{
						{Category: workout.CategoryStrength, Occurrences: 4, Missed: 3, Adherence: 0.25},
					},
				},
			},
			want: []plan.Change{{Type: plan.ChangeVolume, Week: 3, WorkoutType: "strength", Percent: -20}},
			recs: "strength",
		},
		{
			name: "poor sleep",
			input: evaluator.Input{
				Wellness: &athlete.Wellness{SleepHours: ptr.Ref(5.0)},
				Summary:  evaluator.Summary{CurrentWeek: 4, Adherence: ptr.Ref(0.9)},
			},
			want: []plan.Change{{Type: plan.ChangeDeload, Week: 5}},
			recs: "sleep",
		},
		{
			name: "low adherence",
			input: evaluator.Input{
				Summary: evaluator.Summary{CurrentWeek: 1, Adherence: ptr.Ref(0.25)},
			},
			want: []plan.Change{{Type: plan.ChangeDeload, Week: 2}},
			recs: "adherence",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.DefaultHeuristic().Evaluate(t.Context(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			var changes []plan.Change
			for _, m := range got.Modifications {
				if m.Type != m.Change.Type || m.Week != m.Change.Week {
					t.Errorf("modification %+v disagrees with its change", m)
				}
				changes = append(changes, m.Change)
			}
			if diff := cmp.Diff(tt.want, changes); diff != "" {
				t.Errorf("changes mismatch (-want +got):\n%s", diff)
			}
			if !strings.Contains(got.Recommendations, tt.recs) {
				t.Errorf("recommendations %q do not mention %q", got.Recommendations, tt.recs)
			}
			if !strings.HasPrefix(got.Insights, "## Adherence") {
				t.Errorf("insights = %q", got.Insights)
			}
		})
	}
}

func TestStatic_Evaluate(t *testing.T) {
	want := evaluator.Result{Insights: "fine", Recommendations: "none"}
	got, err := evaluator.Static{Result: want}.Evaluate(t.Context(), evaluator.Input{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAI_Evaluate(t *testing.T) {
	content, err := json.Marshal(map[string]any{
		"insights":        "Swims are on track.",
		"recommendations": "Sleep more.",
		"modifications": []map[string]any{
			{
				"type": "deload", "week": 3, "description": "Deload week 3", "reason": "Poor sleep",
				"priority": "high", "workout_type": "", "date": "", "new_date": "", "percent": 30,
				"new_workout_type": "", "from_exercise": "", "to_exercise": "",
			},
			{
				"type": "teleport", "week": 3, "description": "?", "reason": "?", "priority": "high",
				"workout_type": "", "date": "", "new_date": "", "percent": 0,
				"new_workout_type": "", "from_exercise": "", "to_exercise": "",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}

	var request map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &request)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1768780800,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"logprobs":      nil,
				"message":       map[string]any{"role": "assistant", "content": string(content), "refusal": nil},
			}},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160},
		})
	}))
	t.Cleanup(srv.Close)

	eval := evaluator.NewOpenAI("test-key", "", testhelpers.TestLogger(t),
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	got, err := eval.Evaluate(t.Context(), evaluator.Input{
		Athlete: athlete.Athlete{ID: "a1", Name: "Ada"},
		Summary: evaluator.Summary{CurrentWeek: 2},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	want := evaluator.Result{
		Insights:        "Swims are on track.",
		Recommendations: "Sleep more.",
		Modifications: []review.Modification{{
			Type:        plan.ChangeDeload,
			Week:        3,
			Description: "Deload week 3",
			Reason:      "Poor sleep",
			Priority:    review.PriorityHigh,
			Status:      review.StatusPending,
			Change:      plan.Change{Type: plan.ChangeDeload, Week: 3, Percent: 30},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}

	format, _ := request["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format = %v, want json_schema", request["response_format"])
	}
	messages, _ := request["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user message, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	if text, _ := user["content"].(string); !strings.Contains(text, `"current_week":2`) {
		t.Errorf("user message %v does not carry the summary", user["content"])
	}
}

func TestOpenAI_Evaluate_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	eval := evaluator.NewOpenAI("test-key", "gpt-4o", testhelpers.TestLogger(t),
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	if _, err := eval.Evaluate(t.Context(), evaluator.Input{}); err == nil {
		t.Fatal("expected error")
	}
}
