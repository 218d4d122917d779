package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/review"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI asks a chat completion model for a structured evaluation.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an evaluator using model. Extra options such as option.WithBaseURL are passed to the client.
func NewOpenAI(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{client: openai.NewClient(opts...), model: model, logger: logger}
}

const systemPrompt = `You are an endurance and strength coach reviewing an athlete's training plan.
You get the athlete's goals, the latest wellness readings, the adherence of the last weeks and the upcoming
workouts as JSON. Write short markdown insights and recommendations and propose at most three plan
modifications. Only propose changes for weeks listed in the upcoming workouts. Use percent for volume_change
(signed) and deload (reduction), new_date (YYYY-MM-DD) for reschedule, new_workout_type for focus_shift and
from_exercise/to_exercise for exercise_swap. Leave unused fields empty.`

// evaluation is the JSON document the model is asked to produce.
type evaluation struct {
	Insights        string                 `json:"insights"`
	Recommendations string                 `json:"recommendations"`
	Modifications   []proposedModification `json:"modifications"`
}

type proposedModification struct {
	Type           string  `json:"type"`
	Week           int     `json:"week"`
	Description    string  `json:"description"`
	Reason         string  `json:"reason"`
	Priority       string  `json:"priority"`
	WorkoutType    string  `json:"workout_type"`
	Date           string  `json:"date"`
	NewDate        string  `json:"new_date"`
	Percent        float64 `json:"percent"`
	NewWorkoutType string  `json:"new_workout_type"`
	FromExercise   string  `json:"from_exercise"`
	ToExercise     string  `json:"to_exercise"`
}

func evaluationSchema() map[string]any {
	str := map[string]any{"type": "string"}
	modification := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []string{
					string(plan.ChangeVolume), string(plan.ChangeFocusShift), string(plan.ChangeReschedule),
					string(plan.ChangeDeload), string(plan.ChangeExerciseSwap),
				},
			},
			"week":             map[string]any{"type": "integer"},
			"description":      str,
			"reason":           str,
			"priority":         map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
			"workout_type":     str,
			"date":             str,
			"new_date":         str,
			"percent":          map[string]any{"type": "number"},
			"new_workout_type": str,
			"from_exercise":    str,
			"to_exercise":      str,
		},
		"required": []string{
			"type", "week", "description", "reason", "priority", "workout_type", "date", "new_date", "percent",
			"new_workout_type", "from_exercise", "to_exercise",
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"insights":        str,
			"recommendations": str,
			"modifications":   map[string]any{"type": "array", "items": modification},
		},
		"required": []string{"insights", "recommendations", "modifications"},
	}
}

// Evaluate sends the input as JSON and parses the structured reply. Proposals with an unknown type, priority
// or week are dropped.
func (o *OpenAI) Evaluate(ctx context.Context, in Input) (Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("marshal evaluation input: %w", err)
	}
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(payload)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "plan_evaluation",
					Schema: evaluationSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	o.logger.LogAttrs(ctx, slog.LevelDebug, "sending evaluation request",
		slog.String("model", o.model), slog.Int("input_bytes", len(payload)))
	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, errors.New("chat completion without choices")
	}
	o.logger.LogAttrs(ctx, slog.LevelDebug, "received evaluation",
		slog.Int64("prompt_tokens", completion.Usage.PromptTokens),
		slog.Int64("completion_tokens", completion.Usage.CompletionTokens))

	var eval evaluation
	if err = json.Unmarshal([]byte(completion.Choices[0].Message.Content), &eval); err != nil {
		return Result{}, fmt.Errorf("decode evaluation: %w", err)
	}
	result := Result{Insights: eval.Insights, Recommendations: eval.Recommendations, Modifications: nil}
	for i, p := range eval.Modifications {
		m, ok := p.modification()
		if !ok {
			o.logger.LogAttrs(ctx, slog.LevelWarn, "dropping invalid proposal",
				slog.Int("index", i), slog.String("type", p.Type), slog.Int("week", p.Week))
			continue
		}
		result.Modifications = append(result.Modifications, m)
	}
	return result, nil
}

func (p proposedModification) modification() (review.Modification, bool) {
	changeType := plan.ChangeType(p.Type)
	priority := review.Priority(p.Priority)
	switch {
	case !changeType.Valid(), p.Week < 1:
		return review.Modification{}, false
	case priority != review.PriorityHigh && priority != review.PriorityMedium && priority != review.PriorityLow:
		return review.Modification{}, false
	}
	return review.Modification{
		Index:       0,
		Type:        changeType,
		Week:        p.Week,
		Description: p.Description,
		Reason:      p.Reason,
		Priority:    priority,
		Status:      review.StatusPending,
		ActionedAt:  nil,
		Change: plan.Change{
			Type:           changeType,
			Week:           p.Week,
			WorkoutType:    p.WorkoutType,
			Date:           p.Date,
			NewDate:        p.NewDate,
			Percent:        p.Percent,
			NewWorkoutType: p.NewWorkoutType,
			FromExercise:   p.FromExercise,
			ToExercise:     p.ToExercise,
		},
		Fault: nil,
	}, true
}
