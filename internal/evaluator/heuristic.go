package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/review"
)

// Heuristic evaluates without a language model. It proposes a volume reduction for categories with a
// recurring-miss pattern and a deload when recovery readings or overall adherence are poor.
type Heuristic struct {
	// MinSleepHours below which a deload is proposed.
	MinSleepHours float64
	// MinBodyBattery below which a deload is proposed.
	MinBodyBattery int
	// MinAdherence below which a deload is proposed.
	MinAdherence float64
}

// DefaultHeuristic returns a Heuristic with conservative limits.
func DefaultHeuristic() Heuristic {
	return Heuristic{MinSleepHours: 6, MinBodyBattery: 25, MinAdherence: 0.5} //nolint:mnd // defaults.
}

func (h Heuristic) Evaluate(_ context.Context, in Input) (Result, error) {
	s := in.Summary
	nextWeek := s.CurrentWeek + 1
	var (
		insights strings.Builder
		recs     strings.Builder
		mods     []review.Modification
	)

	insights.WriteString("## Adherence\n\n")
	if s.Adherence == nil {
		fmt.Fprintf(&insights, "Nothing was scheduled between %s and %s.\n", s.From, s.To)
	} else {
		fmt.Fprintf(&insights, "Completed %.0f%% of the workouts between %s and %s, volume %+.0f min against plan.\n",
			*s.Adherence*100, s.From, s.To, s.VolumeDeltaMin) //nolint:mnd // percent.
	}
	for _, c := range s.Categories {
		if c.Adherence != nil {
			fmt.Fprintf(&insights, "\n- %s: %d of %d", c.Category, c.Completed, c.Scheduled)
		}
	}
	insights.WriteString("\n")

	for _, p := range s.Patterns {
		mods = append(mods, review.Modification{
			Type:        plan.ChangeVolume,
			Week:        nextWeek,
			Description: fmt.Sprintf("Reduce %s volume by 20%% in week %d", p.Category, nextWeek),
			Reason:      fmt.Sprintf("%d of the last %d %s workouts were missed", p.Missed, p.Occurrences, p.Category),
			Priority:    review.PriorityMedium,
			Change: plan.Change{
				Type:        plan.ChangeVolume,
				Week:        nextWeek,
				WorkoutType: string(p.Category),
				Percent:     -20, //nolint:mnd // percent.
			},
		})
		fmt.Fprintf(&recs, "- Make %s sessions easier to fit in.\n", p.Category)
	}

	if reason := h.deloadReason(in); reason != "" {
		mods = append(mods, review.Modification{
			Type:        plan.ChangeDeload,
			Week:        nextWeek,
			Description: fmt.Sprintf("Deload week %d", nextWeek),
			Reason:      reason,
			Priority:    review.PriorityHigh,
			Change:      plan.Change{Type: plan.ChangeDeload, Week: nextWeek},
		})
		fmt.Fprintf(&recs, "- Prioritize recovery: %s.\n", reason)
	}
	if recs.Len() == 0 {
		recs.WriteString("Keep following the plan.\n")
	}
	return Result{Insights: insights.String(), Recommendations: recs.String(), Modifications: mods}, nil
}

func (h Heuristic) deloadReason(in Input) string {
	if w := in.Wellness; w != nil {
		if w.SleepHours != nil && *w.SleepHours < h.MinSleepHours {
			return fmt.Sprintf("only %.1f h of sleep", *w.SleepHours)
		}
		if w.BodyBattery != nil && *w.BodyBattery < h.MinBodyBattery {
			return fmt.Sprintf("body battery at %d", *w.BodyBattery)
		}
	}
	if a := in.Summary.Adherence; a != nil && *a < h.MinAdherence {
		return fmt.Sprintf("overall adherence at %.0f%%", *a*100) //nolint:mnd // percent.
	}
	return ""
}
