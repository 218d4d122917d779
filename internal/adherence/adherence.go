// Package adherence pairs completed activities with planned workouts and summarizes how well the plan was
// followed over a window of days.
package adherence

import (
	"cmp"
	"slices"
	"time"

	"github.com/myrjola/coach/internal/activity"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/workout"
)

// Window is the half-open date range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Days returns the window of days calendar days starting at from.
func Days(from time.Time, days int) Window {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	return Window{From: from, To: from.AddDate(0, 0, days)}
}

// Trailing returns the days calendar days before end, excluding end itself.
func Trailing(end time.Time, days int) Window {
	return Days(end.AddDate(0, 0, -days), days)
}

// Contains reports whether t falls on a day inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Pair links a completed activity to the scheduled workout it completed.
type Pair struct {
	WorkoutID  string `json:"workout_id"`
	ActivityID string `json:"activity_id"`
	// New is set when the pair was found by this match rather than stored earlier.
	New bool `json:"new"`
}

// Stats aggregates one slice of the window.
type Stats struct {
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	// Adherence is Completed/Scheduled, nil when nothing was scheduled.
	Adherence       *float64      `json:"adherence"`
	PlannedVolume   time.Duration `json:"planned_volume"`
	CompletedVolume time.Duration `json:"completed_volume"`
}

// VolumeDelta is the signed difference between completed and planned volume.
func (s Stats) VolumeDelta() time.Duration {
	return s.CompletedVolume - s.PlannedVolume
}

// Pattern flags a category that keeps being missed while the rest of the plan is followed.
type Pattern struct {
	Category    workout.Category `json:"category"`
	Occurrences int              `json:"occurrences"`
	Missed      int              `json:"missed"`
	Adherence   float64          `json:"adherence"`
}

// Result of matching a window.
type Result struct {
	Window  Window `json:"window"`
	Overall Stats  `json:"overall"`
	// Categories holds the per-category breakdown.
	Categories map[workout.Category]Stats `json:"categories"`
	Pairs      []Pair                     `json:"pairs"`
	// Extra lists the ids of activities that matched no scheduled workout. They only count towards volume.
	Extra    []string  `json:"extra"`
	Patterns []Pattern `json:"patterns"`
}

// NewPairs returns the pairs whose back-references still have to be stored.
func (r Result) NewPairs() []Pair {
	var pairs []Pair
	for _, p := range r.Pairs {
		if p.New {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Thresholds tune pattern detection.
type Thresholds struct {
	// Miss flags a category whose trailing adherence is below it. Defaults to 0.5.
	Miss float64
	// Overall must be reached by the whole window for a category to be flagged. Defaults to 0.7.
	Overall float64
	// Occurrences is how many of the latest scheduled workouts of a category are considered. Defaults to 4.
	Occurrences int
}

// DefaultThresholds returns the default pattern detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Miss: 0.5, Overall: 0.7, Occurrences: 4} //nolint:mnd // defaults.
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Miss == 0 {
		t.Miss = d.Miss
	}
	if t.Overall == 0 {
		t.Overall = d.Overall
	}
	if t.Occurrences == 0 {
		t.Occurrences = d.Occurrences
	}
	return t
}

// Matcher matches activities against the plan. Zero thresholds take their defaults.
type Matcher struct {
	Thresholds Thresholds
	// Location is the athlete's time zone. An activity belongs to the calendar day it started on there.
	// Nil means UTC.
	Location *time.Location
}

// Match uses the default thresholds and UTC days.
func Match(scheduled []plan.ScheduledWorkout, completed []activity.Activity, window Window) Result {
	return Matcher{Thresholds: DefaultThresholds(), Location: time.UTC}.Match(scheduled, completed, window)
}

// LocalDay returns the calendar day of t in loc as a UTC midnight, the representation of scheduled dates.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Match pairs activities with scheduled workouts on the same date and coarse category, then computes the
// window's statistics. Inputs outside the window are ignored and neither slice is modified.
//
// A workout is matched at most once. When several activities compete for one workout the earliest activity
// wins and the others become extra volume. Stored back-references are kept as they are.
func (m Matcher) Match(scheduled []plan.ScheduledWorkout, completed []activity.Activity, window Window) Result {
	var workouts []plan.ScheduledWorkout
	for _, w := range scheduled {
		if window.Contains(w.Date) {
			workouts = append(workouts, w)
		}
	}
	var activities []activity.Activity
	for _, a := range completed {
		if window.Contains(LocalDay(a.Date, m.Location)) {
			activities = append(activities, a)
		}
	}
	slices.SortStableFunc(activities, func(a, b activity.Activity) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.ID, b.ID))
	})

	res := Result{
		Window:     window,
		Overall:    Stats{},
		Categories: map[workout.Category]Stats{},
		Pairs:      nil,
		Extra:      nil,
		Patterns:   nil,
	}
	matchedWorkout := map[string]bool{}
	matchedActivity := map[string]bool{}
	for _, w := range workouts {
		if w.CompletedActivityID != nil {
			matchedWorkout[w.ID] = true
			matchedActivity[*w.CompletedActivityID] = true
			res.Pairs = append(res.Pairs, Pair{WorkoutID: w.ID, ActivityID: *w.CompletedActivityID, New: false})
		}
	}
	for _, a := range activities {
		if a.ScheduledWorkoutID != nil && !matchedActivity[a.ID] {
			matchedActivity[a.ID] = true
			matchedWorkout[*a.ScheduledWorkoutID] = true
			res.Pairs = append(res.Pairs, Pair{WorkoutID: *a.ScheduledWorkoutID, ActivityID: a.ID, New: false})
		}
	}

	completedNow := map[string]bool{}
	for _, a := range activities {
		if matchedActivity[a.ID] {
			continue
		}
		i := slices.IndexFunc(workouts, func(w plan.ScheduledWorkout) bool {
			return !matchedWorkout[w.ID] && w.Status == plan.StatusScheduled &&
				sameDate(w.Date, LocalDay(a.Date, m.Location)) && w.Category() == a.Category()
		})
		if i < 0 {
			res.Extra = append(res.Extra, a.ID)
			continue
		}
		matchedWorkout[workouts[i].ID] = true
		matchedActivity[a.ID] = true
		completedNow[workouts[i].ID] = true
		res.Pairs = append(res.Pairs, Pair{WorkoutID: workouts[i].ID, ActivityID: a.ID, New: true})
	}

	isCompleted := func(w plan.ScheduledWorkout) bool {
		return w.Status == plan.StatusCompleted || completedNow[w.ID]
	}
	for _, w := range workouts {
		done := isCompleted(w)
		res.Overall.add(w, done)
		s := res.Categories[w.Category()]
		s.add(w, done)
		res.Categories[w.Category()] = s
	}
	for _, a := range activities {
		res.Overall.CompletedVolume += a.Duration
		s := res.Categories[a.Category()]
		s.CompletedVolume += a.Duration
		res.Categories[a.Category()] = s
	}
	res.Overall.finish()
	for c, s := range res.Categories {
		s.finish()
		res.Categories[c] = s
	}

	res.Patterns = m.patterns(workouts, isCompleted, res.Overall.Adherence)
	return res
}

func (s *Stats) add(w plan.ScheduledWorkout, done bool) {
	s.Scheduled++
	s.PlannedVolume += w.Definition.PlannedDuration()
	if done {
		s.Completed++
	}
}

func (s *Stats) finish() {
	s.Adherence = rate(s.Completed, s.Scheduled)
}

func rate(completed, scheduled int) *float64 {
	if scheduled == 0 {
		return nil
	}
	r := float64(completed) / float64(scheduled)
	return &r
}

func (m Matcher) patterns(
	workouts []plan.ScheduledWorkout,
	isCompleted func(plan.ScheduledWorkout) bool,
	overall *float64,
) []Pattern {
	t := m.Thresholds.withDefaults()
	if overall == nil || *overall < t.Overall {
		return nil
	}
	byCategory := map[workout.Category][]plan.ScheduledWorkout{}
	for _, w := range workouts {
		byCategory[w.Category()] = append(byCategory[w.Category()], w)
	}
	var patterns []Pattern
	for c, ws := range byCategory {
		slices.SortStableFunc(ws, func(a, b plan.ScheduledWorkout) int { return a.Date.Compare(b.Date) })
		if len(ws) > t.Occurrences {
			ws = ws[len(ws)-t.Occurrences:]
		}
		// A single occurrence is not a pattern.
		if len(ws) < 2 { //nolint:mnd // two points make a trend.
			continue
		}
		missed := 0
		for _, w := range ws {
			if !isCompleted(w) {
				missed++
			}
		}
		adherence := float64(len(ws)-missed) / float64(len(ws))
		if adherence < t.Miss {
			patterns = append(patterns, Pattern{
				Category:    c,
				Occurrences: len(ws),
				Missed:      missed,
				Adherence:   adherence,
			})
		}
	}
	slices.SortFunc(patterns, func(a, b Pattern) int { return cmp.Compare(a.Category, b.Category) })
	return patterns
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
