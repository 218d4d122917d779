package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/coach"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/sqlite"
)

//nolint:gochecknoglobals // shared terminal styles.
var (
	heading = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
	faint   = color.New(color.Faint)
)

func printAthlete(w io.Writer, a athlete.Athlete) {
	heading.Fprintf(w, "%s (%s)\n", a.Name, a.ID)
	fmt.Fprintf(w, "pool %dm, weekly volume target %d min\n",
		a.Preferences.PoolLengthM, a.Preferences.WeeklyVolumeTargetMin)
	for _, g := range a.Goals {
		current := "-"
		if g.Current != nil {
			current = fmt.Sprintf("%g", *g.Current)
		}
		fmt.Fprintf(w, "  %-20s %s / %g %s  %s, %s\n", g.Name, current, g.Target, g.Unit, g.Priority, g.Direction)
	}
}

func printWorkouts(w io.Writer, workouts []plan.ScheduledWorkout) {
	if len(workouts) == 0 {
		faint.Fprintln(w, "no workouts")
		return
	}
	for _, sw := range workouts {
		status := success
		switch sw.Status {
		case plan.StatusSkipped:
			status = faint
		case plan.StatusScheduled:
			status = heading
		case plan.StatusCompleted:
		}
		fmt.Fprintf(w, "%s  week %2d  %-10s %-24s %6s  ",
			sw.Date.Format("Mon 2006-01-02"), sw.Week, sw.WorkoutType, sw.Definition.Title(),
			sw.Definition.PlannedDuration().Round(time.Minute))
		status.Fprint(w, sw.Status)
		if sw.IsTestWeek {
			warning.Fprint(w, " test")
		}
		if sw.SyncFault != nil {
			failure.Fprintf(w, " sync fault: %s", *sw.SyncFault)
		}
		faint.Fprintf(w, "  %s\n", sw.ID)
	}
}

func rateColor(rate *float64) *color.Color {
	switch {
	case rate == nil:
		return faint
	case *rate >= 0.8: //nolint:mnd // good adherence.
		return success
	case *rate >= 0.5: //nolint:mnd // mixed adherence.
		return warning
	default:
		return failure
	}
}

func formatRate(rate *float64) string {
	if rate == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *rate*100) //nolint:mnd // percent.
}

func printAdherence(w io.Writer, res adherence.Result) {
	heading.Fprintf(w, "%s to %s\n",
		res.Window.From.Format(sqlite.DateFormat), res.Window.To.AddDate(0, 0, -1).Format(sqlite.DateFormat))
	printStats(w, "overall", res.Overall)
	for _, c := range slices.Sorted(maps.Keys(res.Categories)) {
		printStats(w, string(c), res.Categories[c])
	}
	for _, p := range res.Patterns {
		failure.Fprintf(w, "missed %s %d of the last %d times\n", p.Category, p.Missed, p.Occurrences)
	}
	if len(res.Extra) > 0 {
		faint.Fprintf(w, "%d unplanned activities\n", len(res.Extra))
	}
}

func printStats(w io.Writer, label string, s adherence.Stats) {
	fmt.Fprintf(w, "  %-10s %d/%d ", label, s.Completed, s.Scheduled)
	rateColor(s.Adherence).Fprintf(w, "%-5s", formatRate(s.Adherence))
	fmt.Fprintf(w, " volume %s of %s (%+.0f min)\n",
		s.CompletedVolume.Round(time.Minute), s.PlannedVolume.Round(time.Minute), s.VolumeDelta().Minutes())
}

func printReview(w io.Writer, r review.DailyReview) {
	heading.Fprintf(w, "review %s for %s: %s\n", r.ID, r.Date.Format(sqlite.DateFormat), r.ApprovalStatus())
	fmt.Fprintf(w, "%s\n\n%s\n", r.Insights, r.Recommendations)
	for _, m := range r.Modifications {
		c := warning
		switch m.Status {
		case review.StatusApproved:
			c = success
		case review.StatusRejected:
			c = faint
		case review.StatusPending:
		}
		c.Fprintf(w, "[%d] %-8s", m.Index, m.Status)
		fmt.Fprintf(w, " %s week %d (%s): %s\n", m.Type, m.Week, m.Priority, m.Description)
		if m.Reason != "" {
			faint.Fprintf(w, "      %s\n", m.Reason)
		}
		if m.Fault != nil {
			failure.Fprintf(w, "      fault: %s\n", *m.Fault)
		}
	}
}

func printOutcome(w io.Writer, o review.Outcome) {
	switch {
	case o.Err != nil:
		failure.Fprintf(w, "[%d] %v\n", o.Index, o.Err)
	case o.Fault != "":
		warning.Fprintf(w, "[%d] %s with fault: %s\n", o.Index, o.Status, o.Fault)
	default:
		success.Fprintf(w, "[%d] %s", o.Index, o.Status)
		fmt.Fprintf(w, ", %d workouts changed\n", len(o.WorkoutIDs))
	}
}

func printSync(w io.Writer, result reconcile.SyncResult) {
	for _, o := range result.Outcomes {
		if o.Err != nil {
			failure.Fprintf(w, "%-8s %s: %v\n", o.Action, o.WorkoutID, o.Err)
			continue
		}
		fmt.Fprintf(w, "%-8s %s", o.Action, o.WorkoutID)
		faint.Fprintf(w, " remote %s\n", o.RemoteID)
	}
	summary := success
	if len(result.Failed()) > 0 {
		summary = failure
	}
	summary.Fprintf(w, "%d items, %d failed\n", len(result.Outcomes), len(result.Failed()))
}

func printRun(w io.Writer, run coach.SyncRun) {
	if run.ID == "" {
		return
	}
	c := success
	switch run.Status {
	case coach.RunFailure:
		c = failure
	case coach.RunSkipped, coach.RunRunning:
		c = warning
	case coach.RunSuccess:
	}
	c.Fprintf(w, "%s %-8s", run.Date.Format(sqlite.DateFormat), run.Status)
	fmt.Fprintf(w, " %-9s imported %d, adherence %s, synced %d, failed %d",
		run.Trigger, run.Summary.Imported, formatRate(run.Summary.Adherence), run.Summary.Synced,
		run.Summary.SyncFailed)
	if run.Summary.Error != "" {
		failure.Fprintf(w, "  %s", run.Summary.Error)
	}
	faint.Fprintf(w, "  %s", ptr.ValueOr(run.FinishedAt, run.StartedAt).Format(time.Kitchen))
	fmt.Fprintln(w)
}
