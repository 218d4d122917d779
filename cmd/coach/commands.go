package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/coach"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "coach",
		Short: "Periodized training plan with adherence tracking and calendar sync",
		Long: `coach generates a multi-week training plan, matches completed activities against it,
proposes adjustments for approval and keeps a remote training calendar in sync.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.AddCommand(
		newAthleteCommand(a),
		newGoalCommand(a),
		newWellnessCommand(a),
		newPlanCommand(a),
		newUpcomingCommand(a),
		newSkipCommand(a),
		newImportCommand(a),
		newLogCommand(a),
		newAdherenceCommand(a),
		newEvaluateCommand(a),
		newReviewCommand(a),
		newReconcileCommand(a),
		newVerifyCommand(a),
		newSyncCommand(a),
		newRunsCommand(a),
		newBackupCommand(a),
		newDaemonCommand(a),
	)
	return root
}

// dateFlag parses a YYYY-MM-DD flag value, empty means the athlete's today.
func (a *app) dateFlag(value string) (time.Time, error) {
	if value == "" {
		return adherence.LocalDay(time.Now(), a.location), nil
	}
	t, err := time.Parse(sqlite.DateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

func newAthleteCommand(a *app) *cobra.Command {
	var (
		name         string
		poolLength   int
		weeklyVolume int
	)
	cmd := &cobra.Command{
		Use:   "athlete",
		Short: "Show the athlete, or update it when flags are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().NFlag() > 0 {
				current, err := a.service.Athlete(ctx)
				if err != nil && !cmd.Flags().Changed("name") {
					return err
				}
				if cmd.Flags().Changed("name") {
					current.Name = name
				}
				if cmd.Flags().Changed("pool-length") {
					current.Preferences.PoolLengthM = poolLength
				}
				if cmd.Flags().Changed("weekly-volume") {
					current.Preferences.WeeklyVolumeTargetMin = weeklyVolume
				}
				if err = a.service.SaveAthlete(ctx, current); err != nil {
					return err
				}
			}
			current, err := a.service.Athlete(ctx)
			if err != nil {
				return err
			}
			printAthlete(cmd.OutOrStdout(), current)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "athlete name")
	cmd.Flags().IntVar(&poolLength, "pool-length", 25, "pool length in meters") //nolint:mnd // short course.
	cmd.Flags().IntVar(&weeklyVolume, "weekly-volume", 0, "weekly volume target in minutes")
	return cmd
}

func newGoalCommand(a *app) *cobra.Command {
	var (
		target    float64
		unit      string
		priority  string
		direction string
	)
	cmd := &cobra.Command{
		Use:   "goal <name> [value]",
		Short: "Define a goal with --target, or record its current value",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd // name and value.
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("target") {
				current, err := a.service.Athlete(ctx)
				if err != nil {
					return err
				}
				current.Goals = []athlete.Goal{{
					Name:      args[0],
					Target:    target,
					Current:   nil,
					Unit:      unit,
					Priority:  athlete.Priority(priority),
					Direction: athlete.Direction(direction),
				}}
				if err = a.service.SaveAthlete(ctx, current); err != nil {
					return err
				}
			}
			if len(args) == 2 { //nolint:mnd // name and value.
				value, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("parse goal value: %w", err)
				}
				if err = a.service.UpdateGoalValue(ctx, args[0], value); err != nil {
					return err
				}
			}
			current, err := a.service.Athlete(ctx)
			if err != nil {
				return err
			}
			printAthlete(cmd.OutOrStdout(), current)
			return nil
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0, "goal target value")
	cmd.Flags().StringVar(&unit, "unit", "", "unit of the goal value")
	cmd.Flags().StringVar(&priority, "priority", string(athlete.PriorityMedium), "high, medium or low")
	cmd.Flags().StringVar(&direction, "direction", string(athlete.DirectionIncrease),
		"increase, decrease or maintain")
	return cmd
}

func newWellnessCommand(a *app) *cobra.Command {
	var (
		date        string
		restingHR   int
		hrv         float64
		sleep       float64
		bodyBattery int
		stress      int
	)
	cmd := &cobra.Command{
		Use:   "wellness",
		Short: "Record the wellness readings of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := a.dateFlag(date)
			if err != nil {
				return err
			}
			w := athlete.Wellness{
				Date:        day,
				RestingHR:   nil,
				HRVMs:       nil,
				SleepHours:  nil,
				BodyBattery: nil,
				Stress:      nil,
			}
			flags := cmd.Flags()
			if flags.Changed("resting-hr") {
				w.RestingHR = ptr.Ref(restingHR)
			}
			if flags.Changed("hrv") {
				w.HRVMs = ptr.Ref(hrv)
			}
			if flags.Changed("sleep") {
				w.SleepHours = ptr.Ref(sleep)
			}
			if flags.Changed("body-battery") {
				w.BodyBattery = ptr.Ref(bodyBattery)
			}
			if flags.Changed("stress") {
				w.Stress = ptr.Ref(stress)
			}
			if err = a.service.RecordWellness(cmd.Context(), w); err != nil {
				return err
			}
			success.Fprintf(cmd.OutOrStdout(), "recorded wellness for %s\n", day.Format(sqlite.DateFormat))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day of the readings, defaults to today")
	cmd.Flags().IntVar(&restingHR, "resting-hr", 0, "resting heart rate")
	cmd.Flags().Float64Var(&hrv, "hrv", 0, "heart rate variability in ms")
	cmd.Flags().Float64Var(&sleep, "sleep", 0, "hours slept")
	cmd.Flags().IntVar(&bodyBattery, "body-battery", 0, "body battery 0-100")
	cmd.Flags().IntVar(&stress, "stress", 0, "stress 0-100")
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	var (
		start string
		weeks int
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate the plan from the periodization template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := a.dateFlag(start)
			if err != nil {
				return err
			}
			generated, err := a.service.GeneratePlan(cmd.Context(), day, weeks)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			heading.Fprintf(out, "%s\n", generated.Plan.Name)
			fmt.Fprintf(out, "plan %s starting %s, %d weeks\n", generated.Plan.ID,
				generated.Plan.StartDate.Format(sqlite.DateFormat), generated.Plan.HorizonWeeks)
			success.Fprintf(out, "%d workouts, %d new\n", len(generated.Workouts), generated.Inserted)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day of the plan, defaults to today")
	cmd.Flags().IntVar(&weeks, "weeks", 24, "plan horizon in weeks") //nolint:mnd // reference plan length.
	return cmd
}

func newUpcomingCommand(a *app) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List scheduled workouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := a.dateFlag(from)
			if err != nil {
				return err
			}
			workouts, err := a.service.Upcoming(cmd.Context(), day, days)
			if err != nil {
				return err
			}
			printWorkouts(cmd.OutOrStdout(), workouts)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, defaults to today")
	cmd.Flags().IntVar(&days, "days", 7, "number of days") //nolint:mnd // a week.
	return cmd
}

func newSkipCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <workout-id>",
		Short: "Skip a scheduled workout and remove it from the remote calendar on the next reconcile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.SkipWorkout(cmd.Context(), args[0]); err != nil {
				return err
			}
			success.Fprintf(cmd.OutOrStdout(), "skipped %s\n", args[0])
			return nil
		},
	}
}

func newImportCommand(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import activities of the trailing days from every configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			today, err := a.dateFlag("")
			if err != nil {
				return err
			}
			window := adherence.Trailing(today.AddDate(0, 0, 1), days)
			summary, err := a.service.ImportActivities(cmd.Context(), window.From, window.To)
			if err != nil {
				return err
			}
			success.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", summary.Imported, summary.Skipped)
			if summary.Invalid > 0 {
				warning.Fprintf(cmd.OutOrStdout(), "rejected %d invalid records, see the log\n", summary.Invalid)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 28, "number of days including today") //nolint:mnd // four weeks.
	return cmd
}

func newLogCommand(a *app) *cobra.Command {
	var (
		at        string
		distanceM float64
	)
	cmd := &cobra.Command{
		Use:   "log <activity-type> <duration>",
		Short: "Log an activity by hand, e.g. coach log swim 45m",
		Args:  cobra.ExactArgs(2), //nolint:mnd // type and duration.
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("parse duration: %w", err)
			}
			when := time.Now().UTC()
			if at != "" {
				if when, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			}
			var distance *float64
			if cmd.Flags().Changed("distance") {
				distance = ptr.Ref(distanceM)
			}
			summary, err := a.service.LogActivity(cmd.Context(), when, args[0], duration, distance)
			if err != nil {
				return err
			}
			if summary.Skipped > 0 {
				warning.Fprintln(cmd.OutOrStdout(), "activity was already logged")
				return nil
			}
			success.Fprintf(cmd.OutOrStdout(), "logged %s %s\n", args[0], duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "start time in RFC 3339, defaults to now")
	cmd.Flags().Float64Var(&distanceM, "distance", 0, "distance in meters")
	return cmd
}

func newAdherenceCommand(a *app) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "adherence",
		Short: "Match activities against the plan and report adherence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window := adherence.Trailing(time.Now().UTC(), days)
			if from != "" {
				day, err := a.dateFlag(from)
				if err != nil {
					return err
				}
				window = adherence.Days(day, days)
			}
			res, err := a.service.ComputeAdherence(cmd.Context(), window)
			if err != nil {
				return err
			}
			printAdherence(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day of the window, defaults to the trailing days")
	cmd.Flags().IntVar(&days, "days", 28, "window length in days") //nolint:mnd // four weeks.
	return cmd
}

func newEvaluateCommand(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Create the daily review unless it exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := a.dateFlag(date)
			if err != nil {
				return err
			}
			r, err := a.service.Evaluate(cmd.Context(), day)
			if err != nil {
				return err
			}
			printReview(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "review date, defaults to today")
	return cmd
}

func newReviewCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Show and action daily reviews",
	}
	var html bool
	show := &cobra.Command{
		Use:   "show [review-id]",
		Short: "Show a review, the latest by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				r   review.DailyReview
				err error
			)
			if len(args) == 1 {
				r, err = a.service.Review(cmd.Context(), args[0])
			} else {
				r, err = a.service.LatestReview(cmd.Context())
			}
			if err != nil {
				return err
			}
			if html {
				rendered, renderErr := review.RenderInsights(r)
				if renderErr != nil {
					return renderErr
				}
				fmt.Fprint(cmd.OutOrStdout(), rendered)
				return nil
			}
			printReview(cmd.OutOrStdout(), r)
			return nil
		},
	}
	show.Flags().BoolVar(&html, "html", false, "render insights and recommendations as HTML")
	cmd.AddCommand(
		show,
		newActionCommand(a, review.ActionApprove),
		newActionCommand(a, review.ActionReject),
	)
	return cmd
}

func newActionCommand(a *app, action review.Action) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <review-id> [index]",
		Short: "Apply " + string(action) + " to one modification, or to every pending one without an index",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd // review and index.
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				result, err := a.service.ActionReview(cmd.Context(), args[0], action)
				if err != nil {
					return err
				}
				for _, o := range result.Outcomes {
					printOutcome(out, o)
				}
				return nil
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parse index: %w", err)
			}
			outcome, err := a.service.ActionModification(cmd.Context(), args[0], index, action)
			if err != nil {
				return err
			}
			printOutcome(out, outcome)
			return nil
		},
	}
}

func newReconcileCommand(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Push queued plan changes to the remote calendar and repair the upcoming window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.service.Reconcile(cmd.Context(), days)
			printSync(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "days of upcoming workouts to sweep") //nolint:mnd // two weeks.
	return cmd
}

func newVerifyCommand(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the remote copies of upcoming workouts without changing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.service.VerifyFormats(cmd.Context(), days)
			printSync(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "days of upcoming workouts to verify") //nolint:mnd // two weeks.
	return cmd
}

func newSyncCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the daily sync now unless today is already synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := a.service.RunDailySync(cmd.Context(), coach.TriggerManual)
			printRun(cmd.OutOrStdout(), run)
			return err
		},
	}
}

func newRunsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent daily sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := a.service.SyncRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				printRun(cmd.OutOrStdout(), run)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs") //nolint:mnd // a screenful.
	return cmd
}

func newBackupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Write a consistent copy of the database to a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.db.Snapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			success.Fprintf(cmd.OutOrStdout(), "wrote snapshot %s\n", args[0])
			return nil
		},
	}
}
