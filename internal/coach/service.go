// Package coach is the entry point for collaborators: the CLI, the daemon and a dashboard. It wires plan
// generation, activity import, adherence, evaluation, approvals and calendar sync for the single athlete.
package coach

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/myrjola/coach/internal/activity"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/evaluator"
	"github.com/myrjola/coach/internal/events"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/sqlite"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNoRemote is returned by calendar operations when no remote calendar is configured.
var ErrNoRemote = errors.NewSentinel("no remote calendar configured")

// Config tunes the service. Zero values take defaults.
type Config struct {
	AthleteID string
	// AdherenceDays is the trailing window matched by the daily sync. Defaults to 28.
	AdherenceDays int
	// SweepDays is the upcoming window kept in sync with the remote calendar. Defaults to 14.
	SweepDays int
	// EvaluationDays is how far ahead the evaluator sees upcoming workouts. Defaults to 14.
	EvaluationDays int
	Thresholds     adherence.Thresholds
	// Location is the athlete's time zone. It decides which day an activity counts for and when a day ends.
	// Defaults to UTC.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.AthleteID == "" {
		c.AthleteID = "athlete"
	}
	if c.AdherenceDays == 0 {
		c.AdherenceDays = 28
	}
	if c.SweepDays == 0 {
		c.SweepDays = 14
	}
	if c.EvaluationDays == 0 {
		c.EvaluationDays = 14
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Deps are the collaborators of the service. Remote may be nil, calendar operations then fail with ErrNoRemote.
type Deps struct {
	Template         plan.Template
	Evaluator        evaluator.Evaluator
	Providers        []activity.Provider
	Remote           reconcile.Remote
	Publisher        events.Publisher
	ReconcileOptions reconcile.Options
}

// Service exposes the coach operations.
type Service struct {
	db         *sqlite.Database
	athletes   *athlete.Repository
	plans      *plan.Service
	activities *activity.Repository
	reviews    *review.Repository
	machine    *review.Machine
	evaluator  evaluator.Evaluator
	providers  []activity.Provider
	reconciler *reconcile.Reconciler
	publisher  events.Publisher
	matcher    adherence.Matcher
	cfg        Config
	now        func() time.Time
	daily      singleflight.Group
	logger     *slog.Logger
}

// New wires a service on db.
func New(db *sqlite.Database, logger *slog.Logger, deps Deps, cfg Config) *Service {
	cfg = cfg.withDefaults()
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.DefaultHeuristic()
	}
	plans := plan.NewService(db, logger, deps.Template, calendar.Check)
	reviews := review.NewRepository(db, logger)
	s := &Service{
		db:         db,
		athletes:   athlete.NewRepository(db, logger),
		plans:      plans,
		activities: activity.NewRepository(db, logger),
		reviews:    reviews,
		machine:    review.NewMachine(reviews, plans, logger),
		evaluator:  deps.Evaluator,
		providers:  deps.Providers,
		reconciler: nil,
		publisher:  deps.Publisher,
		matcher:    adherence.Matcher{Thresholds: cfg.Thresholds, Location: cfg.Location},
		cfg:        cfg,
		now:        time.Now,
		daily:      singleflight.Group{},
		logger:     logger,
	}
	if deps.Remote != nil {
		s.reconciler = reconcile.New(plans.Repository(), deps.Remote, deps.Publisher, deps.ReconcileOptions, logger)
	}
	return s
}

// today is the athlete's current calendar day.
func (s *Service) today() time.Time {
	return adherence.LocalDay(s.now(), s.cfg.Location)
}

// SaveAthlete creates or updates the athlete. The configured athlete id wins over a.ID.
func (s *Service) SaveAthlete(ctx context.Context, a athlete.Athlete) error {
	a.ID = s.cfg.AthleteID
	if err := s.athletes.Save(ctx, a); err != nil {
		return fmt.Errorf("save athlete: %w", err)
	}
	return nil
}

func (s *Service) Athlete(ctx context.Context) (athlete.Athlete, error) {
	a, err := s.athletes.Get(ctx, s.cfg.AthleteID)
	if err != nil {
		return athlete.Athlete{}, fmt.Errorf("get athlete: %w", err)
	}
	return a, nil
}

// UpdateGoalValue records a new measurement of a goal metric.
func (s *Service) UpdateGoalValue(ctx context.Context, goal string, value float64) error {
	if err := s.athletes.UpdateGoalValue(ctx, s.cfg.AthleteID, goal, value); err != nil {
		return fmt.Errorf("update goal %q: %w", goal, err)
	}
	return nil
}

func (s *Service) RecordWellness(ctx context.Context, w athlete.Wellness) error {
	if err := s.athletes.RecordWellness(ctx, s.cfg.AthleteID, w); err != nil {
		return fmt.Errorf("record wellness: %w", err)
	}
	return nil
}

// GeneratePlan expands the template from start. Regenerating keeps existing workouts.
func (s *Service) GeneratePlan(ctx context.Context, start time.Time, horizonWeeks int) (plan.Generated, error) {
	return s.plans.Generate(ctx, s.cfg.AthleteID, start, horizonWeeks)
}

// CurrentPlan returns the most recently started plan.
func (s *Service) CurrentPlan(ctx context.Context) (plan.Plan, error) {
	p, err := s.plans.Repository().Latest(ctx, s.cfg.AthleteID)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("current plan: %w", err)
	}
	return p, nil
}

// Upcoming lists the current plan's workouts in [from, from+days).
func (s *Service) Upcoming(ctx context.Context, from time.Time, days int) ([]plan.ScheduledWorkout, error) {
	p, err := s.CurrentPlan(ctx)
	if err != nil {
		return nil, err
	}
	return s.plans.Upcoming(ctx, p.ID, from, days)
}

// SkipWorkout marks a workout skipped and queues its removal from the remote calendar.
func (s *Service) SkipWorkout(ctx context.Context, workoutID string) error {
	return s.plans.Skip(ctx, workoutID)
}

// ImportActivities fetches [from, to) from every provider concurrently and stores what is new.
func (s *Service) ImportActivities(ctx context.Context, from, to time.Time) (activity.Summary, error) {
	fetched := make([][]activity.Activity, len(s.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		g.Go(func() error {
			activities, err := p.Fetch(gctx, s.cfg.AthleteID, from, to)
			if err != nil {
				return errors.Wrap(err, "fetch activities", slog.String("source", string(p.Source())))
			}
			fetched[i] = activities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return activity.Summary{}, err
	}

	var total activity.Summary
	for i, activities := range fetched {
		summary, err := s.activities.Import(ctx, activities)
		if err != nil {
			return total, errors.Wrap(err, "import activities", slog.String("source", string(s.providers[i].Source())))
		}
		total.Add(summary)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "imported activities",
		slog.Int("providers", len(s.providers)),
		slog.Int("imported", total.Imported),
		slog.Int("skipped", total.Skipped),
		slog.Int("invalid", total.Invalid))
	return total, nil
}

// LogActivity stores a manually logged activity.
func (s *Service) LogActivity(ctx context.Context, at time.Time, activityType string, duration time.Duration,
	distanceM *float64) (activity.Summary, error) {
	a := activity.Manual(s.cfg.AthleteID, at, activityType, duration, distanceM)
	if err := a.Validate(); err != nil {
		return activity.Summary{}, fmt.Errorf("log activity: %w", err)
	}
	return s.activities.Import(ctx, []activity.Activity{a})
}

// ComputeAdherence matches the window against the current plan and stores the back-references of new pairs in
// one transaction.
func (s *Service) ComputeAdherence(ctx context.Context, window adherence.Window) (adherence.Result, error) {
	p, err := s.CurrentPlan(ctx)
	if err != nil {
		return adherence.Result{}, err
	}
	days := int(window.To.Sub(window.From).Hours() / 24) //nolint:mnd // hours in day.
	scheduled, err := s.plans.Upcoming(ctx, p.ID, window.From, days)
	if err != nil {
		return adherence.Result{}, err
	}
	// Local days reach up to a day past the UTC bounds, the matcher drops what falls outside.
	completed, err := s.activities.Between(ctx, s.cfg.AthleteID, window.From.AddDate(0, 0, -1),
		window.To.AddDate(0, 0, 1))
	if err != nil {
		return adherence.Result{}, fmt.Errorf("activities in window: %w", err)
	}
	result := s.matcher.Match(scheduled, completed, window)

	if pairs := result.NewPairs(); len(pairs) > 0 {
		err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
			for _, pair := range pairs {
				if _, err := s.plans.Repository().LinkActivity(ctx, tx, pair.WorkoutID, pair.ActivityID); err != nil {
					return err
				}
				if _, err := s.activities.LinkWorkout(ctx, tx, pair.ActivityID, pair.WorkoutID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return adherence.Result{}, fmt.Errorf("store matches: %w", err)
		}
	}
	attrs := []slog.Attr{
		slog.Time("from", window.From),
		slog.Time("to", window.To),
		slog.Int("scheduled", result.Overall.Scheduled),
		slog.Int("completed", result.Overall.Completed),
		slog.Int("new_pairs", len(result.NewPairs())),
		slog.Int("patterns", len(result.Patterns)),
	}
	if result.Overall.Adherence != nil {
		attrs = append(attrs, slog.Float64("adherence", *result.Overall.Adherence))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "computed adherence", attrs...)
	return result, nil
}

// Evaluate creates the daily review of day unless it exists already, in which case the stored one is returned.
func (s *Service) Evaluate(ctx context.Context, day time.Time) (review.DailyReview, error) {
	existing, err := s.reviews.ByDate(ctx, s.cfg.AthleteID, day)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, review.ErrNotFound) {
		return review.DailyReview{}, fmt.Errorf("review of day: %w", err)
	}

	a, err := s.Athlete(ctx)
	if err != nil {
		return review.DailyReview{}, err
	}
	p, err := s.CurrentPlan(ctx)
	if err != nil {
		return review.DailyReview{}, err
	}
	res, err := s.ComputeAdherence(ctx, adherence.Trailing(day, s.cfg.AdherenceDays))
	if err != nil {
		return review.DailyReview{}, err
	}
	upcoming, err := s.plans.Upcoming(ctx, p.ID, day, s.cfg.EvaluationDays)
	if err != nil {
		return review.DailyReview{}, err
	}
	input := evaluator.Input{
		Athlete:  a,
		Wellness: nil,
		Summary:  evaluator.NewSummary(res, plan.WeekOf(p.StartDate, day), upcoming),
	}
	wellness, ok, err := s.athletes.LatestWellness(ctx, a.ID, day)
	if err != nil {
		return review.DailyReview{}, err
	}
	if ok {
		input.Wellness = &wellness
	}

	eval, err := s.evaluator.Evaluate(ctx, input)
	if err != nil {
		return review.DailyReview{}, fmt.Errorf("evaluate: %w", err)
	}
	created, err := s.reviews.Create(ctx, review.DailyReview{
		ID:              "",
		AthleteID:       a.ID,
		PlanID:          p.ID,
		Date:            day,
		Insights:        eval.Insights,
		Recommendations: eval.Recommendations,
		Modifications:   eval.Modifications,
	})
	if errors.Is(err, review.ErrExists) {
		return s.reviews.ByDate(ctx, a.ID, day)
	}
	if err != nil {
		return review.DailyReview{}, fmt.Errorf("store review: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "created daily review",
		slog.String("review_id", created.ID), slog.Int("modifications", len(created.Modifications)))
	return created, nil
}

// Review returns a review by id.
func (s *Service) Review(ctx context.Context, id string) (review.DailyReview, error) {
	return s.reviews.Get(ctx, id)
}

// LatestReview returns the most recent review.
func (s *Service) LatestReview(ctx context.Context) (review.DailyReview, error) {
	return s.reviews.Latest(ctx, s.cfg.AthleteID)
}

// ActionModification approves or rejects one modification. An approved change is queued for export, the remote
// calendar is updated by the next Reconcile.
func (s *Service) ActionModification(ctx context.Context, reviewID string, index int, action review.Action) (
	review.Outcome, error) {
	outcome, err := s.machine.ActionSingle(ctx, reviewID, index, action)
	if err != nil {
		return review.Outcome{}, err
	}
	s.publishOutcomes(ctx, reviewID, outcome)
	return outcome, nil
}

// ActionReview approves or rejects every pending modification of the review.
func (s *Service) ActionReview(ctx context.Context, reviewID string, action review.Action) (review.BulkResult, error) {
	result, err := s.machine.ActionBulk(ctx, reviewID, action)
	if err != nil {
		return result, err
	}
	s.publishOutcomes(ctx, reviewID, result.Outcomes...)
	return result, nil
}

func (s *Service) publishOutcomes(ctx context.Context, reviewID string, outcomes ...review.Outcome) {
	var es []events.Event
	for _, o := range outcomes {
		if o.Err != nil || o.Status != review.StatusApproved {
			continue
		}
		es = append(es, events.Event{
			Type:            events.PlanModified,
			WorkoutID:       "",
			RemoteWorkoutID: "",
			ReviewID:        reviewID,
			Date:            "",
			Error:           o.Fault,
			At:              time.Time{},
		})
	}
	if err := s.publisher.Publish(ctx, es...); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "publish plan modification failed", errors.SlogError(err))
	}
}

// Reconcile drains the export queue and sweeps the next windowDays days.
func (s *Service) Reconcile(ctx context.Context, windowDays int) (reconcile.SyncResult, error) {
	if s.reconciler == nil {
		return reconcile.SyncResult{}, ErrNoRemote
	}
	p, err := s.CurrentPlan(ctx)
	if err != nil {
		return reconcile.SyncResult{}, err
	}
	return s.reconciler.Sync(ctx, p.ID, s.today(), windowDays)
}

// VerifyFormats checks the remote copies of the next windowDays days without repairing them.
func (s *Service) VerifyFormats(ctx context.Context, windowDays int) (reconcile.SyncResult, error) {
	if s.reconciler == nil {
		return reconcile.SyncResult{}, ErrNoRemote
	}
	p, err := s.CurrentPlan(ctx)
	if err != nil {
		return reconcile.SyncResult{}, err
	}
	return s.reconciler.Verify(ctx, p.ID, s.today(), windowDays)
}
