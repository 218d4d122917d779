package coach

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/coach/internal/activity"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/athlete"
	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/evaluator"
	"github.com/myrjola/coach/internal/events"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/review"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/testhelpers"
	"github.com/myrjola/coach/internal/workout"
)

var monday = time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)

func template() plan.Template {
	return plan.Template{
		Name: "swim and lift",
		Phases: []plan.Phase{{
			Name:      "base",
			StartWeek: 1,
			EndWeek:   4,
			Slots: []plan.Slot{
				{
					Weekday:     plan.Weekday(time.Monday),
					WorkoutType: "swim_a",
					Base:        workout.Document{Kind: workout.KindSwim, Name: "Swim A", Duration: "45m"},
				},
				{
					Weekday:     plan.Weekday(time.Wednesday),
					WorkoutType: "lift_a",
					Base: workout.Document{
						Kind:      workout.KindLift,
						Name:      "Lift A",
						Exercises: []workout.ExerciseDoc{{Name: "Squat", Sets: 3, Reps: 8}},
					},
				},
			},
		}},
	}
}

type stubProvider struct {
	activities []activity.Activity
}

func (stubProvider) Source() activity.Source { return activity.SourceWearable }

func (p stubProvider) Fetch(_ context.Context, _ string, from, to time.Time) ([]activity.Activity, error) {
	var out []activity.Activity
	for _, a := range p.activities {
		if !a.Date.Before(from) && a.Date.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func wearableSwim(at time.Time, d time.Duration) activity.Activity {
	externalID := "swim-" + at.Format(time.DateOnly)
	return activity.Activity{
		ID:                 activity.ID("a1", activity.SourceWearable, externalID),
		AthleteID:          "a1",
		Date:               at,
		Source:             activity.SourceWearable,
		ExternalID:         externalID,
		ActivityType:       "swimming",
		Duration:           d,
		DistanceM:          nil,
		Detail:             nil,
		ScheduledWorkoutID: nil,
	}
}

type memoryRemote struct {
	mu       sync.Mutex
	nextID   int
	workouts map[string]calendar.Payload
}

func (m *memoryRemote) CreateWorkout(_ context.Context, p calendar.Payload, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.workouts[id] = p
	return id, nil
}

func (m *memoryRemote) DeleteWorkout(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workouts, id)
	return nil
}

func (m *memoryRemote) GetWorkout(_ context.Context, id string) (calendar.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.workouts[id]
	if !ok {
		return calendar.Payload{}, calendar.ErrRemoteNotFound
	}
	return p, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, es ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, es...)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count(typ events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	service *Service
	remote  *memoryRemote
	events  *recorder
}

func newFixture(t *testing.T, url string, deps Deps) fixture {
	t.Helper()
	logger := testhelpers.TestLogger(t)
	db, err := sqlite.NewDatabase(t.Context(), url, logger)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		if err = db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	remote := &memoryRemote{mu: sync.Mutex{}, nextID: 100, workouts: map[string]calendar.Payload{}}
	rec := &recorder{mu: sync.Mutex{}, events: nil}
	deps.Template = template()
	deps.Remote = remote
	deps.Publisher = rec
	deps.ReconcileOptions = reconcile.Options{MaxRetries: ptr.Ref(uint64(1)), InitialInterval: time.Millisecond, PoolLengthM: 25}
	s := New(db, logger, deps, Config{
		AthleteID:      "a1",
		AdherenceDays:  0,
		SweepDays:      0,
		EvaluationDays: 0,
		Thresholds:     adherence.DefaultThresholds(),
		Location:       nil,
	})
	// The second Monday of the plan.
	s.now = func() time.Time { return monday.AddDate(0, 0, 7).Add(6 * time.Hour) }

	if err = s.SaveAthlete(t.Context(), athlete.Athlete{ID: "", Name: "Ada"}); err != nil {
		t.Fatalf("SaveAthlete() error = %v", err)
	}
	if _, err = s.GeneratePlan(t.Context(), monday, 4); err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	return fixture{service: s, remote: remote, events: rec}
}

func swimDeload() evaluator.Static {
	return evaluator.Static{Result: evaluator.Result{
		Insights:        "Swim volume is climbing faster than recovery.",
		Recommendations: "Ease the next swim.",
		Modifications: []review.Modification{{
			Index:       0,
			Type:        plan.ChangeVolume,
			Week:        2,
			Description: "Cut swim volume by a fifth",
			Reason:      "Poor sleep",
			Priority:    review.PriorityHigh,
			Status:      review.StatusPending,
			ActionedAt:  nil,
			Change:      plan.Change{Type: plan.ChangeVolume, Week: 2, WorkoutType: "swim_a", Percent: -20},
			Fault:       nil,
		}},
	}}
}

func TestService_ComputeAdherence(t *testing.T) {
	f := newFixture(t, ":memory:", Deps{})
	ctx := t.Context()
	s := f.service

	summary, err := s.LogActivity(ctx, monday.Add(7*time.Hour), "swimming", 50*time.Minute, nil)
	if err != nil {
		t.Fatalf("LogActivity() error = %v", err)
	}
	if summary.Imported != 1 {
		t.Fatalf("LogActivity() imported = %d, want 1", summary.Imported)
	}

	window := adherence.Days(monday, 7)
	res, err := s.ComputeAdherence(ctx, window)
	if err != nil {
		t.Fatalf("ComputeAdherence() error = %v", err)
	}
	if res.Overall.Adherence == nil || *res.Overall.Adherence != 0.5 {
		t.Errorf("adherence = %v, want 0.5", res.Overall.Adherence)
	}
	if got := res.Overall.VolumeDelta(); got != 5*time.Minute {
		t.Errorf("VolumeDelta() = %v, want 5m", got)
	}
	if len(res.NewPairs()) != 1 {
		t.Fatalf("NewPairs() = %v, want one pair", res.NewPairs())
	}

	upcoming, err := s.Upcoming(ctx, monday, 1)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	swim := upcoming[0]
	if swim.Status != plan.StatusCompleted || swim.CompletedActivityID == nil {
		t.Fatalf("swim = %+v, want completed with activity", swim)
	}
	if *swim.CompletedActivityID != res.NewPairs()[0].ActivityID {
		t.Errorf("CompletedActivityID = %s, want %s", *swim.CompletedActivityID, res.NewPairs()[0].ActivityID)
	}

	// Matching again finds the stored references.
	res, err = s.ComputeAdherence(ctx, window)
	if err != nil {
		t.Fatalf("ComputeAdherence() error = %v", err)
	}
	if len(res.NewPairs()) != 0 || len(res.Pairs) != 1 {
		t.Errorf("second match pairs = %+v, want one stored pair", res.Pairs)
	}
}

func TestService_athleteTimeZone(t *testing.T) {
	losAngeles, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("time zone database unavailable: %v", err)
	}
	f := newFixture(t, ":memory:", Deps{})
	ctx := t.Context()
	s := f.service
	s.cfg.Location = losAngeles
	s.matcher.Location = losAngeles
	// Monday evening in Los Angeles is already Tuesday in UTC.
	s.now = func() time.Time { return time.Date(2026, 1, 26, 20, 0, 0, 0, losAngeles) }

	if got, want := s.today(), monday.AddDate(0, 0, 7); !got.Equal(want) {
		t.Errorf("today() = %v, want %v", got, want)
	}

	if _, err = s.LogActivity(ctx, time.Date(2026, 1, 19, 19, 0, 0, 0, losAngeles), "swim", 50*time.Minute,
		nil); err != nil {
		t.Fatalf("LogActivity() error = %v", err)
	}
	res, err := s.ComputeAdherence(ctx, adherence.Days(monday, 7))
	if err != nil {
		t.Fatalf("ComputeAdherence() error = %v", err)
	}
	if len(res.NewPairs()) != 1 || len(res.Extra) != 0 {
		t.Fatalf("pairs = %+v, extra = %v, want the evening swim to complete Monday's swim", res.Pairs, res.Extra)
	}
	upcoming, err := s.Upcoming(ctx, monday, 1)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if upcoming[0].Status != plan.StatusCompleted {
		t.Errorf("Monday swim status = %s, want completed", upcoming[0].Status)
	}
}

func TestService_RunDailySync(t *testing.T) {
	// A record without external id is rejected on every import but does not hold back the rest.
	broken := wearableSwim(monday.Add(9*time.Hour), 20*time.Minute)
	broken.ExternalID = ""
	f := newFixture(t, ":memory:", Deps{
		Evaluator: swimDeload(),
		Providers: []activity.Provider{stubProvider{activities: []activity.Activity{
			wearableSwim(monday.Add(7*time.Hour), 50*time.Minute),
			broken,
		}}},
	})
	ctx := t.Context()
	s := f.service

	run, err := s.RunDailySync(ctx, TriggerScheduled)
	if err != nil {
		t.Fatalf("RunDailySync() error = %v", err)
	}
	half := 0.5
	want := RunSummary{
		Imported:   1,
		Skipped:    0,
		Invalid:    1,
		Adherence:  &half,
		NewMatches: 1,
		ReviewID:   run.Summary.ReviewID,
		Synced:     4,
		SyncFailed: 0,
		Error:      "",
	}
	if diff := cmp.Diff(want, run.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if run.Status != RunSuccess || run.Summary.ReviewID == "" {
		t.Fatalf("run = %+v, want success with a review", run)
	}

	again, err := s.RunDailySync(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("second RunDailySync() error = %v", err)
	}
	if again.Status != RunSkipped || again.ID != run.ID {
		t.Errorf("second run = %s %s, want skipped %s", again.Status, again.ID, run.ID)
	}

	runs, err := s.SyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("SyncRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunSuccess || runs[0].FinishedAt == nil {
		t.Errorf("SyncRuns() = %+v, want one finished success", runs)
	}
	if diff := cmp.Diff(run.Summary, runs[0].Summary); diff != "" {
		t.Errorf("stored summary mismatch (-want +got):\n%s", diff)
	}
}

func TestService_approvedChangeReachesCalendar(t *testing.T) {
	f := newFixture(t, ":memory:", Deps{Evaluator: swimDeload()})
	ctx := t.Context()
	s := f.service

	run, err := s.RunDailySync(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("RunDailySync() error = %v", err)
	}
	r, err := s.LatestReview(ctx)
	if err != nil {
		t.Fatalf("LatestReview() error = %v", err)
	}
	if r.ID != run.Summary.ReviewID || r.ApprovalStatus() != review.ApprovalPending {
		t.Fatalf("review = %s %s, want pending %s", r.ID, r.ApprovalStatus(), run.Summary.ReviewID)
	}

	outcome, err := s.ActionModification(ctx, r.ID, 0, review.ActionApprove)
	if err != nil {
		t.Fatalf("ActionModification() error = %v", err)
	}
	swimID := plan.WorkoutID(plan.PlanID("a1", monday), monday.AddDate(0, 0, 7), "swim_a")
	if diff := cmp.Diff([]string{swimID}, outcome.WorkoutIDs); diff != "" {
		t.Errorf("WorkoutIDs mismatch (-want +got):\n%s", diff)
	}
	if f.events.count(events.PlanModified) != 1 {
		t.Errorf("PlanModified events = %d, want 1", f.events.count(events.PlanModified))
	}

	if _, err = s.ActionModification(ctx, r.ID, 0, review.ActionReject); err == nil {
		t.Errorf("rejecting an approved modification succeeded")
	}

	result, err := s.Reconcile(ctx, 14)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := result.Count(reconcile.ActionReplace); got != 1 {
		t.Errorf("replaced = %d, want 1", got)
	}
	upcoming, err := s.Upcoming(ctx, monday.AddDate(0, 0, 7), 1)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	swim := upcoming[0]
	if swim.RemoteWorkoutID == nil {
		t.Fatalf("swim has no remote workout")
	}
	payload, err := f.remote.GetWorkout(ctx, *swim.RemoteWorkoutID)
	if err != nil {
		t.Fatalf("GetWorkout() error = %v", err)
	}
	if payload.EstimatedDurationInSecs != 36*60 {
		t.Errorf("EstimatedDurationInSecs = %d, want %d", payload.EstimatedDurationInSecs, 36*60)
	}

	verified, err := s.VerifyFormats(ctx, 14)
	if err != nil {
		t.Fatalf("VerifyFormats() error = %v", err)
	}
	if len(verified.Failed()) != 0 || verified.Count(reconcile.ActionVerified) != 4 {
		t.Errorf("VerifyFormats() = %+v, want four verified", verified.Outcomes)
	}
}

func TestService_SkipWorkout(t *testing.T) {
	f := newFixture(t, ":memory:", Deps{Evaluator: evaluator.Static{Result: evaluator.Result{}}})
	ctx := t.Context()
	s := f.service
	if _, err := s.Reconcile(ctx, 14); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	upcoming, err := s.Upcoming(ctx, monday.AddDate(0, 0, 7), 1)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if err = s.SkipWorkout(ctx, upcoming[0].ID); err != nil {
		t.Fatalf("SkipWorkout() error = %v", err)
	}
	result, err := s.Reconcile(ctx, 14)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Count(reconcile.ActionRemove) != 1 {
		t.Errorf("removed = %d, want 1", result.Count(reconcile.ActionRemove))
	}
	if got := len(f.remote.workouts); got != 3 {
		t.Errorf("remote workouts = %d, want 3", got)
	}
}

func TestService_withoutRemote(t *testing.T) {
	logger := testhelpers.TestLogger(t)
	db, err := sqlite.NewDatabase(t.Context(), ":memory:", logger)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db, logger, Deps{Template: template()}, Config{AthleteID: "a1"})
	if _, err = s.Reconcile(t.Context(), 14); !errors.Is(err, ErrNoRemote) {
		t.Errorf("Reconcile() error = %v, want ErrNoRemote", err)
	}
}

func TestService_RunDailySync_concurrent(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "coach.sqlite3"), Deps{Evaluator: swimDeload()})
	s := f.service

	var wg sync.WaitGroup
	runs := make([]SyncRun, 8)
	errs := make([]error, len(runs))
	for i := range runs {
		wg.Go(func() {
			runs[i], errs[i] = s.RunDailySync(t.Context(), TriggerManual)
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("RunDailySync() #%d error = %v", i, err)
		}
		if runs[i].ID != runs[0].ID {
			t.Errorf("run #%d id = %s, want %s", i, runs[i].ID, runs[0].ID)
		}
	}
	stored, err := s.SyncRuns(t.Context(), 10)
	if err != nil {
		t.Fatalf("SyncRuns() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Status != RunSuccess {
		t.Errorf("SyncRuns() = %+v, want exactly one success", stored)
	}
	r, err := s.LatestReview(t.Context())
	if err != nil {
		t.Fatalf("LatestReview() error = %v", err)
	}
	if r.ID != runs[0].Summary.ReviewID {
		t.Errorf("review = %s, want %s", r.ID, runs[0].Summary.ReviewID)
	}
}
