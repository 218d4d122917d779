package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/events"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/testhelpers"
	"github.com/myrjola/coach/internal/workout"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)

// fakeRemote is an in-memory remote calendar with injectable failures.
type fakeRemote struct {
	mu       sync.Mutex
	nextID   int
	workouts map[string]calendar.Payload
	dates    map[string]time.Time
	// createFailures and deleteFailures are returned, one per call, before calls succeed again.
	createFailures []error
	deleteFailures []error
	creates        int
	deletes        int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextID: 0, workouts: map[string]calendar.Payload{}, dates: map[string]time.Time{}}
}

func (f *fakeRemote) CreateWorkout(_ context.Context, p calendar.Payload, date time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if len(f.createFailures) > 0 {
		err := f.createFailures[0]
		f.createFailures = f.createFailures[1:]
		return "", err
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	p.WorkoutID = ""
	f.workouts[id] = p
	f.dates[id] = date
	return id, nil
}

func (f *fakeRemote) DeleteWorkout(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if len(f.deleteFailures) > 0 {
		err := f.deleteFailures[0]
		f.deleteFailures = f.deleteFailures[1:]
		return err
	}
	delete(f.workouts, id)
	delete(f.dates, id)
	return nil
}

func (f *fakeRemote) GetWorkout(_ context.Context, id string) (calendar.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.workouts[id]
	if !ok {
		return calendar.Payload{}, calendar.ErrRemoteNotFound
	}
	return p, nil
}

func (f *fakeRemote) edit(id string, fn func(p *calendar.Payload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.workouts[id]
	fn(&p)
	f.workouts[id] = p
}

func (f *fakeRemote) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workouts)
}

// recorder keeps published events.
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

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []events.Type
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func transient() error {
	return &calendar.RemoteSyncError{
		Op: "test", StatusCode: http.StatusServiceUnavailable, Transient: true, Err: errors.New("unavailable"),
	}
}

type fixture struct {
	service    *plan.Service
	repo       *plan.Repository
	remote     *fakeRemote
	events     *recorder
	reconciler *reconcile.Reconciler
	planID     string
	swimID     string
	liftID     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithOptions(t, reconcile.Options{
		MaxRetries: ptr.Ref(uint64(2)), InitialInterval: time.Millisecond, PoolLengthM: 25,
	})
}

func newFixtureWithOptions(t *testing.T, options reconcile.Options) fixture {
	t.Helper()
	logger := testhelpers.TestLogger(t)
	db, err := sqlite.NewDatabase(t.Context(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	_, err = db.ReadWrite.ExecContext(t.Context(), `INSERT INTO athletes (id, name) VALUES ('a1', 'Ada')`)
	require.NoError(t, err)

	template := plan.Template{
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
	service := plan.NewService(db, logger, template, calendar.Check)
	generated, err := service.Generate(t.Context(), "a1", monday, 1)
	require.NoError(t, err)
	require.Len(t, generated.Workouts, 2)

	remote := newFakeRemote()
	rec := &recorder{}
	reconciler := reconcile.New(service.Repository(), remote, rec, options, logger)
	return fixture{
		service:    service,
		repo:       service.Repository(),
		remote:     remote,
		events:     rec,
		reconciler: reconciler,
		planID:     generated.Plan.ID,
		swimID:     plan.WorkoutID(generated.Plan.ID, monday, "swim_a"),
		liftID:     plan.WorkoutID(generated.Plan.ID, monday.AddDate(0, 0, 2), "lift_a"),
	}
}

func (f fixture) workout(t *testing.T, id string) plan.ScheduledWorkout {
	t.Helper()
	w, err := f.repo.GetWorkout(t.Context(), id)
	require.NoError(t, err)
	return w
}

func TestSweep_createsThenVerifies(t *testing.T) {
	f := newFixture(t)

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 2, result.Count(reconcile.ActionCreate))
	require.Equal(t, 2, f.remote.size())

	swim := f.workout(t, f.swimID)
	require.NotNil(t, swim.RemoteWorkoutID)
	require.Nil(t, swim.SyncFault)
	remote, err := f.remote.GetWorkout(t.Context(), *swim.RemoteWorkoutID)
	require.NoError(t, err)
	require.InDelta(t, 25, remote.PoolLength, 0)
	require.Equal(t, []events.Type{events.WorkoutSynced, events.WorkoutSynced}, f.events.types())

	result, err = f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Equal(t, 2, result.Count(reconcile.ActionVerified))
	require.Equal(t, 2, f.remote.creates)
}

func TestSweep_repairsDrift(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	lift := f.workout(t, f.liftID)
	swim := f.workout(t, f.swimID)

	// The strength sets were flattened on the remote and the swim disappeared.
	f.remote.edit(*lift.RemoteWorkoutID, func(p *calendar.Payload) {
		steps := p.WorkoutSegments[0].WorkoutSteps
		p.WorkoutSegments[0].WorkoutSteps = steps[0].WorkoutSteps
	})
	require.NoError(t, f.remote.DeleteWorkout(t.Context(), *swim.RemoteWorkoutID))

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 2, result.Count(reconcile.ActionRepair))

	repaired := f.workout(t, f.liftID)
	require.NotEqual(t, *lift.RemoteWorkoutID, *repaired.RemoteWorkoutID)
	_, err = f.remote.GetWorkout(t.Context(), *lift.RemoteWorkoutID)
	require.ErrorIs(t, err, calendar.ErrRemoteNotFound)
	payload, err := f.remote.GetWorkout(t.Context(), *repaired.RemoteWorkoutID)
	require.NoError(t, err)
	require.NoError(t, calendar.Verify(payload, repaired.Definition))
	require.Equal(t, 2, f.remote.size())
}

func TestVerify_reportsWithoutRepairing(t *testing.T) {
	f := newFixture(t)

	result, err := f.reconciler.Verify(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Len(t, result.Failed(), 2)

	_, err = f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	lift := f.workout(t, f.liftID)
	f.remote.edit(*lift.RemoteWorkoutID, func(p *calendar.Payload) {
		p.WorkoutSegments[0].WorkoutSteps[0].NumberOfIterations = 2
	})

	result, err = f.reconciler.Verify(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	failed := result.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, f.liftID, failed[0].WorkoutID)
	var drift *calendar.DriftError
	require.ErrorAs(t, failed[0].Err, &drift)
	require.Equal(t, *lift.RemoteWorkoutID, *f.workout(t, f.liftID).RemoteWorkoutID)
}

func TestDrain_replacesApprovedChanges(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	before := f.workout(t, f.swimID)

	applied, err := f.service.Apply(t.Context(), f.planID, plan.Change{Type: plan.ChangeDeload, Week: 1})
	require.NoError(t, err)
	require.Len(t, applied.WorkoutIDs, 2)

	result, err := f.reconciler.Drain(t.Context())
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 2, result.Count(reconcile.ActionReplace))

	after := f.workout(t, f.swimID)
	require.NotEqual(t, *before.RemoteWorkoutID, *after.RemoteWorkoutID)
	payload, err := f.remote.GetWorkout(t.Context(), *after.RemoteWorkoutID)
	require.NoError(t, err)
	require.InDelta(t, 27*60, payload.WorkoutSegments[0].WorkoutSteps[0].EndConditionValue, 0)
	require.Equal(t, 2, f.remote.size())

	queue, err := f.repo.Queue(t.Context())
	require.NoError(t, err)
	require.Empty(t, queue)
}

func TestDrain_failedDeleteAbortsCreate(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	_, err = f.service.Apply(t.Context(), f.planID, plan.Change{Type: plan.ChangeVolume, Week: 1, WorkoutType: "swim", Percent: 10})
	require.NoError(t, err)

	f.remote.deleteFailures = []error{transient(), transient(), transient()}
	result, err := f.reconciler.Drain(t.Context())
	require.NoError(t, err)
	failed := result.Failed()
	require.Len(t, failed, 1)
	require.True(t, calendar.IsTransient(failed[0].Err))
	require.Equal(t, 2, f.remote.creates, "no create after a failed delete")
	require.Equal(t, 3, f.remote.deletes, "one call and two retries")

	swim := f.workout(t, f.swimID)
	require.NotNil(t, swim.SyncFault)
	require.NotNil(t, swim.RemoteWorkoutID)
	queue, err := f.repo.Queue(t.Context())
	require.NoError(t, err)
	require.Len(t, queue, 1, "transient failures stay queued")
	require.Contains(t, f.events.types(), events.WorkoutSyncFailed)

	// The next run succeeds and clears the fault.
	result, err = f.reconciler.Drain(t.Context())
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Nil(t, f.workout(t, f.swimID).SyncFault)
}

func TestSweep_retriesTransientCreate(t *testing.T) {
	f := newFixture(t)
	f.remote.createFailures = []error{transient()}

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 3, f.remote.creates)
	require.Equal(t, 2, f.remote.size())
}

func TestSweep_zeroRetries(t *testing.T) {
	f := newFixtureWithOptions(t, reconcile.Options{
		MaxRetries: ptr.Ref(uint64(0)), InitialInterval: time.Millisecond, PoolLengthM: 25,
	})
	f.remote.createFailures = []error{transient()}

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Len(t, result.Failed(), 1)
	require.Equal(t, 2, f.remote.creates, "one attempt per workout")
	require.Equal(t, 1, f.remote.size())
}

func TestNew_defaultRetries(t *testing.T) {
	f := newFixtureWithOptions(t, reconcile.Options{MaxRetries: nil, InitialInterval: time.Millisecond, PoolLengthM: 25})
	f.remote.createFailures = []error{transient(), transient(), transient(), transient()}

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 6, f.remote.creates, "four retries of the first workout")
}

func TestSweep_permanentFailureIsReportedPerItem(t *testing.T) {
	f := newFixture(t)
	f.remote.createFailures = []error{&calendar.RemoteSyncError{
		Op: "create", StatusCode: http.StatusBadRequest, Transient: false, Err: errors.New("invalid payload"),
	}}

	result, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Len(t, result.Failed(), 1)
	require.Equal(t, 1, result.Count(reconcile.ActionCreate), "other items continue")
	require.Equal(t, 2, f.remote.creates, "permanent failures are not retried")
}

func TestDrain_removesSkippedWorkout(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)

	require.NoError(t, f.service.Skip(t.Context(), f.swimID))
	result, err := f.reconciler.Sync(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Equal(t, 1, result.Count(reconcile.ActionRemove))
	require.Equal(t, 1, result.Count(reconcile.ActionVerified), "skipped workouts are not swept")

	require.Nil(t, f.workout(t, f.swimID).RemoteWorkoutID)
	require.Equal(t, 1, f.remote.size())
	require.Contains(t, f.events.types(), events.WorkoutRemoved)
}

func TestDrain_keepsCompletedWorkout(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Sweep(t.Context(), f.planID, monday, 7)
	require.NoError(t, err)
	_, err = f.service.Apply(t.Context(), f.planID, plan.Change{Type: plan.ChangeVolume, Week: 1, WorkoutType: "swim", Percent: 10})
	require.NoError(t, err)

	// The swim is done before the queued export is drained.
	require.NoError(t, f.repo.Update(t.Context(), f.swimID, func(w *plan.ScheduledWorkout) (bool, error) {
		w.Status = plan.StatusCompleted
		return true, nil
	}))

	result, err := f.reconciler.Drain(t.Context())
	require.NoError(t, err)
	require.Empty(t, result.Failed())
	require.Zero(t, result.Count(reconcile.ActionRemove))
	require.Equal(t, 1, result.Count(reconcile.ActionReplace))

	swim := f.workout(t, f.swimID)
	require.NotNil(t, swim.RemoteWorkoutID, "completed workouts keep their remote copy")
	_, err = f.remote.GetWorkout(t.Context(), *swim.RemoteWorkoutID)
	require.NoError(t, err)
	require.Equal(t, 2, f.remote.size())
}
