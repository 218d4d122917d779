// Package reconcile keeps the remote calendar consistent with the plan. It drains the export queue written by
// approvals and sweeps the upcoming window, recreating remote workouts that are missing or have drifted.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/events"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
)

// Remote is the remote calendar.
type Remote interface {
	CreateWorkout(ctx context.Context, p calendar.Payload, date time.Time) (string, error)
	DeleteWorkout(ctx context.Context, id string) error
	GetWorkout(ctx context.Context, id string) (calendar.Payload, error)
}

// Action is what the reconciler did to one workout.
type Action string

const (
	ActionCreate   Action = "create"
	ActionReplace  Action = "replace"
	ActionRemove   Action = "remove"
	ActionVerified Action = "verified"
	ActionRepair   Action = "repair"
	ActionSkip     Action = "skip"
)

// Outcome of one workout. Err is set when the action failed, the workout then carries a sync fault.
type Outcome struct {
	WorkoutID string
	Action    Action
	RemoteID  string
	Err       error
}

// SyncResult collects per-workout outcomes. A failed item never stops the others.
type SyncResult struct {
	Outcomes []Outcome
}

// Failed returns the outcomes with an error.
func (r SyncResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Count returns the number of successful outcomes with action a.
func (r SyncResult) Count(a Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a && o.Err == nil {
			n++
		}
	}
	return n
}

func (r *SyncResult) merge(other SyncResult) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
}

// Options tune the reconciler. Zero values take defaults.
type Options struct {
	// MaxRetries of a transient remote failure. Nil defaults to 4, zero disables retries.
	MaxRetries *uint64
	// InitialInterval between retries, doubled on every attempt. Defaults to 500ms.
	InitialInterval time.Duration
	// PoolLengthM is set on exported swims.
	PoolLengthM int
}

// Reconciler applies plan changes to the remote calendar.
type Reconciler struct {
	repo      *plan.Repository
	remote    Remote
	publisher events.Publisher
	options   Options
	logger    *slog.Logger
}

// New creates a reconciler. A nil publisher drops events.
func New(repo *plan.Repository, remote Remote, publisher events.Publisher, options Options, logger *slog.Logger) *Reconciler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if options.MaxRetries == nil {
		options.MaxRetries = ptr.Ref(uint64(4)) //nolint:mnd // four retries.
	}
	if options.InitialInterval == 0 {
		options.InitialInterval = 500 * time.Millisecond //nolint:mnd // 500ms.
	}
	return &Reconciler{repo: repo, remote: remote, publisher: publisher, options: options, logger: logger}
}

// Sync drains the export queue and then sweeps [today, today+windowDays).
func (r *Reconciler) Sync(ctx context.Context, planID string, today time.Time, windowDays int) (SyncResult, error) {
	result, err := r.Drain(ctx)
	if err != nil {
		return result, err
	}
	swept, err := r.Sweep(ctx, planID, today, windowDays)
	result.merge(swept)
	return result, err
}

// Drain applies every queued export. Upserts of workouts with a remote copy delete it before creating the new
// one and a failed delete leaves the item queued without creating anything. Skipped workouts are removed.
// Items failing transiently stay queued for the next run.
func (r *Reconciler) Drain(ctx context.Context) (SyncResult, error) {
	items, err := r.repo.Queue(ctx)
	if err != nil {
		return SyncResult{}, errors.Wrap(err, "read export queue")
	}
	var result SyncResult
	for _, item := range items {
		w, err := r.repo.GetWorkout(ctx, item.WorkoutID)
		if errors.Is(err, plan.ErrNotFound) {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "dropping queue item of unknown workout",
				slog.String("workout_id", item.WorkoutID))
			if err = r.repo.Dequeue(ctx, item); err != nil {
				return result, err
			}
			continue
		}
		if err != nil {
			return result, errors.Wrap(err, "get queued workout", slog.String("workout_id", item.WorkoutID))
		}

		var outcome Outcome
		if item.Op == plan.OpRemove || w.Status == plan.StatusSkipped {
			outcome = r.remove(ctx, w)
		} else {
			action := ActionCreate
			if w.RemoteWorkoutID != nil {
				action = ActionReplace
			}
			outcome = r.upsert(ctx, w, action)
		}
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Err != nil && calendar.IsTransient(outcome.Err) {
			continue
		}
		if err = r.repo.Dequeue(ctx, item); err != nil {
			return result, err
		}
	}

	remaining, err := r.repo.Queue(ctx)
	if err != nil {
		return result, errors.Wrap(err, "read export queue")
	}
	queueDepth.Set(float64(len(remaining)))
	r.logger.LogAttrs(ctx, slog.LevelInfo, "drained export queue",
		slog.Int("items", len(items)),
		slog.Int("failed", len(result.Failed())),
		slog.Int("remaining", len(remaining)))
	return result, nil
}

// Sweep checks every scheduled workout dated in [today, today+windowDays). A workout without a remote copy is
// created, a remote copy that is gone or fails verification is deleted and recreated.
func (r *Reconciler) Sweep(ctx context.Context, planID string, today time.Time, windowDays int) (SyncResult, error) {
	workouts, err := r.repo.Upcoming(ctx, planID, today, windowDays)
	if err != nil {
		return SyncResult{}, errors.Wrap(err, "sweep upcoming workouts", slog.String("plan_id", planID))
	}
	var result SyncResult
	for _, w := range workouts {
		if w.Status != plan.StatusScheduled {
			continue
		}
		result.Outcomes = append(result.Outcomes, r.verify(ctx, w))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "swept upcoming workouts",
		slog.String("plan_id", planID),
		slog.Int("window_days", windowDays),
		slog.Int("checked", len(result.Outcomes)),
		slog.Int("created", result.Count(ActionCreate)),
		slog.Int("repaired", result.Count(ActionRepair)),
		slog.Int("failed", len(result.Failed())))
	return result, nil
}

// Verify checks the upcoming window without changing anything. Workouts without a remote copy or whose copy
// has drifted are returned as failed outcomes.
func (r *Reconciler) Verify(ctx context.Context, planID string, today time.Time, windowDays int) (SyncResult, error) {
	workouts, err := r.repo.Upcoming(ctx, planID, today, windowDays)
	if err != nil {
		return SyncResult{}, errors.Wrap(err, "verify upcoming workouts", slog.String("plan_id", planID))
	}
	var result SyncResult
	for _, w := range workouts {
		if w.Status != plan.StatusScheduled {
			continue
		}
		outcome := Outcome{WorkoutID: w.ID, Action: ActionVerified, RemoteID: "", Err: nil}
		if w.RemoteWorkoutID == nil {
			outcome.Err = errors.New("no remote copy")
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}
		outcome.RemoteID = *w.RemoteWorkoutID
		var payload calendar.Payload
		if err = r.retry(ctx, "get", func() error {
			var getErr error
			payload, getErr = r.remote.GetWorkout(ctx, *w.RemoteWorkoutID)
			return getErr
		}); err != nil {
			outcome.Err = err
		} else {
			outcome.Err = calendar.Verify(payload, w.Definition)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (r *Reconciler) verify(ctx context.Context, w plan.ScheduledWorkout) Outcome {
	if w.RemoteWorkoutID == nil {
		return r.upsert(ctx, w, ActionCreate)
	}
	remoteID := *w.RemoteWorkoutID
	var payload calendar.Payload
	err := r.retry(ctx, "get", func() error {
		var getErr error
		payload, getErr = r.remote.GetWorkout(ctx, remoteID)
		return getErr
	})
	switch {
	case errors.Is(err, calendar.ErrRemoteNotFound):
		driftRepairs.WithLabelValues("missing").Inc()
		r.logger.LogAttrs(ctx, slog.LevelWarn, "remote workout missing",
			slog.String("workout_id", w.ID), slog.String("remote_workout_id", remoteID))
		w.RemoteWorkoutID = nil
		return r.upsert(ctx, w, ActionRepair)
	case err != nil:
		return r.fail(ctx, w, ActionVerified, err)
	}

	verifyErr := calendar.Verify(payload, w.Definition)
	var drift *calendar.DriftError
	switch {
	case errors.As(verifyErr, &drift):
		driftRepairs.WithLabelValues("drift").Inc()
		r.logger.LogAttrs(ctx, slog.LevelWarn, "remote workout drifted",
			slog.String("workout_id", w.ID),
			slog.String("remote_workout_id", remoteID),
			errors.SlogError(verifyErr))
		return r.upsert(ctx, w, ActionRepair)
	case verifyErr != nil:
		return r.fail(ctx, w, ActionVerified, verifyErr)
	}
	return Outcome{WorkoutID: w.ID, Action: ActionVerified, RemoteID: remoteID, Err: nil}
}

// upsert serializes w, deletes its remote copy if any and creates a new one.
func (r *Reconciler) upsert(ctx context.Context, w plan.ScheduledWorkout, action Action) Outcome {
	payload, err := calendar.Serialize(w.Definition)
	if err != nil {
		return r.fail(ctx, w, action, err)
	}
	payload = payload.WithPool(r.options.PoolLengthM)

	if w.RemoteWorkoutID != nil {
		oldID := *w.RemoteWorkoutID
		if err = r.retry(ctx, "delete", func() error { return r.remote.DeleteWorkout(ctx, oldID) }); err != nil {
			return r.fail(ctx, w, action, errors.Wrap(err, "delete before create",
				slog.String("remote_workout_id", oldID)))
		}
		w.RemoteWorkoutID = nil
		if err = r.repo.SetRemote(ctx, w.ID, nil, w.SyncFault); err != nil {
			return Outcome{WorkoutID: w.ID, Action: action, RemoteID: "", Err: err}
		}
	}

	// A create whose scheduling failed leaves an orphan that is deleted before trying again.
	var created, orphan string
	err = r.retry(ctx, "create", func() error {
		if orphan != "" {
			if deleteErr := r.remote.DeleteWorkout(ctx, orphan); deleteErr != nil {
				return deleteErr
			}
			orphan = ""
		}
		id, createErr := r.remote.CreateWorkout(ctx, payload, w.Date)
		if createErr != nil {
			orphan = id
			return createErr
		}
		created = id
		return nil
	})
	if err != nil {
		if orphan != "" {
			w.RemoteWorkoutID = &orphan
		}
		return r.fail(ctx, w, action, err)
	}

	if err = r.repo.SetRemote(ctx, w.ID, &created, nil); err != nil {
		return Outcome{WorkoutID: w.ID, Action: action, RemoteID: created, Err: err}
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "exported workout",
		slog.String("workout_id", w.ID),
		slog.String("action", string(action)),
		slog.String("remote_workout_id", created),
		slog.String("date", w.Date.Format(time.DateOnly)))
	r.publish(ctx, events.Event{
		Type:            events.WorkoutSynced,
		WorkoutID:       w.ID,
		RemoteWorkoutID: created,
		ReviewID:        "",
		Date:            w.Date.Format(time.DateOnly),
		Error:           "",
		At:              time.Time{},
	})
	return Outcome{WorkoutID: w.ID, Action: action, RemoteID: created, Err: nil}
}

func (r *Reconciler) remove(ctx context.Context, w plan.ScheduledWorkout) Outcome {
	if w.RemoteWorkoutID == nil {
		return Outcome{WorkoutID: w.ID, Action: ActionSkip, RemoteID: "", Err: nil}
	}
	remoteID := *w.RemoteWorkoutID
	if err := r.retry(ctx, "delete", func() error { return r.remote.DeleteWorkout(ctx, remoteID) }); err != nil {
		return r.fail(ctx, w, ActionRemove, err)
	}
	if err := r.repo.SetRemote(ctx, w.ID, nil, nil); err != nil {
		return Outcome{WorkoutID: w.ID, Action: ActionRemove, RemoteID: remoteID, Err: err}
	}
	r.publish(ctx, events.Event{
		Type:            events.WorkoutRemoved,
		WorkoutID:       w.ID,
		RemoteWorkoutID: remoteID,
		ReviewID:        "",
		Date:            w.Date.Format(time.DateOnly),
		Error:           "",
		At:              time.Time{},
	})
	return Outcome{WorkoutID: w.ID, Action: ActionRemove, RemoteID: remoteID, Err: nil}
}

// fail records err as the workout's sync fault, keeping whatever remote id w carries.
func (r *Reconciler) fail(ctx context.Context, w plan.ScheduledWorkout, action Action, err error) Outcome {
	r.logger.LogAttrs(ctx, slog.LevelWarn, "workout sync failed",
		slog.String("workout_id", w.ID),
		slog.String("action", string(action)),
		errors.SlogError(err))
	if storeErr := r.repo.SetRemote(ctx, w.ID, w.RemoteWorkoutID, ptr.Ref(err.Error())); storeErr != nil {
		err = errors.Join(err, storeErr)
	}
	r.publish(ctx, events.Event{
		Type:            events.WorkoutSyncFailed,
		WorkoutID:       w.ID,
		RemoteWorkoutID: ptr.ValueOr(w.RemoteWorkoutID, ""),
		ReviewID:        "",
		Date:            w.Date.Format(time.DateOnly),
		Error:           err.Error(),
		At:              time.Time{},
	})
	return Outcome{WorkoutID: w.ID, Action: action, RemoteID: ptr.ValueOr(w.RemoteWorkoutID, ""), Err: err}
}

// retry runs fn with exponential backoff while it fails transiently.
func (r *Reconciler) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.options.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, *r.options.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		recordCall(op, err)
		if err != nil && !calendar.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		retries.WithLabelValues(op).Inc()
		r.logger.LogAttrs(ctx, slog.LevelDebug, "retrying remote call",
			slog.String("op", op), slog.Duration("wait", wait), errors.SlogError(err))
	})
}

func (r *Reconciler) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "publish event failed",
			slog.String("type", string(e.Type)), errors.SlogError(err))
	}
}
