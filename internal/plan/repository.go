package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/workout"
)

// Queue operations consumed by the reconciler.
const (
	OpUpsert = "upsert"
	OpRemove = "remove"
)

// QueueItem is a scheduled workout waiting for export.
type QueueItem struct {
	WorkoutID  string
	Op         string
	EnqueuedAt time.Time
}

// Repository stores plans, their scheduled workouts and the export queue.
type Repository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

// NewRepository creates a SQLite-backed plan repository.
func NewRepository(db *sqlite.Database, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Save inserts the plan and those of its workouts whose slot is still free. Existing workouts are kept as they
// are so that regenerating a plan never overwrites manual edits or history. It returns the number of inserted
// workouts.
func (r *Repository) Save(ctx context.Context, p Plan, workouts []ScheduledWorkout) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, athlete_id, name, start_date, horizon_weeks)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET horizon_weeks = MAX(plans.horizon_weeks, excluded.horizon_weeks)`,
			p.ID, p.AthleteID, p.Name, p.StartDate.Format(sqlite.DateFormat), p.HorizonWeeks); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		for _, w := range workouts {
			definition, err := workout.Marshal(w.Definition)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", w.ID, err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO scheduled_workouts
				    (id, plan_id, scheduled_date, week_number, workout_type, definition, status, is_test_week)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING`,
				w.ID, w.PlanID, w.Date.Format(sqlite.DateFormat), w.Week, w.WorkoutType, string(definition),
				string(w.Status), w.IsTestWeek)
			if err != nil {
				return fmt.Errorf("insert workout %s: %w", w.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Get retrieves a plan by id.
func (r *Repository) Get(ctx context.Context, id string) (Plan, error) {
	return r.getPlan(ctx, `WHERE id = ?`, id)
}

// Latest retrieves the most recently created plan of an athlete.
func (r *Repository) Latest(ctx context.Context, athleteID string) (Plan, error) {
	return r.getPlan(ctx, `WHERE athlete_id = ? ORDER BY created_at DESC, start_date DESC LIMIT 1`, athleteID)
}

func (r *Repository) getPlan(ctx context.Context, where string, args ...any) (Plan, error) {
	var (
		p     Plan
		start string
	)
	err := r.db.ReadOnly.QueryRowContext(ctx,
		`SELECT id, athlete_id, name, start_date, horizon_weeks FROM plans `+where, args...).
		Scan(&p.ID, &p.AthleteID, &p.Name, &start, &p.HorizonWeeks)
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("query plan: %w", err)
	}
	if p.StartDate, err = time.Parse(sqlite.DateFormat, start); err != nil {
		return Plan{}, fmt.Errorf("parse start date: %w", err)
	}
	return p, nil
}

const workoutColumns = `id, plan_id, scheduled_date, week_number, workout_type, definition, status, is_test_week,
	remote_workout_id, completed_activity_id, sync_fault`

// Upcoming returns the workouts of a plan dated in [from, from+days), ordered by date and workout type.
//
// It is the only query for a date range of workouts, shared by the daily job, the reconciler sweep, adherence
// windows and the CLI.
func (r *Repository) Upcoming(ctx context.Context, planID string, from time.Time, days int) ([]ScheduledWorkout, error) {
	to := dateOnly(from).AddDate(0, 0, days)
	return r.list(ctx, r.db.ReadOnly, `WHERE plan_id = ? AND scheduled_date >= ? AND scheduled_date < ?`,
		planID, dateOnly(from).Format(sqlite.DateFormat), to.Format(sqlite.DateFormat))
}

// All returns every workout of a plan.
func (r *Repository) All(ctx context.Context, planID string) ([]ScheduledWorkout, error) {
	return r.list(ctx, r.db.ReadOnly, `WHERE plan_id = ?`, planID)
}

// GetWorkout retrieves a scheduled workout by id.
func (r *Repository) GetWorkout(ctx context.Context, id string) (ScheduledWorkout, error) {
	return r.getWorkout(ctx, r.db.ReadOnly, id)
}

func (r *Repository) getWorkout(ctx context.Context, q querier, id string) (ScheduledWorkout, error) {
	workouts, err := r.list(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return ScheduledWorkout{}, err
	}
	if len(workouts) == 0 {
		return ScheduledWorkout{}, ErrNotFound
	}
	return workouts[0], nil
}

func (r *Repository) list(ctx context.Context, q querier, where string, args ...any) (_ []ScheduledWorkout, err error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+workoutColumns+` FROM scheduled_workouts `+where+` ORDER BY scheduled_date, workout_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("query scheduled workouts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var workouts []ScheduledWorkout
	for rows.Next() {
		var (
			w          ScheduledWorkout
			date       string
			definition string
			status     string
		)
		if err = rows.Scan(&w.ID, &w.PlanID, &date, &w.Week, &w.WorkoutType, &definition, &status, &w.IsTestWeek,
			&w.RemoteWorkoutID, &w.CompletedActivityID, &w.SyncFault); err != nil {
			return nil, fmt.Errorf("scan scheduled workout: %w", err)
		}
		if w.Date, err = time.Parse(sqlite.DateFormat, date); err != nil {
			return nil, fmt.Errorf("parse date of %s: %w", w.ID, err)
		}
		if w.Definition, err = workout.Unmarshal([]byte(definition)); err != nil {
			return nil, fmt.Errorf("definition of %s: %w", w.ID, err)
		}
		w.Status = Status(status)
		workouts = append(workouts, w)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled workouts: %w", err)
	}
	return workouts, nil
}

// Update loads the workout, calls updateFn and persists the result when updateFn reports a change.
func (r *Repository) Update(
	ctx context.Context,
	id string,
	updateFn func(w *ScheduledWorkout) (bool, error),
) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		w, err := r.getWorkout(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("get workout for update: %w", err)
		}
		updated, err := updateFn(&w)
		if err != nil {
			return fmt.Errorf("update workout: %w", err)
		}
		if !updated {
			return nil
		}
		return r.saveWorkout(ctx, tx, w)
	})
}

func (r *Repository) saveWorkout(ctx context.Context, tx execer, w ScheduledWorkout) error {
	definition, err := workout.Marshal(w.Definition)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", w.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE scheduled_workouts
		SET scheduled_date = ?, week_number = ?, workout_type = ?, definition = ?, status = ?,
		    remote_workout_id = ?, completed_activity_id = ?, sync_fault = ?,
		    updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ')
		WHERE id = ?`,
		w.Date.Format(sqlite.DateFormat), w.Week, w.WorkoutType, string(definition), string(w.Status),
		w.RemoteWorkoutID, w.CompletedActivityID, w.SyncFault, w.ID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("save %s on %s: %w", w.WorkoutType, w.Date.Format(sqlite.DateFormat), ErrSlotTaken)
		}
		return fmt.Errorf("save workout %s: %w", w.ID, err)
	}
	return nil
}

// SetRemote records the remote id of a workout and clears or sets its sync fault.
func (r *Repository) SetRemote(ctx context.Context, id string, remoteID *string, fault *string) error {
	res, err := r.db.ReadWrite.ExecContext(ctx, `
		UPDATE scheduled_workouts
		SET remote_workout_id = ?, sync_fault = ?, updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ')
		WHERE id = ?`, remoteID, fault, id)
	if err != nil {
		return fmt.Errorf("set remote id: %w", err)
	}
	return expectOne(res)
}

// SetFault records a sync fault without touching the remote id. A nil fault clears it.
func (r *Repository) SetFault(ctx context.Context, id string, fault *string) error {
	res, err := r.db.ReadWrite.ExecContext(ctx, `
		UPDATE scheduled_workouts SET sync_fault = ?, updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ') WHERE id = ?`,
		fault, id)
	if err != nil {
		return fmt.Errorf("set sync fault: %w", err)
	}
	return expectOne(res)
}

// LinkActivity marks the workout completed by activityID within tx. It reports false when the workout was
// already linked, leaving the existing link in place.
func (r *Repository) LinkActivity(ctx context.Context, tx *sql.Tx, workoutID, activityID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE scheduled_workouts
		SET completed_activity_id = ?, status = 'completed', updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ')
		WHERE id = ? AND completed_activity_id IS NULL`, activityID, workoutID)
	if err != nil {
		return false, fmt.Errorf("link activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Enqueue schedules the workout for export within tx. A later operation replaces an earlier pending one.
func (r *Repository) Enqueue(ctx context.Context, tx execer, workoutID string, op string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (scheduled_workout_id, op) VALUES (?, ?)
		ON CONFLICT (scheduled_workout_id) DO UPDATE SET op = excluded.op, enqueued_at = excluded.enqueued_at`,
		workoutID, op); err != nil {
		return fmt.Errorf("enqueue %s: %w", workoutID, err)
	}
	return nil
}

// Queue lists pending exports, oldest first.
func (r *Repository) Queue(ctx context.Context) (_ []QueueItem, err error) {
	rows, err := r.db.ReadOnly.QueryContext(ctx,
		`SELECT scheduled_workout_id, op, enqueued_at FROM sync_queue ORDER BY enqueued_at, scheduled_workout_id`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var items []QueueItem
	for rows.Next() {
		var (
			item       QueueItem
			enqueuedAt string
		)
		if err = rows.Scan(&item.WorkoutID, &item.Op, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if item.EnqueuedAt, err = time.Parse(sqlite.TimestampFormat, enqueuedAt); err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync queue: %w", err)
	}
	return items, nil
}

// Dequeue removes the item if it was not re-enqueued after enqueuedAt.
func (r *Repository) Dequeue(ctx context.Context, item QueueItem) error {
	if _, err := r.db.ReadWrite.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE scheduled_workout_id = ? AND enqueued_at = ?`,
		item.WorkoutID, item.EnqueuedAt.UTC().Format(sqlite.TimestampFormat)); err != nil {
		return fmt.Errorf("dequeue %s: %w", item.WorkoutID, err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
