// Package athlete stores the athlete's identity, goals, preferences and daily wellness readings.
package athlete

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/myrjola/coach/internal/sqlite"
)

// Priority ranks goals against each other.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Direction tells which way a goal metric should move.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionMaintain Direction = "maintain"
)

// Goal is a named target such as "400m swim time".
type Goal struct {
	Name      string    `json:"name"`
	Target    float64   `json:"target"`
	Current   *float64  `json:"current,omitempty"`
	Unit      string    `json:"unit"`
	Priority  Priority  `json:"priority"`
	Direction Direction `json:"direction"`
}

// Preferences tune plan generation and export.
type Preferences struct {
	PoolLengthM           int `json:"pool_length_m"`
	WeeklyVolumeTargetMin int `json:"weekly_volume_target_min"`
}

type Athlete struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Preferences Preferences `json:"preferences"`
	Goals       []Goal      `json:"goals"`
}

// Wellness is one day of recovery readings. Missing readings are nil.
type Wellness struct {
	Date        time.Time `json:"date"`
	RestingHR   *int      `json:"resting_hr,omitempty"`
	HRVMs       *float64  `json:"hrv_ms,omitempty"`
	SleepHours  *float64  `json:"sleep_hours,omitempty"`
	BodyBattery *int      `json:"body_battery,omitempty"`
	Stress      *int      `json:"stress,omitempty"`
}

var ErrNotFound = errors.New("athlete not found")

// Repository persists athletes.
type Repository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func NewRepository(db *sqlite.Database, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Save creates the athlete or updates its name, preferences and goals. Goals missing from a are left in place.
func (r *Repository) Save(ctx context.Context, a Athlete) error {
	if a.Preferences.PoolLengthM == 0 {
		a.Preferences.PoolLengthM = 25
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO athletes (id, name, pool_length_m, weekly_volume_target_min) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, pool_length_m = excluded.pool_length_m,
			    weekly_volume_target_min = excluded.weekly_volume_target_min`,
			a.ID, a.Name, a.Preferences.PoolLengthM, a.Preferences.WeeklyVolumeTargetMin); err != nil {
			return fmt.Errorf("upsert athlete: %w", err)
		}
		for _, g := range a.Goals {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO athlete_goals (athlete_id, name, target, current_value, unit, priority, direction)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (athlete_id, name) DO UPDATE SET target = excluded.target,
				    current_value = COALESCE(excluded.current_value, athlete_goals.current_value),
				    unit = excluded.unit, priority = excluded.priority, direction = excluded.direction,
				    updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ')`,
				a.ID, g.Name, g.Target, g.Current, g.Unit, string(g.Priority), string(g.Direction)); err != nil {
				return fmt.Errorf("upsert goal %s: %w", g.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save athlete %s: %w", a.ID, err)
	}
	return nil
}

// Get retrieves the athlete together with its goals ordered by priority.
func (r *Repository) Get(ctx context.Context, id string) (_ Athlete, err error) {
	a := Athlete{ID: id} //nolint:exhaustruct // filled below.
	err = r.db.ReadOnly.QueryRowContext(ctx,
		`SELECT name, pool_length_m, weekly_volume_target_min FROM athletes WHERE id = ?`, id).
		Scan(&a.Name, &a.Preferences.PoolLengthM, &a.Preferences.WeeklyVolumeTargetMin)
	if errors.Is(err, sql.ErrNoRows) {
		return Athlete{}, ErrNotFound
	}
	if err != nil {
		return Athlete{}, fmt.Errorf("query athlete: %w", err)
	}

	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT name, target, current_value, unit, priority, direction
		FROM athlete_goals
		WHERE athlete_id = ?
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, name`, id)
	if err != nil {
		return Athlete{}, fmt.Errorf("query goals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	for rows.Next() {
		var g Goal
		if err = rows.Scan(&g.Name, &g.Target, &g.Current, &g.Unit, &g.Priority, &g.Direction); err != nil {
			return Athlete{}, fmt.Errorf("scan goal: %w", err)
		}
		a.Goals = append(a.Goals, g)
	}
	if err = rows.Err(); err != nil {
		return Athlete{}, fmt.Errorf("iterate goals: %w", err)
	}
	return a, nil
}

// UpdateGoalValue records a new measurement for a goal.
func (r *Repository) UpdateGoalValue(ctx context.Context, athleteID, goal string, value float64) error {
	res, err := r.db.ReadWrite.ExecContext(ctx, `
		UPDATE athlete_goals SET current_value = ?, updated_at = STRFTIME('%Y-%m-%dT%H:%M:%fZ')
		WHERE athlete_id = ? AND name = ?`, value, athleteID, goal)
	if err != nil {
		return fmt.Errorf("update goal value: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("goal %s: %w", goal, ErrNotFound)
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "updated goal",
		slog.String("athlete_id", athleteID), slog.String("goal", goal), slog.Float64("value", value))
	return nil
}

// RecordWellness stores the readings of one day, replacing earlier readings of that day.
func (r *Repository) RecordWellness(ctx context.Context, athleteID string, w Wellness) error {
	if _, err := r.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO wellness (athlete_id, date, resting_hr, hrv_ms, sleep_hours, body_battery, stress)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (athlete_id, date) DO UPDATE SET resting_hr = excluded.resting_hr, hrv_ms = excluded.hrv_ms,
		    sleep_hours = excluded.sleep_hours, body_battery = excluded.body_battery, stress = excluded.stress`,
		athleteID, w.Date.Format(sqlite.DateFormat), w.RestingHR, w.HRVMs, w.SleepHours, w.BodyBattery,
		w.Stress); err != nil {
		return fmt.Errorf("record wellness: %w", err)
	}
	return nil
}

// LatestWellness returns the most recent readings on or before day. ok is false when none exist.
func (r *Repository) LatestWellness(ctx context.Context, athleteID string, day time.Time) (Wellness, bool, error) {
	var (
		w    Wellness
		date string
	)
	err := r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT date, resting_hr, hrv_ms, sleep_hours, body_battery, stress
		FROM wellness
		WHERE athlete_id = ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1`, athleteID, day.Format(sqlite.DateFormat)).
		Scan(&date, &w.RestingHR, &w.HRVMs, &w.SleepHours, &w.BodyBattery, &w.Stress)
	if errors.Is(err, sql.ErrNoRows) {
		return Wellness{}, false, nil
	}
	if err != nil {
		return Wellness{}, false, fmt.Errorf("query wellness: %w", err)
	}
	if w.Date, err = time.Parse(sqlite.DateFormat, date); err != nil {
		return Wellness{}, false, fmt.Errorf("parse wellness date: %w", err)
	}
	return w, true, nil
}
