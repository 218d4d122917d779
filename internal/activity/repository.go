package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/myrjola/coach/internal/sqlite"
)

// Summary counts the outcome of an import.
type Summary struct {
	Imported int
	// Skipped counts records that were already stored.
	Skipped int
	// Invalid counts records that were rejected without being stored.
	Invalid int
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Imported += other.Imported
	s.Skipped += other.Skipped
	s.Invalid += other.Invalid
}

type Repository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func NewRepository(db *sqlite.Database, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Import stores activities that are not yet known. Duplicates of (athlete, source, external id) are skipped,
// so importing an overlapping window again is harmless. Invalid records are logged and counted, the rest of the
// batch is still stored.
func (r *Repository) Import(ctx context.Context, activities []Activity) (Summary, error) {
	var summary Summary
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, a := range activities {
			if err := a.Validate(); err != nil {
				summary.Invalid++
				r.logger.LogAttrs(ctx, slog.LevelWarn, "rejected invalid activity",
					slog.String("source", string(a.Source)),
					slog.String("external_id", a.ExternalID),
					slog.String("reason", err.Error()))
				continue
			}
			detail := a.Detail
			if len(detail) == 0 {
				detail = []byte("{}")
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO completed_activities
				    (id, athlete_id, activity_date, source, external_id, activity_type, duration_s, distance_m, detail)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (athlete_id, source, external_id) DO NOTHING`,
				ID(a.AthleteID, a.Source, a.ExternalID), a.AthleteID,
				a.Date.UTC().Format(sqlite.TimestampFormat), string(a.Source), a.ExternalID, a.ActivityType,
				int64(a.Duration/time.Second), a.DistanceM, string(detail))
			if err != nil {
				return fmt.Errorf("insert activity %s: %w", a.ExternalID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n == 0 {
				summary.Skipped++
			} else {
				summary.Imported++
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("import activities: %w", err)
	}
	return summary, nil
}

// Between returns the athlete's activities dated in [from, to), oldest first.
func (r *Repository) Between(ctx context.Context, athleteID string, from, to time.Time) (_ []Activity, err error) {
	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT id, athlete_id, activity_date, source, external_id, activity_type, duration_s, distance_m, detail,
		       scheduled_workout_id
		FROM completed_activities
		WHERE athlete_id = ? AND activity_date >= ? AND activity_date < ?
		ORDER BY activity_date, id`,
		athleteID, from.UTC().Format(sqlite.TimestampFormat), to.UTC().Format(sqlite.TimestampFormat))
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()

	var activities []Activity
	for rows.Next() {
		var (
			a         Activity
			date      string
			durationS int64
			detail    string
		)
		if err = rows.Scan(&a.ID, &a.AthleteID, &date, &a.Source, &a.ExternalID, &a.ActivityType, &durationS,
			&a.DistanceM, &detail, &a.ScheduledWorkoutID); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if a.Date, err = time.Parse(sqlite.TimestampFormat, date); err != nil {
			return nil, fmt.Errorf("parse activity date: %w", err)
		}
		a.Duration = time.Duration(durationS) * time.Second
		a.Detail = []byte(detail)
		activities = append(activities, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}

// LinkWorkout sets the back-reference to the scheduled workout within tx. It reports false when the activity
// was already linked.
func (r *Repository) LinkWorkout(ctx context.Context, tx *sql.Tx, activityID, workoutID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE completed_activities SET scheduled_workout_id = ?
		WHERE id = ? AND scheduled_workout_id IS NULL`, workoutID, activityID)
	if err != nil {
		return false, fmt.Errorf("link workout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
