package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/myrjola/coach/internal/sqlite"
)

// Repository persists daily reviews and their modifications.
type Repository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func NewRepository(db *sqlite.Database, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create stores a new review with all modifications pending. It assigns the review id and modification
// indexes and returns ErrExists when the athlete already has a review for the date.
func (r *Repository) Create(ctx context.Context, review DailyReview) (DailyReview, error) {
	review.ID = uuid.NewString()
	for i := range review.Modifications {
		m := &review.Modifications[i]
		m.Index = i
		m.Status = StatusPending
		m.ActionedAt = nil
		m.Fault = nil
		m.Change.Type = m.Type
		m.Change.Week = m.Week
	}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_reviews (id, athlete_id, plan_id, review_date, insights, recommendations)
			VALUES (?, ?, ?, ?, ?, ?)`,
			review.ID, review.AthleteID, review.PlanID, review.Date.Format(sqlite.DateFormat), review.Insights,
			review.Recommendations); err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return ErrExists
			}
			return fmt.Errorf("insert review: %w", err)
		}
		for _, m := range review.Modifications {
			change, err := json.Marshal(m.Change)
			if err != nil {
				return fmt.Errorf("marshal change: %w", err)
			}
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO modifications (review_id, position, type, week, description, reason, priority, change)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				review.ID, m.Index, string(m.Type), m.Week, m.Description, m.Reason, string(m.Priority),
				string(change)); err != nil {
				return fmt.Errorf("insert modification %d: %w", m.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return DailyReview{}, fmt.Errorf("create review: %w", err)
	}
	return review, nil
}

// Get retrieves a review with its modifications in list order.
func (r *Repository) Get(ctx context.Context, id string) (DailyReview, error) {
	return r.getReview(ctx, `WHERE id = ?`, id)
}

// ByDate retrieves the athlete's review of day.
func (r *Repository) ByDate(ctx context.Context, athleteID string, day time.Time) (DailyReview, error) {
	return r.getReview(ctx, `WHERE athlete_id = ? AND review_date = ?`, athleteID, day.Format(sqlite.DateFormat))
}

// Latest retrieves the athlete's most recent review.
func (r *Repository) Latest(ctx context.Context, athleteID string) (DailyReview, error) {
	return r.getReview(ctx, `WHERE athlete_id = ? ORDER BY review_date DESC LIMIT 1`, athleteID)
}

func (r *Repository) getReview(ctx context.Context, where string, args ...any) (DailyReview, error) {
	var (
		review DailyReview
		date   string
	)
	err := r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT id, athlete_id, plan_id, review_date, insights, recommendations FROM daily_reviews `+where, args...).
		Scan(&review.ID, &review.AthleteID, &review.PlanID, &date, &review.Insights, &review.Recommendations)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyReview{}, ErrNotFound
	}
	if err != nil {
		return DailyReview{}, fmt.Errorf("query review: %w", err)
	}
	if review.Date, err = time.Parse(sqlite.DateFormat, date); err != nil {
		return DailyReview{}, fmt.Errorf("parse review date: %w", err)
	}
	if review.Modifications, err = r.modifications(ctx, review.ID); err != nil {
		return DailyReview{}, err
	}
	return review, nil
}

func (r *Repository) modifications(ctx context.Context, reviewID string) (_ []Modification, err error) {
	rows, err := r.db.ReadOnly.QueryContext(ctx, `
		SELECT position, type, week, description, reason, priority, status, actioned_at, change, fault
		FROM modifications
		WHERE review_id = ?
		ORDER BY position`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("query modifications: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var mods []Modification
	for rows.Next() {
		var (
			m          Modification
			actionedAt sql.NullString
			change     string
		)
		if err = rows.Scan(&m.Index, &m.Type, &m.Week, &m.Description, &m.Reason, &m.Priority, &m.Status,
			&actionedAt, &change, &m.Fault); err != nil {
			return nil, fmt.Errorf("scan modification: %w", err)
		}
		if actionedAt.Valid {
			t, parseErr := time.Parse(sqlite.TimestampFormat, actionedAt.String)
			if parseErr != nil {
				return nil, fmt.Errorf("parse actioned_at: %w", parseErr)
			}
			m.ActionedAt = &t
		}
		if err = json.Unmarshal([]byte(change), &m.Change); err != nil {
			return nil, fmt.Errorf("unmarshal change: %w", err)
		}
		mods = append(mods, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modifications: %w", err)
	}
	return mods, nil
}

// transition moves a pending modification to status with a single conditional update. Exactly one of
// concurrent transitions of the same modification succeeds, the others get an InvalidStateError.
func (r *Repository) transition(ctx context.Context, reviewID string, index int, status Status, at time.Time) error {
	res, err := r.db.ReadWrite.ExecContext(ctx, `
		UPDATE modifications SET status = ?, actioned_at = ?
		WHERE review_id = ? AND position = ? AND status = 'pending'`,
		string(status), at.UTC().Format(sqlite.TimestampFormat), reviewID, index)
	if err != nil {
		return fmt.Errorf("update modification status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var current Status
	err = r.db.ReadWrite.QueryRowContext(ctx,
		`SELECT status FROM modifications WHERE review_id = ? AND position = ?`, reviewID, index).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("modification %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query modification status: %w", err)
	}
	return &InvalidStateError{ReviewID: reviewID, Index: index, Status: current}
}

// setFault records a failure to apply an approved modification.
func (r *Repository) setFault(ctx context.Context, reviewID string, index int, fault string) error {
	if _, err := r.db.ReadWrite.ExecContext(ctx,
		`UPDATE modifications SET fault = ? WHERE review_id = ? AND position = ?`,
		fault, reviewID, index); err != nil {
		return fmt.Errorf("set modification fault: %w", err)
	}
	return nil
}
