package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/logging"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/sqlite"
)

// Trigger tells what started a daily sync.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// RunStatus of a daily sync.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
	// RunSkipped is never stored. It reports that the day was already synced successfully.
	RunSkipped RunStatus = "skipped"
)

// RunSummary is stored as JSON with each finished run.
type RunSummary struct {
	Imported   int      `json:"imported"`
	Skipped    int      `json:"skipped"`
	Invalid    int      `json:"invalid"`
	Adherence  *float64 `json:"adherence,omitempty"`
	NewMatches int      `json:"new_matches"`
	ReviewID   string   `json:"review_id,omitempty"`
	Synced     int      `json:"synced"`
	SyncFailed int      `json:"sync_failed"`
	Error      string   `json:"error,omitempty"`
}

// SyncRun is one daily sync.
type SyncRun struct {
	ID         string
	Date       time.Time
	Trigger    Trigger
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    RunSummary
}

// RunDailySync imports activities, computes adherence, creates the daily review and reconciles the remote
// calendar. It runs at most once successfully per day, concurrent calls share a run.
func (s *Service) RunDailySync(ctx context.Context, trigger Trigger) (SyncRun, error) {
	day := s.today()
	ctx = logging.WithAttrs(ctx,
		slog.String("athlete_id", s.cfg.AthleteID),
		slog.String("trigger", string(trigger)),
		slog.String("sync_date", day.Format(sqlite.DateFormat)))

	v, err, shared := s.daily.Do(day.Format(sqlite.DateFormat), func() (any, error) {
		return s.runDailySync(ctx, day, trigger)
	})
	run, _ := v.(SyncRun)
	if shared {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "joined running daily sync")
	}
	return run, err //nolint:wrapcheck // wrapped in runDailySync.
}

func (s *Service) runDailySync(ctx context.Context, day time.Time, trigger Trigger) (SyncRun, error) {
	done, err := s.successfulRun(ctx, day)
	if err != nil {
		return SyncRun{}, err
	}
	if done != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "daily sync already done", slog.String("run_id", done.ID))
		done.Status = RunSkipped
		return *done, nil
	}

	run := SyncRun{
		ID:         uuid.NewString(),
		Date:       day,
		Trigger:    trigger,
		Status:     RunRunning,
		StartedAt:  s.now().UTC(),
		FinishedAt: nil,
		Summary:    RunSummary{},
	}
	if err = s.insertRun(ctx, run); err != nil {
		return SyncRun{}, err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "daily sync started", slog.String("run_id", run.ID))

	stepErr := s.dailySteps(ctx, day, &run.Summary)
	run.Status = RunSuccess
	if stepErr != nil {
		run.Status = RunFailure
		run.Summary.Error = stepErr.Error()
	}
	finished := s.now().UTC()
	run.FinishedAt = &finished

	err = s.finishRun(ctx, run)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		// Another process finished the day first.
		run.Status = RunFailure
		run.Summary.Error = "already synced"
		if err = s.finishRun(ctx, run); err != nil {
			return run, err
		}
		run.Status = RunSkipped
		return run, nil
	}
	if err != nil {
		return run, err
	}

	if stepErr != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "daily sync failed",
			slog.String("run_id", run.ID), errors.SlogError(stepErr))
		return run, fmt.Errorf("daily sync: %w", stepErr)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "daily sync finished",
		slog.String("run_id", run.ID),
		slog.Int("imported", run.Summary.Imported),
		slog.Int("synced", run.Summary.Synced),
		slog.Int("sync_failed", run.Summary.SyncFailed))
	return run, nil
}

func (s *Service) dailySteps(ctx context.Context, day time.Time, summary *RunSummary) error {
	window := adherence.Trailing(day, s.cfg.AdherenceDays)

	// Padded by a day on both ends so activities near local midnight are stored before matching.
	imported, err := s.ImportActivities(ctx, window.From.AddDate(0, 0, -1), window.To.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	summary.Imported, summary.Skipped, summary.Invalid = imported.Imported, imported.Skipped, imported.Invalid

	res, err := s.ComputeAdherence(ctx, window)
	if err != nil {
		return err
	}
	summary.Adherence = res.Overall.Adherence
	summary.NewMatches = len(res.NewPairs())

	r, err := s.Evaluate(ctx, day)
	if err != nil {
		return err
	}
	summary.ReviewID = r.ID

	if s.reconciler == nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "no remote calendar configured, skipping reconcile")
		return nil
	}
	synced, err := s.Reconcile(ctx, s.cfg.SweepDays)
	summary.Synced = synced.Count(reconcile.ActionCreate) + synced.Count(reconcile.ActionReplace) +
		synced.Count(reconcile.ActionRepair)
	summary.SyncFailed = len(synced.Failed())
	if err != nil {
		return err
	}
	return nil
}

// SyncRuns lists the most recent runs first.
func (s *Service) SyncRuns(ctx context.Context, limit int) (_ []SyncRun, err error) {
	rows, err := s.db.ReadOnly.QueryContext(ctx, `
		SELECT id, sync_date, trigger_kind, status, started_at, finished_at, summary
		FROM sync_log
		WHERE athlete_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, s.cfg.AthleteID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()
	var runs []SyncRun
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

func (s *Service) successfulRun(ctx context.Context, day time.Time) (*SyncRun, error) {
	row := s.db.ReadWrite.QueryRowContext(ctx, `
		SELECT id, sync_date, trigger_kind, status, started_at, finished_at, summary
		FROM sync_log
		WHERE athlete_id = ? AND sync_date = ? AND status = 'success'`,
		s.cfg.AthleteID, day.Format(sqlite.DateFormat))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no run is not an error.
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Service) insertRun(ctx context.Context, run SyncRun) error {
	if _, err := s.db.ReadWrite.ExecContext(ctx, `
		INSERT INTO sync_log (id, athlete_id, sync_date, trigger_kind, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, s.cfg.AthleteID, run.Date.Format(sqlite.DateFormat), string(run.Trigger), string(run.Status),
		run.StartedAt.Format(sqlite.TimestampFormat)); err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

func (s *Service) finishRun(ctx context.Context, run SyncRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	var finished *string
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(sqlite.TimestampFormat)
		finished = &f
	}
	if _, err = s.db.ReadWrite.ExecContext(ctx, `
		UPDATE sync_log SET status = ?, finished_at = ?, summary = ? WHERE id = ?`,
		string(run.Status), finished, string(summary), run.ID); err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (SyncRun, error) {
	var (
		run                   SyncRun
		date, trigger, status string
		startedAt, summary    string
		finishedAt            sql.NullString
	)
	if err := row.Scan(&run.ID, &date, &trigger, &status, &startedAt, &finishedAt, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncRun{}, err //nolint:wrapcheck // sentinel checked by callers.
		}
		return SyncRun{}, fmt.Errorf("scan sync run: %w", err)
	}
	run.Trigger = Trigger(trigger)
	run.Status = RunStatus(status)
	var err error
	if run.Date, err = time.Parse(sqlite.DateFormat, date); err != nil {
		return SyncRun{}, fmt.Errorf("parse sync date: %w", err)
	}
	if run.StartedAt, err = time.Parse(sqlite.TimestampFormat, startedAt); err != nil {
		return SyncRun{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, parseErr := time.Parse(sqlite.TimestampFormat, finishedAt.String)
		if parseErr != nil {
			return SyncRun{}, fmt.Errorf("parse finished_at: %w", parseErr)
		}
		run.FinishedAt = &t
	}
	if summary != "" {
		if err = json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return SyncRun{}, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return run, nil
}
