package plan

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/sqlite"
	"github.com/myrjola/coach/internal/workout"
)

//nolint:gochecknoglobals // namespace for deterministic plan ids.
var planNamespace = uuid.MustParse("0d7d7f0a-6a57-4a39-9a43-71c0b1f5e3c4")

// PlanID derives the id of the plan an athlete gets when starting at start.
func PlanID(athleteID string, start time.Time) string {
	return uuid.NewSHA1(planNamespace, []byte(athleteID+"/"+dateOnly(start).Format(sqlite.DateFormat))).String()
}

// Service generates plans and applies approved changes to them.
type Service struct {
	db       *sqlite.Database
	repo     *Repository
	template Template
	applier  Applier
	// check reports whether a mutated definition can be exported, e.g. by serializing it.
	check  func(workout.Definition) error
	logger *slog.Logger
}

// NewService creates a plan service for template. check is run on every mutated definition, nil accepts all.
func NewService(
	db *sqlite.Database,
	logger *slog.Logger,
	template Template,
	check func(workout.Definition) error,
) *Service {
	if check == nil {
		check = func(workout.Definition) error { return nil }
	}
	return &Service{
		db:       db,
		repo:     NewRepository(db, logger),
		template: template,
		applier:  Applier{Template: template, DeloadPercent: DefaultDeloadPercent},
		check:    check,
		logger:   logger,
	}
}

// Repository exposes the underlying storage.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Generated is the result of generating a plan.
type Generated struct {
	Plan     Plan
	Workouts []ScheduledWorkout
	// Inserted counts the workouts whose slots were free.
	Inserted int
}

// Generate expands the template for the athlete and stores the workouts. Running it again with the same input
// only fills slots that are still missing.
func (s *Service) Generate(
	ctx context.Context,
	athleteID string,
	start time.Time,
	horizonWeeks int,
) (Generated, error) {
	p := Plan{
		ID:           PlanID(athleteID, start),
		AthleteID:    athleteID,
		Name:         s.template.Name,
		StartDate:    dateOnly(start),
		HorizonWeeks: horizonWeeks,
	}
	workouts, err := Generate(s.template, p.ID, start, horizonWeeks)
	if err != nil {
		return Generated{}, fmt.Errorf("generate: %w", err)
	}
	inserted, err := s.repo.Save(ctx, p, workouts)
	if err != nil {
		return Generated{}, fmt.Errorf("save plan: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "generated plan",
		slog.String("plan_id", p.ID),
		slog.Int("horizon_weeks", horizonWeeks),
		slog.Int("workouts", len(workouts)),
		slog.Int("inserted", inserted))
	return Generated{Plan: p, Workouts: workouts, Inserted: inserted}, nil
}

// Upcoming returns the plan's workouts dated in [from, from+days).
func (s *Service) Upcoming(ctx context.Context, planID string, from time.Time, days int) ([]ScheduledWorkout, error) {
	workouts, err := s.repo.Upcoming(ctx, planID, from, days)
	if err != nil {
		return nil, fmt.Errorf("upcoming workouts: %w", err)
	}
	return workouts, nil
}

// Applied describes the outcome of applying a change.
type Applied struct {
	WorkoutIDs []string
	// Faults maps workout ids to the reason they could not be queued for export. The mutation itself is kept.
	Faults map[string]string
}

// Apply mutates the plan according to c and queues the affected workouts for export in one transaction. A
// mutated definition failing the export check is stored with a sync fault instead of being queued.
func (s *Service) Apply(ctx context.Context, planID string, c Change) (Applied, error) {
	p, err := s.repo.Get(ctx, planID)
	if err != nil {
		return Applied{}, fmt.Errorf("get plan: %w", err)
	}
	applied := Applied{WorkoutIDs: nil, Faults: map[string]string{}}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		all, err := s.repo.list(ctx, tx, `WHERE plan_id = ?`, planID)
		if err != nil {
			return err
		}
		mutated, err := s.applier.Mutate(p, all, c)
		if err != nil {
			return err
		}
		for _, w := range mutated {
			w.SyncFault = nil
			if checkErr := s.check(w.Definition); checkErr != nil {
				w.SyncFault = ptr.Ref(checkErr.Error())
				applied.Faults[w.ID] = checkErr.Error()
			}
			if err = s.repo.saveWorkout(ctx, tx, w); err != nil {
				return err
			}
			if w.SyncFault == nil {
				if err = s.repo.Enqueue(ctx, tx, w.ID, OpUpsert); err != nil {
					return err
				}
			}
			applied.WorkoutIDs = append(applied.WorkoutIDs, w.ID)
		}
		return nil
	})
	if err != nil {
		return Applied{}, fmt.Errorf("apply %s: %w", c.Type, err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "applied plan change",
		slog.String("plan_id", planID),
		slog.String("type", string(c.Type)),
		slog.Int("week", c.Week),
		slog.Int("workouts", len(applied.WorkoutIDs)),
		slog.Int("faults", len(applied.Faults)))
	return applied, nil
}

// Skip marks a scheduled workout skipped and queues its removal from the remote calendar.
func (s *Service) Skip(ctx context.Context, workoutID string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		w, err := s.repo.getWorkout(ctx, tx, workoutID)
		if err != nil {
			return err
		}
		if w.Status != StatusScheduled {
			return fmt.Errorf("workout is %s", w.Status)
		}
		w.Status = StatusSkipped
		if err = s.repo.saveWorkout(ctx, tx, w); err != nil {
			return err
		}
		if w.RemoteWorkoutID != nil {
			return s.repo.Enqueue(ctx, tx, w.ID, OpRemove)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("skip workout %s: %w", workoutID, err)
	}
	return nil
}
