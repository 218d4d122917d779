package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/myrjola/coach/internal/plan"
)

// Applier applies an approved change to a plan. *plan.Service implements it.
type Applier interface {
	Apply(ctx context.Context, planID string, c plan.Change) (plan.Applied, error)
}

// Outcome of acting on one modification.
type Outcome struct {
	Index  int
	Status Status
	// WorkoutIDs lists the scheduled workouts changed by an approval.
	WorkoutIDs []string
	// Fault describes why an approved change could not be applied or exported. The approval stands.
	Fault string
	// Err is set when the action was refused, e.g. with an InvalidStateError.
	Err error
}

// Machine drives the modification state machine.
type Machine struct {
	repo    *Repository
	applier Applier
	now     func() time.Time
	logger  *slog.Logger
}

// NewMachine creates a state machine that applies approved changes with applier.
func NewMachine(repo *Repository, applier Applier, logger *slog.Logger) *Machine {
	return &Machine{repo: repo, applier: applier, now: time.Now, logger: logger}
}

// ActionSingle approves or rejects the modification at index. Acting on a modification that is not pending
// fails with an InvalidStateError and leaves it untouched.
//
// The status transition is final before the change is applied: a failing application is reported as the
// outcome's Fault and stored on the modification, it does not return an error.
func (m *Machine) ActionSingle(ctx context.Context, reviewID string, index int, action Action) (Outcome, error) {
	review, err := m.repo.Get(ctx, reviewID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get review: %w", err)
	}
	if index < 0 || index >= len(review.Modifications) {
		return Outcome{}, fmt.Errorf("modification %d: %w", index, ErrNotFound)
	}
	return m.action(ctx, review, review.Modifications[index], action)
}

func (m *Machine) action(ctx context.Context, review DailyReview, mod Modification, action Action) (Outcome, error) {
	status, err := action.Status()
	if err != nil {
		return Outcome{}, err
	}
	if err = m.repo.transition(ctx, review.ID, mod.Index, status, m.now()); err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{Index: mod.Index, Status: status, WorkoutIDs: nil, Fault: "", Err: nil}
	logAttrs := []slog.Attr{
		slog.String("review_id", review.ID),
		slog.Int("index", mod.Index),
		slog.String("type", string(mod.Type)),
		slog.String("status", string(status)),
	}
	if status == StatusRejected {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "modification rejected", logAttrs...)
		return outcome, nil
	}

	applied, applyErr := m.applier.Apply(ctx, review.PlanID, mod.Change)
	outcome.WorkoutIDs = applied.WorkoutIDs
	switch {
	case applyErr != nil:
		outcome.Fault = applyErr.Error()
	case len(applied.Faults) > 0:
		var faults []string
		for _, id := range slices.Sorted(maps.Keys(applied.Faults)) {
			faults = append(faults, fmt.Sprintf("workout %s: %s", id, applied.Faults[id]))
		}
		outcome.Fault = strings.Join(faults, "; ")
	}
	if outcome.Fault != "" {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "approved modification has a fault",
			append(logAttrs, slog.String("fault", outcome.Fault))...)
		if err = m.repo.setFault(ctx, review.ID, mod.Index, outcome.Fault); err != nil {
			return outcome, err
		}
		return outcome, nil
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "modification approved",
		append(logAttrs, slog.Int("workouts", len(applied.WorkoutIDs)))...)
	return outcome, nil
}

// BulkResult collects the per-item outcomes of a bulk action in list order.
type BulkResult struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that were refused or carry a fault.
func (b BulkResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range b.Outcomes {
		if o.Err != nil || o.Fault != "" {
			failed = append(failed, o)
		}
	}
	return failed
}

// ActionBulk acts on every pending modification of the review in list order. A failing item does not stop
// the remaining ones.
func (m *Machine) ActionBulk(ctx context.Context, reviewID string, action Action) (BulkResult, error) {
	if _, err := action.Status(); err != nil {
		return BulkResult{}, err
	}
	review, err := m.repo.Get(ctx, reviewID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("get review: %w", err)
	}
	var result BulkResult
	for _, mod := range review.Modifications {
		if mod.Status != StatusPending {
			continue
		}
		outcome, actionErr := m.action(ctx, review, mod, action)
		if actionErr != nil {
			outcome = Outcome{Index: mod.Index, Status: mod.Status, WorkoutIDs: nil, Fault: "", Err: actionErr}
			var stateErr *InvalidStateError
			if errors.As(actionErr, &stateErr) {
				outcome.Status = stateErr.Status
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "bulk action done",
		slog.String("review_id", reviewID),
		slog.String("action", string(action)),
		slog.Int("items", len(result.Outcomes)),
		slog.Int("failed", len(result.Failed())))
	return result, nil
}
