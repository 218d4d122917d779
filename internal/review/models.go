// Package review holds daily evaluations of the plan and the approval workflow of their proposed changes.
//
// A modification moves from pending to approved or rejected exactly once. Approval is the only way a
// proposed change reaches the plan.
package review

import (
	"errors"
	"fmt"
	"time"

	"github.com/myrjola/coach/internal/plan"
)

// Status of a modification.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Action is a human decision on a pending modification.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Status returns the terminal status the action leads to.
func (a Action) Status() (Status, error) {
	switch a {
	case ActionApprove:
		return StatusApproved, nil
	case ActionReject:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown action %q", a)
}

// Priority of a proposed modification.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Modification is one proposed plan change.
type Modification struct {
	// Index is the position inside the review.
	Index       int
	Type        plan.ChangeType
	Week        int
	Description string
	Reason      string
	Priority    Priority
	Status      Status
	ActionedAt  *time.Time
	// Change holds the parameters used when the modification is approved.
	Change plan.Change
	// Fault describes a failure to apply the approved change. It never affects Status.
	Fault *string
}

// ApprovalStatus summarizes the modifications of a review.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalMixed    ApprovalStatus = "mixed"
	// ApprovalActioned is used for a review without modifications.
	ApprovalActioned ApprovalStatus = "actioned"
)

// DailyReview is the evaluation of one day. An athlete has at most one per date.
type DailyReview struct {
	ID              string
	AthleteID       string
	PlanID          string
	Date            time.Time
	Insights        string
	Recommendations string
	Modifications   []Modification
}

// ApprovalStatus is derived from the modification statuses.
func (r DailyReview) ApprovalStatus() ApprovalStatus {
	var approved, rejected int
	for _, m := range r.Modifications {
		switch m.Status {
		case StatusPending:
			return ApprovalPending
		case StatusApproved:
			approved++
		case StatusRejected:
			rejected++
		}
	}
	switch {
	case approved > 0 && rejected > 0:
		return ApprovalMixed
	case approved > 0:
		return ApprovalApproved
	case rejected > 0:
		return ApprovalRejected
	}
	return ApprovalActioned
}

var (
	ErrNotFound = errors.New("review not found")
	ErrExists   = errors.New("review already exists for date")
)

// InvalidStateError is returned when acting on a modification that is no longer pending.
type InvalidStateError struct {
	ReviewID string
	Index    int
	Status   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("modification %d of review %s is already %s", e.Index, e.ReviewID, e.Status)
}
