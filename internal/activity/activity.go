// Package activity imports completed activities from wearables, strength apps and manual entries.
//
// Import is idempotent: an activity is identified by (athlete, source, external id) and a repeated import of
// the same record is counted as skipped instead of stored twice.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/myrjola/coach/internal/workout"
)

// Source is where an activity was recorded.
type Source string

const (
	SourceWearable    Source = "wearable"
	SourceStrengthApp Source = "strength_app"
	SourceManual      Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceWearable, SourceStrengthApp, SourceManual:
		return true
	}
	return false
}

// Activity is an imported fact about a completed session. Only ScheduledWorkoutID changes after import.
type Activity struct {
	ID           string
	AthleteID    string
	Date         time.Time
	Source       Source
	ExternalID   string
	ActivityType string
	Duration     time.Duration
	DistanceM    *float64
	// Detail is the source specific payload, kept as JSON.
	Detail json.RawMessage
	// ScheduledWorkoutID references the planned workout this activity completed.
	ScheduledWorkoutID *string
}

// Category is the coarse category used for matching against planned workouts.
func (a Activity) Category() workout.Category {
	return workout.CategoryOf(a.ActivityType)
}

//nolint:gochecknoglobals // namespace for deterministic activity ids.
var activityNamespace = uuid.MustParse("6f1c1e55-3b0a-4c84-8f57-0d8e8f3f4d2a")

// ID derives the id of an activity from its natural key.
func ID(athleteID string, source Source, externalID string) string {
	return uuid.NewSHA1(activityNamespace, []byte(athleteID+"/"+string(source)+"/"+externalID)).String()
}

// Validate reports why a cannot be stored.
func (a Activity) Validate() error {
	switch {
	case a.AthleteID == "":
		return fmt.Errorf("activity %s without athlete", a.ExternalID)
	case !a.Source.Valid():
		return fmt.Errorf("activity %s has unknown source %q", a.ExternalID, a.Source)
	case a.ExternalID == "":
		return fmt.Errorf("%s activity without external id", a.Source)
	case a.Date.IsZero():
		return fmt.Errorf("activity %s without date", a.ExternalID)
	case a.Duration < 0:
		return fmt.Errorf("activity %s has negative duration", a.ExternalID)
	}
	return nil
}

// Provider fetches the activities recorded by one source.
type Provider interface {
	Source() Source
	Fetch(ctx context.Context, athleteID string, from, to time.Time) ([]Activity, error)
}
