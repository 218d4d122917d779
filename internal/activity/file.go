package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// record is one entry of an exported activity file.
type record struct {
	ExternalID   string          `json:"external_id"`
	ActivityType string          `json:"activity_type"`
	Start        time.Time       `json:"start"`
	DurationS    int64           `json:"duration_s"`
	DistanceM    *float64        `json:"distance_m,omitempty"`
	Detail       json.RawMessage `json:"detail,omitempty"`
}

// FileProvider reads activities from a JSON export, such as a wearable's activity dump, on every fetch.
type FileProvider struct {
	source Source
	path   string
}

// NewFileProvider reads activities recorded by source from the JSON array at path.
func NewFileProvider(source Source, path string) *FileProvider {
	return &FileProvider{source: source, path: path}
}

func (p *FileProvider) Source() Source {
	return p.source
}

// Fetch returns the file's activities that started in [from, to). A missing file yields no activities.
func (p *FileProvider) Fetch(_ context.Context, athleteID string, from, to time.Time) ([]Activity, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	var records []record
	if err = json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	var activities []Activity
	for _, r := range records {
		if r.Start.Before(from) || !r.Start.Before(to) {
			continue
		}
		activities = append(activities, Activity{
			ID:                 ID(athleteID, p.source, r.ExternalID),
			AthleteID:          athleteID,
			Date:               r.Start.UTC(),
			Source:             p.source,
			ExternalID:         r.ExternalID,
			ActivityType:       r.ActivityType,
			Duration:           time.Duration(r.DurationS) * time.Second,
			DistanceM:          r.DistanceM,
			Detail:             r.Detail,
			ScheduledWorkoutID: nil,
		})
	}
	return activities, nil
}

// Manual builds a manually logged activity. Logging the same type at the same time twice refers to the same
// activity.
func Manual(athleteID string, at time.Time, activityType string, duration time.Duration, distanceM *float64) Activity {
	externalID := at.UTC().Format(time.RFC3339) + "/" + activityType
	return Activity{
		ID:                 ID(athleteID, SourceManual, externalID),
		AthleteID:          athleteID,
		Date:               at.UTC(),
		Source:             SourceManual,
		ExternalID:         externalID,
		ActivityType:       activityType,
		Duration:           duration,
		DistanceM:          distanceM,
		Detail:             nil,
		ScheduledWorkoutID: nil,
	}
}
