// Package workout models single training sessions independently of any device or calendar format.
package workout

import (
	"strings"
	"time"
)

// Kind discriminates the closed set of workout definitions.
type Kind string

const (
	KindSwim           Kind = "swim"
	KindLift           Kind = "lift"
	KindCardioInterval Kind = "cardio_interval"
)

// Category is the coarse workout type used to pair planned workouts with completed activities.
type Category string

const (
	CategorySwim     Category = "swim"
	CategoryStrength Category = "strength"
	CategoryCardio   Category = "cardio"
	CategoryOther    Category = "other"
)

// Category returns the coarse category of workouts of kind k.
func (k Kind) Category() Category {
	switch k {
	case KindSwim:
		return CategorySwim
	case KindLift:
		return CategoryStrength
	case KindCardioInterval:
		return CategoryCardio
	}
	return CategoryOther
}

// CategoryOf collapses a fine-grained workout or activity type such as "swim_a", "lift_b" or "run" into its
// coarse category.
func CategoryOf(workoutType string) Category {
	t := strings.ToLower(strings.TrimSpace(workoutType))
	head, _, _ := strings.Cut(t, "_")
	switch head {
	case "swim", "swimming", "pool", "openwater":
		return CategorySwim
	case "lift", "strength", "weights", "gym":
		return CategoryStrength
	case "cardio", "run", "running", "bike", "cycling", "ride", "hiit", "row", "rowing", "interval":
		return CategoryCardio
	}
	return CategoryOther
}

// StepType is the role of a block inside a workout.
type StepType string

const (
	StepWarmup   StepType = "warmup"
	StepCooldown StepType = "cooldown"
	StepInterval StepType = "interval"
	StepRecovery StepType = "recovery"
	StepRest     StepType = "rest"
)

// Strides is a repeated work/recovery pair.
type Strides struct {
	Count    int
	Work     time.Duration
	Recovery time.Duration
}

// Block is one logical segment of a workout. At most one of the step-producing fields Strides, Duration,
// Sets (with Reps) and Distance is used when the block is exported, in that priority order.
type Block struct {
	Description string
	StepType    StepType
	Strides     *Strides
	Duration    time.Duration
	Sets        int
	Reps        int
	// Distance in metres.
	Distance float64
}

// Definition is one of Swim, Lift or CardioInterval.
type Definition interface {
	Kind() Kind
	Title() string
	// PlannedDuration is the expected session length, zero when the definition has no time target.
	PlannedDuration() time.Duration
	// Blocks lays the definition out as ordered segments.
	Blocks() []Block
	sealed()
}

// SwimSegment is a part of a swim session, e.g. a warmup or a main set.
type SwimSegment struct {
	Description string
	StepType    StepType
	Duration    time.Duration
	Distance    float64
}

// Swim is a pool session. Without segments it is exported as a single block of Duration or Distance.
type Swim struct {
	Name     string
	Stroke   string
	Duration time.Duration
	Distance float64
	Segments []SwimSegment
}

func (Swim) Kind() Kind { return KindSwim }
func (Swim) sealed()    {}

func (s Swim) Title() string { return titleOr(s.Name, "Swim") }

func (s Swim) PlannedDuration() time.Duration {
	if s.Duration > 0 || len(s.Segments) == 0 {
		return s.Duration
	}
	var total time.Duration
	for _, seg := range s.Segments {
		total += seg.Duration
	}
	return total
}

func (s Swim) Blocks() []Block {
	if len(s.Segments) == 0 {
		return []Block{{
			Description: strings.TrimSpace(s.Stroke + " swim"),
			StepType:    StepInterval,
			Duration:    s.Duration,
			Distance:    s.Distance,
		}}
	}
	blocks := make([]Block, 0, len(s.Segments))
	for _, seg := range s.Segments {
		stepType := seg.StepType
		if stepType == "" {
			stepType = StepInterval
		}
		blocks = append(blocks, Block{
			Description: seg.Description,
			StepType:    stepType,
			Duration:    seg.Duration,
			Distance:    seg.Distance,
		})
	}
	return blocks
}

// Exercise is a single movement in a lift session. Duration is used for timed holds such as planks.
type Exercise struct {
	Name     string
	Sets     int
	Reps     int
	WeightKg float64
	Duration time.Duration
}

// Lift is a strength session.
type Lift struct {
	Name      string
	Exercises []Exercise
	// TargetDuration is optional, strength work is planned by sets and reps.
	TargetDuration time.Duration
}

func (Lift) Kind() Kind { return KindLift }
func (Lift) sealed()    {}

func (l Lift) Title() string { return titleOr(l.Name, "Strength") }

func (l Lift) PlannedDuration() time.Duration { return l.TargetDuration }

func (l Lift) Blocks() []Block {
	blocks := make([]Block, 0, len(l.Exercises))
	for _, e := range l.Exercises {
		blocks = append(blocks, Block{
			Description: e.Name,
			StepType:    StepInterval,
			Duration:    e.Duration,
			Sets:        e.Sets,
			Reps:        e.Reps,
		})
	}
	return blocks
}

// Sport is the discipline of a cardio session.
type Sport string

const (
	SportRun   Sport = "run"
	SportBike  Sport = "bike"
	SportOther Sport = "other"
)

// CardioInterval is a warmup, a main set and a cooldown. The main set is Intervals when present, otherwise a
// steady effort of Steady length.
type CardioInterval struct {
	Name      string
	Sport     Sport
	Warmup    time.Duration
	Intervals *Strides
	Steady    time.Duration
	Cooldown  time.Duration
}

func (CardioInterval) Kind() Kind { return KindCardioInterval }
func (CardioInterval) sealed()    {}

func (c CardioInterval) Title() string { return titleOr(c.Name, "Intervals") }

func (c CardioInterval) PlannedDuration() time.Duration {
	main := c.Steady
	if c.Intervals != nil {
		main = time.Duration(c.Intervals.Count) * (c.Intervals.Work + c.Intervals.Recovery)
	}
	return c.Warmup + main + c.Cooldown
}

func (c CardioInterval) Blocks() []Block {
	var blocks []Block
	if c.Warmup > 0 {
		blocks = append(blocks, Block{Description: "Warmup", StepType: StepWarmup, Duration: c.Warmup})
	}
	blocks = append(blocks, Block{
		Description: "Main set",
		StepType:    StepInterval,
		Strides:     c.Intervals,
		Duration:    c.Steady,
	})
	if c.Cooldown > 0 {
		blocks = append(blocks, Block{Description: "Cooldown", StepType: StepCooldown, Duration: c.Cooldown})
	}
	return blocks
}

func titleOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
