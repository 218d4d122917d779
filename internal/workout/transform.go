package workout

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Progression is the per-week increment applied to a base definition to build progressive overload.
// Zero fields leave the corresponding value alone.
type Progression struct {
	Duration time.Duration `yaml:"duration,omitempty"`
	Distance float64       `yaml:"distance,omitempty"`
	Sets     int           `yaml:"sets,omitempty"`
	Reps     int           `yaml:"reps,omitempty"`
	Strides  int           `yaml:"strides,omitempty"`
}

// IsZero reports whether p changes nothing.
func (p Progression) IsZero() bool {
	return p == Progression{}
}

// Progress applies p to def weeks times. Only main work is progressed, warmups and cooldowns stay unchanged.
func Progress(def Definition, p Progression, weeks int) Definition {
	if weeks <= 0 || p.IsZero() {
		return def
	}
	n := weeks
	growDuration := func(d time.Duration) time.Duration {
		if d == 0 {
			return 0
		}
		return d + time.Duration(n)*p.Duration
	}
	growDistance := func(m float64) float64 {
		if m == 0 {
			return 0
		}
		return m + float64(n)*p.Distance
	}

	switch d := def.(type) {
	case Swim:
		d.Duration = growDuration(d.Duration)
		d.Distance = growDistance(d.Distance)
		d.Segments = slices.Clone(d.Segments)
		for i, seg := range d.Segments {
			if seg.StepType == StepWarmup || seg.StepType == StepCooldown {
				continue
			}
			d.Segments[i].Duration = growDuration(seg.Duration)
			d.Segments[i].Distance = growDistance(seg.Distance)
		}
		return d
	case Lift:
		d.Exercises = slices.Clone(d.Exercises)
		for i, e := range d.Exercises {
			if e.Sets > 0 {
				d.Exercises[i].Sets = e.Sets + n*p.Sets
			}
			if e.Reps > 0 {
				d.Exercises[i].Reps = e.Reps + n*p.Reps
			}
			d.Exercises[i].Duration = growDuration(e.Duration)
		}
		return d
	case CardioInterval:
		if d.Intervals != nil {
			strides := *d.Intervals
			strides.Count += n * p.Strides
			d.Intervals = &strides
		}
		d.Steady = growDuration(d.Steady)
		return d
	}
	panic(fmt.Sprintf("unknown workout definition %T", def))
}

// Scale multiplies the main work volume of def by factor, e.g. 0.6 for a 40% deload. Counts never drop
// below one.
func Scale(def Definition, factor float64) Definition {
	if factor == 1 {
		return def
	}
	scaleDuration := func(d time.Duration) time.Duration {
		return time.Duration(math.Round(float64(d)*factor/float64(time.Second))) * time.Second
	}
	scaleCount := func(c int) int {
		if c == 0 {
			return 0
		}
		return max(1, int(math.Round(float64(c)*factor)))
	}

	switch d := def.(type) {
	case Swim:
		d.Duration = scaleDuration(d.Duration)
		d.Distance = math.Round(d.Distance * factor)
		d.Segments = slices.Clone(d.Segments)
		for i, seg := range d.Segments {
			if seg.StepType == StepWarmup || seg.StepType == StepCooldown {
				continue
			}
			d.Segments[i].Duration = scaleDuration(seg.Duration)
			d.Segments[i].Distance = math.Round(seg.Distance * factor)
		}
		return d
	case Lift:
		d.TargetDuration = scaleDuration(d.TargetDuration)
		d.Exercises = slices.Clone(d.Exercises)
		for i, e := range d.Exercises {
			d.Exercises[i].Sets = scaleCount(e.Sets)
			d.Exercises[i].Duration = scaleDuration(e.Duration)
		}
		return d
	case CardioInterval:
		if d.Intervals != nil {
			strides := *d.Intervals
			strides.Count = scaleCount(strides.Count)
			d.Intervals = &strides
		}
		d.Steady = scaleDuration(d.Steady)
		return d
	}
	panic(fmt.Sprintf("unknown workout definition %T", def))
}

// SwapExercise replaces the exercise named from with to, matching names case-insensitively. It reports false
// when def is not a lift or does not contain the exercise.
func SwapExercise(def Definition, from, to string) (Definition, bool) {
	lift, ok := def.(Lift)
	if !ok {
		return def, false
	}
	i := slices.IndexFunc(lift.Exercises, func(e Exercise) bool {
		return strings.EqualFold(e.Name, from)
	})
	if i < 0 {
		return def, false
	}
	lift.Exercises = slices.Clone(lift.Exercises)
	lift.Exercises[i].Name = to
	return lift, true
}
