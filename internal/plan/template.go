package plan

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/myrjola/coach/internal/workout"
	"gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed reference.yaml
var referenceTemplate []byte

// Template is a periodization template: phases indexed by week, each with a weekly slot table.
type Template struct {
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases"`
	// TestWeeks are the 1-based weeks whose slots are replaced by the test protocol of their category.
	TestWeeks []int `yaml:"test_weeks"`
	// TestProtocols maps a coarse category to its benchmark workout.
	TestProtocols map[workout.Category]workout.Document `yaml:"test_protocols"`
}

// Phase covers the inclusive week range [StartWeek, EndWeek].
type Phase struct {
	Name      string `yaml:"name"`
	StartWeek int    `yaml:"start_week"`
	EndWeek   int    `yaml:"end_week"`
	// VolumePercent scales every slot in the phase, 100 when unset.
	VolumePercent int    `yaml:"volume_percent"`
	Slots         []Slot `yaml:"slots"`
}

// Slot is one workout per week on a fixed weekday. The definition for week n of the phase is Base progressed
// n-1 times by Progression.
type Slot struct {
	Weekday     Weekday             `yaml:"weekday"`
	WorkoutType string              `yaml:"workout_type"`
	Base        workout.Document    `yaml:"base"`
	Progression workout.Progression `yaml:"progression"`
}

// Weekday is a time.Weekday written by name in templates.
type Weekday time.Weekday

// UnmarshalYAML accepts full or three letter English day names.
func (w *Weekday) UnmarshalYAML(node *yaml.Node) error {
	name := strings.ToLower(strings.TrimSpace(node.Value))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			*w = Weekday(d)
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown weekday %q", node.Line, node.Value)
}

// MarshalYAML writes the weekday name.
func (w Weekday) MarshalYAML() (any, error) {
	return strings.ToLower(time.Weekday(w).String()), nil
}

// ParseTemplate decodes a YAML template and validates its structure.
func ParseTemplate(data []byte) (Template, error) {
	var t Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Template{}, &ConfigurationError{Reason: fmt.Sprintf("decode template: %v", err)}
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

// LoadTemplate reads a YAML template from path.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template: %w", err)
	}
	return ParseTemplate(data)
}

// ReferenceTemplate is the built-in 24 week swim, strength and interval plan with test weeks 2, 12 and 24.
func ReferenceTemplate() Template {
	t, err := ParseTemplate(referenceTemplate)
	if err != nil {
		panic(fmt.Sprintf("reference template: %v", err))
	}
	return t
}

// Validate checks the template independently of a horizon: phases must not overlap, slots need a workout
// type and a parseable definition, and a weekday holds each workout type once.
func (t Template) Validate() error {
	for i, p := range t.Phases {
		if p.StartWeek < 1 || p.EndWeek < p.StartWeek {
			return &ConfigurationError{Reason: fmt.Sprintf("phase %q has invalid week range [%d, %d]",
				p.Name, p.StartWeek, p.EndWeek)}
		}
		if p.VolumePercent < 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("phase %q has negative volume", p.Name)}
		}
		for _, other := range t.Phases[i+1:] {
			if p.StartWeek <= other.EndWeek && other.StartWeek <= p.EndWeek {
				return &ConfigurationError{Reason: fmt.Sprintf("phases %q and %q overlap", p.Name, other.Name)}
			}
		}
		seen := make(map[string]bool)
		for _, s := range p.Slots {
			if s.WorkoutType == "" {
				return &ConfigurationError{Reason: fmt.Sprintf("phase %q has a slot without workout type", p.Name)}
			}
			if time.Weekday(s.Weekday) < time.Sunday || time.Weekday(s.Weekday) > time.Saturday {
				return &ConfigurationError{Reason: fmt.Sprintf("slot %s has invalid weekday %d", s.WorkoutType, s.Weekday)}
			}
			key := fmt.Sprintf("%d/%s", s.Weekday, s.WorkoutType)
			if seen[key] {
				return &ConfigurationError{Reason: fmt.Sprintf("phase %q schedules %s twice on %s",
					p.Name, s.WorkoutType, time.Weekday(s.Weekday))}
			}
			seen[key] = true
			if _, err := s.Base.Definition(); err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("slot %s in phase %q: %v", s.WorkoutType, p.Name, err)}
			}
		}
	}
	for category, doc := range t.TestProtocols {
		if _, err := doc.Definition(); err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf("test protocol %s: %v", category, err)}
		}
	}
	for _, w := range t.TestWeeks {
		if w < 1 {
			return &ConfigurationError{Reason: fmt.Sprintf("invalid test week %d", w)}
		}
	}
	return nil
}

// phaseFor returns the phase covering week.
func (t Template) phaseFor(week int) (Phase, bool) {
	i := slices.IndexFunc(t.Phases, func(p Phase) bool {
		return p.StartWeek <= week && week <= p.EndWeek
	})
	if i < 0 {
		return Phase{}, false
	}
	return t.Phases[i], true
}

// slotFor returns the slot of workoutType in the phase covering week, used to regenerate a single workout.
func (t Template) slotFor(week int, workoutType string) (Phase, Slot, bool) {
	phase, ok := t.phaseFor(week)
	if !ok {
		return Phase{}, Slot{}, false
	}
	for _, s := range phase.Slots {
		if s.WorkoutType == workoutType {
			return phase, s, true
		}
	}
	return phase, Slot{}, false
}
