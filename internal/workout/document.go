package workout

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the serialized form of a Definition. It is stored as JSON and embedded in YAML plan templates,
// so durations are written as Go duration strings such as "45m".
type Document struct {
	Kind      Kind          `json:"kind"                yaml:"kind"`
	Name      string        `json:"name,omitempty"      yaml:"name,omitempty"`
	Stroke    string        `json:"stroke,omitempty"    yaml:"stroke,omitempty"`
	Sport     Sport         `json:"sport,omitempty"     yaml:"sport,omitempty"`
	Duration  string        `json:"duration,omitempty"  yaml:"duration,omitempty"`
	Distance  float64       `json:"distance,omitempty"  yaml:"distance,omitempty"`
	Segments  []SegmentDoc  `json:"segments,omitempty"  yaml:"segments,omitempty"`
	Exercises []ExerciseDoc `json:"exercises,omitempty" yaml:"exercises,omitempty"`
	Warmup    string        `json:"warmup,omitempty"    yaml:"warmup,omitempty"`
	Intervals *StridesDoc   `json:"intervals,omitempty" yaml:"intervals,omitempty"`
	Steady    string        `json:"steady,omitempty"    yaml:"steady,omitempty"`
	Cooldown  string        `json:"cooldown,omitempty"  yaml:"cooldown,omitempty"`
}

type SegmentDoc struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	StepType    StepType `json:"step_type,omitempty"   yaml:"step_type,omitempty"`
	Duration    string   `json:"duration,omitempty"    yaml:"duration,omitempty"`
	Distance    float64  `json:"distance,omitempty"    yaml:"distance,omitempty"`
}

type ExerciseDoc struct {
	Name     string  `json:"name"                yaml:"name"`
	Sets     int     `json:"sets,omitempty"      yaml:"sets,omitempty"`
	Reps     int     `json:"reps,omitempty"      yaml:"reps,omitempty"`
	WeightKg float64 `json:"weight_kg,omitempty" yaml:"weight_kg,omitempty"`
	Duration string  `json:"duration,omitempty"  yaml:"duration,omitempty"`
}

type StridesDoc struct {
	Count    int    `json:"count"    yaml:"count"`
	Work     string `json:"work"     yaml:"work"`
	Recovery string `json:"recovery" yaml:"recovery"`
}

// DocumentOf converts def into its serialized form.
func DocumentOf(def Definition) Document {
	switch d := def.(type) {
	case Swim:
		doc := Document{
			Kind:     KindSwim,
			Name:     d.Name,
			Stroke:   d.Stroke,
			Duration: formatDuration(d.Duration),
			Distance: d.Distance,
		}
		for _, seg := range d.Segments {
			doc.Segments = append(doc.Segments, SegmentDoc{
				Description: seg.Description,
				StepType:    seg.StepType,
				Duration:    formatDuration(seg.Duration),
				Distance:    seg.Distance,
			})
		}
		return doc
	case Lift:
		doc := Document{Kind: KindLift, Name: d.Name, Duration: formatDuration(d.TargetDuration)}
		for _, e := range d.Exercises {
			doc.Exercises = append(doc.Exercises, ExerciseDoc{
				Name:     e.Name,
				Sets:     e.Sets,
				Reps:     e.Reps,
				WeightKg: e.WeightKg,
				Duration: formatDuration(e.Duration),
			})
		}
		return doc
	case CardioInterval:
		doc := Document{
			Kind:     KindCardioInterval,
			Name:     d.Name,
			Sport:    d.Sport,
			Warmup:   formatDuration(d.Warmup),
			Steady:   formatDuration(d.Steady),
			Cooldown: formatDuration(d.Cooldown),
		}
		if d.Intervals != nil {
			doc.Intervals = &StridesDoc{
				Count:    d.Intervals.Count,
				Work:     formatDuration(d.Intervals.Work),
				Recovery: formatDuration(d.Intervals.Recovery),
			}
		}
		return doc
	}
	panic(fmt.Sprintf("unknown workout definition %T", def))
}

// Definition parses the document.
func (doc Document) Definition() (Definition, error) {
	p := durationParser{}
	var def Definition
	switch doc.Kind {
	case KindSwim:
		swim := Swim{
			Name:     doc.Name,
			Stroke:   doc.Stroke,
			Duration: p.parse("duration", doc.Duration),
			Distance: doc.Distance,
		}
		for _, seg := range doc.Segments {
			swim.Segments = append(swim.Segments, SwimSegment{
				Description: seg.Description,
				StepType:    seg.StepType,
				Duration:    p.parse("segment duration", seg.Duration),
				Distance:    seg.Distance,
			})
		}
		def = swim
	case KindLift:
		lift := Lift{Name: doc.Name, TargetDuration: p.parse("duration", doc.Duration)}
		for _, e := range doc.Exercises {
			lift.Exercises = append(lift.Exercises, Exercise{
				Name:     e.Name,
				Sets:     e.Sets,
				Reps:     e.Reps,
				WeightKg: e.WeightKg,
				Duration: p.parse("exercise duration", e.Duration),
			})
		}
		def = lift
	case KindCardioInterval:
		cardio := CardioInterval{
			Name:     doc.Name,
			Sport:    doc.Sport,
			Warmup:   p.parse("warmup", doc.Warmup),
			Steady:   p.parse("steady", doc.Steady),
			Cooldown: p.parse("cooldown", doc.Cooldown),
		}
		if cardio.Sport == "" {
			cardio.Sport = SportRun
		}
		if doc.Intervals != nil {
			cardio.Intervals = &Strides{
				Count:    doc.Intervals.Count,
				Work:     p.parse("interval work", doc.Intervals.Work),
				Recovery: p.parse("interval recovery", doc.Intervals.Recovery),
			}
		}
		def = cardio
	default:
		return nil, fmt.Errorf("unknown workout kind %q", doc.Kind)
	}
	if p.err != nil {
		return nil, p.err
	}
	return def, nil
}

// Marshal encodes def as JSON.
func Marshal(def Definition) ([]byte, error) {
	data, err := json.Marshal(DocumentOf(def))
	if err != nil {
		return nil, fmt.Errorf("marshal workout document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a definition encoded by Marshal.
func Unmarshal(data []byte) (Definition, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal workout document: %w", err)
	}
	def, err := doc.Definition()
	if err != nil {
		return nil, fmt.Errorf("parse workout document: %w", err)
	}
	return def, nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// durationParser remembers the first parse failure so that documents can be converted field by field.
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, s string) time.Duration {
	if s == "" || p.err != nil {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return 0
	}
	if d < 0 {
		p.err = fmt.Errorf("%s: negative duration %s", field, s)
		return 0
	}
	return d
}
