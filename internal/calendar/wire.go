// Package calendar converts workout definitions into the remote calendar's nested step format and talks to the
// remote calendar over HTTP.
package calendar

import (
	"encoding/json"
)

// Sport type ids of the remote calendar.
const (
	SportRunning          = 1
	SportCycling          = 2
	SportOther            = 3
	SportSwimming         = 4
	SportStrengthTraining = 5
	SportCardioTraining   = 6
)

// Step type ids of the remote calendar.
const (
	StepWarmup   = 1
	StepCooldown = 2
	StepInterval = 3
	StepRecovery = 4
	StepRest     = 5
	StepRepeat   = 6
)

// End condition ids of the remote calendar.
const (
	ConditionLapButton = 1
	ConditionTime      = 2
	ConditionDistance  = 3
	ConditionReps      = 10
)

// Step DTO discriminators.
const (
	TypeExecutable  = "ExecutableStepDTO"
	TypeRepeatGroup = "RepeatGroupDTO"
)

//nolint:gochecknoglobals // lookup tables of the wire format.
var (
	sportKeys = map[int]string{
		SportRunning:          "running",
		SportCycling:          "cycling",
		SportOther:            "other",
		SportSwimming:         "swimming",
		SportStrengthTraining: "strength_training",
		SportCardioTraining:   "cardio_training",
	}
	stepKeys = map[int]string{
		StepWarmup:   "warmup",
		StepCooldown: "cooldown",
		StepInterval: "interval",
		StepRecovery: "recovery",
		StepRest:     "rest",
		StepRepeat:   "repeat",
	}
	conditionKeys = map[int]string{
		ConditionLapButton: "lap.button",
		ConditionTime:      "time",
		ConditionDistance:  "distance",
		ConditionReps:      "reps",
	}
)

type SportType struct {
	SportTypeID  int    `json:"sportTypeId"`
	SportTypeKey string `json:"sportTypeKey"`
}

func sportType(id int) SportType {
	return SportType{SportTypeID: id, SportTypeKey: sportKeys[id]}
}

type StepType struct {
	StepTypeID  int    `json:"stepTypeId"`
	StepTypeKey string `json:"stepTypeKey"`
}

func stepType(id int) StepType {
	return StepType{StepTypeID: id, StepTypeKey: stepKeys[id]}
}

type ConditionType struct {
	ConditionTypeID  int    `json:"conditionTypeId"`
	ConditionTypeKey string `json:"conditionTypeKey"`
}

func conditionType(id int) *ConditionType {
	return &ConditionType{ConditionTypeID: id, ConditionTypeKey: conditionKeys[id]}
}

// Step is either an executable step or a repeat group, told apart by Type.
type Step struct {
	Type        string   `json:"type"`
	StepOrder   int      `json:"stepOrder"`
	StepType    StepType `json:"stepType"`
	Description string   `json:"description,omitempty"`
	// EndCondition and EndConditionValue are set on executable steps. Time is in seconds, distance in metres.
	EndCondition      *ConditionType `json:"endCondition,omitempty"`
	EndConditionValue float64        `json:"endConditionValue,omitempty"`
	// NumberOfIterations and WorkoutSteps are set on repeat groups.
	NumberOfIterations int    `json:"numberOfIterations,omitempty"`
	WorkoutSteps       []Step `json:"workoutSteps,omitempty"`
}

// IsRepeat reports whether s is a repeat group.
func (s Step) IsRepeat() bool {
	return s.Type == TypeRepeatGroup
}

type Segment struct {
	SegmentOrder int       `json:"segmentOrder"`
	SportType    SportType `json:"sportType"`
	WorkoutSteps []Step    `json:"workoutSteps"`
}

// Payload is a workout as the remote calendar stores it.
type Payload struct {
	// WorkoutID is assigned by the remote calendar.
	WorkoutID               json.Number `json:"workoutId,omitempty"`
	WorkoutName             string      `json:"workoutName"`
	Description             string      `json:"description,omitempty"`
	SportType               SportType   `json:"sportType"`
	EstimatedDurationInSecs int         `json:"estimatedDurationInSecs,omitempty"`
	PoolLength              float64     `json:"poolLength,omitempty"`
	PoolLengthUnit          *Unit       `json:"poolLengthUnit,omitempty"`
	WorkoutSegments         []Segment   `json:"workoutSegments"`
}

type Unit struct {
	UnitKey string `json:"unitKey"`
}

// WithPool returns a copy of a swimming payload with the pool length set. Other sports are returned unchanged.
func (p Payload) WithPool(lengthM int) Payload {
	if p.SportType.SportTypeID != SportSwimming || lengthM <= 0 {
		return p
	}
	p.PoolLength = float64(lengthM)
	p.PoolLengthUnit = &Unit{UnitKey: "meter"}
	return p
}
