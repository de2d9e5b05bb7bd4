package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&LandingSession{},
	&StateTransition{},
	&TelemetrySample{},
	&ControlPerformance{},
}

// DatabaseModelsSQLite is the subset migrated when running on the SQLite fallback
var DatabaseModelsSQLite = []interface{}{
	&LandingSession{},
	&StateTransition{},
	&TelemetrySample{},
	&ControlPerformance{},
}

////////////////////////
// SESSION MODELS
////////////////////////

// LandingSession is one powered approach from enable to touchdown or abort
type LandingSession struct {
	gorm.Model
	SessionID      string         `json:"sessionId" gorm:"size:36;uniqueIndex"`
	StartTime      time.Time      `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime        sql.NullTime   `json:"endTime" gorm:"default:NULL"`
	Outcome        string         `json:"outcome" gorm:"size:32"` // COMPLETE, LOST or ABORTED
	FirmwareInfo   string         `json:"firmwareInfo" gorm:"size:127"`
	SimulationMode bool           `json:"simulationMode"`
	ConfigSnapshot datatypes.JSON `json:"configSnapshot" gorm:"type:jsonb;default:'{}'"` // tuning in effect at session start

	Transitions []StateTransition `json:"-"`
	Samples     []TelemetrySample `json:"-"`
}

func (*LandingSession) TableName() string {
	return "landing_sessions"
}

// StateTransition records one edge taken by the landing state machine
type StateTransition struct {
	gorm.Model
	LandingSessionID uint           `json:"sessionId" gorm:"index:idx_transition_session_id"`
	LandingSession   LandingSession `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:LandingSessionID;"`
	Time             time.Time      `json:"time" gorm:"type:timestamptz;index:idx_transition_time"`
	FromState        string         `json:"fromState" gorm:"size:16"`
	ToState          string         `json:"toState" gorm:"size:16"`
	Reason           string         `json:"reason" gorm:"size:64"`
	Altitude         float32        `json:"altitude"` // metres at the moment of the transition
}

func (*StateTransition) TableName() string {
	return "state_transitions"
}

// TelemetrySample is one control cycle's view of the aircraft and detector
type TelemetrySample struct {
	gorm.Model
	LandingSessionID uint           `json:"sessionId" gorm:"index:idx_sample_session_id"`
	LandingSession   LandingSession `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:LandingSessionID;"`
	Time             time.Time      `json:"time" gorm:"type:timestamptz;index:idx_sample_time"`
	Altitude         float32        `json:"altitude"`
	Armed            bool           `json:"armed"`
	FlightMode       string         `json:"flightMode" gorm:"size:32"`
	State            string         `json:"state" gorm:"size:16"`
	BeaconDetected   bool           `json:"beaconDetected"`
	BeaconX          sql.NullInt32  `json:"beaconX" gorm:"default:NULL"` // pixel coordinates, null when no fix
	BeaconY          sql.NullInt32  `json:"beaconY" gorm:"default:NULL"`
	RollOutput       float32        `json:"rollOutput"`
	PitchOutput      float32        `json:"pitchOutput"`
	ThrottleOutput   float32        `json:"throttleOutput"`
	RCChannels       datatypes.JSON `json:"rcChannels"` // [roll, pitch, throttle, yaw] microseconds
	DetectorFPS      float32        `json:"detectorFps"`
}

func (*TelemetrySample) TableName() string {
	return "telemetry_samples"
}

////////////////////////
// PERFORMANCE
////////////////////////

// ControlPerformance is the model for control loop health metrics
type ControlPerformance struct {
	Time                time.Time         `json:"time" gorm:"type:timestamptz;index:idx_time"`
	LandingSessionID    uint              `json:"sessionId" gorm:"index:idx_performance_session_id"`
	LandingSession      LandingSession    `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:LandingSessionID;"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LoopOverruns        uint32            `json:"loopOverruns"`
	MSPErrors           uint32            `json:"mspErrors"`
	DetectorFPS         float32           `json:"detectorFps"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*ControlPerformance) TableName() string {
	return "control_performances"
}

// WriteQueueLengths is the model for the storage write queue lengths
type WriteQueueLengths struct {
	TelemetrySamples uint16 `json:"telemetrySamples"`
	StateTransitions uint16 `json:"stateTransitions"`
}
