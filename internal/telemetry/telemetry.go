// Package telemetry holds the shared snapshot of everything the rest of the
// system wants to observe: flight controller state, the latest beacon fix,
// controller outputs and the RC channels being commanded. Writers replace
// individual fields; readers get a consistent copy.
package telemetry

import (
	"image"
	"sync"
	"time"
)

// Snapshot is one consistent view of the system.
type Snapshot struct {
	Altitude float64 `json:"altitude"`
	Armed    bool    `json:"armed"`
	Mode     string  `json:"mode"`

	BeaconDetected bool        `json:"beaconDetected"`
	BeaconPosition image.Point `json:"beaconPosition"`

	State string `json:"state"`

	RollOutput     float64 `json:"rollOutput"`
	PitchOutput    float64 `json:"pitchOutput"`
	ThrottleOutput float64 `json:"throttleOutput"`

	RCChannels [4]uint16 `json:"rcChannels"`

	FPS           float64 `json:"fps"`
	LoopOverruns  uint64  `json:"loopOverruns"`
	MSPErrors     uint64  `json:"mspErrors"`
	MSPConnected  bool    `json:"mspConnected"`
	Timestamp     int64   `json:"timestamp"`
}

// Store is the concurrency-safe holder of the current snapshot.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates a store with neutral RC channels.
func NewStore() *Store {
	return &Store{
		snap: Snapshot{
			Mode:       "UNKNOWN",
			State:      "IDLE",
			RCChannels: [4]uint16{1500, 1500, 1500, 1500},
		},
	}
}

// Get returns a copy of the current snapshot with the timestamp set.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Timestamp = time.Now().UnixMilli()
	return snap
}

// SetFlightState records the latest altitude and arming state read from the
// flight controller.
func (s *Store) SetFlightState(altitude float64, altValid bool, armed bool, mode string, modeValid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if altValid {
		s.snap.Altitude = altitude
	}
	if modeValid {
		s.snap.Armed = armed
		s.snap.Mode = mode
	}
}

// Altitude returns the last known altitude.
func (s *Store) Altitude() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Altitude
}

// ControlUpdate is the per-cycle write from the control loop.
type ControlUpdate struct {
	BeaconDetected bool
	BeaconPosition image.Point
	State          string
	RollOutput     float64
	PitchOutput    float64
	ThrottleOutput float64
	RCChannels     [4]uint16
	FPS            float64
	LoopOverruns   uint64
	MSPErrors      uint64
	MSPConnected   bool
}

// SetControl applies a control loop update in one critical section.
func (s *Store) SetControl(u ControlUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.BeaconDetected = u.BeaconDetected
	s.snap.BeaconPosition = u.BeaconPosition
	s.snap.State = u.State
	s.snap.RollOutput = u.RollOutput
	s.snap.PitchOutput = u.PitchOutput
	s.snap.ThrottleOutput = u.ThrottleOutput
	s.snap.RCChannels = u.RCChannels
	s.snap.FPS = u.FPS
	s.snap.LoopOverruns = u.LoopOverruns
	s.snap.MSPErrors = u.MSPErrors
	s.snap.MSPConnected = u.MSPConnected
}
