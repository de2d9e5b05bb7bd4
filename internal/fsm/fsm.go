// Package fsm drives the landing sequence through its flight phases. The
// machine is fed once per control cycle with the latest beacon observation
// and altitude, and decides which phase the aircraft is in.
package fsm

import (
	"image"
	"log/slog"
	"sync"
	"time"
)

// State is a flight phase of the landing sequence.
type State int

const (
	// StateIdle is the passive state, no commands are sent.
	StateIdle State = iota
	// StateSearching hovers while looking for the beacon.
	StateSearching
	// StateTracking holds position over a freshly acquired beacon until
	// the sighting is confirmed.
	StateTracking
	// StateApproach descends toward the confirmed beacon.
	StateApproach
	// StateLanding is the final slow descent below the landing height.
	StateLanding
	// StateLost hovers after the beacon has been missing too long.
	StateLost
	// StateComplete means touchdown was detected.
	StateComplete
)

var stateNames = map[State]string{
	StateIdle:      "IDLE",
	StateSearching: "SEARCHING",
	StateTracking:  "TRACKING",
	StateApproach:  "APPROACH",
	StateLanding:   "LANDING",
	StateLost:      "LOST",
	StateComplete:  "COMPLETE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// touchdownAltitude is the rangefinder reading treated as ground contact.
const touchdownAltitude = 0.1

// Config holds the machine's timing and altitude thresholds.
type Config struct {
	// DetectionTime is how long the beacon must stay visible in TRACKING
	// before the approach starts.
	DetectionTime time.Duration
	// LostTimeout is how long the beacon may be missing in APPROACH or
	// LANDING before the machine gives up and enters LOST.
	LostTimeout time.Duration
	// StartHeight is the altitude at which precision descent begins.
	StartHeight float64
	// LandingHeight is the altitude below which the final descent runs.
	LandingHeight float64
}

// StateInfo is a snapshot of the machine for telemetry and the dashboard.
type StateInfo struct {
	State           string      `json:"state"`
	PrevState       string      `json:"prevState"`
	StateDuration   float64     `json:"stateDuration"`
	BeaconDetected  bool        `json:"beaconDetected"`
	BeaconPosition  image.Point `json:"beaconPosition"`
	Altitude        float64     `json:"altitude"`
	BeaconSeenTime  float64     `json:"beaconSeenTime"`
	BeaconLostTime  float64     `json:"beaconLostTime"`
}

// Machine is the landing-phase state machine. All methods are safe for
// concurrent use.
type Machine struct {
	cfg Config
	log *slog.Logger

	mu             sync.Mutex
	state          State
	prevState      State
	firstSeen      time.Time
	lastSeen       time.Time
	stateEntered   time.Time
	beaconPos      image.Point
	beaconVisible  bool
	altitude       float64
	onStateChange  []func(old, new State)

	now func() time.Time
}

// New creates a machine in the IDLE state.
func New(cfg Config, log *slog.Logger) *Machine {
	m := &Machine{
		cfg: cfg,
		log: log,
		now: time.Now,
	}
	m.stateEntered = m.now()
	return m
}

// State returns the current flight phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns a telemetry snapshot.
func (m *Machine) Info() StateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	info := StateInfo{
		State:          m.state.String(),
		PrevState:      m.prevState.String(),
		StateDuration:  now.Sub(m.stateEntered).Seconds(),
		BeaconDetected: m.beaconVisible,
		BeaconPosition: m.beaconPos,
		Altitude:       m.altitude,
	}
	if !m.firstSeen.IsZero() {
		info.BeaconSeenTime = now.Sub(m.firstSeen).Seconds()
	}
	if !m.lastSeen.IsZero() {
		info.BeaconLostTime = now.Sub(m.lastSeen).Seconds()
	}
	return info
}

// Enable arms the sequence. Only the IDLE state reacts; any other state
// ignores the call.
func (m *Machine) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	m.resetTimers()
	m.changeState(StateSearching)
	m.log.Info("landing sequence enabled")
}

// Disable returns the machine to IDLE from any state.
func (m *Machine) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTimers()
	m.changeState(StateIdle)
	m.log.Info("landing sequence disabled")
}

// OnStateChange registers a transition callback. Callbacks run in
// registration order with the machine lock held, so they must not call
// back into the machine.
func (m *Machine) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// Update feeds one observation into the machine. Call it every control
// cycle.
func (m *Machine) Update(detected bool, pos image.Point, altitude float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.altitude = altitude
	if detected {
		m.beaconPos = pos
		m.beaconVisible = true
		m.lastSeen = now
		if m.firstSeen.IsZero() {
			m.firstSeen = now
		}
	} else {
		m.beaconVisible = false
	}

	switch m.state {
	case StateIdle, StateComplete:
		// Terminal until enable/disable.

	case StateSearching:
		if detected {
			m.changeState(StateTracking)
		}

	case StateTracking:
		if !detected {
			// Tracking has no lost tolerance; any miss restarts the search
			// and the confirmation window.
			m.resetTimers()
			m.changeState(StateSearching)
		} else if now.Sub(m.firstSeen) >= m.cfg.DetectionTime {
			m.log.Info("beacon confirmed", "after", m.cfg.DetectionTime)
			m.changeState(StateApproach)
		}

	case StateApproach:
		if detected {
			if altitude <= m.cfg.LandingHeight {
				m.log.Info("final descent altitude reached", "altitude", altitude)
				m.changeState(StateLanding)
			}
		} else if now.Sub(m.lastSeen) >= m.cfg.LostTimeout {
			m.log.Warn("beacon lost during approach", "timeout", m.cfg.LostTimeout)
			m.changeState(StateLost)
		}

	case StateLanding:
		if altitude <= touchdownAltitude {
			m.log.Info("touchdown detected", "altitude", altitude)
			m.changeState(StateComplete)
		} else if !detected && now.Sub(m.lastSeen) >= m.cfg.LostTimeout {
			m.log.Warn("beacon lost during final descent")
			m.changeState(StateLost)
		}

	case StateLost:
		if detected {
			m.log.Info("beacon reacquired")
			// The confirmation window restarts from this sighting.
			m.firstSeen = now
			m.changeState(StateTracking)
		}
	}
}

// changeState requires m.mu held.
func (m *Machine) changeState(next State) {
	if next == m.state {
		return
	}
	old := m.state
	m.prevState = old
	m.state = next
	m.stateEntered = m.now()

	m.log.Info("state changed", "from", old.String(), "to", next.String())
	for _, fn := range m.onStateChange {
		fn(old, next)
	}
}

// resetTimers requires m.mu held.
func (m *Machine) resetTimers() {
	m.firstSeen = time.Time{}
	m.lastSeen = time.Time{}
	m.beaconVisible = false
	m.beaconPos = image.Point{}
}

// IsActive reports whether the sequence has been enabled.
func (m *Machine) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle
}

// IsTracking reports whether the machine is in a phase that steers toward
// the beacon.
func (m *Machine) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateTracking || m.state == StateApproach
}

// IsLanding reports whether the final descent is running.
func (m *Machine) IsLanding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateLanding
}

// IsComplete reports whether touchdown was detected.
func (m *Machine) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateComplete
}

// TrackingTime returns how long the beacon has been continuously visible.
func (m *Machine) TrackingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstSeen.IsZero() {
		return 0
	}
	return m.now().Sub(m.firstSeen)
}

// SetClock overrides the time source for tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.stateEntered = now()
}
