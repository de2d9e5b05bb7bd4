// Package control runs the main control loop: capture a frame, find the
// beacon, advance the flight state machine, compute PID corrections and
// command the flight controller over MSP. A second, slower loop polls the
// flight controller for altitude and arming state.
package control

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/precland/precland/internal/fsm"
	"github.com/precland/precland/internal/msp"
	"github.com/precland/precland/internal/pid"
	"github.com/precland/precland/internal/telemetry"
	"github.com/precland/precland/internal/track"
	"github.com/precland/precland/internal/vision"
)

// defaultGrace is how long the controllers coast on a beacon dropout before
// their accumulated state is discarded.
const defaultGrace = 500 * time.Millisecond

// Recorder receives one snapshot per control cycle. Storage and time-series
// sinks implement it.
type Recorder interface {
	Record(snap telemetry.Snapshot)
}

// Config holds the loop timing and command-mapping parameters.
type Config struct {
	SendRateHz      int
	TelemetryRateHz int

	Width  int
	Height int

	RCRange int

	PrecisionStartHeight float64
	LandingHeight        float64
	MaxDescent           float64
	MinDescent           float64

	Grace time.Duration
}

// Loop owns the control and telemetry goroutines.
type Loop struct {
	cfg Config
	log *slog.Logger

	engine   *msp.Engine
	source   vision.Source
	detector *vision.Detector
	tracker  *track.Filter
	machine  *fsm.Machine
	rollPID  *pid.Controller
	pitchPID *pid.Controller
	store    *telemetry.Store

	recorders []Recorder

	lastBeaconSeen time.Time
	graceExpired   bool

	statsMu  sync.Mutex
	overruns uint64

	cycles        metric.Int64Counter
	overrunsMeter metric.Int64Counter

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// New wires a control loop. All collaborators are required except the
// tracker, which may be nil to steer on raw detections, and recorders,
// which are added with AddRecorder.
func New(cfg Config, engine *msp.Engine, source vision.Source,
	detector *vision.Detector, tracker *track.Filter, machine *fsm.Machine,
	rollPID, pitchPID *pid.Controller, store *telemetry.Store,
	log *slog.Logger) *Loop {

	if cfg.SendRateHz <= 0 {
		cfg.SendRateHz = 20
	}
	if cfg.TelemetryRateHz <= 0 {
		cfg.TelemetryRateHz = 10
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}

	l := &Loop{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		source:   source,
		detector: detector,
		tracker:  tracker,
		machine:  machine,
		rollPID:  rollPID,
		pitchPID: pitchPID,
		store:    store,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	m := meter()
	l.cycles, _ = m.Int64Counter("control.cycles",
		metric.WithDescription("Control loop iterations completed"))
	l.overrunsMeter, _ = m.Int64Counter("control.overruns",
		metric.WithDescription("Control loop iterations that exceeded the period"))

	// A transition away from the steering phases invalidates controller
	// state; the next acquisition starts clean.
	machine.OnStateChange(func(old, new fsm.State) {
		switch new {
		case fsm.StateIdle, fsm.StateSearching, fsm.StateLost:
			rollPID.Reset()
			pitchPID.Reset()
			if tracker != nil {
				tracker.Reset()
			}
		}
	})

	return l
}

// AddRecorder registers a per-cycle snapshot consumer. Call before Start.
func (l *Loop) AddRecorder(r Recorder) {
	l.recorders = append(l.recorders, r)
}

// Start launches the control and telemetry goroutines.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(2)
	go l.runControl(ctx)
	go l.runTelemetry(ctx)
}

// Stop signals both goroutines and waits for them to exit.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

func (l *Loop) runControl(ctx context.Context) {
	defer l.wg.Done()

	period := time.Second / time.Duration(l.cfg.SendRateHz)
	l.log.Info("control loop started", "rateHz", l.cfg.SendRateHz, "period", period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			l.log.Info("control loop stopped")
			return
		case <-ctx.Done():
			l.log.Info("control loop stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			start := l.now()
			l.step()
			if elapsed := l.now().Sub(start); elapsed > period {
				// The ticker drops missed ticks, so a slow cycle is
				// logged and the loop resumes at the next full period.
				l.recordOverrun(elapsed, period)
			}
			l.cycles.Add(ctx, 1)
		}
	}
}

// step runs exactly one control cycle.
func (l *Loop) step() {
	frame, err := l.source.NextFrame()
	if err != nil {
		l.log.Error("frame capture failed", "error", err)
		return
	}

	rawPos, found := l.detector.Detect(frame)

	pos := rawPos
	now := l.now()
	if found {
		if l.tracker != nil {
			fx, fy := l.tracker.Update(float64(rawPos.X), float64(rawPos.Y))
			pos = image.Pt(int(fx), int(fy))
		}
		l.lastBeaconSeen = now
		l.graceExpired = false
	} else if l.tracker != nil && l.tracker.Initialized() {
		// Keep the estimate moving through short dropouts; the raw miss
		// still reaches the state machine.
		px, py := l.tracker.Predict()
		pos = image.Pt(int(px), int(py))
	}

	altitude := l.store.Altitude()
	l.machine.Update(found, pos, altitude)
	state := l.machine.State()

	var rollOut, pitchOut, throttleOut float64
	if state == fsm.StateTracking || state == fsm.StateApproach {
		if found {
			cx := float64(l.cfg.Width) / 2
			cy := float64(l.cfg.Height) / 2
			errX := (float64(pos.X) - cx) / cx
			errY := (float64(pos.Y) - cy) / cy

			rollOut = l.rollPID.Compute(errX)
			pitchOut = l.pitchPID.Compute(errY)
			if state == fsm.StateApproach {
				throttleOut = l.descentOutput(altitude)
			}
		} else if !l.graceExpired && !l.lastBeaconSeen.IsZero() &&
			now.Sub(l.lastBeaconSeen) > l.cfg.Grace {
			// Outputs are already neutral on a miss; past the grace
			// window the accumulated controller state goes too.
			l.rollPID.Reset()
			l.pitchPID.Reset()
			if l.tracker != nil {
				l.tracker.Reset()
			}
			l.graceExpired = true
			l.log.Warn("beacon dropout exceeded grace period, controllers reset",
				"grace", l.cfg.Grace)
		}
	}

	rc := l.sendCommand(state, rollOut, pitchOut, throttleOut)

	mspStats := l.engine.GetStats()
	snap := telemetry.ControlUpdate{
		BeaconDetected: found,
		BeaconPosition: pos,
		State:          state.String(),
		RollOutput:     rollOut,
		PitchOutput:    pitchOut,
		ThrottleOutput: throttleOut,
		RCChannels:     rc,
		FPS:            l.detector.Stats().FPS,
		LoopOverruns:   l.overrunCount(),
		MSPErrors:      mspStats.ErrorCount,
		MSPConnected:   mspStats.Connected,
	}
	l.store.SetControl(snap)

	full := l.store.Get()
	for _, r := range l.recorders {
		r.Record(full)
	}
}

// descentOutput is the normalized throttle command for the approach phase.
// At or above the precision start height the aircraft holds altitude; below
// it the descent rate ramps from the minimum at the landing height up to
// the maximum near the start height.
func (l *Loop) descentOutput(altitude float64) float64 {
	switch {
	case altitude >= l.cfg.PrecisionStartHeight:
		return 0
	case altitude <= l.cfg.LandingHeight:
		return -l.cfg.MinDescent
	default:
		f := (altitude - l.cfg.LandingHeight) /
			(l.cfg.PrecisionStartHeight - l.cfg.LandingHeight)
		return -(l.cfg.MinDescent + f*(l.cfg.MaxDescent-l.cfg.MinDescent))
	}
}

// sendCommand maps the normalized outputs onto RC channels and sends them
// according to the phase policy. It returns the four channels commanded, or
// neutral values when no command was sent.
func (l *Loop) sendCommand(state fsm.State, rollOut, pitchOut, throttleOut float64) [4]uint16 {
	neutral := [4]uint16{msp.RCMid, msp.RCMid, msp.RCMid, msp.RCMid}

	switch state {
	case fsm.StateIdle, fsm.StateComplete:
		// No override; the pilot or failsafe owns the aircraft.
		return neutral

	case fsm.StateSearching, fsm.StateLost:
		l.engine.SendRCOverride(msp.RCMid, msp.RCMid, msp.RCMid, msp.RCMid)
		return neutral

	case fsm.StateTracking, fsm.StateApproach:
		rng := float64(l.cfg.RCRange)
		roll := msp.RCMid + int(rollOut*rng)
		pitch := msp.RCMid + int(pitchOut*rng)
		throttle := msp.RCMid + int(throttleOut*rng)
		l.engine.SendRCOverride(roll, pitch, throttle, msp.RCMid)
		return [4]uint16{
			clampRC(roll), clampRC(pitch), clampRC(throttle), msp.RCMid,
		}

	case fsm.StateLanding:
		throttle := msp.RCMid - int(l.cfg.MinDescent*float64(l.cfg.RCRange))
		l.engine.SendRCOverride(msp.RCMid, msp.RCMid, throttle, msp.RCMid)
		return [4]uint16{msp.RCMid, msp.RCMid, clampRC(throttle), msp.RCMid}
	}
	return neutral
}

func (l *Loop) runTelemetry(ctx context.Context) {
	defer l.wg.Done()

	period := time.Second / time.Duration(l.cfg.TelemetryRateHz)
	l.log.Info("telemetry loop started", "rateHz", l.cfg.TelemetryRateHz)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			l.log.Info("telemetry loop stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollFlightController()
		}
	}
}

// pollFlightController reads altitude and status from the FC. A failed read
// leaves the previous value in place; the snapshot degrades to stale, not
// to zero.
func (l *Loop) pollFlightController() {
	altitude, altOK := l.engine.RequestAltitude()
	armed, mode, statusOK := l.engine.RequestStatus()
	l.store.SetFlightState(altitude, altOK, armed, mode, statusOK)
}

func (l *Loop) recordOverrun(elapsed, period time.Duration) {
	l.statsMu.Lock()
	l.overruns++
	l.statsMu.Unlock()
	l.overrunsMeter.Add(context.Background(), 1)
	l.log.Warn("control loop overrun", "elapsed", elapsed, "period", period)
}

func (l *Loop) overrunCount() uint64 {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.overruns
}

func clampRC(v int) uint16 {
	if v < msp.RCMin {
		return msp.RCMin
	}
	if v > msp.RCMax {
		return msp.RCMax
	}
	return uint16(v)
}
