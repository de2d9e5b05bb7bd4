// Package pid implements the discrete PID controller that converts
// beacon-tracking error into a bounded control signal. Two independent
// instances drive the roll and pitch axes.
package pid

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// defaultDt is assumed on the very first compute, before a previous
// timestamp exists.
const defaultDt = 0.05

// minDt floors non-positive elapsed time (clock went backwards) to avoid
// division by zero in the derivative term.
const minDt = 0.001

// Config holds the construction parameters for a controller.
type Config struct {
	Kp float64
	Ki float64
	Kd float64

	OutputMin float64
	OutputMax float64

	// IntegralMax bounds the integral accumulator (anti-windup). Zero means
	// |OutputMax| is used.
	IntegralMax float64

	// SampleTime, when positive, replaces the measured dt on the first call.
	SampleTime float64

	// Reverse negates the error before all three terms.
	Reverse bool

	// DerivativeOnMeasurement fixes this instance to compute the derivative
	// from the measurement via ComputeWithMeasurement, avoiding derivative
	// kick on setpoint changes. Instances constructed without it use the
	// error-based derivative via Compute. The mode is fixed for the life of
	// the controller; mixing the two entry points is not supported.
	DerivativeOnMeasurement bool

	// Name identifies the controller in log output.
	Name string
}

// Terms is a debug snapshot of the controller internals.
type Terms struct {
	P        float64 `json:"p"`
	I        float64 `json:"i"`
	Integral float64 `json:"integral"`
	Error    float64 `json:"error"`
}

// Controller is a discrete PID controller. The compute step runs on the
// control goroutine while tuning updates arrive from the dispatcher, so all
// methods take the lock.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	integral        float64
	prevError       float64
	prevMeasurement float64
	hasMeasurement  bool
	lastTime        time.Time
	firstRun        bool

	now func() time.Time
}

// New creates a controller from the given configuration.
func New(cfg Config, log *slog.Logger) *Controller {
	if cfg.OutputMax == 0 && cfg.OutputMin == 0 {
		cfg.OutputMin, cfg.OutputMax = -1.0, 1.0
	}
	if cfg.IntegralMax == 0 {
		cfg.IntegralMax = math.Abs(cfg.OutputMax)
	}
	if cfg.Name == "" {
		cfg.Name = "PID"
	}
	return &Controller{
		cfg:      cfg,
		log:      log,
		firstRun: true,
		now:      time.Now,
	}
}

// Compute produces the control output for the instantaneous error using the
// error-based derivative.
func (c *Controller) Compute(err float64) float64 {
	return c.compute(err, 0, false)
}

// ComputeWithMeasurement produces the control output using the derivative of
// the measurement, for instances configured with DerivativeOnMeasurement.
func (c *Controller) ComputeWithMeasurement(err, measurement float64) float64 {
	return c.compute(err, measurement, true)
}

func (c *Controller) compute(err, measurement float64, haveMeasurement bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	var dt float64
	if c.lastTime.IsZero() {
		dt = defaultDt
		if c.cfg.SampleTime > 0 {
			dt = c.cfg.SampleTime
		}
		c.firstRun = true
	} else {
		dt = now.Sub(c.lastTime).Seconds()
		if dt <= 0 {
			dt = minDt
		}
	}
	c.lastTime = now

	if c.cfg.Reverse {
		err = -err
	}

	pTerm := c.cfg.Kp * err

	// Integral accumulates only with a nonzero gain, and the accumulator is
	// clamped before multiplication so the anti-windup bound is independent
	// of the output bound.
	if c.cfg.Ki != 0 {
		c.integral += err * dt
		c.integral = clamp(c.integral, -c.cfg.IntegralMax, c.cfg.IntegralMax)
	}
	iTerm := c.cfg.Ki * c.integral

	var dTerm float64
	if c.cfg.Kd != 0 && !c.firstRun {
		if c.cfg.DerivativeOnMeasurement && haveMeasurement && c.hasMeasurement {
			// Derivative on measurement: immune to setpoint steps.
			dTerm = c.cfg.Kd * (-(measurement - c.prevMeasurement) / dt)
		} else {
			dTerm = c.cfg.Kd * ((err - c.prevError) / dt)
		}
	}

	c.prevError = err
	if haveMeasurement {
		c.prevMeasurement = measurement
		c.hasMeasurement = true
	}
	c.firstRun = false

	return clamp(pTerm+iTerm+dTerm, c.cfg.OutputMin, c.cfg.OutputMax)
}

// SetGains updates the gains without resetting accumulated state.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.mu.Lock()
	c.cfg.Kp = kp
	c.cfg.Ki = ki
	c.cfg.Kd = kd
	name := c.cfg.Name
	c.mu.Unlock()
	c.log.Debug("gains updated", "name", name, "kp", kp, "ki", ki, "kd", kd)
}

// Gains returns the current gains.
func (c *Controller) Gains() (kp, ki, kd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Kp, c.cfg.Ki, c.cfg.Kd
}

// SetOutputLimits updates the output bounds. An inverted range is rejected
// and the previous limits are kept.
func (c *Controller) SetOutputLimits(min, max float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if min >= max {
		c.log.Warn("rejecting output limits, min >= max",
			"name", c.cfg.Name, "min", min, "max", max)
		return
	}
	c.cfg.OutputMin = min
	c.cfg.OutputMax = max
}

// SetIntegralMax updates the anti-windup bound. Only future clamping is
// affected.
func (c *Controller) SetIntegralMax(integralMax float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.IntegralMax = math.Abs(integralMax)
}

// SetSampleTime updates the first-call sample time. Non-positive values are
// rejected and the previous value kept.
func (c *Controller) SetSampleTime(sampleTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sampleTime <= 0 {
		c.log.Warn("rejecting non-positive sample time",
			"name", c.cfg.Name, "sampleTime", sampleTime)
		return
	}
	c.cfg.SampleTime = sampleTime
}

// Reset clears all accumulated state. Call it whenever the upstream signal
// becomes invalid so stale integration cannot wind up.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.integral = 0
	c.prevError = 0
	c.prevMeasurement = 0
	c.hasMeasurement = false
	c.lastTime = time.Time{}
	c.firstRun = true
	name := c.cfg.Name
	c.mu.Unlock()
	c.log.Debug("controller reset", "name", name)
}

// ResetIntegral clears only the integral accumulator.
func (c *Controller) ResetIntegral() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
}

// GetTerms returns the last P/I contributions for debugging.
func (c *Controller) GetTerms() Terms {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Terms{
		P:        c.cfg.Kp * c.prevError,
		I:        c.cfg.Ki * c.integral,
		Integral: c.integral,
		Error:    c.prevError,
	}
}

// SetClock overrides the time source. Tests use this to step dt exactly.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
