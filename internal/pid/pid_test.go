package pid

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns a clock that advances by step on every call.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (sc *stepClock) now() time.Time {
	sc.t = sc.t.Add(sc.step)
	return sc.t
}

func newStepped(cfg Config, step time.Duration) *Controller {
	c := New(cfg, testLogger())
	sc := &stepClock{t: time.Unix(1000, 0), step: step}
	c.SetClock(sc.now)
	return c
}

func TestProportionalOnly(t *testing.T) {
	c := newStepped(Config{Kp: 0.5, OutputMin: -1, OutputMax: 1}, 50*time.Millisecond)

	cases := []struct {
		err  float64
		want float64
	}{
		{0.4, 0.2},
		{-0.4, -0.2},
		{0, 0},
		{10, 1},   // clamped high
		{-10, -1}, // clamped low
	}
	for _, tc := range cases {
		got := c.Compute(tc.err)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Compute(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIntegralAntiWindup(t *testing.T) {
	c := newStepped(Config{Ki: 1.0, IntegralMax: 0.5, OutputMin: -10, OutputMax: 10},
		50*time.Millisecond)

	// Constant large error long enough to wind up far past the bound.
	for i := 0; i < 1000; i++ {
		c.Compute(5.0)
	}
	if got := c.GetTerms().Integral; got != 0.5 {
		t.Errorf("integral = %v, want clamp at 0.5", got)
	}

	// And symmetric on the negative side.
	for i := 0; i < 2000; i++ {
		c.Compute(-5.0)
	}
	if got := c.GetTerms().Integral; got != -0.5 {
		t.Errorf("integral = %v, want clamp at -0.5", got)
	}
}

func TestIntegralSkippedWithZeroKi(t *testing.T) {
	c := newStepped(Config{Kp: 1, OutputMin: -1, OutputMax: 1}, 50*time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Compute(1.0)
	}
	if got := c.GetTerms().Integral; got != 0 {
		t.Errorf("integral = %v, want 0 when Ki is zero", got)
	}
}

func TestDerivativeOnError(t *testing.T) {
	c := newStepped(Config{Kd: 1.0, OutputMin: -100, OutputMax: 100}, 100*time.Millisecond)

	// First call has no previous error so the derivative is skipped.
	if got := c.Compute(1.0); got != 0 {
		t.Fatalf("first Compute = %v, want 0 (derivative skipped)", got)
	}
	// dt = 0.1 s, error steps 1.0 -> 2.0: d = (2-1)/0.1 = 10.
	if got := c.Compute(2.0); math.Abs(got-10) > 1e-9 {
		t.Errorf("second Compute = %v, want 10", got)
	}
}

func TestDerivativeOnMeasurement(t *testing.T) {
	c := newStepped(Config{
		Kd: 1.0, OutputMin: -100, OutputMax: 100,
		DerivativeOnMeasurement: true,
	}, 100*time.Millisecond)

	if got := c.ComputeWithMeasurement(1.0, 5.0); got != 0 {
		t.Fatalf("first compute = %v, want 0", got)
	}
	// Measurement rises 5.0 -> 5.5 over 0.1 s: d = -(0.5/0.1) = -5, opposing
	// the motion regardless of the setpoint step hidden in the error.
	if got := c.ComputeWithMeasurement(100.0, 5.5); math.Abs(got-(-5)) > 1e-9 {
		t.Errorf("second compute = %v, want -5", got)
	}
}

func TestReverse(t *testing.T) {
	fwd := newStepped(Config{Kp: 0.5, OutputMin: -1, OutputMax: 1}, 50*time.Millisecond)
	rev := newStepped(Config{Kp: 0.5, OutputMin: -1, OutputMax: 1, Reverse: true},
		50*time.Millisecond)

	f := fwd.Compute(0.6)
	r := rev.Compute(0.6)
	if math.Abs(f+r) > 1e-9 {
		t.Errorf("reverse output %v is not the negation of %v", r, f)
	}
}

func TestDtFloor(t *testing.T) {
	c := New(Config{Kd: 1.0, OutputMin: -10000, OutputMax: 10000}, testLogger())
	fixed := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return fixed }) // clock never advances

	c.Compute(0)
	// dt would be 0; floored to 1 ms, so d = (1-0)/0.001 = 1000.
	if got := c.Compute(1.0); math.Abs(got-1000) > 1e-9 {
		t.Errorf("Compute with frozen clock = %v, want 1000", got)
	}
}

func TestResetMatchesFreshInstance(t *testing.T) {
	cfg := Config{Kp: 0.3, Ki: 0.2, Kd: 0.1, IntegralMax: 1, OutputMin: -1, OutputMax: 1}
	used := newStepped(cfg, 50*time.Millisecond)
	for i := 0; i < 20; i++ {
		used.Compute(0.7)
	}
	used.Reset()
	// Realign the clock so both instances see identical timestamps.
	sc := &stepClock{t: time.Unix(2000, 0), step: 50 * time.Millisecond}
	used.SetClock(sc.now)

	fresh := New(cfg, testLogger())
	sc2 := &stepClock{t: time.Unix(2000, 0), step: 50 * time.Millisecond}
	fresh.SetClock(sc2.now)

	inputs := []float64{0.5, -0.2, 0.1, 0.9, -0.9}
	for _, e := range inputs {
		a, b := used.Compute(e), fresh.Compute(e)
		if math.Abs(a-b) > 1e-12 {
			t.Fatalf("reset instance diverged from fresh: %v vs %v for error %v", a, b, e)
		}
	}
}

func TestResetIntegral(t *testing.T) {
	c := newStepped(Config{Ki: 1.0, IntegralMax: 1, OutputMin: -1, OutputMax: 1},
		50*time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Compute(1.0)
	}
	if c.GetTerms().Integral == 0 {
		t.Fatal("integral did not accumulate")
	}
	c.ResetIntegral()
	if got := c.GetTerms().Integral; got != 0 {
		t.Errorf("integral after ResetIntegral = %v, want 0", got)
	}
}

func TestSetOutputLimitsRejectsInverted(t *testing.T) {
	c := newStepped(Config{Kp: 1, OutputMin: -1, OutputMax: 1}, 50*time.Millisecond)
	c.SetOutputLimits(2, 1)
	if got := c.Compute(100); got != 1 {
		t.Errorf("Compute after rejected limits = %v, want old max 1", got)
	}
	c.SetOutputLimits(-0.5, 0.5)
	if got := c.Compute(100); got != 0.5 {
		t.Errorf("Compute after accepted limits = %v, want 0.5", got)
	}
}

func TestSetSampleTimeRejectsNonPositive(t *testing.T) {
	c := New(Config{Kp: 1, OutputMin: -1, OutputMax: 1, SampleTime: 0.05}, testLogger())
	c.SetSampleTime(0)
	c.SetSampleTime(-1)
	if c.cfg.SampleTime != 0.05 {
		t.Errorf("sample time = %v, want unchanged 0.05", c.cfg.SampleTime)
	}
	c.SetSampleTime(0.02)
	if c.cfg.SampleTime != 0.02 {
		t.Errorf("sample time = %v, want 0.02", c.cfg.SampleTime)
	}
}

func TestSetGainsPreservesState(t *testing.T) {
	c := newStepped(Config{Kp: 1, Ki: 1, IntegralMax: 10, OutputMin: -10, OutputMax: 10},
		50*time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Compute(1.0)
	}
	before := c.GetTerms().Integral
	c.SetGains(2, 1, 0)
	if got := c.GetTerms().Integral; got != before {
		t.Errorf("integral changed on SetGains: %v -> %v", before, got)
	}
}

func TestDefaultLimits(t *testing.T) {
	c := newStepped(Config{Kp: 100}, 50*time.Millisecond)
	if got := c.Compute(1); got != 1 {
		t.Errorf("Compute = %v, want default clamp at 1", got)
	}
	if got := c.Compute(-1); got != -1 {
		t.Errorf("Compute = %v, want default clamp at -1", got)
	}
}

func TestConcurrentTuningWhileComputing(t *testing.T) {
	c := newStepped(Config{Kp: 0.5, Ki: 0.1, OutputMin: -1, OutputMax: 1},
		time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Compute(0.3)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.SetGains(0.2, 0.05, 0.01)
			c.Gains()
			c.GetTerms()
		}
	}()
	wg.Wait()

	kp, ki, kd := c.Gains()
	if kp != 0.2 || ki != 0.05 || kd != 0.01 {
		t.Errorf("Gains() = %v, %v, %v after update, want 0.2, 0.05, 0.01", kp, ki, kd)
	}
}
