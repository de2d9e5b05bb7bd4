package fsm

import (
	"image"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	t time.Time
}

func (fc *fakeClock) now() time.Time { return fc.t }

func (fc *fakeClock) advance(d time.Duration) { fc.t = fc.t.Add(d) }

func newTestMachine() (*Machine, *fakeClock) {
	m := New(Config{
		DetectionTime: 2 * time.Second,
		LostTimeout:   3 * time.Second,
		StartHeight:   15.0,
		LandingHeight: 0.8,
	}, testLogger())
	fc := &fakeClock{t: time.Unix(5000, 0)}
	m.SetClock(fc.now)
	return m, fc
}

var beaconAt = image.Pt(320, 240)

func TestInitialStateIsIdle(t *testing.T) {
	m, _ := newTestMachine()
	if got := m.State(); got != StateIdle {
		t.Errorf("initial state = %v, want IDLE", got)
	}
	if m.IsActive() {
		t.Error("machine active before Enable")
	}
}

func TestEnableStartsSearching(t *testing.T) {
	m, _ := newTestMachine()
	m.Enable()
	if got := m.State(); got != StateSearching {
		t.Errorf("state after Enable = %v, want SEARCHING", got)
	}
	// Enable in a non-IDLE state is a no-op.
	m.Update(true, beaconAt, 10)
	m.Enable()
	if got := m.State(); got != StateTracking {
		t.Errorf("state after redundant Enable = %v, want TRACKING", got)
	}
}

func TestIdleIgnoresObservations(t *testing.T) {
	m, fc := newTestMachine()
	for i := 0; i < 100; i++ {
		m.Update(true, beaconAt, 5)
		fc.advance(50 * time.Millisecond)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want IDLE without Enable", got)
	}
}

func TestSearchingToTrackingOnDetection(t *testing.T) {
	m, _ := newTestMachine()
	m.Enable()
	m.Update(false, image.Point{}, 10)
	if got := m.State(); got != StateSearching {
		t.Fatalf("state = %v, want SEARCHING while beacon missing", got)
	}
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateTracking {
		t.Errorf("state = %v, want TRACKING after detection", got)
	}
}

func TestTrackingConfirmationWindow(t *testing.T) {
	m, fc := newTestMachine()
	m.Enable()
	m.Update(true, beaconAt, 10)

	// Just under the confirmation time: still TRACKING.
	fc.advance(1999 * time.Millisecond)
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateTracking {
		t.Fatalf("state = %v, want TRACKING before confirmation", got)
	}

	fc.advance(time.Millisecond)
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateApproach {
		t.Errorf("state = %v, want APPROACH after confirmation window", got)
	}
}

func TestTrackingMissRestartsSearch(t *testing.T) {
	m, fc := newTestMachine()
	m.Enable()
	m.Update(true, beaconAt, 10)
	fc.advance(1500 * time.Millisecond)
	m.Update(false, image.Point{}, 10)
	if got := m.State(); got != StateSearching {
		t.Fatalf("state = %v, want SEARCHING after miss in TRACKING", got)
	}

	// The confirmation window starts over from the next sighting.
	m.Update(true, beaconAt, 10)
	fc.advance(1800 * time.Millisecond)
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateTracking {
		t.Errorf("state = %v, want TRACKING (window restarted)", got)
	}
}

func confirmToApproach(m *Machine, fc *fakeClock) {
	m.Enable()
	m.Update(true, beaconAt, 10)
	fc.advance(2 * time.Second)
	m.Update(true, beaconAt, 10)
}

func TestApproachToLandingAtLandingHeight(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)
	if got := m.State(); got != StateApproach {
		t.Fatalf("setup failed, state = %v", got)
	}

	m.Update(true, beaconAt, 0.9)
	if got := m.State(); got != StateApproach {
		t.Fatalf("state = %v, want APPROACH above landing height", got)
	}
	m.Update(true, beaconAt, 0.8)
	if got := m.State(); got != StateLanding {
		t.Errorf("state = %v, want LANDING at landing height", got)
	}
}

func TestApproachToLostOnTimeout(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)

	fc.advance(2999 * time.Millisecond)
	m.Update(false, image.Point{}, 10)
	if got := m.State(); got != StateApproach {
		t.Fatalf("state = %v, want APPROACH before lost timeout", got)
	}
	fc.advance(time.Millisecond)
	m.Update(false, image.Point{}, 10)
	if got := m.State(); got != StateLost {
		t.Errorf("state = %v, want LOST after timeout", got)
	}
}

func TestLandingToComplete(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)
	m.Update(true, beaconAt, 0.5)
	if got := m.State(); got != StateLanding {
		t.Fatalf("setup failed, state = %v", got)
	}

	m.Update(true, beaconAt, 0.1)
	if got := m.State(); got != StateComplete {
		t.Errorf("state = %v, want COMPLETE at touchdown altitude", got)
	}
	if !m.IsComplete() {
		t.Error("IsComplete() = false in COMPLETE")
	}

	// COMPLETE holds until disabled.
	m.Update(true, beaconAt, 5)
	if got := m.State(); got != StateComplete {
		t.Errorf("state = %v, want COMPLETE to be terminal", got)
	}
}

func TestLandingToLostOnTimeout(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)
	m.Update(true, beaconAt, 0.5)

	fc.advance(3 * time.Second)
	m.Update(false, image.Point{}, 0.5)
	if got := m.State(); got != StateLost {
		t.Errorf("state = %v, want LOST after beacon lost in LANDING", got)
	}
}

func TestLostReacquiresViaTracking(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)
	fc.advance(3 * time.Second)
	m.Update(false, image.Point{}, 10)
	if got := m.State(); got != StateLost {
		t.Fatalf("setup failed, state = %v", got)
	}

	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateTracking {
		t.Fatalf("state = %v, want TRACKING on reacquire", got)
	}

	// Reacquisition needs a full confirmation window again.
	fc.advance(1 * time.Second)
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateTracking {
		t.Errorf("state = %v, want TRACKING before new window elapses", got)
	}
	fc.advance(1 * time.Second)
	m.Update(true, beaconAt, 10)
	if got := m.State(); got != StateApproach {
		t.Errorf("state = %v, want APPROACH after new window", got)
	}
}

func TestDisableFromAnyState(t *testing.T) {
	m, fc := newTestMachine()
	confirmToApproach(m, fc)
	m.Disable()
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %v, want IDLE after Disable", got)
	}
	if m.TrackingTime() != 0 {
		t.Error("tracking time not cleared by Disable")
	}
}

func TestStateChangeCallback(t *testing.T) {
	m, _ := newTestMachine()
	type change struct{ old, new State }
	var changes []change
	m.OnStateChange(func(old, new State) {
		changes = append(changes, change{old, new})
	})

	m.Enable()
	m.Update(true, beaconAt, 10)

	want := []change{
		{StateIdle, StateSearching},
		{StateSearching, StateTracking},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(changes), len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestInfoSnapshot(t *testing.T) {
	m, fc := newTestMachine()
	m.Enable()
	m.Update(true, beaconAt, 12.5)
	fc.advance(500 * time.Millisecond)

	info := m.Info()
	if info.State != "TRACKING" {
		t.Errorf("info.State = %q, want TRACKING", info.State)
	}
	if info.PrevState != "SEARCHING" {
		t.Errorf("info.PrevState = %q, want SEARCHING", info.PrevState)
	}
	if !info.BeaconDetected || info.BeaconPosition != beaconAt {
		t.Errorf("beacon info = %v/%v, want detected at %v",
			info.BeaconDetected, info.BeaconPosition, beaconAt)
	}
	if info.Altitude != 12.5 {
		t.Errorf("info.Altitude = %v, want 12.5", info.Altitude)
	}
	if info.BeaconSeenTime < 0.499 || info.BeaconSeenTime > 0.501 {
		t.Errorf("info.BeaconSeenTime = %v, want 0.5", info.BeaconSeenTime)
	}
}
