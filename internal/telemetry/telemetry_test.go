package telemetry

import (
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore()
	snap := s.Get()

	assert.Equal(t, "UNKNOWN", snap.Mode)
	assert.Equal(t, "IDLE", snap.State)
	assert.Equal(t, [4]uint16{1500, 1500, 1500, 1500}, snap.RCChannels)
	assert.False(t, snap.Armed)
	assert.NotZero(t, snap.Timestamp)
}

func TestSetFlightState_ValidityGates(t *testing.T) {
	s := NewStore()

	s.SetFlightState(12.5, true, true, "ARMED", true)
	snap := s.Get()
	assert.Equal(t, 12.5, snap.Altitude)
	assert.True(t, snap.Armed)
	assert.Equal(t, "ARMED", snap.Mode)

	// Invalid readings must not clobber the last good values.
	s.SetFlightState(0, false, false, "", false)
	snap = s.Get()
	assert.Equal(t, 12.5, snap.Altitude)
	assert.True(t, snap.Armed)
	assert.Equal(t, "ARMED", snap.Mode)
}

func TestAltitude(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0.0, s.Altitude())

	s.SetFlightState(3.2, true, false, "", false)
	assert.Equal(t, 3.2, s.Altitude())
}

func TestSetControl_AppliesAllFields(t *testing.T) {
	s := NewStore()
	s.SetControl(ControlUpdate{
		BeaconDetected: true,
		BeaconPosition: image.Pt(320, 240),
		State:          "APPROACH",
		RollOutput:     0.12,
		PitchOutput:    -0.08,
		ThrottleOutput: -0.2,
		RCChannels:     [4]uint16{1536, 1476, 1440, 1500},
		FPS:            19.8,
		LoopOverruns:   2,
		MSPErrors:      1,
		MSPConnected:   true,
	})

	snap := s.Get()
	assert.True(t, snap.BeaconDetected)
	assert.Equal(t, image.Pt(320, 240), snap.BeaconPosition)
	assert.Equal(t, "APPROACH", snap.State)
	assert.Equal(t, 0.12, snap.RollOutput)
	assert.Equal(t, -0.08, snap.PitchOutput)
	assert.Equal(t, -0.2, snap.ThrottleOutput)
	assert.Equal(t, [4]uint16{1536, 1476, 1440, 1500}, snap.RCChannels)
	assert.Equal(t, 19.8, snap.FPS)
	assert.Equal(t, uint64(2), snap.LoopOverruns)
	assert.Equal(t, uint64(1), snap.MSPErrors)
	assert.True(t, snap.MSPConnected)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	snap := s.Get()
	snap.State = "mutated"
	assert.Equal(t, "IDLE", s.Get().State)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(alt float64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetFlightState(alt, true, true, "ARMED", true)
				s.SetControl(ControlUpdate{State: "SEARCHING"})
			}
		}(float64(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Get()
				_ = s.Altitude()
			}
		}()
	}
	wg.Wait()
}
