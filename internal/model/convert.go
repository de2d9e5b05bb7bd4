package model

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/precland/precland/internal/telemetry"
)

// NewLandingSession builds a session row with a fresh UUID and the tuning
// snapshot serialized for later review.
func NewLandingSession(startTime time.Time, simulation bool, firmware string, tuning any) (LandingSession, error) {
	cfg, err := json.Marshal(tuning)
	if err != nil {
		return LandingSession{}, err
	}
	return LandingSession{
		SessionID:      uuid.NewString(),
		StartTime:      startTime,
		SimulationMode: simulation,
		FirmwareInfo:   firmware,
		ConfigSnapshot: datatypes.JSON(cfg),
	}, nil
}

// SampleFromSnapshot converts a telemetry snapshot into a database row.
func SampleFromSnapshot(sessionRowID uint, at time.Time, snap telemetry.Snapshot) (TelemetrySample, error) {
	rc, err := json.Marshal(snap.RCChannels)
	if err != nil {
		return TelemetrySample{}, err
	}

	sample := TelemetrySample{
		LandingSessionID: sessionRowID,
		Time:             at,
		Altitude:         float32(snap.Altitude),
		Armed:            snap.Armed,
		FlightMode:       snap.Mode,
		State:            snap.State,
		BeaconDetected:   snap.BeaconDetected,
		RollOutput:       float32(snap.RollOutput),
		PitchOutput:      float32(snap.PitchOutput),
		ThrottleOutput:   float32(snap.ThrottleOutput),
		RCChannels:       datatypes.JSON(rc),
		DetectorFPS:      float32(snap.FPS),
	}
	if snap.BeaconDetected {
		sample.BeaconX = sql.NullInt32{Int32: int32(snap.BeaconPosition.X), Valid: true}
		sample.BeaconY = sql.NullInt32{Int32: int32(snap.BeaconPosition.Y), Valid: true}
	}
	return sample, nil
}
