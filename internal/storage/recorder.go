package storage

import (
	"log/slog"
	"time"

	"github.com/precland/precland/internal/model"
	"github.com/precland/precland/internal/telemetry"
)

// Recorder adapts a Backend to the control loop's per-cycle snapshot
// callback. Conversion failures are logged and dropped; the control loop
// must never stall on storage.
type Recorder struct {
	backend Backend
	log     *slog.Logger

	now func() time.Time
}

// NewRecorder wraps a backend for per-cycle snapshot recording.
func NewRecorder(backend Backend, log *slog.Logger) *Recorder {
	return &Recorder{
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// Record converts one snapshot into a telemetry row.
func (r *Recorder) Record(snap telemetry.Snapshot) {
	sample, err := model.SampleFromSnapshot(0, r.now(), snap)
	if err != nil {
		r.log.Error("Failed to convert snapshot", "error", err)
		return
	}
	if err := r.backend.RecordSample(&sample); err != nil {
		r.log.Error("Failed to record sample", "error", err)
	}
}
