// Package storage persists flight logs. A backend receives one session at a
// time: StartSession opens it, Record* calls append to it, EndSession
// finalizes it with an outcome.
package storage

import "github.com/precland/precland/internal/model"

// Backend is the interface all flight-log implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(session *model.LandingSession) error
	EndSession(outcome string) error

	// Per-cycle recording
	RecordSample(s *model.TelemetrySample) error
	RecordTransition(t *model.StateTransition) error
	RecordPerformance(p *model.ControlPerformance) error

	// QueueLengths reports pending writes for the performance monitor.
	QueueLengths() model.WriteQueueLengths
}

// Exportable is an optional interface for backends that produce a flight-log
// file suitable for download or post-flight review.
type Exportable interface {
	GetExportedFilePath() string
}
