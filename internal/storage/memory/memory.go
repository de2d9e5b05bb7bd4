// Package memory buffers a landing session in RAM and writes it out as a
// JSON file when the session ends. It is the default backend on companion
// computers with no database available.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/precland/precland/internal/config"
	"github.com/precland/precland/internal/model"
)

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig

	session     *model.LandingSession
	transitions []model.StateTransition
	samples     []model.TelemetrySample
	performance []model.ControlPerformance

	lastExportPath string

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports any session still in progress
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil && !b.session.EndTime.Valid {
		return b.finalize("ABORTED", time.Now())
	}
	return nil
}

// StartSession begins recording a new landing session
func (b *Backend) StartSession(session *model.LandingSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = session
	b.transitions = nil
	b.samples = nil
	b.performance = nil

	return nil
}

// EndSession finalizes and exports the session data
func (b *Backend) EndSession(outcome string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return fmt.Errorf("no session in progress")
	}
	return b.finalize(outcome, time.Now())
}

// RecordSample appends one control cycle's telemetry
func (b *Backend) RecordSample(s *model.TelemetrySample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil // silently drop samples outside a session
	}
	b.samples = append(b.samples, *s)
	return nil
}

// RecordTransition appends one state machine edge
func (b *Backend) RecordTransition(t *model.StateTransition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	b.transitions = append(b.transitions, *t)
	return nil
}

// RecordPerformance appends one health metrics row
func (b *Backend) RecordPerformance(p *model.ControlPerformance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	b.performance = append(b.performance, *p)
	return nil
}

// QueueLengths reports pending writes. The memory backend never queues, so
// this is the number of rows held for the current session.
func (b *Backend) QueueLengths() model.WriteQueueLengths {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return model.WriteQueueLengths{
		TelemetrySamples: clampUint16(len(b.samples)),
		StateTransitions: clampUint16(len(b.transitions)),
	}
}

// GetExportedFilePath returns the path of the last exported session file
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

func clampUint16(n int) uint16 {
	if n > 65535 {
		return 65535
	}
	return uint16(n)
}
