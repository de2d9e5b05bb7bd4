// Package gorm persists landing sessions through a gorm database handle.
// High-rate telemetry rows are queued and flushed in batches on a fixed
// interval so the control loop never blocks on the database.
package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/precland/precland/internal/database"
	"github.com/precland/precland/internal/model"
	"github.com/precland/precland/internal/queue"
)

const (
	flushInterval = 1 * time.Second
	flushBatch    = 500
)

// Backend writes flight logs through a database manager.
type Backend struct {
	db *database.Manager

	sampleQueue     *queue.Queue[model.TelemetrySample]
	transitionQueue *queue.Queue[model.StateTransition]

	mu        sync.RWMutex
	sessionID uint // row ID of the open session, 0 when none

	lastWriteMs float32

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a gorm-backed flight log store.
func New(db *database.Manager) *Backend {
	return &Backend{
		db:              db,
		sampleQueue:     queue.New[model.TelemetrySample](),
		transitionQueue: queue.New[model.StateTransition](),
		stopChan:        make(chan struct{}),
	}
}

// Init starts the background flush worker.
func (b *Backend) Init() error {
	if b.db == nil || !b.db.IsValid {
		return fmt.Errorf("database manager not valid")
	}

	b.wg.Add(1)
	go b.flushLoop()
	return nil
}

// Close stops the flush worker and drains remaining rows.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	return b.flush()
}

// StartSession inserts the session row and makes it current.
func (b *Backend) StartSession(session *model.LandingSession) error {
	if err := b.db.DB.Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.mu.Lock()
	b.sessionID = session.ID
	b.mu.Unlock()
	return nil
}

// EndSession flushes pending rows and stamps the session outcome.
func (b *Backend) EndSession(outcome string) error {
	b.mu.Lock()
	id := b.sessionID
	b.sessionID = 0
	b.mu.Unlock()

	if id == 0 {
		return fmt.Errorf("no session in progress")
	}

	if err := b.flush(); err != nil {
		return err
	}

	return b.db.DB.Model(&model.LandingSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"outcome":  outcome,
			"end_time": time.Now(),
		}).Error
}

// RecordSample queues one control cycle's telemetry.
func (b *Backend) RecordSample(s *model.TelemetrySample) error {
	b.mu.RLock()
	id := b.sessionID
	b.mu.RUnlock()

	if id == 0 {
		return nil // silently drop samples outside a session
	}
	s.LandingSessionID = id
	b.sampleQueue.Push(*s)
	return nil
}

// RecordTransition queues one state machine edge.
func (b *Backend) RecordTransition(t *model.StateTransition) error {
	b.mu.RLock()
	id := b.sessionID
	b.mu.RUnlock()

	if id == 0 {
		return nil
	}
	t.LandingSessionID = id
	b.transitionQueue.Push(*t)
	return nil
}

// RecordPerformance writes a health row directly; these arrive at 1 Hz.
func (b *Backend) RecordPerformance(p *model.ControlPerformance) error {
	b.mu.RLock()
	id := b.sessionID
	b.mu.RUnlock()

	if id == 0 {
		return nil
	}
	p.LandingSessionID = id
	return b.db.DB.Create(p).Error
}

// QueueLengths reports pending writes for the performance monitor.
func (b *Backend) QueueLengths() model.WriteQueueLengths {
	return model.WriteQueueLengths{
		TelemetrySamples: clampUint16(b.sampleQueue.Len()),
		StateTransitions: clampUint16(b.transitionQueue.Len()),
	}
}

// LastWriteDurationMs returns how long the most recent batch flush took.
func (b *Backend) LastWriteDurationMs() float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastWriteMs
}

func (b *Backend) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.flush()
		}
	}
}

// flush drains both queues in bounded batches.
func (b *Backend) flush() error {
	start := time.Now()
	wrote := false

	for {
		samples := b.sampleQueue.PopN(flushBatch)
		if len(samples) == 0 {
			break
		}
		wrote = true
		if err := b.db.DB.Create(&samples).Error; err != nil {
			return fmt.Errorf("failed to flush samples: %w", err)
		}
	}

	for {
		transitions := b.transitionQueue.PopN(flushBatch)
		if len(transitions) == 0 {
			break
		}
		wrote = true
		if err := b.db.DB.Create(&transitions).Error; err != nil {
			return fmt.Errorf("failed to flush transitions: %w", err)
		}
	}

	if wrote {
		b.mu.Lock()
		b.lastWriteMs = float32(time.Since(start).Seconds() * 1000)
		b.mu.Unlock()
	}
	return nil
}

func clampUint16(n int) uint16 {
	if n > 65535 {
		return 65535
	}
	return uint16(n)
}
