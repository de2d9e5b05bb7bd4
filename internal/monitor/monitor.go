// Package monitor publishes a 1 Hz health report: a status.txt file for
// quick field inspection over SSH and a performance row in the flight log.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/precland/precland/internal/logging"
	"github.com/precland/precland/internal/model"
	"github.com/precland/precland/internal/storage"
	"github.com/precland/precland/internal/telemetry"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Backend    storage.Backend
	Store      *telemetry.Store
	LogManager *logging.SlogManager
	StatusDir  string
}

// writeTimer is implemented by backends that track batch write durations.
type writeTimer interface {
	LastWriteDurationMs() float32
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current program status lines and the
// performance row derived from the latest telemetry snapshot.
func (s *Service) GetProgramStatus(
	snapshot bool,
	writeQueues bool,
	lastWrite bool,
) (output []string, perfModel model.ControlPerformance) {
	snap := s.deps.Store.Get()
	queues := s.deps.Backend.QueueLengths()

	perfModel = model.ControlPerformance{
		Time:              time.Now(),
		WriteQueueLengths: queues,
		LoopOverruns:      uint32(snap.LoopOverruns),
		MSPErrors:         uint32(snap.MSPErrors),
		DetectorFPS:       float32(snap.FPS),
	}
	if timer, ok := s.deps.Backend.(writeTimer); ok {
		perfModel.LastWriteDurationMs = timer.LastWriteDurationMs()
	}

	if snapshot {
		snapStr, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			snapStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(snapStr))
	}
	if writeQueues {
		queuesStr, err := json.MarshalIndent(queues, "", "  ")
		if err != nil {
			queuesStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(queuesStr))
	}
	if lastWrite {
		lastWriteStr, err := json.MarshalIndent(perfModel.LastWriteDurationMs, "", "  ")
		if err != nil {
			lastWriteStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(lastWriteStr))
	}

	return output, perfModel
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine", "subsystem", "monitor")

		statusFile, err := os.Create(s.deps.StatusDir + "/status.txt")
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		}
		defer statusFile.Close()

		for {
			select {
			case <-s.stopChan:
				return
			default:
				time.Sleep(1000 * time.Millisecond)

				statusStr, perfModel := s.GetProgramStatus(true, true, true)

				if statusFile != nil {
					statusFile.Truncate(0)
					statusFile.Seek(0, 0)
					for _, line := range statusStr {
						statusFile.WriteString(line + "\n")
					}
				}

				if err := s.deps.Backend.RecordPerformance(&perfModel); err != nil {
					logger.Error("Error recording performance row", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
