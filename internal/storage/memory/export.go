package memory

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/precland/precland/internal/model"
)

// FlightExport is the root JSON structure written for each session
type FlightExport struct {
	SessionID      string                     `json:"sessionId"`
	StartTime      time.Time                  `json:"startTime"`
	EndTime        time.Time                  `json:"endTime"`
	Outcome        string                     `json:"outcome"`
	FirmwareInfo   string                     `json:"firmwareInfo"`
	SimulationMode bool                       `json:"simulationMode"`
	ConfigSnapshot json.RawMessage            `json:"configSnapshot"`
	Transitions    []model.StateTransition    `json:"transitions"`
	Samples        []model.TelemetrySample    `json:"samples"`
	Performance    []model.ControlPerformance `json:"performance"`
}

// finalize stamps the session and writes the export file. Caller holds the lock.
func (b *Backend) finalize(outcome string, endTime time.Time) error {
	b.session.Outcome = outcome
	b.session.EndTime = sql.NullTime{Time: endTime, Valid: true}
	return b.exportJSON()
}

// exportJSON writes the session data to a (optionally gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.session.StartTime.Format("20060102_150405")
	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("session_%s_%s.json.gz", b.session.SessionID, timestamp)
	} else {
		filename = fmt.Sprintf("session_%s_%s.json", b.session.SessionID, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() FlightExport {
	export := FlightExport{
		SessionID:      b.session.SessionID,
		StartTime:      b.session.StartTime,
		Outcome:        b.session.Outcome,
		FirmwareInfo:   b.session.FirmwareInfo,
		SimulationMode: b.session.SimulationMode,
		ConfigSnapshot: json.RawMessage(b.session.ConfigSnapshot),
		Transitions:    b.transitions,
		Samples:        b.samples,
		Performance:    b.performance,
	}
	if b.session.EndTime.Valid {
		export.EndTime = b.session.EndTime.Time
	}
	if export.Transitions == nil {
		export.Transitions = make([]model.StateTransition, 0)
	}
	if export.Samples == nil {
		export.Samples = make([]model.TelemetrySample, 0)
	}
	if export.Performance == nil {
		export.Performance = make([]model.ControlPerformance, 0)
	}
	if len(export.ConfigSnapshot) == 0 {
		export.ConfigSnapshot = json.RawMessage("null")
	}
	return export
}

func (b *Backend) writeJSON(path string, export FlightExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

func (b *Backend) writeGzipJSON(path string, export FlightExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gz.Close()
}
