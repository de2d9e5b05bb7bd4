package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precland/precland/internal/logging"
	"github.com/precland/precland/internal/model"
	"github.com/precland/precland/internal/telemetry"
)

// fakeBackend captures performance rows and reports canned queue lengths.
type fakeBackend struct {
	queues      model.WriteQueueLengths
	performance []model.ControlPerformance
	writeMs     float32
}

func (f *fakeBackend) Init() error  { return nil }
func (f *fakeBackend) Close() error { return nil }
func (f *fakeBackend) StartSession(*model.LandingSession) error { return nil }
func (f *fakeBackend) EndSession(string) error                  { return nil }
func (f *fakeBackend) RecordSample(*model.TelemetrySample) error { return nil }
func (f *fakeBackend) RecordTransition(*model.StateTransition) error { return nil }
func (f *fakeBackend) RecordPerformance(p *model.ControlPerformance) error {
	f.performance = append(f.performance, *p)
	return nil
}
func (f *fakeBackend) QueueLengths() model.WriteQueueLengths { return f.queues }
func (f *fakeBackend) LastWriteDurationMs() float32          { return f.writeMs }

func newTestService(backend *fakeBackend) (*Service, *telemetry.Store) {
	store := telemetry.NewStore()
	return NewService(Dependencies{
		Backend:    backend,
		Store:      store,
		LogManager: logging.NewSlogManager(),
		StatusDir:  "",
	}), store
}

func TestGetProgramStatus_BuildsPerformanceRow(t *testing.T) {
	backend := &fakeBackend{
		queues:  model.WriteQueueLengths{TelemetrySamples: 12, StateTransitions: 3},
		writeMs: 4.5,
	}
	svc, store := newTestService(backend)

	store.SetControl(telemetry.ControlUpdate{
		State:        "APPROACH",
		FPS:          29.1,
		LoopOverruns: 7,
		MSPErrors:    2,
	})

	output, perf := svc.GetProgramStatus(true, true, true)

	require.Len(t, output, 3)
	assert.Contains(t, output[0], "APPROACH")
	assert.Contains(t, output[1], "telemetrySamples")

	assert.Equal(t, uint32(7), perf.LoopOverruns)
	assert.Equal(t, uint32(2), perf.MSPErrors)
	assert.InDelta(t, 29.1, float64(perf.DetectorFPS), 1e-5)
	assert.Equal(t, uint16(12), perf.WriteQueueLengths.TelemetrySamples)
	assert.InDelta(t, 4.5, float64(perf.LastWriteDurationMs), 1e-5)
	assert.False(t, perf.Time.IsZero())
}

func TestGetProgramStatus_SelectiveOutput(t *testing.T) {
	svc, _ := newTestService(&fakeBackend{})

	output, _ := svc.GetProgramStatus(false, true, false)
	assert.Len(t, output, 1)

	output, _ = svc.GetProgramStatus(false, false, false)
	assert.Empty(t, output)
}

func TestStartStop(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(backend)
	svc.deps.StatusDir = t.TempDir()

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// starting twice is a no-op
	require.NoError(t, svc.Start())

	svc.Stop()
}
