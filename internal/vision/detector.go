// Package vision locates the IR beacon in camera frames. The beacon is by
// far the brightest object in a 940nm-filtered image, so detection reduces
// to thresholding, cleaning up noise and picking the most circular bright
// region of plausible size.
package vision

import (
	"context"
	"image"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Candidate is one bright region that passed the area and circularity
// filters.
type Candidate struct {
	Center      image.Point
	Area        float64
	Circularity float64
	BBox        image.Rectangle
}

// Stats summarizes detector throughput since start.
type Stats struct {
	FrameCount     uint64  `json:"frameCount"`
	DetectionCount uint64  `json:"detectionCount"`
	FPS            float64 `json:"fps"`
	DetectionRate  float64 `json:"detectionRate"`
}

// Config holds the detector tuning parameters.
type Config struct {
	Width          int
	Height         int
	Threshold      int
	MinArea        int
	MaxArea        int
	CircularityMin float64
	DeadzonePx     int
}

// Detector runs the beacon detection pipeline. Tuning setters and frame
// processing may be called from different goroutines.
type Detector struct {
	log *slog.Logger

	mu             sync.RWMutex
	width, height  int
	threshold      uint8
	minArea        int
	maxArea        int
	circularityMin float64
	deadzonePx     int

	frameMu   sync.Mutex
	lastFrame *image.RGBA

	statsMu       sync.Mutex
	frameCount    uint64
	detections    uint64
	fps           float64
	fpsFrames     int
	fpsWindowFrom time.Time

	framesProcessed metric.Int64Counter
	beaconsDetected metric.Int64Counter

	now func() time.Time
}

// NewDetector creates a detector with the given tuning.
func NewDetector(cfg Config, log *slog.Logger) *Detector {
	d := &Detector{
		log:            log,
		width:          cfg.Width,
		height:         cfg.Height,
		threshold:      clampU8(cfg.Threshold),
		minArea:        max(1, cfg.MinArea),
		maxArea:        cfg.MaxArea,
		circularityMin: cfg.CircularityMin,
		deadzonePx:     cfg.DeadzonePx,
		now:            time.Now,
	}
	if d.maxArea <= d.minArea {
		d.maxArea = d.minArea + 1
	}

	m := meter()
	d.framesProcessed, _ = m.Int64Counter("vision.frames.processed",
		metric.WithDescription("Camera frames run through the detection pipeline"))
	d.beaconsDetected, _ = m.Int64Counter("vision.beacons.detected",
		metric.WithDescription("Frames in which a beacon candidate was accepted"))
	return d
}

// Detect runs the pipeline on one frame. It returns the best candidate's
// center and whether any candidate passed the filters, and stores an
// annotated copy of the frame for the video stream.
func (d *Detector) Detect(frame image.Image) (image.Point, bool) {
	d.mu.RLock()
	threshold := d.threshold
	minArea := d.minArea
	maxArea := d.maxArea
	circularityMin := d.circularityMin
	deadzone := d.deadzonePx
	d.mu.RUnlock()

	bin := open3x3(thresholdImage(frame, threshold))
	comps, labels := labelComponents(bin)

	var candidates []Candidate
	for _, c := range comps {
		area := float64(c.area)
		if area < float64(minArea) || area > float64(maxArea) {
			continue
		}
		perimeter := tracePerimeter(labels, bin.w, bin.h, c)
		if perimeter == 0 {
			continue
		}
		circularity := 4 * math.Pi * area / (perimeter * perimeter)
		if circularity < circularityMin {
			continue
		}
		candidates = append(candidates, Candidate{
			Center: image.Pt(
				int(c.sumX/int64(c.area)),
				int(c.sumY/int64(c.area)),
			),
			Area:        area,
			Circularity: circularity,
			BBox:        c.bbox,
		})
	}

	// Best candidate is the most circular one; a stable sort keeps the
	// first seen on ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Circularity > candidates[j].Circularity
	})

	var best *Candidate
	var pos image.Point
	found := len(candidates) > 0
	if found {
		best = &candidates[0]
		pos = best.Center
	}

	annotated := annotate(frame, candidates, best, deadzone, d.currentFPS(), int(threshold))
	d.frameMu.Lock()
	d.lastFrame = annotated
	d.frameMu.Unlock()

	d.recordFrame(found)
	return pos, found
}

// ProcessedFrame returns the most recent annotated frame, or nil before the
// first detection pass.
func (d *Detector) ProcessedFrame() *image.RGBA {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if d.lastFrame == nil {
		return nil
	}
	cp := image.NewRGBA(d.lastFrame.Rect)
	copy(cp.Pix, d.lastFrame.Pix)
	return cp
}

// SetThreshold updates the brightness threshold, clamped to [0, 255].
func (d *Detector) SetThreshold(threshold int) {
	d.mu.Lock()
	d.threshold = clampU8(threshold)
	v := d.threshold
	d.mu.Unlock()
	d.log.Info("detector threshold updated", "threshold", v)
}

// Threshold returns the current brightness threshold.
func (d *Detector) Threshold() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int(d.threshold)
}

// SetAreaLimits updates the candidate area window. The minimum is floored
// to 1 and the maximum forced above the minimum.
func (d *Detector) SetAreaLimits(minArea, maxArea int) {
	d.mu.Lock()
	d.minArea = max(1, minArea)
	if maxArea <= d.minArea {
		maxArea = d.minArea + 1
	}
	d.maxArea = maxArea
	lo, hi := d.minArea, d.maxArea
	d.mu.Unlock()
	d.log.Info("detector area limits updated", "minArea", lo, "maxArea", hi)
}

// SetCircularityMin updates the circularity floor, clamped to [0, 1].
func (d *Detector) SetCircularityMin(c float64) {
	d.mu.Lock()
	d.circularityMin = math.Min(1, math.Max(0, c))
	d.mu.Unlock()
}

// Stats returns throughput counters.
func (d *Detector) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	s := Stats{
		FrameCount:     d.frameCount,
		DetectionCount: d.detections,
		FPS:            d.fps,
	}
	if d.frameCount > 0 {
		s.DetectionRate = float64(d.detections) / float64(d.frameCount) * 100
	}
	return s
}

func (d *Detector) recordFrame(detected bool) {
	d.framesProcessed.Add(context.Background(), 1)
	if detected {
		d.beaconsDetected.Add(context.Background(), 1)
	}

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.frameCount++
	if detected {
		d.detections++
	}

	now := d.now()
	if d.fpsWindowFrom.IsZero() {
		d.fpsWindowFrom = now
	}
	d.fpsFrames++
	if elapsed := now.Sub(d.fpsWindowFrom).Seconds(); elapsed >= 1.0 {
		d.fps = float64(d.fpsFrames) / elapsed
		d.fpsFrames = 0
		d.fpsWindowFrom = now
	}
}

func (d *Detector) currentFPS() float64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.fps
}

func clampU8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
