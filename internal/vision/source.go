package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
)

// Source yields frames for the detection pipeline. Implementations wrap a
// camera or, in simulation, synthesize frames.
type Source interface {
	// NextFrame returns the next frame. It blocks until one is available.
	NextFrame() (image.Image, error)
	Close() error
}

// OpenSource selects a frame source by name. "sim" (or empty) yields the
// synthetic source; any other name must match a camera driver compiled into
// this build and is rejected otherwise, so a missing camera never flies on
// synthetic frames unnoticed.
func OpenSource(name string, width, height int) (Source, error) {
	switch name {
	case "", "sim":
		return NewSimSource(width, height), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q, this build supports \"sim\"", name)
	}
}

// SimSource synthesizes grayscale frames containing a single bright disc
// that spirals in toward the frame center, imitating a beacon seen from a
// descending aircraft. It lets the whole pipeline run without hardware.
type SimSource struct {
	width, height int
	radius        int
	background    uint8
	brightness    uint8

	mu    sync.Mutex
	frame int
}

// NewSimSource creates a simulated frame source at the given resolution.
func NewSimSource(width, height int) *SimSource {
	return &SimSource{
		width:      width,
		height:     height,
		radius:     4,
		background: 20,
		brightness: 255,
	}
}

// NextFrame renders the next synthetic frame. It never blocks and never
// fails.
func (s *SimSource) NextFrame() (image.Image, error) {
	s.mu.Lock()
	n := s.frame
	s.frame++
	s.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	for i := range img.Pix {
		img.Pix[i] = s.background
	}

	// Spiral: the orbit radius shrinks from a quarter of the frame toward
	// zero over about 30 seconds of frames, then holds at center.
	cx := float64(s.width) / 2
	cy := float64(s.height) / 2
	maxOrbit := math.Min(cx, cy) / 2
	orbit := maxOrbit * math.Max(0, 1-float64(n)/600.0)
	angle := float64(n) * 0.05

	bx := int(cx + orbit*math.Cos(angle))
	by := int(cy + orbit*math.Sin(angle))
	s.drawBeacon(img, bx, by)

	return img, nil
}

func (s *SimSource) drawBeacon(img *image.Gray, bx, by int) {
	r := s.radius
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			x, y := bx+dx, by+dy
			if x >= 0 && y >= 0 && x < s.width && y < s.height {
				img.SetGray(x, y, color.Gray{Y: s.brightness})
			}
		}
	}
}

// Close is a no-op for the simulated source.
func (s *SimSource) Close() error { return nil }
