// Package track smooths noisy beacon centroid measurements with a constant
// velocity Kalman filter and bridges short detection dropouts with predicted
// positions.
package track

// initialCovariance expresses total uncertainty before the first measurement.
const initialCovariance = 1000.0

// Filter is a Kalman filter over the state [x, y, vx, vy] with a constant
// velocity model. Time is measured in frames, so velocity is px/frame.
// It is not safe for concurrent use; the detector goroutine owns it.
type Filter struct {
	x *Matrix // (4x1) state
	p *Matrix // (4x4) estimate error covariance
	q *Matrix // (4x4) process noise covariance
	r *Matrix // (2x2) measurement noise covariance
	f *Matrix // (4x4) state transition
	h *Matrix // (2x4) observation

	initialized bool
}

// NewFilter creates a filter with the given noise parameters. Typical values
// are 0.01 process noise and 0.1 measurement noise.
func NewFilter(processNoise, measurementNoise float64) *Filter {
	f := Identity(4)
	f.Set(0, 2, 1) // x += vx
	f.Set(1, 3, 1) // y += vy

	h := NewMatrix(2, 4)
	h.Set(0, 0, 1)
	h.Set(1, 1, 1)

	return &Filter{
		x: NewMatrix(4, 1),
		p: Scaled(4, initialCovariance),
		q: Scaled(4, processNoise),
		r: Scaled(2, measurementNoise),
		f: f,
		h: h,
	}
}

// Predict advances the state one frame and returns the predicted position.
// Use it when a frame yields no detection.
func (kf *Filter) Predict() (x, y float64) {
	kf.x = kf.f.Multiply(kf.x)
	kf.p = kf.f.Multiply(kf.p).Multiply(kf.f.Transpose()).Add(kf.q)
	return kf.x.At(0, 0), kf.x.At(1, 0)
}

// Update folds a measurement into the state and returns the filtered
// position. The first measurement initializes the state directly and is
// returned unchanged.
func (kf *Filter) Update(mx, my float64) (x, y float64) {
	if !kf.initialized {
		kf.x.Set(0, 0, mx)
		kf.x.Set(1, 0, my)
		kf.initialized = true
		return mx, my
	}

	kf.Predict()

	z := NewMatrix(2, 1)
	z.Set(0, 0, mx)
	z.Set(1, 0, my)

	hT := kf.h.Transpose()
	s := kf.h.Multiply(kf.p).Multiply(hT).Add(kf.r)
	k := kf.p.Multiply(hT).Multiply(s.Inverse())
	y4 := z.Subtract(kf.h.Multiply(kf.x))

	kf.x = kf.x.Add(k.Multiply(y4))
	kf.p = Identity(4).Subtract(k.Multiply(kf.h)).Multiply(kf.p)

	return kf.x.At(0, 0), kf.x.At(1, 0)
}

// Initialized reports whether the filter has absorbed a measurement.
func (kf *Filter) Initialized() bool {
	return kf.initialized
}

// Velocity returns the current velocity estimate in px/frame.
func (kf *Filter) Velocity() (vx, vy float64) {
	return kf.x.At(2, 0), kf.x.At(3, 0)
}

// Reset returns the filter to its pre-initialization state. Call it when the
// beacon has been lost long enough that the velocity estimate is stale.
func (kf *Filter) Reset() {
	kf.x = NewMatrix(4, 1)
	kf.p = Scaled(4, initialCovariance)
	kf.initialized = false
}
