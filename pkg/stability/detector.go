// Package stability decides when a filtered weight signal has settled.
//
// A reading is considered stable once the spread (max - min) of the recent
// history has stayed within a threshold for at least a dwell time. Any
// reading that pushes the spread above the threshold clears stability on the
// same call.
package stability

import (
	"math"
	"time"
)

const (
	DefaultSize      = 10
	DefaultThreshold = 0.5 // grams
	DefaultDwell     = 200 * time.Millisecond
)

// Detector tracks a fixed-size history of filtered values. It is not safe
// for concurrent use.
type Detector struct {
	history []float64
	index   int
	filled  int

	threshold float64
	dwell     time.Duration

	stable     bool
	since      time.Time // start of the dwell timer, zero when not running
	lastStable float64
	lastRange  float64
}

// New returns a detector with a history of size values. A size below 1 is
// treated as 1.
func New(size int, threshold float64, dwell time.Duration) *Detector {
	if size < 1 {
		size = 1
	}
	return &Detector{
		history:   make([]float64, size),
		threshold: threshold,
		dwell:     dwell,
	}
}

// Observe records value at time now and returns the stability flag.
//
// The spread only covers slots written since the last Reset, so a partially
// filled history is never compared against its zero-initialized slots.
func (d *Detector) Observe(value float64, now time.Time) bool {
	d.history[d.index] = value
	d.index = (d.index + 1) % len(d.history)
	if d.filled < len(d.history) {
		d.filled++
	}

	d.lastRange = d.spread()

	if d.lastRange > d.threshold {
		d.stable = false
		d.since = time.Time{}
		return false
	}

	if !d.stable {
		if d.since.IsZero() {
			d.since = now
		}
		if now.Sub(d.since) >= d.dwell {
			d.stable = true
			d.lastStable = value
		}
	}

	return d.stable
}

func (d *Detector) spread() float64 {
	// With a partially filled history the valid slots are [0, filled).
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range d.history[:d.filled] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

// Reset clears the history and stability.
func (d *Detector) Reset() {
	for i := range d.history {
		d.history[i] = 0
	}
	d.index = 0
	d.filled = 0
	d.stable = false
	d.since = time.Time{}
	d.lastStable = 0
	d.lastRange = 0
}

// SetThreshold changes the spread threshold.
func (d *Detector) SetThreshold(threshold float64) {
	d.threshold = threshold
}

// SetDwell changes the dwell time.
func (d *Detector) SetDwell(dwell time.Duration) {
	d.dwell = dwell
}

// Stable returns the current stability flag.
func (d *Detector) Stable() bool {
	return d.stable
}

// LastStable returns the value that last promoted the detector to stable.
func (d *Detector) LastStable() float64 {
	return d.lastStable
}

// Range returns the spread computed by the last Observe.
func (d *Detector) Range() float64 {
	return d.lastRange
}

// Filled returns how many history slots hold values since the last Reset.
func (d *Detector) Filled() int {
	return d.filled
}
