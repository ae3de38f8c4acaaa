package filter

// MovingAverage is a fixed-size moving average backed by a ring buffer and a
// running sum, so Add is O(1) regardless of the window size.
//
// MovingAverage is not safe for concurrent use.
type MovingAverage struct {
	samples []float64
	index   int
	count   int
	sum     float64
}

// NewMovingAverage returns an empty window holding up to size samples.
// A size below 1 is treated as 1.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		size = 1
	}
	return &MovingAverage{
		samples: make([]float64, size),
	}
}

// Add inserts a sample, evicting the oldest one once the window is full,
// and returns the new average.
func (m *MovingAverage) Add(sample float64) float64 {
	// Remove the sample being overwritten from the sum first.
	m.sum -= m.samples[m.index]

	m.samples[m.index] = sample
	m.sum += sample

	m.index = (m.index + 1) % len(m.samples)

	if m.count < len(m.samples) {
		m.count++
	}

	return m.Average()
}

// Average returns the mean of the valid samples, or 0 if there are none.
func (m *MovingAverage) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Reset clears all samples and counters.
func (m *MovingAverage) Reset() {
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.index = 0
	m.count = 0
	m.sum = 0
}

// Full reports whether every slot holds a sample.
func (m *MovingAverage) Full() bool {
	return m.count >= len(m.samples)
}

// Len returns the number of valid samples.
func (m *MovingAverage) Len() int {
	return m.count
}

// Size returns the capacity of the window.
func (m *MovingAverage) Size() int {
	return len(m.samples)
}
