package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func TestMovingAverage_MeanOfLastSamples(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		samples []float64
	}{
		{name: "partially filled", size: 10, samples: []float64{1, 2, 3}},
		{name: "exactly full", size: 4, samples: []float64{4, 8, 15, 16}},
		{name: "wrapped several times", size: 3, samples: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{name: "size one", size: 1, samples: []float64{5, -3, 12}},
		{name: "negative values", size: 5, samples: []float64{-1, -2.5, 3, 0, -7, 9, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMovingAverage(tt.size)
			for i, s := range tt.samples {
				got := m.Add(s)

				start := 0
				if i+1 > tt.size {
					start = i + 1 - tt.size
				}
				want := mean(tt.samples[start : i+1])
				require.InDeltaf(t, want, got, 1e-9, "after %d samples", i+1)
			}
		})
	}
}

func TestMovingAverage_Empty(t *testing.T) {
	m := NewMovingAverage(10)
	assert.Equal(t, 0.0, m.Average())
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Full())
}

func TestMovingAverage_ResetThenAdd(t *testing.T) {
	m := NewMovingAverage(4)
	for _, s := range []float64{10, 20, 30, 40, 50} {
		m.Add(s)
	}
	require.True(t, m.Full())

	m.Reset()
	assert.Equal(t, 0.0, m.Average())

	assert.Equal(t, 7.5, m.Add(7.5))
	assert.Equal(t, 1, m.Len())
}

func TestMovingAverage_SizeBelowOne(t *testing.T) {
	m := NewMovingAverage(0)
	assert.Equal(t, 1, m.Size())
	m.Add(3)
	assert.Equal(t, 9.0, m.Add(9))
}
