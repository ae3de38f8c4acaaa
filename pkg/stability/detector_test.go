package stability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDetector_ConstantInputBecomesStable(t *testing.T) {
	d := New(DefaultSize, DefaultThreshold, DefaultDwell)
	tick := 100 * time.Millisecond

	var becameStableAt = -1
	for i := 0; i < 20; i++ {
		if d.Observe(250, epoch.Add(time.Duration(i)*tick)) && becameStableAt < 0 {
			becameStableAt = i
		}
	}

	require.GreaterOrEqual(t, becameStableAt, 0, "never became stable")
	// The dwell timer starts on the first sample, so 200ms at 100ms ticks
	// promotes on the third sample.
	assert.Equal(t, 2, becameStableAt)
	assert.Equal(t, 250.0, d.LastStable())
}

func TestDetector_NotStableBeforeDwell(t *testing.T) {
	d := New(5, 0.5, time.Second)

	for i := 0; i < 10; i++ {
		assert.False(t, d.Observe(10, epoch.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.True(t, d.Observe(10, epoch.Add(time.Second)))
}

func TestDetector_OutlierClearsImmediately(t *testing.T) {
	d := New(DefaultSize, DefaultThreshold, DefaultDwell)
	now := epoch
	for i := 0; i < 10; i++ {
		d.Observe(100, now)
		now = now.Add(100 * time.Millisecond)
	}
	require.True(t, d.Stable())

	assert.False(t, d.Observe(101, now), "spread of 1g must clear stability on the same call")
	assert.InDelta(t, 1.0, d.Range(), 1e-9)

	// The outlier stays in the history, so it keeps the detector unstable
	// until it is evicted.
	for i := 0; i < DefaultSize-1; i++ {
		now = now.Add(100 * time.Millisecond)
		assert.False(t, d.Observe(100, now))
	}
}

func TestDetector_WithinThresholdJitter(t *testing.T) {
	d := New(DefaultSize, DefaultThreshold, DefaultDwell)
	values := []float64{100, 100.2, 99.9, 100.1, 100.3, 99.85, 100}

	var stable bool
	for i, v := range values {
		stable = d.Observe(v, epoch.Add(time.Duration(i)*100*time.Millisecond))
	}
	assert.True(t, stable)
	assert.LessOrEqual(t, d.Range(), DefaultThreshold)
}

func TestDetector_PartialHistoryIgnoresEmptySlots(t *testing.T) {
	d := New(10, 0.5, 0)

	// With 0 dwell, a single non-zero value must already be stable: the
	// nine empty slots are not part of the spread.
	assert.True(t, d.Observe(500, epoch))
	assert.Equal(t, 1, d.Filled())
	assert.Equal(t, 0.0, d.Range())
}

func TestDetector_Reset(t *testing.T) {
	d := New(4, 0.5, 0)
	d.Observe(10, epoch)
	require.True(t, d.Stable())

	d.Reset()

	assert.False(t, d.Stable())
	assert.Equal(t, 0, d.Filled())
	assert.Equal(t, 0.0, d.LastStable())
}

func TestDetector_DwellRestartsAfterInstability(t *testing.T) {
	d := New(2, 0.5, 200*time.Millisecond)

	d.Observe(0, epoch)
	d.Observe(5, epoch.Add(100*time.Millisecond)) // unstable, timer cleared
	d.Observe(5, epoch.Add(200*time.Millisecond)) // history {5,5}: timer starts here
	assert.False(t, d.Observe(5, epoch.Add(300*time.Millisecond)))
	assert.True(t, d.Observe(5, epoch.Add(400*time.Millisecond)))
}
