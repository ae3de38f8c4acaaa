// Package sensor reads a load cell through an HX711-style driver and turns
// raw counts into grams.
package sensor

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBeginTimeout is how long Begin waits for the first conversion.
const DefaultBeginTimeout = 2 * time.Second

// ErrNotReady is returned when the driver has no conversion available.
var ErrNotReady = errors.New("load cell not ready")

// Driver is an HX711-style analog front end.
type Driver interface {
	// Ready reports whether a conversion is available.
	Ready() bool
	// Read returns the next signed 24-bit conversion.
	Read() (int32, error)
}

// LoadCell converts driver counts to grams with an offset and a scale:
//
//	grams = (counts - offset) / scale
type LoadCell struct {
	driver Driver
	offset float64
	scale  float64

	// poll is the wait between readiness checks; sleep is swapped in tests.
	poll  time.Duration
	sleep func(time.Duration)
}

// NewLoadCell returns a load cell with the given scale (counts per gram) and
// no offset.
func NewLoadCell(d Driver, scale float64) *LoadCell {
	if scale == 0 {
		scale = 1
	}
	return &LoadCell{
		driver: d,
		scale:  scale,
		poll:   10 * time.Millisecond,
		sleep:  time.Sleep,
	}
}

// Begin waits up to timeout for the driver to become ready.
func (l *LoadCell) Begin(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !l.driver.Ready() {
		if !time.Now().Before(deadline) {
			logrus.WithField("timeout", timeout).Warn("load cell did not become ready")
			return false
		}
		l.sleep(l.poll)
	}
	return true
}

// Ready reports whether the driver has a conversion available.
func (l *LoadCell) Ready() bool {
	return l.driver.Ready()
}

// ReadAverage returns the mean of times raw conversions.
func (l *LoadCell) ReadAverage(times int) (float64, error) {
	if times < 1 {
		times = 1
	}
	var sum float64
	for i := 0; i < times; i++ {
		if !l.waitReady() {
			return 0, ErrNotReady
		}
		v, err := l.driver.Read()
		if err != nil {
			return 0, err
		}
		sum += float64(v)
	}
	avg := sum / float64(times)
	logrus.WithFields(logrus.Fields{"times": times, "average": avg}).Trace("load cell raw read")
	return avg, nil
}

// RawAverage returns the offset-corrected average, without scaling.
func (l *LoadCell) RawAverage(times int) (float64, error) {
	avg, err := l.ReadAverage(times)
	if err != nil {
		return 0, err
	}
	return avg - l.offset, nil
}

// Units returns the averaged weight in grams. ok is false when the driver had
// no conversion ready; the caller treats that tick as a sensor fault.
func (l *LoadCell) Units(times int) (grams float64, ok bool) {
	if !l.driver.Ready() {
		return 0, false
	}
	raw, err := l.RawAverage(times)
	if err != nil {
		logrus.WithError(err).Debug("load cell read failed")
		return 0, false
	}
	return raw / l.scale, true
}

// Tare makes the current load the zero point.
func (l *LoadCell) Tare(times int) error {
	avg, err := l.ReadAverage(times)
	if err != nil {
		return err
	}
	l.offset = avg
	return nil
}

// SetScale sets counts per gram. Zero is ignored.
func (l *LoadCell) SetScale(scale float64) {
	if scale == 0 {
		return
	}
	l.scale = scale
}

func (l *LoadCell) Scale() float64 {
	return l.scale
}

func (l *LoadCell) SetOffset(offset float64) {
	l.offset = offset
}

func (l *LoadCell) Offset() float64 {
	return l.offset
}

// waitReady gives the driver a few polls to produce the next conversion.
func (l *LoadCell) waitReady() bool {
	for i := 0; i < 10; i++ {
		if l.driver.Ready() {
			return true
		}
		l.sleep(l.poll)
	}
	return l.driver.Ready()
}
