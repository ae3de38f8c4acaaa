package calibration

import (
	"errors"
	"math"
	"time"
)

// DefaultFactor is the raw units per gram used until the first calibration.
const DefaultFactor = 420.0

var (
	// ErrInvalidReference is returned when the reference mass is not positive.
	ErrInvalidReference = errors.New("reference mass must be greater than 0")
	// ErrNotReady is returned when the sensor has not been initialized.
	ErrNotReady = errors.New("sensor not ready")
	// ErrInvalidFactor is returned when the computed factor cannot be used to
	// convert raw readings, e.g. when nothing was on the load cell.
	ErrInvalidFactor = errors.New("computed calibration factor is unusable")
)

// Factor returns the calibration factor for a raw (unscaled, offset-corrected)
// average measured with reference grams on the load cell.
func Factor(rawAverage, reference float64) (float64, error) {
	if !(reference > 0) || math.IsInf(reference, 1) {
		return 0, ErrInvalidReference
	}

	f := rawAverage / reference
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidFactor
	}

	return f, nil
}

// Status is the calibration view exposed by the daemon.
type Status struct {
	Factor       float64   `json:"factor"`
	Reference    float64   `json:"reference,omitempty"`
	RawAverage   float64   `json:"rawAverage,omitempty"`
	CalibratedAt time.Time `json:"calibratedAt,omitempty"`
	Message      string    `json:"message,omitempty"`
}
