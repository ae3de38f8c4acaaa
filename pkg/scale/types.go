package scale

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is the display unit of the scale. Grams is the canonical internal unit;
// conversion only happens at the reporting boundary.
type Unit uint8

const (
	UnitGrams Unit = iota
	UnitKilograms
	UnitPounds
	UnitOunces
)

// ErrInvalidUnit is returned for unit codes outside UnitGrams..UnitOunces.
var ErrInvalidUnit = errors.New("invalid unit")

// Valid reports whether u is a known unit code.
func (u Unit) Valid() bool {
	return u <= UnitOunces
}

// String returns the unit symbol.
func (u Unit) String() string {
	switch u {
	case UnitGrams:
		return "g"
	case UnitKilograms:
		return "kg"
	case UnitPounds:
		return "lb"
	case UnitOunces:
		return "oz"
	default:
		return fmt.Sprintf("unit(%d)", uint8(u))
	}
}

// FromGrams converts a weight in grams into u.
func (u Unit) FromGrams(grams float64) float64 {
	switch u {
	case UnitKilograms:
		return grams / 1000
	case UnitPounds:
		return grams * 0.00220462
	case UnitOunces:
		return grams * 0.035274
	default:
		return grams
	}
}

// ParseUnit parses a unit symbol or name, e.g. "g", "kg", "lb", "ounces".
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "gram", "grams":
		return UnitGrams, nil
	case "kg", "kilogram", "kilograms":
		return UnitKilograms, nil
	case "lb", "lbs", "pound", "pounds":
		return UnitPounds, nil
	case "oz", "ounce", "ounces":
		return UnitOunces, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s)
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUnit, uint8(u))
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Unit) UnmarshalText(b []byte) error {
	parsed, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ErrorCode is the error state reported with every weight.
type ErrorCode uint8

const (
	ErrorNone ErrorCode = iota
	ErrorSensor
	ErrorOverload
	ErrorCalibration
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "ok"
	case ErrorSensor:
		return "sensor"
	case ErrorOverload:
		return "overload"
	case ErrorCalibration:
		return "calibration"
	default:
		return fmt.Sprintf("error(%d)", uint8(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e ErrorCode) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ErrorCode) UnmarshalText(b []byte) error {
	for c := ErrorNone; c <= ErrorCalibration; c++ {
		if c.String() == string(b) {
			*e = c
			return nil
		}
	}
	return fmt.Errorf("unknown error code %q", b)
}

// Reading is one sample handed to the pipeline by the sensor collaborator.
type Reading struct {
	// Grams is the scaled, offset-corrected load cell value.
	Grams float64
	// Ready is false when the sensor could not produce a sample this tick.
	Ready bool
	// At is the monotonic time of the sample, used by stability detection.
	At time.Time
}

// Result is what the pipeline reports for one Reading.
type Result struct {
	Weight float64   `json:"weight"`
	Stable bool      `json:"stable"`
	Error  ErrorCode `json:"error"`
}

// State is a snapshot of the pipeline. Weights are in grams.
type State struct {
	LastRaw           float64   `json:"lastRaw"`
	LastFiltered      float64   `json:"lastFiltered"`
	LastStable        float64   `json:"lastStable"`
	Stable            bool      `json:"stable"`
	Unit              Unit      `json:"unit"`
	Error             ErrorCode `json:"error"`
	CalibrationFactor float64   `json:"calibrationFactor"`
	Ready             bool      `json:"ready"`
}

// Status formats the state as the short status line sent to clients, e.g.
// "123.5 g stable ok".
func (s State) Status() string {
	stable := "unstable"
	if s.Stable {
		stable = "stable"
	}
	return fmt.Sprintf("%s %s %s", s.Unit.Format(s.LastFiltered), stable, s.Error)
}

// Format converts grams to u and prints it with the unit, e.g. "1.5000 kg".
func (u Unit) Format(grams float64) string {
	return fmt.Sprintf("%.*f %s", u.precision(), u.FromGrams(grams), u)
}

func (u Unit) precision() int {
	switch u {
	case UnitKilograms:
		return 4
	case UnitPounds, UnitOunces:
		return 3
	default:
		return 1
	}
}
