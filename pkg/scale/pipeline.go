package scale

import (
	"math"
	"time"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/filter"
	"github.com/djamfikr7/ble32/pkg/stability"
)

// Options configures a Pipeline. Weights are in grams.
type Options struct {
	MaxWeight          float64
	MinWeight          float64
	ProcessNoise       float64
	MeasurementNoise   float64
	AverageSize        int
	StabilitySize      int
	StabilityThreshold float64
	StabilityDwell     time.Duration
	CalibrationFactor  float64
	Unit               Unit
}

// DefaultOptions returns the options of a 5kg kitchen scale.
func DefaultOptions() Options {
	return Options{
		MaxWeight:          5000,
		MinWeight:          -50,
		ProcessNoise:       0.01,
		MeasurementNoise:   0.1,
		AverageSize:        10,
		StabilitySize:      stability.DefaultSize,
		StabilityThreshold: stability.DefaultThreshold,
		StabilityDwell:     stability.DefaultDwell,
		CalibrationFactor:  calibration.DefaultFactor,
		Unit:               UnitGrams,
	}
}

// Pipeline turns raw weight samples into a filtered weight, a stability flag
// and an error code:
//
//	reading -> clamp -> Kalman -> moving average -> stability detector
//
// Pipeline is not safe for concurrent use. Callers that sample, tare and
// calibrate from different goroutines must serialize those calls.
type Pipeline struct {
	opts Options

	kalman   *filter.Kalman
	average  *filter.MovingAverage
	detector *stability.Detector

	lastRaw      float64
	lastFiltered float64
	lastStable   float64
	unit         Unit
	errorCode    ErrorCode
	factor       float64
	ready        bool
}

// NewPipeline returns a pipeline that is not ready until SetReady(true).
func NewPipeline(opts Options) *Pipeline {
	unit := opts.Unit
	if !unit.Valid() {
		unit = UnitGrams
	}
	return &Pipeline{
		opts:     opts,
		kalman:   filter.NewKalman(opts.ProcessNoise, opts.MeasurementNoise),
		average:  filter.NewMovingAverage(opts.AverageSize),
		detector: stability.New(opts.StabilitySize, opts.StabilityThreshold, opts.StabilityDwell),
		unit:     unit,
		factor:   opts.CalibrationFactor,
	}
}

// SetReady records the outcome of sensor initialization. A pipeline that is
// not ready reports ErrorSensor and refuses calibration.
func (p *Pipeline) SetReady(ready bool) {
	p.ready = ready
	if !ready {
		p.errorCode = ErrorSensor
	} else if p.errorCode == ErrorSensor {
		p.errorCode = ErrorNone
	}
}

// Ready reports whether the sensor was initialized.
func (p *Pipeline) Ready() bool {
	return p.ready
}

// Process feeds one reading through the filter chain.
//
// When the sensor is not ready, or the reading is not a finite number, no
// filter state changes: the last filtered
// weight is returned with ErrorSensor.
func (p *Pipeline) Process(r Reading) Result {
	if !p.ready || !r.Ready || math.IsNaN(r.Grams) || math.IsInf(r.Grams, 0) {
		p.errorCode = ErrorSensor
		return Result{Weight: p.lastFiltered, Stable: p.detector.Stable(), Error: p.errorCode}
	}

	p.lastRaw = r.Grams

	grams := r.Grams
	switch {
	case grams > p.opts.MaxWeight:
		grams = p.opts.MaxWeight
		p.errorCode = ErrorOverload
	case grams < p.opts.MinWeight:
		// Underflow reads as zero, not as MinWeight; the error code is kept.
		grams = 0
	default:
		p.errorCode = ErrorNone
	}

	smoothed := p.average.Add(p.kalman.Update(grams))
	stable := p.detector.Observe(smoothed, r.At)

	p.lastFiltered = smoothed
	if stable {
		p.lastStable = smoothed
	}

	return Result{Weight: smoothed, Stable: stable, Error: p.errorCode}
}

// Tare zeroes the filters and clears recorded weights and stability history.
// The calibration factor is not touched.
func (p *Pipeline) Tare() {
	p.kalman.Reset(0)
	p.average.Reset()
	p.detector.Reset()
	p.lastRaw = 0
	p.lastFiltered = 0
	p.lastStable = 0
}

// Calibrate computes a new factor from the unscaled average measured with
// reference grams on the load cell. On success the Kalman filter restarts at
// reference and the average and stability history are cleared, so pre- and
// post-calibration scales are never blended; the caller must apply the
// returned factor to the raw-to-grams conversion.
//
// On failure nothing but the error code (ErrorCalibration) changes and the
// previous factor is returned with the error.
func (p *Pipeline) Calibrate(rawAverage, reference float64) (float64, error) {
	if !p.ready {
		p.errorCode = ErrorCalibration
		return p.factor, calibration.ErrNotReady
	}

	f, err := calibration.Factor(rawAverage, reference)
	if err != nil {
		p.errorCode = ErrorCalibration
		return p.factor, err
	}

	p.factor = f
	p.kalman.Reset(reference)
	p.average.Reset()
	p.detector.Reset()
	p.errorCode = ErrorNone

	return f, nil
}

// CalibrationFailed reports a calibration that could not measure the load
// cell. Only the error code changes.
func (p *Pipeline) CalibrationFailed() {
	p.errorCode = ErrorCalibration
}

// CalibrationFactor returns the factor in use.
func (p *Pipeline) CalibrationFactor() float64 {
	return p.factor
}

// SetUnit changes the reporting unit. Unknown units are rejected and the
// current unit is kept.
func (p *Pipeline) SetUnit(u Unit) error {
	if !u.Valid() {
		return ErrInvalidUnit
	}
	p.unit = u
	return nil
}

// Unit returns the reporting unit.
func (p *Pipeline) Unit() Unit {
	return p.unit
}

// SetNoise retunes the Kalman filter without resetting it.
func (p *Pipeline) SetNoise(processNoise, measurementNoise float64) {
	p.kalman.SetNoise(processNoise, measurementNoise)
	p.opts.ProcessNoise = processNoise
	p.opts.MeasurementNoise = measurementNoise
}

// Noise returns the Kalman filter noise parameters.
func (p *Pipeline) Noise() (processNoise, measurementNoise float64) {
	return p.kalman.Noise()
}

// Weight returns the last filtered weight converted to the reporting unit.
func (p *Pipeline) Weight() float64 {
	return p.unit.FromGrams(p.lastFiltered)
}

// State returns a snapshot of the pipeline.
func (p *Pipeline) State() State {
	return State{
		LastRaw:           p.lastRaw,
		LastFiltered:      p.lastFiltered,
		LastStable:        p.lastStable,
		Stable:            p.detector.Stable(),
		Unit:              p.unit,
		Error:             p.errorCode,
		CalibrationFactor: p.factor,
		Ready:             p.ready,
	}
}
