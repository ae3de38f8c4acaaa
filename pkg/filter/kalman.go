package filter

// Kalman is a single-state Kalman filter used to smooth raw load cell
// readings. Lower process noise gives smoother output, higher process noise
// follows changes faster. Higher measurement noise trusts the sensor less.
//
// Kalman is not safe for concurrent use.
type Kalman struct {
	q float64 // process noise covariance
	r float64 // measurement noise covariance
	x float64 // estimate
	p float64 // estimation error covariance
	k float64 // last gain
}

// NewKalman returns a filter with its estimate at 0 and covariance at 1.
func NewKalman(processNoise, measurementNoise float64) *Kalman {
	return &Kalman{
		q: processNoise,
		r: measurementNoise,
		p: 1,
	}
}

// Update feeds one measurement and returns the new estimate.
func (f *Kalman) Update(measurement float64) float64 {
	// predict
	f.p += f.q

	// correct
	f.k = f.p / (f.p + f.r)
	f.x += f.k * (measurement - f.x)
	f.p = (1 - f.k) * f.p

	return f.x
}

// Reset puts the estimate at value and the covariance back to 1.
func (f *Kalman) Reset(value float64) {
	f.x = value
	f.p = 1
}

// SetNoise changes the noise parameters. The estimate and covariance are kept.
func (f *Kalman) SetNoise(processNoise, measurementNoise float64) {
	f.q = processNoise
	f.r = measurementNoise
}

// Noise returns the process and measurement noise.
func (f *Kalman) Noise() (processNoise, measurementNoise float64) {
	return f.q, f.r
}

// Value returns the current estimate.
func (f *Kalman) Value() float64 {
	return f.x
}

// Covariance returns the current estimation error covariance.
func (f *Kalman) Covariance() float64 {
	return f.p
}

// Gain returns the gain computed by the last Update.
func (f *Kalman) Gain() float64 {
	return f.k
}
