package daemon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/events"
	"github.com/djamfikr7/ble32/pkg/history"
	"github.com/djamfikr7/ble32/pkg/scale"
)

var (
	// ErrSensorNotReady is returned by commands that need a working load cell.
	ErrSensorNotReady = errors.New("sensor not ready")
	ErrInvalidNoise   = errors.New("noise parameters must be positive")
	ErrNotSimulated   = errors.New("load cell is not simulated")
)

// Tare makes the current load the zero point.
func (d *Daemon) Tare() error {
	return d.tare(false)
}

func (d *Daemon) tare(auto bool) error {
	d.mu.Lock()

	if !d.pipeline.Ready() || !d.cell.Ready() {
		d.mu.Unlock()
		return ErrSensorNotReady
	}
	if err := d.cell.Tare(d.conf.TareSamples()); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSensorNotReady, err)
	}
	d.pipeline.Tare()
	d.wasStable = false
	offset := d.cell.Offset()

	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{"offset": offset, "auto": auto}).Info("scale tared")
	d.events.Publish(events.Tared, events.TareEvent{Offset: offset, Auto: auto, Ts: d.now().Unix()})
	return nil
}

// Calibrate computes a new calibration factor with reference grams on the
// platform. The factor is kept in memory only.
func (d *Daemon) Calibrate(reference float64) error {
	d.mu.Lock()

	factor, err := d.calibrate(reference)
	status := d.calibration
	if err == nil {
		d.calibration = calibration.Status{
			Factor:       factor,
			Reference:    reference,
			RawAverage:   factor * reference,
			CalibratedAt: d.now(),
			Message:      "calibrated",
		}
		status = d.calibration
	}

	d.mu.Unlock()

	ev := events.CalibratedEvent{Reference: reference, Factor: status.Factor, Ts: d.now().Unix()}
	if err != nil {
		ev.Error = err.Error()
		logrus.WithError(err).WithField("reference", reference).Warn("calibration rejected")
		d.events.Publish(events.Calibrated, ev)
		return err
	}

	logrus.WithFields(logrus.Fields{"reference": reference, "factor": factor}).Info("scale calibrated")
	d.events.Publish(events.Calibrated, ev)
	if err := d.outputs().SendCalibration(float32(factor)); err != nil {
		logrus.WithError(err).Debug("failed to send calibration factor")
	}
	return nil
}

// calibrate must be called with d.mu held.
func (d *Daemon) calibrate(reference float64) (float64, error) {
	// Invalid requests never touch the load cell.
	if !d.pipeline.Ready() || !(reference > 0) || math.IsInf(reference, 1) {
		return d.pipeline.Calibrate(0, reference)
	}

	prevScale := d.cell.Scale()
	d.cell.SetScale(1)
	raw, err := d.cell.RawAverage(d.conf.CalibrationSamples())
	if err != nil {
		d.cell.SetScale(prevScale)
		d.pipeline.CalibrationFailed()
		return d.pipeline.CalibrationFactor(), fmt.Errorf("%w: %v", ErrSensorNotReady, err)
	}

	factor, err := d.pipeline.Calibrate(raw, reference)
	if err != nil {
		d.cell.SetScale(prevScale)
		return factor, err
	}
	d.cell.SetScale(factor)
	d.wasStable = false
	return factor, nil
}

// SetUnit changes the display unit and saves it to the config file.
func (d *Daemon) SetUnit(u scale.Unit) error {
	d.mu.Lock()
	from := d.pipeline.Unit()
	if err := d.pipeline.SetUnit(u); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	d.conf.SetUnit(u)
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("failed to save config: %v", err)
	}

	if from != u {
		logrus.WithFields(logrus.Fields{"from": from.String(), "to": u.String()}).Info("unit changed")
		d.events.Publish(events.UnitChanged, events.UnitChangedEvent{From: from.String(), To: u.String(), Ts: d.now().Unix()})
	}
	return nil
}

// SetNoise retunes the Kalman filter and saves the values.
func (d *Daemon) SetNoise(processNoise, measurementNoise float64) error {
	if !(processNoise > 0) || !(measurementNoise > 0) || math.IsInf(processNoise, 0) || math.IsInf(measurementNoise, 0) {
		return ErrInvalidNoise
	}

	d.mu.Lock()
	d.pipeline.SetNoise(processNoise, measurementNoise)
	d.mu.Unlock()

	d.conf.SetNoise(processNoise, measurementNoise)
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("failed to save config: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"processNoise":     processNoise,
		"measurementNoise": measurementNoise,
	}).Info("filter noise changed")
	return nil
}

// SetSimulatedLoad puts grams on a simulated platform.
func (d *Daemon) SetSimulatedLoad(grams float64, ready *bool) error {
	if d.sim == nil {
		return ErrNotSimulated
	}
	d.sim.SetLoad(grams)
	if ready != nil {
		d.sim.SetReady(*ready)
	}
	return nil
}

// applyConfig picks up reloaded values that can change at runtime.
func (d *Daemon) applyConfig() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pipeline.SetNoise(d.conf.ProcessNoise(), d.conf.MeasurementNoise())
	if err := d.pipeline.SetUnit(d.conf.Unit()); err != nil {
		logrus.Errorf("ignoring unit from config: %v", err)
	}
}

func (d *Daemon) recordStable(grams float64, unit scale.Unit, at time.Time) {
	rec := d.recorderOrNil()
	if rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rec.Record(ctx, history.Entry{At: at, Grams: grams, Unit: unit}); err != nil {
		logrus.WithError(err).Warn("failed to record stable reading")
	}
}
