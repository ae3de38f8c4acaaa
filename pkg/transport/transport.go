// Package transport defines how weight reports leave the scale and how
// commands come back in. Concrete transports live in subpackages.
package transport

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/scale"
)

// Sink delivers already-encoded values to connected clients. Delivery,
// retries and connection state are the sink's business.
type Sink interface {
	SendWeight(report [packet.Size]byte) error
	SendBattery(percent uint8) error
	SendStatus(status string) error
}

// CalibrationSink is implemented by sinks that expose the calibration factor
// as a readable value.
type CalibrationSink interface {
	SendCalibration(factor float32) error
}

// Commander executes commands received on the control channels.
type Commander interface {
	Tare() error
	Calibrate(reference float64) error
	SetUnit(u scale.Unit) error
}

// Dispatch decodes a raw write on channel and runs it on cmd. Writes to
// read-only or unknown channels and calibrate writes with a wrong tag return
// packet.ErrIgnored.
func Dispatch(cmd Commander, channel packet.Channel, payload []byte) error {
	switch channel {
	case packet.ChannelTare:
		return cmd.Tare()
	case packet.ChannelCalibrate:
		ref, err := packet.DecodeCalibrate(payload)
		if err != nil {
			return err
		}
		return cmd.Calibrate(float64(ref))
	case packet.ChannelSettings:
		u, err := packet.DecodeSettings(payload)
		if err != nil {
			return err
		}
		return cmd.SetUnit(u)
	default:
		return fmt.Errorf("%w: write to %s", packet.ErrIgnored, channel)
	}
}

// HandleWrite is Dispatch with the outcome logged, for transports that have
// no way to answer the writer.
func HandleWrite(cmd Commander, channel packet.Channel, payload []byte, source string) {
	l := logrus.WithFields(logrus.Fields{
		"channel": channel.String(),
		"source":  source,
		"length":  len(payload),
	})
	err := Dispatch(cmd, channel, payload)
	switch {
	case err == nil:
		l.Info("command executed")
	case errors.Is(err, packet.ErrIgnored):
		l.Debug("command ignored")
	default:
		l.WithError(err).Warn("command failed")
	}
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) SendWeight(report [packet.Size]byte) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SendWeight(report))
	}
	return errors.Join(errs...)
}

func (m Multi) SendBattery(percent uint8) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SendBattery(percent))
	}
	return errors.Join(errs...)
}

func (m Multi) SendStatus(status string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SendStatus(status))
	}
	return errors.Join(errs...)
}

// SendCalibration forwards to the sinks that implement CalibrationSink.
func (m Multi) SendCalibration(factor float32) error {
	var errs []error
	for _, s := range m {
		if cs, ok := s.(CalibrationSink); ok {
			errs = append(errs, cs.SendCalibration(factor))
		}
	}
	return errors.Join(errs...)
}

// Frame prefixes payload with the channel id. Stream transports that carry
// all channels on one connection use this framing.
func Frame(channel packet.Channel, payload []byte) []byte {
	b := make([]byte, 0, len(payload)+1)
	b = append(b, byte(channel))
	return append(b, payload...)
}

// Unframe splits a frame built by Frame.
func Unframe(b []byte) (packet.Channel, []byte, error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("%w: empty frame", packet.ErrIgnored)
	}
	return packet.Channel(b[0]), b[1:], nil
}
