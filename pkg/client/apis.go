package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/config"
	"github.com/djamfikr7/ble32/pkg/daemon"
	"github.com/djamfikr7/ble32/pkg/history"
	"github.com/djamfikr7/ble32/pkg/scale"
)

func (c *Client) GetWeight() (*daemon.WeightResponse, error) {
	return getJSON[daemon.WeightResponse](c, "/weight", "weight")
}

func (c *Client) GetPacket() (*daemon.PacketResponse, error) {
	return getJSON[daemon.PacketResponse](c, "/packet", "weight packet")
}

func (c *Client) Tare() (string, error) {
	return c.Put("/tare", "")
}

func (c *Client) Calibrate(reference float64) (*calibration.Status, error) {
	ret, err := c.Put("/calibrate", strconv.FormatFloat(reference, 'f', -1, 64))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to calibrate")
	}
	var st calibration.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

func (c *Client) GetCalibration() (*calibration.Status, error) {
	return getJSON[calibration.Status](c, "/calibration", "calibration status")
}

func (c *Client) SetUnit(u scale.Unit) (string, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return c.Put("/unit", string(payload))
}

func (c *Client) SetNoise(processNoise, measurementNoise float64) (string, error) {
	payload, err := json.Marshal(daemon.NoiseRequest{
		ProcessNoise:     processNoise,
		MeasurementNoise: measurementNoise,
	})
	if err != nil {
		return "", err
	}
	return c.Put("/noise", string(payload))
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) GetBattery() (int, error) {
	ret, err := c.Get("/battery")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get battery level")
	}
	percent, err := strconv.Atoi(ret)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal battery level")
	}
	return percent, nil
}

func (c *Client) SetBattery(percent int) (string, error) {
	return c.Put("/battery", strconv.Itoa(percent))
}

// GetHistory returns the n most recent stable readings, newest first.
func (c *Client) GetHistory(n int) ([]history.Entry, error) {
	ret, err := c.Get("/history?n=" + strconv.Itoa(n))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get history")
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(ret), &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal history")
	}
	return entries, nil
}

func (c *Client) GetAutoTare() (*daemon.AutoTareResponse, error) {
	return getJSON[daemon.AutoTareResponse](c, "/auto-tare", "auto-tare schedule")
}

// SetAutoTare sets the auto-tare cron expression. An empty expression
// disables auto-tare.
func (c *Client) SetAutoTare(expr string) (string, error) {
	payload, err := json.Marshal(expr)
	if err != nil {
		return "", err
	}
	return c.Put("/auto-tare", string(payload))
}

func (c *Client) Simulate(grams float64, ready *bool) (string, error) {
	payload, err := json.Marshal(daemon.SimulateRequest{Grams: grams, Ready: ready})
	if err != nil {
		return "", err
	}
	return c.Put("/simulate", string(payload))
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}
