package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/utils/ptr"
)

func TestFile_Defaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 5000.0, f.MaxWeight())
	assert.Equal(t, -50.0, f.MinWeight())
	assert.Equal(t, 0.01, f.ProcessNoise())
	assert.Equal(t, 0.1, f.MeasurementNoise())
	assert.Equal(t, 10, f.AverageWindow())
	assert.Equal(t, 10, f.StabilityWindow())
	assert.Equal(t, 0.5, f.StabilityThreshold())
	assert.Equal(t, 200*time.Millisecond, f.StabilityDwell())
	assert.Equal(t, 420.0, f.CalibrationFactor())
	assert.Equal(t, scale.UnitGrams, f.Unit())
	assert.Equal(t, 100*time.Millisecond, f.SampleInterval())
	assert.Equal(t, 30*time.Second, f.BatteryInterval())
	assert.Equal(t, 10, f.TareSamples())
	assert.Equal(t, 20, f.CalibrationSamples())
	assert.Equal(t, "", f.AutoTareCron())
	assert.False(t, f.AllowNonRootAccess())

	assert.Equal(t, SensorSimulated, f.Sensor().Driver)
	assert.Equal(t, 115200, f.Sensor().BaudRate)
	assert.Equal(t, BatteryHost, f.Battery().Source)
	assert.Equal(t, "/ws", f.WebSocket().Path)
	assert.Equal(t, ":8765", f.WebSocket().Listen)
	assert.Empty(t, f.MQTT().Broker)
	assert.False(t, f.Discovery().Enabled)

	f = NewFileFromConfig(&RawFileConfig{WebSocket: &WebSocketConfig{}}, "")
	assert.Empty(t, f.WebSocket().Listen)
	assert.Equal(t, "/ws", f.WebSocket().Path)
}

func TestFile_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scale.json")
	content := `{
  "maxWeight": 10000,
  "unit": "lb",
  "stabilityDwellMs": 500,
  "sensor": {"driver": "serial", "port": "/dev/ttyUSB0"},
  "mqtt": {"broker": "tcp://localhost:1883", "topicPrefix": "kitchen"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, 10000.0, f.MaxWeight())
	assert.Equal(t, scale.UnitPounds, f.Unit())
	assert.Equal(t, 500*time.Millisecond, f.StabilityDwell())
	assert.Equal(t, SensorSerial, f.Sensor().Driver)
	assert.Equal(t, "/dev/ttyUSB0", f.Sensor().Port)
	assert.Equal(t, 115200, f.Sensor().BaudRate)
	assert.Equal(t, "kitchen", f.MQTT().TopicPrefix)
	// Unset values keep their defaults.
	assert.Equal(t, -50.0, f.MinWeight())
}

func TestFile_LoadEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	f, err := NewFile(empty)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, f.MaxWeight())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"unit": "stone"}`), 0644))
	_, err = NewFile(bad)
	assert.Error(t, err)
}

func TestFile_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scale.json")
	f, err := NewFile(path)
	require.NoError(t, err)

	f.SetUnit(scale.UnitKilograms)
	f.SetNoise(0.02, 0.3)
	f.SetAutoTareCron("@every 1h")
	require.NoError(t, f.Save())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"unit": "kg"`)
	assert.NotContains(t, string(b), "calibrationFactor")

	g, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, scale.UnitKilograms, g.Unit())
	assert.Equal(t, 0.02, g.ProcessNoise())
	assert.Equal(t, 0.3, g.MeasurementNoise())
	assert.Equal(t, "@every 1h", g.AutoTareCron())
}

func TestFile_SetUnitRejectsInvalid(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	assert.Panics(t, func() { f.SetUnit(scale.Unit(7)) })
	assert.Equal(t, scale.UnitGrams, f.Unit())
}

func TestNewRawFileConfigFromConfig(t *testing.T) {
	f := NewFileFromConfig(&RawFileConfig{MaxWeight: ptr.To(2000.0)}, "")

	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, *raw.MaxWeight)
	assert.Equal(t, 200, *raw.StabilityDwellMs)
	assert.Equal(t, SensorSimulated, raw.Sensor.Driver)

	_, err = NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)
}
