package config

import (
	"time"

	"github.com/djamfikr7/ble32/pkg/scale"
)

// Config is the daemon configuration. Getters return defaults for unset
// values.
type Config interface {
	// Weight pipeline. Weights are in grams.
	MaxWeight() float64
	MinWeight() float64
	ProcessNoise() float64
	MeasurementNoise() float64
	AverageWindow() int
	StabilityWindow() int
	StabilityThreshold() float64
	StabilityDwell() time.Duration
	CalibrationFactor() float64
	Unit() scale.Unit

	// Sampling.
	SampleInterval() time.Duration
	BatteryInterval() time.Duration
	TareSamples() int
	CalibrationSamples() int
	AutoTareCron() string
	AutoTareMaxWeight() float64

	AllowNonRootAccess() bool

	// Collaborators.
	Sensor() SensorConfig
	Battery() BatteryConfig
	WebSocket() WebSocketConfig
	MQTT() MQTTConfig
	Redis() RedisConfig
	Discovery() DiscoveryConfig

	SetNoise(processNoise, measurementNoise float64)
	SetUnit(scale.Unit)
	SetAllowNonRootAccess(bool)
	SetAutoTareCron(string)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// SensorConfig selects the load cell driver.
type SensorConfig struct {
	// Driver is "serial" or "simulated".
	Driver   string `json:"driver,omitempty"`
	Port     string `json:"port,omitempty"`
	BaudRate int    `json:"baudRate,omitempty"`
	// SimulatedNoise is the noise of the simulated driver, in grams.
	SimulatedNoise float64 `json:"simulatedNoise,omitempty"`
}

// BatteryConfig selects the battery level source.
type BatteryConfig struct {
	// Source is "host" or "fixed".
	Source  string `json:"source,omitempty"`
	Percent uint8  `json:"percent,omitempty"`
}

type WebSocketConfig struct {
	// Listen is empty to disable the websocket transport.
	Listen string `json:"listen,omitempty"`
	Path   string `json:"path,omitempty"`
}

type MQTTConfig struct {
	// Broker is empty to disable MQTT, e.g. "tcp://localhost:1883".
	Broker      string `json:"broker,omitempty"`
	TopicPrefix string `json:"topicPrefix,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

type RedisConfig struct {
	// Addr is empty to disable the reading history.
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Stream   string `json:"stream,omitempty"`
	MaxLen   int64  `json:"maxLen,omitempty"`
}

type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const (
	SensorSimulated = "simulated"
	SensorSerial    = "serial"

	BatteryHost  = "host"
	BatteryFixed = "fixed"
)
