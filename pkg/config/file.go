package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/sensor"
	"github.com/djamfikr7/ble32/pkg/stability"
	"github.com/djamfikr7/ble32/pkg/transport/websocket"
	"github.com/djamfikr7/ble32/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		MaxWeight:          ptr.To(5000.0),
		MinWeight:          ptr.To(-50.0),
		ProcessNoise:       ptr.To(0.01),
		MeasurementNoise:   ptr.To(0.1),
		AverageWindow:      ptr.To(10),
		StabilityWindow:    ptr.To(stability.DefaultSize),
		StabilityThreshold: ptr.To(stability.DefaultThreshold),
		StabilityDwellMs:   ptr.To(int(stability.DefaultDwell / time.Millisecond)),
		CalibrationFactor:  ptr.To(calibration.DefaultFactor),
		Unit:               ptr.To(scale.UnitGrams),
		SampleIntervalMs:   ptr.To(100),
		BatteryIntervalMs:  ptr.To(30000),
		TareSamples:        ptr.To(10),
		CalibrationSamples: ptr.To(20),
		AutoTareCron:       ptr.To(""),
		AutoTareMaxWeight:  ptr.To(10.0),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk form. Nil fields take their defaults.
type RawFileConfig struct {
	MaxWeight          *float64    `json:"maxWeight,omitempty"`
	MinWeight          *float64    `json:"minWeight,omitempty"`
	ProcessNoise       *float64    `json:"processNoise,omitempty"`
	MeasurementNoise   *float64    `json:"measurementNoise,omitempty"`
	AverageWindow      *int        `json:"averageWindow,omitempty"`
	StabilityWindow    *int        `json:"stabilityWindow,omitempty"`
	StabilityThreshold *float64    `json:"stabilityThreshold,omitempty"`
	StabilityDwellMs   *int        `json:"stabilityDwellMs,omitempty"`
	CalibrationFactor  *float64    `json:"calibrationFactor,omitempty"`
	Unit               *scale.Unit `json:"unit,omitempty"`
	SampleIntervalMs   *int        `json:"sampleIntervalMs,omitempty"`
	BatteryIntervalMs  *int        `json:"batteryIntervalMs,omitempty"`
	TareSamples        *int        `json:"tareSamples,omitempty"`
	CalibrationSamples *int        `json:"calibrationSamples,omitempty"`
	AutoTareCron       *string     `json:"autoTareCron,omitempty"`
	AutoTareMaxWeight  *float64    `json:"autoTareMaxWeight,omitempty"`
	AllowNonRootAccess *bool       `json:"allowNonRootAccess,omitempty"`

	Sensor    *SensorConfig    `json:"sensor,omitempty"`
	Battery   *BatteryConfig   `json:"battery,omitempty"`
	WebSocket *WebSocketConfig `json:"websocket,omitempty"`
	MQTT      *MQTTConfig      `json:"mqtt,omitempty"`
	Redis     *RedisConfig     `json:"redis,omitempty"`
	Discovery *DiscoveryConfig `json:"discovery,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	sensorConf := c.Sensor()
	batteryConf := c.Battery()
	wsConf := c.WebSocket()
	mqttConf := c.MQTT()
	redisConf := c.Redis()
	discoveryConf := c.Discovery()

	return &RawFileConfig{
		MaxWeight:          ptr.To(c.MaxWeight()),
		MinWeight:          ptr.To(c.MinWeight()),
		ProcessNoise:       ptr.To(c.ProcessNoise()),
		MeasurementNoise:   ptr.To(c.MeasurementNoise()),
		AverageWindow:      ptr.To(c.AverageWindow()),
		StabilityWindow:    ptr.To(c.StabilityWindow()),
		StabilityThreshold: ptr.To(c.StabilityThreshold()),
		StabilityDwellMs:   ptr.To(int(c.StabilityDwell() / time.Millisecond)),
		CalibrationFactor:  ptr.To(c.CalibrationFactor()),
		Unit:               ptr.To(c.Unit()),
		SampleIntervalMs:   ptr.To(int(c.SampleInterval() / time.Millisecond)),
		BatteryIntervalMs:  ptr.To(int(c.BatteryInterval() / time.Millisecond)),
		TareSamples:        ptr.To(c.TareSamples()),
		CalibrationSamples: ptr.To(c.CalibrationSamples()),
		AutoTareCron:       ptr.To(c.AutoTareCron()),
		AutoTareMaxWeight:  ptr.To(c.AutoTareMaxWeight()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
		Sensor:             &sensorConf,
		Battery:            &batteryConf,
		WebSocket:          &wsConf,
		MQTT:               &mqttConf,
		Redis:              &redisConf,
		Discovery:          &discoveryConf,
	}, nil
}

// value returns the field selected by get, or its default.
func value[T any](f *File, get func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := get(f.c); v != nil {
		return *v
	}
	return *get(defaultFileConfig)
}

func (f *File) MaxWeight() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.MaxWeight })
}

func (f *File) MinWeight() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.MinWeight })
}

func (f *File) ProcessNoise() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.ProcessNoise })
}

func (f *File) MeasurementNoise() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.MeasurementNoise })
}

func (f *File) AverageWindow() int {
	return value(f, func(c *RawFileConfig) *int { return c.AverageWindow })
}

func (f *File) StabilityWindow() int {
	return value(f, func(c *RawFileConfig) *int { return c.StabilityWindow })
}

func (f *File) StabilityThreshold() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.StabilityThreshold })
}

func (f *File) StabilityDwell() time.Duration {
	ms := value(f, func(c *RawFileConfig) *int { return c.StabilityDwellMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) CalibrationFactor() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.CalibrationFactor })
}

func (f *File) Unit() scale.Unit {
	return value(f, func(c *RawFileConfig) *scale.Unit { return c.Unit })
}

func (f *File) SampleInterval() time.Duration {
	ms := value(f, func(c *RawFileConfig) *int { return c.SampleIntervalMs })
	if ms <= 0 {
		ms = *defaultFileConfig.SampleIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) BatteryInterval() time.Duration {
	ms := value(f, func(c *RawFileConfig) *int { return c.BatteryIntervalMs })
	if ms <= 0 {
		ms = *defaultFileConfig.BatteryIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) TareSamples() int {
	return value(f, func(c *RawFileConfig) *int { return c.TareSamples })
}

func (f *File) CalibrationSamples() int {
	return value(f, func(c *RawFileConfig) *int { return c.CalibrationSamples })
}

func (f *File) AutoTareCron() string {
	return value(f, func(c *RawFileConfig) *string { return c.AutoTareCron })
}

func (f *File) AutoTareMaxWeight() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.AutoTareMaxWeight })
}

func (f *File) AllowNonRootAccess() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) Sensor() SensorConfig {
	s := section(f, func(c *RawFileConfig) *SensorConfig { return c.Sensor })
	if s.Driver == "" {
		s.Driver = SensorSimulated
	}
	if s.BaudRate == 0 {
		s.BaudRate = sensor.DefaultBaudRate
	}
	return s
}

func (f *File) Battery() BatteryConfig {
	b := section(f, func(c *RawFileConfig) *BatteryConfig { return c.Battery })
	if b.Source == "" {
		b.Source = BatteryHost
	}
	if b.Percent == 0 || b.Percent > 100 {
		b.Percent = 100
	}
	return b
}

// WebSocket listens on websocket.DefaultListen unless a websocket section is
// present; a section with an empty listen address disables the transport.
func (f *File) WebSocket() WebSocketConfig {
	w, ok := sectionOK(f, func(c *RawFileConfig) *WebSocketConfig { return c.WebSocket })
	if !ok {
		w.Listen = websocket.DefaultListen
	}
	if w.Path == "" {
		w.Path = websocket.DefaultPath
	}
	return w
}

func (f *File) MQTT() MQTTConfig {
	return section(f, func(c *RawFileConfig) *MQTTConfig { return c.MQTT })
}

func (f *File) Redis() RedisConfig {
	return section(f, func(c *RawFileConfig) *RedisConfig { return c.Redis })
}

func (f *File) Discovery() DiscoveryConfig {
	return section(f, func(c *RawFileConfig) *DiscoveryConfig { return c.Discovery })
}

// section returns a copy of a nested section, or its zero value.
func section[T any](f *File, get func(*RawFileConfig) *T) T {
	v, _ := sectionOK(f, get)
	return v
}

func sectionOK[T any](f *File, get func(*RawFileConfig) *T) (T, bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var zero T
	if v := get(f.c); v != nil {
		return *v, true
	}
	return zero, false
}

func (f *File) SetNoise(processNoise, measurementNoise float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ProcessNoise = &processNoise
	f.c.MeasurementNoise = &measurementNoise
}

func (f *File) SetUnit(u scale.Unit) {
	if f.c == nil {
		panic("config is nil")
	}
	if !u.Valid() {
		panic("unit must be one of g, kg, lb, oz")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Unit = &u
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) SetAutoTareCron(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AutoTareCron = &expr
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file means all defaults. Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"maxWeight":          f.MaxWeight(),
		"minWeight":          f.MinWeight(),
		"processNoise":       f.ProcessNoise(),
		"measurementNoise":   f.MeasurementNoise(),
		"averageWindow":      f.AverageWindow(),
		"stabilityWindow":    f.StabilityWindow(),
		"stabilityThreshold": f.StabilityThreshold(),
		"stabilityDwell":     f.StabilityDwell().String(),
		"unit":               f.Unit().String(),
		"sampleInterval":     f.SampleInterval().String(),
		"sensor":             f.Sensor().Driver,
		"battery":            f.Battery().Source,
		"websocket":          f.WebSocket().Listen,
		"mqtt":               f.MQTT().Broker,
		"redis":              f.Redis().Addr,
		"autoTareCron":       f.AutoTareCron(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
