package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/config"
	"github.com/djamfikr7/ble32/pkg/discovery"
	"github.com/djamfikr7/ble32/pkg/events"
	"github.com/djamfikr7/ble32/pkg/history"
	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/powerinfo"
	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/sensor"
	"github.com/djamfikr7/ble32/pkg/transport"
	"github.com/djamfikr7/ble32/pkg/transport/mqtt"
	"github.com/djamfikr7/ble32/pkg/transport/websocket"
	"github.com/djamfikr7/ble32/pkg/version"
)

// Recorder stores stable readings.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, n int64) ([]history.Entry, error)
}

// Daemon owns the weight pipeline and the load cell. mu serializes every
// pipeline operation: the sampling tick, tare, calibrate and settings.
type Daemon struct {
	conf config.Config

	mu       sync.Mutex
	pipeline *scale.Pipeline
	cell     *sensor.LoadCell

	lastReport  [packet.Size]byte
	battery     uint8
	calibration calibration.Status
	wasStable   bool
	lastError   scale.ErrorCode

	// outMu guards sinks and history.
	outMu   sync.RWMutex
	sinks   transport.Multi
	history Recorder

	battSrc  powerinfo.Source
	sim      *sensor.Simulated
	events   *events.EventHub
	recorder *TimeSeriesRecorder
	autoTare *Scheduler

	// now is time.Now, swapped in tests.
	now func() time.Time
}

var _ transport.Commander = (*Daemon)(nil)

// New builds a daemon around driver. Call Begin before the first tick.
func New(conf config.Config, driver sensor.Driver, battSrc powerinfo.Source) *Daemon {
	d := &Daemon{
		conf:     conf,
		pipeline: scale.NewPipeline(PipelineOptions(conf)),
		cell:     sensor.NewLoadCell(driver, conf.CalibrationFactor()),
		battery:  100,
		battSrc:  battSrc,
		events:   events.NewEventHub(),
		recorder: NewTimeSeriesRecorder(100, conf.SampleInterval()),
		now:      time.Now,
	}
	d.calibration = calibration.Status{
		Factor:  conf.CalibrationFactor(),
		Message: "default factor",
	}
	if sim, ok := driver.(*sensor.Simulated); ok {
		d.sim = sim
	}
	d.lastReport = packet.Encode(d.pipeline.State(), d.battery)
	return d
}

// PipelineOptions maps the configuration onto pipeline options.
func PipelineOptions(conf config.Config) scale.Options {
	return scale.Options{
		MaxWeight:          conf.MaxWeight(),
		MinWeight:          conf.MinWeight(),
		ProcessNoise:       conf.ProcessNoise(),
		MeasurementNoise:   conf.MeasurementNoise(),
		AverageSize:        conf.AverageWindow(),
		StabilitySize:      conf.StabilityWindow(),
		StabilityThreshold: conf.StabilityThreshold(),
		StabilityDwell:     conf.StabilityDwell(),
		CalibrationFactor:  conf.CalibrationFactor(),
		Unit:               conf.Unit(),
	}
}

// AddSink registers an output.
func (d *Daemon) AddSink(s transport.Sink) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	d.sinks = append(d.sinks, s)
}

func (d *Daemon) outputs() transport.Multi {
	d.outMu.RLock()
	defer d.outMu.RUnlock()
	return d.sinks
}

// SetRecorder enables the stable reading history.
func (d *Daemon) SetRecorder(r Recorder) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	d.history = r
}

func (d *Daemon) recorderOrNil() Recorder {
	d.outMu.RLock()
	defer d.outMu.RUnlock()
	return d.history
}

// Events returns the hub behind /events.
func (d *Daemon) Events() *events.EventHub {
	return d.events
}

// Begin initializes the load cell and reports the outcome to the pipeline.
func (d *Daemon) Begin(timeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ok := d.cell.Begin(timeout)
	d.pipeline.SetReady(ok)
	if ok {
		logrus.Info("load cell ready")
	} else {
		logrus.Error("load cell initialization failed, reporting sensor error")
	}
	return ok
}

func (d *Daemon) State() scale.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipeline.State()
}

func (d *Daemon) LastReport() [packet.Size]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport
}

func (d *Daemon) Battery() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.battery
}

func (d *Daemon) CalibrationStatus() calibration.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibration
}

func setupRoutes(d *Daemon) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/weight", d.getWeight)
	router.GET("/packet", d.getPacket)
	router.PUT("/tare", d.putTare)
	router.PUT("/calibrate", d.putCalibrate)
	router.GET("/calibration", d.getCalibration)
	router.PUT("/unit", d.putUnit)
	router.PUT("/noise", d.putNoise)
	router.GET("/config", d.getConfig)
	router.GET("/battery", d.getBattery)
	router.PUT("/battery", d.putBattery)
	router.GET("/history", d.getHistory)
	router.GET("/auto-tare", d.getAutoTare)
	router.PUT("/auto-tare", d.putAutoTare)
	router.PUT("/simulate", d.putSimulate)
	router.GET("/events", d.streamEvents)
	router.GET("/version", getVersion)

	return router
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	driver, closeDriver, err := openDriver(conf.Sensor())
	if err != nil {
		return err
	}
	defer closeDriver()

	d := New(conf, driver, openBatterySource(conf.Battery()))
	d.Begin(sensor.DefaultBeginTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := conf.Load(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			d.applyConfig()
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	var hub *websocket.Hub
	wsConf := conf.WebSocket()
	if wsConf.Listen != "" {
		hub = websocket.NewHub(d)
		d.AddSink(hub)
	}

	if mqttConf := conf.MQTT(); mqttConf.Broker != "" {
		mc, err := mqtt.Connect(mqtt.Options{
			Broker:      mqttConf.Broker,
			TopicPrefix: mqttConf.TopicPrefix,
			ClientID:    mqttConf.ClientID,
			Username:    mqttConf.Username,
			Password:    mqttConf.Password,
		}, d)
		if err != nil {
			logrus.Errorf("failed to connect to mqtt broker: %v", err)
		} else {
			d.AddSink(mc)
			defer mc.Close()
		}
	}

	if redisConf := conf.Redis(); redisConf.Addr != "" {
		rec, err := history.NewRedis(ctx, history.Options{
			Addr:     redisConf.Addr,
			Password: redisConf.Password,
			DB:       redisConf.DB,
			Stream:   redisConf.Stream,
			MaxLen:   redisConf.MaxLen,
		})
		if err != nil {
			logrus.Errorf("reading history disabled: %v", err)
		} else {
			d.SetRecorder(rec)
			defer func() { _ = rec.Close() }()
		}
	}

	// Every output is registered before commands can arrive.
	if hub != nil {
		go func() {
			if err := websocket.Serve(ctx, hub, wsConf.Listen, wsConf.Path); err != nil {
				logrus.Errorf("websocket server failed: %v", err)
			}
		}()

		if disc := conf.Discovery(); disc.Enabled {
			port, err := discovery.PortOf(wsConf.Listen)
			if err != nil {
				logrus.Errorf("cannot advertise websocket address %q: %v", wsConf.Listen, err)
			} else {
				adv := discovery.NewAdvertiser(disc.Instance, port, wsConf.Path, version.Version)
				if err := adv.Start(); err != nil {
					logrus.Errorf("failed to start mdns advertisement: %v", err)
				} else {
					defer adv.Stop()
				}
			}
		}
	}

	d.autoTare = NewScheduler(d.autoTareTask, d.autoTareCheck)
	if expr := conf.AutoTareCron(); expr != "" {
		if err := d.autoTare.Schedule(expr); err != nil {
			logrus.Errorf("invalid auto-tare schedule %q: %v", expr, err)
		}
	}
	d.autoTare.Start()
	defer d.autoTare.Stop()

	srv := &http.Server{
		Handler:           setupRoutes(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	go func() {
		logrus.Debugln("sampling loop starts")
		d.Loop(ctx)
		logrus.Debugln("sampling loop stopped")
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	cancel()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("exiting")
	return nil
}

func openDriver(c config.SensorConfig) (sensor.Driver, func(), error) {
	switch c.Driver {
	case config.SensorSerial:
		s, err := sensor.OpenSerial(c.Port, c.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.SensorSimulated:
		sim := sensor.NewSimulated(calibration.DefaultFactor, time.Now().UnixNano())
		sim.SetNoise(c.SimulatedNoise)
		logrus.Warn("using simulated load cell, set its load with PUT /simulate")
		return sim, func() {}, nil
	default:
		return nil, nil, errors.New("unknown sensor driver " + c.Driver)
	}
}

func openBatterySource(c config.BatteryConfig) powerinfo.Source {
	if c.Source == config.BatteryFixed {
		return powerinfo.NewFixed(c.Percent)
	}
	host := powerinfo.NewHostBattery()
	if _, err := host.Percent(); err != nil {
		logrus.WithError(err).Warnf("host battery unavailable, reporting %d%%", c.Percent)
		return powerinfo.NewFixed(c.Percent)
	}
	return host
}
