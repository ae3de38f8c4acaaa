package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/config"
	"github.com/djamfikr7/ble32/pkg/events"
	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/powerinfo"
	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/sensor"
	"github.com/djamfikr7/ble32/pkg/utils/ptr"
)

type recordingSink struct {
	mu          sync.Mutex
	weights     [][packet.Size]byte
	battery     []uint8
	status      []string
	calibration []float32
}

func (s *recordingSink) SendWeight(b [packet.Size]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = append(s.weights, b)
	return nil
}

func (s *recordingSink) SendBattery(p uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = append(s.battery, p)
	return nil
}

func (s *recordingSink) SendStatus(st string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, st)
	return nil
}

func (s *recordingSink) SendCalibration(f float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibration = append(s.calibration, f)
	return nil
}

type testScale struct {
	d    *Daemon
	sim  *sensor.Simulated
	conf *config.File
	path string
	sink *recordingSink
	now  time.Time
}

// newTestScale returns a daemon on a noiseless simulated load cell whose
// counts per gram is countsPerGram. The daemon starts at the default factor.
func newTestScale(t *testing.T, countsPerGram float64) *testScale {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scale.json")
	conf := config.NewFileFromConfig(&config.RawFileConfig{
		TareSamples:        ptr.To(2),
		CalibrationSamples: ptr.To(4),
	}, path)
	sim := sensor.NewSimulated(countsPerGram, 1)

	ts := &testScale{
		sim:  sim,
		conf: conf,
		path: path,
		sink: &recordingSink{},
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	ts.d = New(conf, sim, powerinfo.NewFixed(80))
	ts.d.now = func() time.Time { return ts.now }
	ts.d.AddSink(ts.sink)
	require.True(t, ts.d.Begin(time.Second))
	return ts
}

func (ts *testScale) ticks(n int) {
	for i := 0; i < n; i++ {
		ts.now = ts.now.Add(100 * time.Millisecond)
		ts.d.tick(ts.now)
	}
}

func nextEvent(t *testing.T, ch chan events.Event, name string) events.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
		}
	}
}

func TestDaemon_TickSettlesAndReports(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ch := ts.d.Events().Subscribe()
	defer ts.d.Events().Unsubscribe(ch)

	ts.sim.SetLoad(250)
	ts.ticks(100)

	st := ts.d.State()
	assert.InDelta(t, 250, st.LastFiltered, 0.1)
	assert.True(t, st.Stable)
	assert.Equal(t, scale.ErrorNone, st.Error)

	report := ts.d.LastReport()
	r, err := packet.Decode(report[:])
	require.NoError(t, err)
	assert.InDelta(t, 250, r.Weight, 0.1)
	assert.True(t, r.Flags.Stable())

	ts.sink.mu.Lock()
	assert.Len(t, ts.sink.weights, 100)
	assert.Equal(t, ts.d.LastReport(), ts.sink.weights[99])
	assert.Contains(t, ts.sink.status[99], "g stable ok")
	ts.sink.mu.Unlock()

	ev := nextEvent(t, ch, events.WeightStable)
	payload, err := events.DecodeAs[events.WeightStableEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "g", payload.Unit)
	assert.InDelta(t, 250, payload.Grams, 1)
}

func TestDaemon_Tare(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ch := ts.d.Events().Subscribe()
	defer ts.d.Events().Unsubscribe(ch)

	ts.sim.SetLoad(250)
	ts.ticks(50)

	require.NoError(t, ts.d.Tare())
	ts.ticks(20)

	st := ts.d.State()
	assert.Equal(t, 0.0, st.LastFiltered)
	assert.True(t, st.Stable)

	payload, err := events.DecodeAs[events.TareEvent](nextEvent(t, ch, events.Tared))
	require.NoError(t, err)
	assert.Equal(t, 250*calibration.DefaultFactor, payload.Offset)
	assert.False(t, payload.Auto)
}

func TestDaemon_Calibrate(t *testing.T) {
	ts := newTestScale(t, 840)

	ts.sim.SetLoad(100)
	ts.ticks(30)
	assert.InDelta(t, 200, ts.d.State().LastFiltered, 0.5)

	require.NoError(t, ts.d.Calibrate(100))

	status := ts.d.CalibrationStatus()
	assert.Equal(t, 840.0, status.Factor)
	assert.Equal(t, 100.0, status.Reference)
	assert.Equal(t, ts.now, status.CalibratedAt)

	ts.ticks(1)
	assert.Equal(t, 100.0, ts.d.State().LastFiltered)
	assert.Equal(t, 840.0, ts.d.State().CalibrationFactor)

	ts.sink.mu.Lock()
	assert.Equal(t, []float32{840}, ts.sink.calibration)
	ts.sink.mu.Unlock()
}

func TestDaemon_CalibrateRejected(t *testing.T) {
	ts := newTestScale(t, 840)
	ts.sim.SetLoad(100)
	ts.ticks(5)

	assert.ErrorIs(t, ts.d.Calibrate(0), calibration.ErrInvalidReference)
	assert.ErrorIs(t, ts.d.Calibrate(-5), calibration.ErrInvalidReference)
	assert.Equal(t, calibration.DefaultFactor, ts.d.CalibrationStatus().Factor)
	assert.Equal(t, scale.ErrorCalibration, ts.d.State().Error)

	// Nothing on the platform gives a zero factor.
	ts.sim.SetLoad(0)
	assert.ErrorIs(t, ts.d.Calibrate(100), calibration.ErrInvalidFactor)

	ts.sim.SetLoad(100)
	ts.ticks(30)
	assert.InDelta(t, 200, ts.d.State().LastFiltered, 0.5)

	ts.sink.mu.Lock()
	assert.Empty(t, ts.sink.calibration)
	ts.sink.mu.Unlock()
}

func TestDaemon_CalibrateSensorDropped(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ts.sim.SetLoad(100)
	ts.ticks(20)

	ts.sim.SetReady(false)
	err := ts.d.Calibrate(100)

	assert.ErrorIs(t, err, ErrSensorNotReady)
	assert.Equal(t, scale.ErrorCalibration, ts.d.State().Error)
	assert.Equal(t, calibration.DefaultFactor, ts.d.State().CalibrationFactor)
	assert.Equal(t, calibration.DefaultFactor, ts.d.CalibrationStatus().Factor)

	ts.sink.mu.Lock()
	assert.Empty(t, ts.sink.calibration)
	ts.sink.mu.Unlock()
}

func TestDaemon_AddSinkWhileRunning(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ts.sim.SetLoad(100)

	added := make([]*recordingSink, 20)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range added {
			added[i] = &recordingSink{}
			ts.d.AddSink(added[i])
		}
	}()
	for i := 0; i < 20; i++ {
		ts.ticks(1)
		_ = ts.d.Calibrate(100)
	}
	wg.Wait()

	ts.ticks(1)
	last := added[len(added)-1]
	last.mu.Lock()
	assert.NotEmpty(t, last.weights)
	last.mu.Unlock()
}

func TestDaemon_SensorNotReady(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ch := ts.d.Events().Subscribe()
	defer ts.d.Events().Unsubscribe(ch)

	ts.sim.SetLoad(50)
	ts.ticks(30)
	before := ts.d.State().LastFiltered

	ts.sim.SetReady(false)
	ts.ticks(3)

	st := ts.d.State()
	assert.Equal(t, scale.ErrorSensor, st.Error)
	assert.Equal(t, before, st.LastFiltered)
	assert.ErrorIs(t, ts.d.Tare(), ErrSensorNotReady)

	payload, err := events.DecodeAs[events.ErrorChangedEvent](nextEvent(t, ch, events.ErrorChanged))
	require.NoError(t, err)
	assert.Equal(t, "ok", payload.From)
	assert.Equal(t, "sensor", payload.To)

	ts.sim.SetReady(true)
	ts.ticks(1)
	assert.Equal(t, scale.ErrorNone, ts.d.State().Error)
}

func TestDaemon_SetUnitSaves(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)

	require.NoError(t, ts.d.SetUnit(scale.UnitOunces))
	assert.Equal(t, scale.UnitOunces, ts.d.State().Unit)

	reloaded, err := config.NewFile(ts.path)
	require.NoError(t, err)
	assert.Equal(t, scale.UnitOunces, reloaded.Unit())

	assert.ErrorIs(t, ts.d.SetUnit(scale.Unit(9)), scale.ErrInvalidUnit)
	assert.Equal(t, scale.UnitOunces, ts.d.State().Unit)
}

func TestDaemon_AutoTareCheck(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)

	ts.sim.SetLoad(500)
	ts.ticks(50)
	assert.ErrorIs(t, ts.d.autoTareCheck(), ErrNotAtRest)

	ts.sim.SetLoad(3)
	ts.ticks(100)
	require.NoError(t, ts.d.autoTareCheck())
	require.NoError(t, ts.d.autoTareTask())
	ts.ticks(20)
	assert.Equal(t, 0.0, ts.d.State().LastFiltered)

	ts.sim.SetReady(false)
	assert.ErrorIs(t, ts.d.autoTareCheck(), ErrSensorNotReady)
}

func TestDaemon_RefreshBattery(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ts.d.refreshBattery()
	assert.Equal(t, uint8(80), ts.d.Battery())

	ts.sink.mu.Lock()
	assert.Equal(t, []uint8{80}, ts.sink.battery)
	ts.sink.mu.Unlock()

	ts.ticks(1)
	report := ts.d.LastReport()
	r, err := packet.Decode(report[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(80), r.Battery)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlers(t *testing.T) {
	ts := newTestScale(t, calibration.DefaultFactor)
	ts.d.autoTare = NewScheduler(ts.d.autoTareTask, ts.d.autoTareCheck)
	router := setupRoutes(ts.d)

	ts.sim.SetLoad(1000)
	ts.ticks(60)

	t.Run("weight", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/weight", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp WeightResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.InDelta(t, 1000, resp.Weight, 0.5)
		assert.Equal(t, scale.UnitGrams, resp.Unit)
		assert.Contains(t, resp.Status, " g ")
	})

	t.Run("packet", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/packet", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp PacketResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Hex, packet.Size*2)
		assert.True(t, strings.HasPrefix(resp.Hex, "57454947"))
	})

	t.Run("unit", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/unit", `"kg"`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, scale.UnitKilograms, ts.d.State().Unit)

		w = doRequest(t, router, http.MethodPut, "/unit", `"stone"`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, scale.UnitKilograms, ts.d.State().Unit)
	})

	t.Run("noise", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/noise", `{"processNoise":0.02,"measurementNoise":0.5}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 0.02, ts.conf.ProcessNoise())
		assert.Equal(t, 0.5, ts.conf.MeasurementNoise())

		w = doRequest(t, router, http.MethodPut, "/noise", `{"processNoise":0,"measurementNoise":0.5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("calibrate", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/calibrate", `0`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodPut, "/calibrate", `500`)
		require.Equal(t, http.StatusCreated, w.Code)

		var status calibration.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.InDelta(t, 840, status.Factor, 1e-9)

		w = doRequest(t, router, http.MethodGet, "/calibration", "")
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("tare", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/tare", "")
		require.Equal(t, http.StatusCreated, w.Code)

		ts.sim.SetReady(false)
		w = doRequest(t, router, http.MethodPut, "/tare", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		ts.sim.SetReady(true)
	})

	t.Run("battery", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/battery", `55`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, uint8(55), ts.d.Battery())

		w = doRequest(t, router, http.MethodPut, "/battery", `101`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodGet, "/battery", "")
		assert.Equal(t, "55", w.Body.String())
	})

	t.Run("history disabled", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/history", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("auto-tare", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/auto-tare", `"not a schedule"`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodPut, "/auto-tare", `"@every 1h"`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "@every 1h", ts.conf.AutoTareCron())

		w = doRequest(t, router, http.MethodGet, "/auto-tare", "")
		var resp AutoTareResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "@every 1h", resp.Cron)
		assert.NotZero(t, resp.NextRun)

		w = doRequest(t, router, http.MethodPut, "/auto-tare", `""`)
		require.Equal(t, http.StatusCreated, w.Code)
		next, _ := ts.d.autoTare.Status()
		assert.True(t, next.IsZero())
	})

	t.Run("simulate", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/simulate", `{"grams":42,"ready":false}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 42.0, ts.sim.Load())
		assert.False(t, ts.sim.Ready())
	})

	t.Run("config", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/config", "")
		require.Equal(t, http.StatusOK, w.Code)

		var raw config.RawFileConfig
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
		require.NotNil(t, raw.Unit)
		assert.Equal(t, scale.UnitKilograms, *raw.Unit)
	})
}

func TestHandlers_SimulateRealDriver(t *testing.T) {
	conf := config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "scale.json"))
	d := New(conf, sensor.NewSerial(io.NopCloser(strings.NewReader(""))), powerinfo.NewHostBattery())
	router := setupRoutes(d)

	w := doRequest(t, router, http.MethodPut, "/simulate", `{"grams":42}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodPut, "/battery", `50`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
