package daemon

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/events"
	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/scale"
)

// missedTickWindow is how far back Loop looks for missed ticks.
const missedTickWindow = 2 * time.Second

// TimeSeriesRecorder records the last N tick times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	Interval       time.Duration
	Records        []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a recorder for ticks that should arrive
// every interval.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		Records:        make([]time.Time, 0, maxRecordCount),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// tolerance is the gap between two records still counted as continuous.
func (r *TimeSeriesRecorder) tolerance() time.Duration {
	return r.Interval + r.Interval/2
}

// GetRecordsIn returns the number of continuous records within last before
// now.
func (r *TimeSeriesRecorder) GetRecordsIn(now time.Time, last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The last record must be recent.
	if len(r.Records) > 0 && now.Sub(r.Records[len(r.Records)-1]) >= r.tolerance() {
		return 0
	}

	count := 0
	for i := len(r.Records) - 1; i >= 0; i-- {
		record := r.Records[i]
		if now.Sub(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.Records) {
			theRecordAfter = r.Records[i+1]
		}

		if theRecordAfter.Sub(record) >= r.tolerance() {
			break
		}
		count++
	}

	return count
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}
	}

	return r.Records[len(r.Records)-1]
}

// Loop samples the load cell every sample interval and refreshes the battery
// level every battery interval until ctx is done.
func (d *Daemon) Loop(ctx context.Context) {
	sample := time.NewTicker(d.conf.SampleInterval())
	defer sample.Stop()
	battery := time.NewTicker(d.conf.BatteryInterval())
	defer battery.Stop()

	d.refreshBattery()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sample.C:
			d.checkMissedTicks(now)
			d.recorder.AddRecord(now)
			d.tick(now)
		case <-battery.C:
			d.refreshBattery()
		}
	}
}

func (d *Daemon) checkMissedTicks(now time.Time) bool {
	if d.recorder.GetLastRecord().IsZero() {
		return false
	}
	count := d.recorder.GetRecordsIn(now, missedTickWindow)
	expected := int(missedTickWindow / d.recorder.Interval)
	if count < expected-1 {
		logrus.WithFields(logrus.Fields{
			"tickCount":         count,
			"expectedTickCount": expected,
			"lastTick":          now.Sub(d.recorder.GetLastRecord()).String(),
		}).Debug("possibly missed sampling ticks")
		return true
	}
	return false
}

// tick runs one sampling step and delivers the results.
func (d *Daemon) tick(now time.Time) {
	d.mu.Lock()

	if !d.pipeline.Ready() && d.cell.Ready() {
		logrus.Info("load cell became ready")
		d.pipeline.SetReady(true)
	}

	grams, ok := d.cell.Units(1)
	if ok {
		logrus.WithField("grams", grams).Trace("sample")
	}
	res := d.pipeline.Process(scale.Reading{Grams: grams, Ready: ok, At: now})
	st := d.pipeline.State()
	report := packet.Encode(st, d.battery)
	d.lastReport = report

	becameStable := res.Stable && !d.wasStable
	d.wasStable = res.Stable
	prevError := d.lastError
	d.lastError = res.Error

	d.mu.Unlock()

	status := st.Status()
	d.printStatus(st)

	sinks := d.outputs()
	if err := sinks.SendWeight(report); err != nil {
		logrus.WithError(err).Trace("failed to send weight")
	}
	if err := sinks.SendStatus(status); err != nil {
		logrus.WithError(err).Trace("failed to send status")
	}

	if prevError != res.Error {
		logrus.WithFields(logrus.Fields{"from": prevError.String(), "to": res.Error.String()}).Info("scale error changed")
		d.events.Publish(events.ErrorChanged, events.ErrorChangedEvent{From: prevError.String(), To: res.Error.String(), Ts: now.Unix()})
	}

	if becameStable {
		d.events.Publish(events.WeightStable, events.WeightStableEvent{
			Grams:  st.LastStable,
			Weight: st.Unit.FromGrams(st.LastStable),
			Unit:   st.Unit.String(),
			Ts:     now.Unix(),
		})
		go d.recordStable(st.LastStable, st.Unit, now)
	}
}

func (d *Daemon) refreshBattery() {
	percent, err := d.battSrc.Percent()
	if err != nil {
		logrus.WithError(err).Debug("failed to read battery level, keeping last value")
		percent = d.Battery()
	} else {
		d.mu.Lock()
		d.battery = percent
		d.mu.Unlock()
	}

	if err := d.outputs().SendBattery(percent); err != nil {
		logrus.WithError(err).Trace("failed to send battery level")
	}
}

type loopStatus struct {
	weight float64
	stable bool
	err    scale.ErrorCode
	unit   scale.Unit
}

var (
	lastStatus    loopStatus
	lastPrintTime time.Time
)

// printStatus logs the status at debug level when it changes, and at trace
// level otherwise.
func (d *Daemon) printStatus(st scale.State) {
	currentStatus := loopStatus{
		// Compare at display precision so filter jitter does not count.
		weight: math.Round(st.LastFiltered*10) / 10,
		stable: st.Stable,
		err:    st.Error,
		unit:   st.Unit,
	}

	fields := logrus.Fields{
		"weight": st.Unit.FromGrams(st.LastFiltered),
		"unit":   st.Unit.String(),
		"stable": st.Stable,
		"error":  st.Error.String(),
	}

	defer func() { lastPrintTime = time.Now() }()

	if time.Since(lastPrintTime) < time.Second && lastStatus == currentStatus {
		logrus.WithFields(fields).Trace("scale status")
		return
	}

	logrus.WithFields(fields).Debug("scale status")

	lastStatus = currentStatus
}
