package daemon

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	preCheckMaxTimes = 5
	preCheckInterval = 2 * time.Second
	idleWait         = 10000 * time.Hour
)

var (
	ErrNoSchedule    = errors.New("no active schedule")
	ErrNotAtRest     = errors.New("platform is not empty and stable")
	errSchedulerDone = errors.New("scheduler stopped")
)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs a task on a cron schedule. Before each run PreCheck is
// retried up to preCheckMaxTimes; if it never passes the run is dropped.
type Scheduler struct {
	Task     TaskFunc
	PreCheck TaskFunc

	parser cron.Parser

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	// retryInterval is preCheckInterval, shortened in tests.
	retryInterval time.Duration

	controlCh chan controlKind
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule replaced or cleared
	ctrlSkip                           // next run skipped
)

func NewScheduler(task, preCheck TaskFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:          task,
		PreCheck:      preCheck,
		parser:        cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		retryInterval: preCheckInterval,
		controlCh:     make(chan controlKind, 4),
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.run()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Schedule replaces the schedule with cronExpr.
func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	s.mu.Unlock()

	s.signal(ctrlRecalculate)
	return nil
}

// Clear removes the schedule. The scheduler keeps running idle.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.schedule = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	s.signal(ctrlRecalculate)
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	s.mu.Unlock()

	s.signal(ctrlSkip)
	return nil
}

// Status returns the next run time, zero when nothing is scheduled.
func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

func (s *Scheduler) run() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		nextRun := s.next()
		wait := idleWait
		if !nextRun.IsZero() {
			wait = max(time.Until(nextRun), 0)
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			if nextRun.IsZero() {
				continue
			}
			if err := s.runOnce(nextRun); errors.Is(err, errSchedulerDone) {
				return
			}
			s.advance(nextRun)
		case <-s.controlCh:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// runOnce waits for the pre-check to pass, then runs the task.
func (s *Scheduler) runOnce(at time.Time) error {
	logrus.Debugf("running scheduled task for %s", at.Format(time.DateTime))

	if s.PreCheck != nil {
		var err error
		for attempt := 1; attempt <= preCheckMaxTimes; attempt++ {
			if err = s.PreCheck(); err == nil {
				break
			}
			logrus.Debugf("precheck failed (%d/%d): %v", attempt, preCheckMaxTimes, err)
			if attempt == preCheckMaxTimes {
				break
			}
			select {
			case <-time.After(s.retryInterval):
			case <-s.stopCh:
				return errSchedulerDone
			}
		}
		if err != nil {
			logrus.WithError(err).Infof("skipping scheduled task for %s", at.Format(time.DateTime))
			return err
		}
	}

	if err := s.Task(); err != nil {
		logrus.WithError(err).Warn("scheduled task failed")
		return err
	}
	return nil
}

func (s *Scheduler) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// advance moves past ran unless the schedule changed meanwhile.
func (s *Scheduler) advance(ran time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(ran) {
		return
	}
	// Runs missed during a long pre-check are not made up.
	s.nextRun = s.schedule.Next(time.Now())
}

func (s *Scheduler) signal(kind controlKind) {
	select {
	case s.controlCh <- kind:
	default:
	}
}

// autoTareTask zeroes the scale on schedule.
func (d *Daemon) autoTareTask() error {
	return d.tare(true)
}

// autoTareCheck passes when the sensor is ready and the platform is empty
// and stable.
func (d *Daemon) autoTareCheck() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pipeline.Ready() || !d.cell.Ready() {
		return ErrSensorNotReady
	}
	st := d.pipeline.State()
	if !st.Stable || math.Abs(st.LastFiltered) > d.conf.AutoTareMaxWeight() {
		return fmt.Errorf("%w: %.1f g", ErrNotAtRest, st.LastFiltered)
	}
	return nil
}
