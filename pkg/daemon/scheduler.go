package daemon

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/suitinfo"
)

const (
	defaultLeadDuration     = time.Minute // notify this long before a run
	defaultPreCheckMaxTimes = 30
	defaultPreCheckInterval = time.Second * 10
	idleWait                = time.Hour * 10000
)

var (
	ErrNoSchedule       = pkgerrors.New("no active schedule")
	ErrPostponeTooLong  = pkgerrors.New("postpone duration too long")
	ErrPostponeNegative = pkgerrors.New("postpone duration must be positive")
)

// TaskFunc is a scheduled task or its pre-check.
type TaskFunc func(ctx context.Context) error

// Scheduler runs Task on a cron schedule. Before each run it calls PreCheck,
// retrying up to PreCheckMaxTimes before giving up on that run.
type Scheduler struct {
	Task       TaskFunc
	PreCheck   TaskFunc
	OnUpcoming func(runAt time.Time)
	OnError    func(err error)

	Lead             time.Duration
	PreCheckMaxTimes int
	PreCheckInterval time.Duration

	parser cron.Parser

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool
	taskBusy bool

	controlCh chan controlMsg
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule changed or disabled
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
}

func NewScheduler(task, preCheck TaskFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		Task:             task,
		PreCheck:         preCheck,
		Lead:             defaultLeadDuration,
		PreCheckMaxTimes: defaultPreCheckMaxTimes,
		PreCheckInterval: defaultPreCheckInterval,
		parser:           cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		controlCh:        make(chan controlMsg, 4),
		stopCh:           make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Validate parses expr without scheduling it.
func (s *Scheduler) Validate(expr string) error {
	_, err := s.parser.Parse(expr)
	return pkgerrors.Wrapf(err, "invalid cron expression %q", expr)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Stop stops the scheduler and cancels a task in flight.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.cancel()
}

// Schedule replaces the schedule. An empty expr disables it.
func (s *Scheduler) Schedule(expr string) error {
	var sh cron.Schedule
	if expr != "" {
		var err error
		sh, err = s.parser.Parse(expr)
		if err != nil {
			return pkgerrors.Wrapf(err, "invalid cron expression %q", expr)
		}
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate)
	}

	logrus.WithField("cron", expr).Info("recalibration schedule updated")
	return nil
}

// Postpone delays the next run by d, as long as it stays before the one
// after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return ErrPostponeNegative
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || s.nextRun.IsZero() {
		return ErrNoSchedule
	}
	pp := s.nextRun.Add(d).Truncate(time.Second)
	if !pp.Before(s.schedule.Next(s.nextRun).Truncate(time.Second)) {
		return ErrPostponeTooLong
	}
	s.nextRun = pp
	if s.running {
		s.trySendControl(ctrlPostpone)
	}
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || s.nextRun.IsZero() {
		return ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	if s.running {
		s.trySendControl(ctrlSkip)
	}
	return nil
}

func (s *Scheduler) Status() suitinfo.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	return suitinfo.Schedule{
		Cron:     s.expr,
		NextRun:  s.nextRun,
		Enabled:  s.schedule != nil,
		Running:  s.running,
		TaskBusy: s.taskBusy,
	}
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		nextRun := s.snapshot()
		notified := false
		attempts := 0
		var lastPreCheckErr error

		timer := time.NewTimer(s.waitFor(nextRun, true))

	wait:
		for {
			select {
			case <-s.stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh:
				logrus.WithField("kind", msg.kind).Debug("received control msg")
				timer.Stop()
				break wait
			case <-timer.C:
				if nextRun.IsZero() {
					break wait
				}

				if !notified {
					notified = true
					logrus.WithField("runAt", nextRun.Format(time.DateTime)).Debug("upcoming recalibration")
					s.notify(nextRun)
					timer.Reset(s.waitFor(nextRun, false))
					continue
				}

				if s.PreCheck != nil {
					if err := s.PreCheck(s.ctx); err != nil {
						if lastPreCheckErr == nil || err.Error() != lastPreCheckErr.Error() {
							lastPreCheckErr = err
							s.fail(pkgerrors.Wrap(err, "precheck failed"))
						}
						attempts++
						if attempts <= s.PreCheckMaxTimes {
							logrus.WithFields(logrus.Fields{
								"attempt": attempts,
								"max":     s.PreCheckMaxTimes,
							}).WithError(err).Debug("precheck failed, retrying")
							timer.Reset(s.PreCheckInterval)
							continue
						}
						logrus.WithError(err).Warn("precheck kept failing, skipping this recalibration")
						s.advance(nextRun)
						break wait
					}
				}

				s.runTask()
				s.advance(nextRun)
				break wait
			}
		}
	}
}

// waitFor returns the time to wait until the lead notification (lead=true)
// or the run itself.
func (s *Scheduler) waitFor(nextRun time.Time, lead bool) time.Duration {
	if nextRun.IsZero() {
		return idleWait
	}
	wait := time.Until(nextRun)
	if lead {
		wait -= s.Lead
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) runTask() {
	s.mu.Lock()
	if s.taskBusy {
		s.mu.Unlock()
		logrus.Warn("previous recalibration still running, skipping")
		return
	}
	s.taskBusy = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.taskBusy = false
			s.mu.Unlock()
		}()
		if err := s.Task(s.ctx); err != nil {
			s.fail(pkgerrors.Wrap(err, "task failed"))
		}
	}()
}

func (s *Scheduler) snapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// advance moves past ran, unless the schedule changed meanwhile.
func (s *Scheduler) advance(ran time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(ran) {
		return
	}
	s.nextRun = s.schedule.Next(ran)
}

func (s *Scheduler) notify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}
	go s.OnUpcoming(runAt)
}

func (s *Scheduler) fail(err error) {
	if s.OnError == nil {
		return
	}
	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind) {
	select {
	case s.controlCh <- controlMsg{kind: kind}:
	default:
	}
}
