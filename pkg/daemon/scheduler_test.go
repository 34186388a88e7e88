package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestCronParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)
	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func noop(context.Context) error { return nil }

func TestSchedulerValidate(t *testing.T) {
	s := NewScheduler(noop, nil)

	for _, expr := range []string{"@every 1h", "0 30 * * * *", "30 * * * *", "@daily"} {
		if err := s.Validate(expr); err != nil {
			t.Errorf("Validate(%q) returned error: %v", expr, err)
		}
	}
	for _, expr := range []string{"every hour", "61 * * * *", "@sometimes"} {
		if err := s.Validate(expr); err == nil {
			t.Errorf("Validate(%q) should fail", expr)
		}
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(noop, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	st := s.Status()
	if st.Running {
		t.Fatalf("scheduler should not be running")
	}
	if !st.Enabled || st.Cron != "@every 1m" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.NextRun.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	if err := s.Schedule(""); err != nil {
		t.Fatalf("disabling returned error: %v", err)
	}
	st = s.Status()
	if st.Enabled || !st.NextRun.IsZero() {
		t.Fatalf("schedule should be disabled, got %+v", st)
	}
}

func TestSchedulerInvalidExpressionKeepsSchedule(t *testing.T) {
	s := NewScheduler(noop, nil)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if err := s.Schedule("not a cron"); err == nil {
		t.Fatalf("expected error for invalid expression")
	}
	if got := s.Status().Cron; got != "@every 1h" {
		t.Fatalf("schedule changed to %q", got)
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(noop, nil)
	if err := s.Skip(); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	orig := s.Status().NextRun

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped := s.Status().NextRun
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestSchedulerPostpone(t *testing.T) {
	s := NewScheduler(noop, nil)
	if err := s.Postpone(time.Minute); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	orig := s.Status().NextRun

	if err := s.Postpone(0); !errors.Is(err, ErrPostponeNegative) {
		t.Fatalf("expected ErrPostponeNegative, got %v", err)
	}
	if err := s.Postpone(20 * time.Minute); !errors.Is(err, ErrPostponeTooLong) {
		t.Fatalf("expected ErrPostponeTooLong, got %v", err)
	}
	if err := s.Postpone(time.Minute); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}
	if got, want := s.Status().NextRun, orig.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("next run = %v, want %v", got, want)
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	notifyCh := make(chan struct{}, 1)
	taskCh := make(chan struct{}, 1)
	var preChecks int32

	s := NewScheduler(
		func(context.Context) error {
			select {
			case taskCh <- struct{}{}:
			default:
			}
			return nil
		},
		func(context.Context) error {
			atomic.AddInt32(&preChecks, 1)
			return nil
		},
	)
	s.Lead = 0
	s.OnUpcoming = func(time.Time) {
		select {
		case notifyCh <- struct{}{}:
		default:
		}
	}

	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-notifyCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("upcoming notification not received")
	}

	select {
	case <-taskCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not run")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck was not called")
	}
	if !s.Status().Running {
		t.Fatalf("scheduler should be running")
	}
}

func TestSchedulerPreCheckRetry(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 4)
	var preChecks int32

	s := NewScheduler(
		func(context.Context) error {
			select {
			case taskCh <- struct{}{}:
			default:
			}
			return nil
		},
		func(context.Context) error {
			if atomic.AddInt32(&preChecks, 1) <= 2 {
				return errors.New("suit is recording")
			}
			return nil
		},
	)
	s.Lead = 0
	s.PreCheckInterval = 10 * time.Millisecond
	s.OnError = func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not run after precheck recovered")
	}

	if got := atomic.LoadInt32(&preChecks); got < 3 {
		t.Fatalf("expected at least 3 prechecks, got %d", got)
	}

	// Identical consecutive precheck errors are reported once.
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected precheck error")
		}
	case <-time.After(time.Second):
		t.Fatalf("precheck error not reported")
	}
}

func TestSchedulerPreCheckGivesUp(t *testing.T) {
	var ran atomic.Bool
	var preChecks int32

	s := NewScheduler(
		func(context.Context) error {
			ran.Store(true)
			return nil
		},
		func(context.Context) error {
			atomic.AddInt32(&preChecks, 1)
			return errors.New("not connected")
		},
	)
	s.Lead = 0
	s.PreCheckMaxTimes = 2
	s.PreCheckInterval = 5 * time.Millisecond

	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	// Pull the first run close so the test does not wait an hour.
	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	first := s.nextRun
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().NextRun.After(first) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !s.Status().NextRun.After(first) {
		t.Fatalf("run was not skipped after precheck retries")
	}
	if ran.Load() {
		t.Fatalf("task should not run when precheck keeps failing")
	}
	if got := atomic.LoadInt32(&preChecks); got != 3 {
		t.Fatalf("expected 3 prechecks (1 + 2 retries), got %d", got)
	}
}
