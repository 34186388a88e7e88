package daemon

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/events"
)

// newRecalibrationScheduler recalibrates with the default type on schedule.
// A run waits while the suit is recording and gives up after the pre-check
// retries are exhausted.
func newRecalibrationScheduler(s *Server) *Scheduler {
	sched := NewScheduler(
		func(ctx context.Context) error {
			s.mu.Lock()
			if s.calibrating {
				s.mu.Unlock()
				return pkgerrors.Wrap(driver.ErrInvalidOperation, "a calibration is already running")
			}
			s.calibrating = true
			s.mu.Unlock()

			logrus.Info("running scheduled recalibration")
			return s.calibrate(ctx, "", true)
		},
		func(context.Context) error {
			st := s.drv.GetStatus()
			switch st {
			case driver.StatusConnected, driver.StatusCalibratedAndReadyToRecord:
				return nil
			}
			return pkgerrors.Errorf("driver is %s", st)
		},
	)

	sched.OnUpcoming = func(runAt time.Time) {
		s.hub.Publish(events.ScheduleUpcoming, events.ScheduleEvent{
			Message: "recalibration at " + runAt.Format(time.DateTime),
			Ts:      time.Now().Unix(),
		})
	}
	sched.OnError = func(err error) {
		logrus.WithError(err).Warn("scheduled recalibration")
		s.hub.Publish(events.ScheduleError, events.ScheduleEvent{
			Message: err.Error(),
			Ts:      time.Now().Unix(),
		})
	}

	return sched
}
