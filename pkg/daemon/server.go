package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/config"
	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/events"
	"github.com/charlie0129/mvnd/pkg/suitinfo"
)

// Server exposes one driver over HTTP.
type Server struct {
	conf     config.Config
	drv      *driver.Driver
	hub      *events.EventHub
	sched    *Scheduler
	registry *prometheus.Registry

	// bgCtx bounds calibrations started by the API.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	mu          sync.Mutex
	calibrating bool
	lastReport  *suitinfo.CalibrationReport
}

// NewServer wires drv to the HTTP API. reg may be nil when metrics are not
// exposed; hub may be nil when events are not streamed.
func NewServer(conf config.Config, drv *driver.Driver, hub *events.EventHub, reg *prometheus.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:     conf,
		drv:      drv,
		hub:      hub,
		registry: reg,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	s.sched = newRecalibrationScheduler(s)
	return s
}

// NewRegistry returns a registry with the process collectors and the driver
// metrics registered.
func NewRegistry() (*prometheus.Registry, *driver.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, driver.NewMetrics(reg)
}

func (s *Server) Scheduler() *Scheduler {
	return s.sched
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", s.getStatus)
	router.POST("/connect", s.connect)
	router.POST("/terminate", s.terminate)

	cal := router.Group("/calibration")
	cal.GET("", s.getCalibration)
	cal.POST("/start", s.startCalibration)
	cal.POST("/abort", s.abortCalibration)
	cal.GET("/minimum-quality", s.getMinimumQuality)
	cal.PUT("/minimum-quality", s.setMinimumQuality)

	router.POST("/acquisition/start", s.startAcquisition)
	router.POST("/acquisition/stop", s.stopAcquisition)

	router.GET("/body-dimensions", s.getBodyDimensions)
	router.PUT("/body-dimensions", s.setBodyDimensions)
	router.GET("/body-dimensions/:name", s.getBodyDimension)

	router.GET("/sample", s.getSample)
	router.GET("/labels", s.getLabels)

	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.setSchedule)
	router.DELETE("/schedule", s.disableSchedule)
	router.POST("/schedule/skip", s.skipSchedule)
	router.POST("/schedule/postpone", s.postponeSchedule)

	router.GET("/events", s.streamEvents)
	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	router.GET("/version", s.getVersion)

	return router
}

// calibrateAsync starts a calibration in the background. It fails fast if
// the driver cannot calibrate now.
func (s *Server) calibrateAsync(calibrationType string, scheduled bool) error {
	st := s.drv.GetStatus()
	if !driver.Allowed(driver.EventCalibrate, st) {
		return pkgerrors.Wrapf(driver.ErrInvalidStateTransition, "cannot calibrate while %s", st)
	}

	s.mu.Lock()
	if s.calibrating {
		s.mu.Unlock()
		return pkgerrors.Wrap(driver.ErrInvalidOperation, "a calibration is already running")
	}
	s.calibrating = true
	s.mu.Unlock()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		_ = s.calibrate(s.bgCtx, calibrationType, scheduled)
	}()
	return nil
}

// calibrate runs one calibration and records its report. s.calibrating must
// already be set.
func (s *Server) calibrate(ctx context.Context, calibrationType string, scheduled bool) error {
	report := &suitinfo.CalibrationReport{
		Type:      calibrationType,
		Scheduled: scheduled,
		StartedAt: time.Now(),
	}
	if report.Type == "" {
		report.Type = s.drv.Configuration().DefaultCalibrationType
	}

	q, err := s.drv.Calibrate(ctx, calibrationType)

	report.FinishedAt = time.Now()
	report.Quality = q.String()
	if err != nil {
		report.Error = err.Error()
		s.hub.Publish(events.CalibrationFinished, events.CalibrationFinishedEvent{
			Type:    report.Type,
			Quality: calibration.QualityUnknown.String(),
			Minimum: s.drv.GetMinimumAcceptableCalibrationQuality().String(),
			Message: err.Error(),
			Ts:      report.FinishedAt.Unix(),
		})
	} else {
		report.Passed = q >= s.drv.GetMinimumAcceptableCalibrationQuality()
	}

	s.mu.Lock()
	s.calibrating = false
	s.lastReport = report
	s.mu.Unlock()

	return err
}

// Close stops the schedule, cancels background calibrations, terminates
// the driver and ends every event stream.
func (s *Server) Close() {
	s.sched.Stop()
	s.bgCancel()
	s.drv.Terminate()
	s.bgWG.Wait()

	if s.hub != nil {
		published, missed := s.hub.Stats()
		logrus.WithFields(logrus.Fields{
			"published": published,
			"missed":    missed,
		}).Debug("closing event hub")
		s.hub.Close()
	}
}
