package daemon

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/suitinfo"
	"github.com/charlie0129/mvnd/pkg/types"
	"github.com/charlie0129/mvnd/pkg/version"
)

// maxPostpone caps a single postpone request.
const maxPostpone = 24 * time.Hour

func (s *Server) status() suitinfo.Status {
	s.mu.Lock()
	calibrating := s.calibrating
	report := s.lastReport
	s.mu.Unlock()

	return suitinfo.Status{
		Status:                    s.drv.GetStatus(),
		LastCalibrationQuality:    s.drv.LastCalibrationQuality(),
		MinimumCalibrationQuality: s.drv.GetMinimumAcceptableCalibrationQuality(),
		Calibrating:               calibrating,
		AcquisitionRunID:          s.drv.AcquisitionRunID(),
		Pipeline:                  s.drv.PipelineStats(),
		LastCalibration:           report,
		Schedule:                  s.sched.Status(),
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.status())
}

func (s *Server) connect(c *gin.Context) {
	if err := s.drv.ConfigureAndConnect(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("connect failed")
		abortWithError(c, err)
		return
	}

	logrus.WithField("suit", s.drv.GetSuitName()).Info("suit connected")
	c.IndentedJSON(http.StatusOK, s.status())
}

func (s *Server) terminate(c *gin.Context) {
	s.drv.Terminate()
	logrus.Info("driver terminated")
	c.IndentedJSON(http.StatusOK, s.status())
}

func (s *Server) getCalibration(c *gin.Context) {
	s.mu.Lock()
	report := s.lastReport
	s.mu.Unlock()

	if report == nil {
		c.IndentedJSON(http.StatusNotFound, "no calibration has run yet")
		return
	}
	c.IndentedJSON(http.StatusOK, report)
}

func (s *Server) startCalibration(c *gin.Context) {
	var req suitinfo.CalibrationRequest
	// An empty body runs the default calibration type.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	if err := s.calibrateAsync(req.Type, false); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.WithField("type", req.Type).Info("calibration started")
	c.IndentedJSON(http.StatusAccepted, "calibration started")
}

func (s *Server) abortCalibration(c *gin.Context) {
	if err := s.drv.AbortCalibration(); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("calibration aborted")
	c.IndentedJSON(http.StatusOK, "ok")
}

func (s *Server) getMinimumQuality(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.drv.GetMinimumAcceptableCalibrationQuality())
}

func (s *Server) setMinimumQuality(c *gin.Context) {
	var q calibration.Quality
	if err := c.BindJSON(&q); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	if err := s.drv.SetMinimumAcceptableCalibrationQuality(q); err != nil {
		abortWithError(c, err)
		return
	}

	s.conf.SetMinimumCalibrationQuality(q)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, err)
		return
	}

	logrus.Infof("set minimum calibration quality to %s", q)
	c.IndentedJSON(http.StatusCreated, q)
}

func (s *Server) startAcquisition(c *gin.Context) {
	if err := s.drv.StartAcquisition(); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.WithField("run", s.drv.AcquisitionRunID()).Info("acquisition started")
	c.IndentedJSON(http.StatusOK, s.drv.AcquisitionRunID())
}

func (s *Server) stopAcquisition(c *gin.Context) {
	if err := s.drv.StopAcquisition(); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("acquisition stopped")
	c.IndentedJSON(http.StatusOK, "ok")
}

func (s *Server) getBodyDimensions(c *gin.Context) {
	dims, err := s.drv.GetBodyDimensions()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, dims)
}

func (s *Server) setBodyDimensions(c *gin.Context) {
	var dims types.BodyDimensions
	if err := c.BindJSON(&dims); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}
	if len(dims) == 0 {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, "no body dimensions given"))
		return
	}

	if err := s.drv.SetBodyDimensions(dims); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.WithField("count", len(dims)).Info("body dimensions updated")

	applied, err := s.drv.GetBodyDimensions()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, applied)
}

func (s *Server) getBodyDimension(c *gin.Context) {
	v, err := s.drv.GetBodyDimension(c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, v)
}

func (s *Server) getSample(c *gin.Context) {
	s.drv.CacheData()
	c.IndentedJSON(http.StatusOK, s.drv.GetDataSample())
}

func (s *Server) getLabels(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, suitinfo.Labels{
		Links:   s.drv.GetSuitLinkLabels(),
		Sensors: s.drv.GetSuitSensorLabels(),
		Joints:  s.drv.GetSuitJointLabels(),
	})
}

func (s *Server) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.sched.Status())
}

func (s *Server) setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}
	if expr == "" {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, "empty cron expression, use DELETE to disable"))
		return
	}
	if err := s.sched.Validate(expr); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	s.persistSchedule(c, expr)
}

func (s *Server) disableSchedule(c *gin.Context) {
	s.persistSchedule(c, "")
}

func (s *Server) persistSchedule(c *gin.Context, expr string) {
	if err := s.sched.Schedule(expr); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	s.conf.SetCalibrationCron(expr)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, s.sched.Status())
}

func (s *Server) skipSchedule(c *gin.Context) {
	if err := s.sched.Skip(); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	logrus.WithField("nextRun", s.sched.Status().NextRun).Info("skipped next recalibration")
	c.IndentedJSON(http.StatusOK, s.sched.Status())
}

func (s *Server) postponeSchedule(c *gin.Context) {
	var req suitinfo.PostponeRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}
	if d > maxPostpone {
		abortWithError(c, pkgerrors.Wrapf(errBadRequest, "cannot postpone more than %s", maxPostpone))
		return
	}

	if err := s.sched.Postpone(d); err != nil {
		abortWithError(c, pkgerrors.Wrap(errBadRequest, err.Error()))
		return
	}

	logrus.WithField("nextRun", s.sched.Status().NextRun).Infof("postponed next recalibration by %s", d)
	c.IndentedJSON(http.StatusOK, s.sched.Status())
}

func (s *Server) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
