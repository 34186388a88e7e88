package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/config"
	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/events"
	"github.com/charlie0129/mvnd/pkg/transport/sim"
)

// NewTransport builds the transport named by the configuration.
func NewTransport(conf config.Config) (driver.Transport, error) {
	switch conf.Transport() {
	case config.TransportSim:
		return sim.New(sim.WithFrameRate(conf.SimFrameRate())), nil
	default:
		return nil, pkgerrors.Errorf("unsupported transport %q", conf.Transport())
	}
}

// NewFromConfig assembles a server from conf: transport, metrics, event hub
// and driver. The recalibration schedule from conf is applied but not
// started.
func NewFromConfig(conf config.Config) (*Server, error) {
	dc, err := conf.DriverConfiguration()
	if err != nil {
		return nil, err
	}

	t, err := NewTransport(conf)
	if err != nil {
		return nil, err
	}

	reg, metrics := NewRegistry()
	hub := events.NewEventHub()

	drv, err := driver.New(dc, t, driver.WithEventHub(hub), driver.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	s := NewServer(conf, drv, hub, reg)
	if err := s.sched.Schedule(conf.CalibrationCron()); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads conf and applies the settings that may change at runtime.
func (s *Server) reload() error {
	if err := s.conf.Load(); err != nil {
		return err
	}
	if err := s.sched.Schedule(s.conf.CalibrationCron()); err != nil {
		return err
	}
	if err := s.drv.SetMinimumAcceptableCalibrationQuality(s.conf.MinimumCalibrationQuality()); err != nil {
		logrus.WithError(err).Warn("minimum calibration quality not applied")
	}
	return nil
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	server, err := NewFromConfig(conf)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to set up driver")
	}
	server.Scheduler().Start()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := server.reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A stale socket from a crashed daemon blocks Listen.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove stale socket %s: %v", unixSocketPath, err)
	}

	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("terminating driver")
	server.Close()

	logrus.Info("exiting")
	return nil
}
