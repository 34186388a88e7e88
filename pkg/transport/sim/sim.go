// Package sim is a simulated full-body motion capture suit. It implements
// driver.Transport without any hardware and is used by the daemon's "sim"
// transport and by tests.
package sim

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/types"
)

const (
	DefaultSuitName            = "sim-suit"
	DefaultFrameRate           = 60.0
	DefaultScanDelay           = 200 * time.Millisecond
	DefaultCalibrationDuration = 2 * time.Second
)

var (
	ErrNotConfigured = pkgerrors.New("suit not configured")
	ErrNotConnected  = pkgerrors.New("suit not connected")
	ErrStreaming     = pkgerrors.New("suit already streaming")
)

// Option configures a simulated suit.
type Option func(*Transport)

func WithSuitName(name string) Option {
	return func(t *Transport) { t.suitName = name }
}

// WithScanDelay sets how long Scan takes to find the suit.
func WithScanDelay(d time.Duration) Option {
	return func(t *Transport) { t.scanDelay = d }
}

// WithNeverFound makes Scan block until its context ends.
func WithNeverFound() Option {
	return func(t *Transport) { t.neverFound = true }
}

// WithCalibrationDuration sets how long a calibration runs before a result
// is available.
func WithCalibrationDuration(d time.Duration) Option {
	return func(t *Transport) { t.calDuration = d }
}

// WithCalibrationResult sets the result reported by every calibration. The
// Type field is filled in per run.
func WithCalibrationResult(r calibration.Result) Option {
	return func(t *Transport) { t.result = r }
}

// WithFrameRate sets the streaming rate in frames per second.
func WithFrameRate(hz float64) Option {
	return func(t *Transport) {
		if hz > 0 {
			t.frameRate = hz
		}
	}
}

type calibrationRun struct {
	handle    driver.CalibrationHandle
	readyAt   time.Time
	cancelled bool
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Transport is a simulated suit.
type Transport struct {
	suitName    string
	scanDelay   time.Duration
	neverFound  bool
	calDuration time.Duration
	result      calibration.Result
	frameRate   float64

	mu         sync.Mutex
	setup      *driver.Setup
	connected  bool
	dims       types.BodyDimensions
	cal        *calibrationRun
	calCounter int
	stream     *stream
}

var _ driver.Transport = &Transport{}

// New returns a disconnected simulated suit.
func New(opts ...Option) *Transport {
	t := &Transport{
		suitName:    DefaultSuitName,
		scanDelay:   DefaultScanDelay,
		calDuration: DefaultCalibrationDuration,
		result:      calibration.Result{Residual: 0.015},
		frameRate:   DefaultFrameRate,
		dims:        DefaultBodyDimensions(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Configure(_ context.Context, setup driver.Setup) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setup = &setup
	logrus.WithFields(logrus.Fields{
		"suitConfiguration":   setup.SuitConfiguration,
		"acquisitionScenario": setup.AcquisitionScenario,
	}).Debug("simulated suit configured")
	return nil
}

func (t *Transport) Scan(ctx context.Context) (driver.ConnectionHandle, error) {
	t.mu.Lock()
	configured := t.setup != nil
	t.mu.Unlock()
	if !configured {
		return driver.ConnectionHandle{}, ErrNotConfigured
	}

	if t.neverFound {
		<-ctx.Done()
		return driver.ConnectionHandle{}, ctx.Err()
	}

	timer := time.NewTimer(t.scanDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return driver.ConnectionHandle{}, ctx.Err()
	case <-timer.C:
	}

	return driver.ConnectionHandle{ID: "sim-0", SuitName: t.suitName}, nil
}

func (t *Transport) Connect(ctx context.Context, handle driver.ConnectionHandle) (driver.SuitModel, error) {
	if err := ctx.Err(); err != nil {
		return driver.SuitModel{}, err
	}
	if handle.SuitName != t.suitName {
		return driver.SuitModel{}, pkgerrors.Errorf("no suit named %q", handle.SuitName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true

	return t.modelLocked(), nil
}

func (t *Transport) modelLocked() driver.SuitModel {
	parts := make([]string, 0, len(t.dims))
	for name := range t.dims {
		parts = append(parts, name)
	}
	sort.Strings(parts)
	return driver.SuitModel{
		SuitName:  t.suitName,
		Links:     append([]string{}, Segments...),
		Sensors:   append([]string{}, Sensors...),
		Joints:    append([]string{}, Joints...),
		BodyParts: parts,
	}
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	s := t.stream
	t.stream = nil
	t.connected = false
	t.cal = nil
	t.mu.Unlock()

	if s != nil {
		s.stop()
	}
	return nil
}

func (t *Transport) CalibrationTypes() []string {
	return append([]string{}, CalibrationTypes...)
}

func (t *Transport) StartCalibration(ctx context.Context, calibrationType string, dims types.BodyDimensions) (driver.CalibrationHandle, error) {
	if err := ctx.Err(); err != nil {
		return driver.CalibrationHandle{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return driver.CalibrationHandle{}, ErrNotConnected
	}
	t.calCounter++
	run := &calibrationRun{
		handle:  driver.CalibrationHandle{ID: "cal-" + strconv.Itoa(t.calCounter), Type: calibrationType},
		readyAt: time.Now().Add(t.calDuration),
	}
	t.cal = run

	logrus.WithFields(logrus.Fields{
		"id":         run.handle.ID,
		"type":       calibrationType,
		"bodyHeight": dims["bodyHeight"],
	}).Debug("simulated calibration started")

	return run.handle, nil
}

func (t *Transport) PollCalibrationResult(ctx context.Context, handle driver.CalibrationHandle) (calibration.Result, error) {
	if err := ctx.Err(); err != nil {
		return calibration.Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run := t.cal
	if run == nil || run.handle != handle {
		return calibration.Result{}, pkgerrors.Errorf("unknown calibration %s", handle.ID)
	}
	if run.cancelled {
		return calibration.Result{}, pkgerrors.Errorf("calibration %s was cancelled", handle.ID)
	}
	if time.Now().Before(run.readyAt) {
		return calibration.Result{}, driver.ErrCalibrationRunning
	}

	res := t.result
	res.Type = handle.Type
	res.Warnings = append([]string{}, t.result.Warnings...)
	return res, nil
}

func (t *Transport) CancelCalibration(handle driver.CalibrationHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cal == nil || t.cal.handle != handle {
		return nil
	}
	t.cal.cancelled = true
	return nil
}

func (t *Transport) BeginStreaming(cfg types.DriverDataStreamConfig, handler driver.FrameHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return ErrNotConnected
	}
	if t.stream != nil {
		return ErrStreaming
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{cancel: cancel, done: make(chan struct{})}
	t.stream = s

	gen := newGenerator(t.suitName, t.dims["bodyHeight"], cfg)
	interval := time.Duration(float64(time.Second) / t.frameRate)
	go s.run(ctx, gen, interval, handler)

	logrus.WithFields(logrus.Fields{
		"frameRate": t.frameRate,
		"links":     cfg.EnableLinkData,
		"sensors":   cfg.EnableSensorData,
		"joints":    cfg.EnableJointData,
	}).Debug("simulated streaming started")
	return nil
}

func (t *Transport) EndStreaming() error {
	t.mu.Lock()
	s := t.stream
	t.stream = nil
	t.mu.Unlock()

	if s != nil {
		s.stop()
	}
	return nil
}

func (t *Transport) SetBodyDimensions(dims types.BodyDimensions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return ErrNotConnected
	}
	for name := range dims {
		if _, ok := t.dims[name]; !ok {
			return pkgerrors.Errorf("unknown body dimension %q", name)
		}
	}
	for name, v := range dims {
		t.dims[name] = v
	}
	return nil
}

func (t *Transport) GetBodyDimensions() (types.BodyDimensions, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil, ErrNotConnected
	}
	return t.dims.Clone(), nil
}

func (s *stream) run(ctx context.Context, gen *generator, interval time.Duration, handler driver.FrameHandler) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			handler(gen.frame(now.Sub(start).Seconds()))
		}
	}
}

// stop returns once the handler is no longer running.
func (s *stream) stop() {
	s.cancel()
	<-s.done
}
