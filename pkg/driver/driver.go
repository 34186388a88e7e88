package driver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/events"
	"github.com/charlie0129/mvnd/pkg/types"
)

const defaultPollInterval = 100 * time.Millisecond

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock used for sample timestamps.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithEventHub publishes status, calibration and acquisition events to h.
func WithEventHub(h *events.EventHub) Option {
	return func(d *Driver) { d.hub = h }
}

// WithMetrics records driver metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithPollInterval sets how often a running calibration is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// pendingConnect is owned by the ConfigureAndConnect call that created it.
type pendingConnect struct {
	cancel context.CancelFunc
}

// pendingCalibration is owned by the Calibrate call that created it.
type pendingCalibration struct {
	cancel context.CancelFunc
	typ    string
	handle *CalibrationHandle
}

// Driver is the control and data access surface for one suit.
type Driver struct {
	conf      Configuration
	transport Transport
	machine   *Machine
	evaluator *calibration.Evaluator
	pipeline  *Pipeline

	clock        Clock
	hub          *events.EventHub
	metrics      *Metrics
	pollInterval time.Duration

	// mu serializes commands. It is released before blocking on the
	// transport (scan, connect, calibration) and taken again to commit.
	mu         sync.Mutex
	model      SuitModel
	connecting *pendingConnect
	calibrator *pendingCalibration

	lastQuality atomic.Int32
	cached      atomic.Pointer[types.DriverDataSample]
	// labels is the connected suit model, readable without d.mu.
	labels atomic.Pointer[SuitModel]
}

// New creates a Driver in StatusDisconnected. conf is copied.
func New(conf Configuration, t Transport, opts ...Option) (*Driver, error) {
	if t == nil {
		return nil, pkgerrors.New("transport is nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid driver configuration")
	}

	evaluator, err := calibration.NewEvaluator(conf.MinimumRequiredCalibrationQuality)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		conf:         conf.clone(),
		transport:    t,
		machine:      NewMachine(),
		evaluator:    evaluator,
		clock:        realClock{},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pipeline = NewPipeline(d.conf.DataStreamConfig, d.clock, d.metrics)

	return d, nil
}

// Configuration returns a copy of the driver configuration.
func (d *Driver) Configuration() Configuration {
	return d.conf.clone()
}

// GetStatus returns the current status. It never blocks.
func (d *Driver) GetStatus() Status {
	return d.machine.Status()
}

// ConfigureAndConnect scans for the suit and connects to it, bounded by the
// configured scan timeout.
func (d *Driver) ConfigureAndConnect(ctx context.Context) error {
	d.mu.Lock()
	if st := d.machine.Status(); st != StatusDisconnected {
		d.mu.Unlock()
		return pkgerrors.Wrapf(ErrAlreadyConnected, "driver is %s", st)
	}
	if _, err := d.fire(EventConnect); err != nil {
		d.mu.Unlock()
		return err
	}
	connCtx, cancel := context.WithTimeout(ctx, d.conf.ScanTimeout)
	op := &pendingConnect{cancel: cancel}
	d.connecting = op
	d.mu.Unlock()
	defer cancel()

	logrus.WithFields(d.conf.LogrusFields()).Info("connecting to suit")

	model, err := d.connect(connCtx)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connecting != op {
		// A newer connect may own the transport by now.
		if err == nil && d.connecting == nil && d.machine.Status() == StatusDisconnected {
			d.disconnectTransport()
		}
		return pkgerrors.Wrap(ErrConnection, "connect interrupted by terminate")
	}
	d.connecting = nil

	if err == nil {
		err = d.applyConfiguredDimensions(model)
		if err != nil {
			d.disconnectTransport()
		}
	}
	if err != nil {
		logrus.WithError(err).Error("failed to connect to suit")
		d.mustFire(EventConnectFailed)
		return err
	}

	d.model = model
	d.labels.Store(&model)
	d.mustFire(EventConnected)
	logrus.WithFields(logrus.Fields{
		"suitName": model.SuitName,
		"links":    len(model.Links),
		"sensors":  len(model.Sensors),
		"joints":   len(model.Joints),
	}).Info("suit connected")

	return nil
}

func (d *Driver) connect(ctx context.Context) (SuitModel, error) {
	if err := d.transport.Configure(ctx, d.conf.setup()); err != nil {
		return SuitModel{}, d.connectError(ctx, "configure", err)
	}
	handle, err := d.transport.Scan(ctx)
	if err != nil {
		return SuitModel{}, d.connectError(ctx, "scan", err)
	}
	logrus.WithFields(logrus.Fields{
		"id":       handle.ID,
		"suitName": handle.SuitName,
	}).Debug("suit found")

	model, err := d.transport.Connect(ctx, handle)
	if err != nil {
		return SuitModel{}, d.connectError(ctx, "connect", err)
	}
	return model, nil
}

func (d *Driver) connectError(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrapf(ErrConnectionTimeout, "%s did not complete within %s", step, d.conf.ScanTimeout)
	}
	return pkgerrors.Wrapf(ErrConnection, "failed to %s: %v", step, err)
}

func (d *Driver) applyConfiguredDimensions(model SuitModel) error {
	if len(d.conf.BodyDimensions) == 0 {
		return nil
	}
	for name := range d.conf.BodyDimensions {
		if !model.HasBodyPart(name) {
			return pkgerrors.Wrapf(ErrUnknownBodyPart, "configured body dimension %q", name)
		}
	}
	if err := d.transport.SetBodyDimensions(d.conf.BodyDimensions.Clone()); err != nil {
		return pkgerrors.Wrapf(ErrConnection, "failed to apply configured body dimensions: %v", err)
	}
	return nil
}

// Terminate stops any acquisition or calibration, disconnects and returns to
// StatusDisconnected. It is safe to call from any state and any goroutine.
func (d *Driver) Terminate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.machine.Status()
	if st == StatusDisconnected {
		return
	}
	logrus.WithField("status", st).Info("terminating driver")

	if d.connecting != nil {
		d.connecting.cancel()
		d.connecting = nil
	}
	if d.calibrator != nil {
		d.cancelCalibration(d.calibrator)
		d.calibrator = nil
	}
	if d.pipeline.Running() {
		d.endStreaming()
	}
	d.disconnectTransport()

	d.model = SuitModel{}
	d.labels.Store(nil)
	d.mustFire(EventTerminate)
}

func (d *Driver) disconnectTransport() {
	if err := d.transport.Disconnect(); err != nil {
		logrus.WithError(err).Warn("failed to disconnect from suit")
	}
}

// Calibrate runs a calibration of the given type, or the configured default
// type when empty, and waits for its result. A grade below the minimum is not
// an error: the driver stays Connected and the grade is returned.
func (d *Driver) Calibrate(ctx context.Context, calibrationType string) (calibration.Quality, error) {
	d.mu.Lock()
	if !d.machine.Can(EventCalibrate) {
		st := d.machine.Status()
		d.mu.Unlock()
		return calibration.QualityUnknown, pkgerrors.Wrapf(ErrInvalidStateTransition, "cannot calibrate while %s", st)
	}
	if calibrationType == "" {
		calibrationType = d.conf.DefaultCalibrationType
	}
	if !d.supportsCalibration(calibrationType) {
		d.mu.Unlock()
		return calibration.QualityUnknown, pkgerrors.Wrapf(ErrInvalidCalibrationType,
			"%q is not one of [%s]", calibrationType, strings.Join(d.transport.CalibrationTypes(), ", "))
	}
	dims, err := d.transport.GetBodyDimensions()
	if err != nil {
		logrus.WithError(err).Warn("failed to read body dimensions before calibration")
	}
	if _, err := d.fire(EventCalibrate); err != nil {
		d.mu.Unlock()
		return calibration.QualityUnknown, err
	}
	calCtx, cancel := context.WithCancel(ctx)
	op := &pendingCalibration{cancel: cancel, typ: calibrationType}
	d.calibrator = op
	d.mu.Unlock()
	defer cancel()

	log := logrus.WithField("type", calibrationType)
	log.Info("calibration started")

	var result calibration.Result
	handle, err := d.transport.StartCalibration(calCtx, calibrationType, dims)
	if err == nil {
		d.mu.Lock()
		op.handle = &handle
		if d.calibrator != op {
			// Aborted before the handle was known.
			d.cancelCalibration(op)
		}
		d.mu.Unlock()
		result, err = d.waitCalibration(calCtx, handle)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.calibrator != op {
		log.Info("calibration aborted")
		return calibration.QualityUnknown, pkgerrors.Wrapf(ErrCalibrationAborted, "calibration %s", calibrationType)
	}
	d.calibrator = nil

	if err != nil {
		if op.handle != nil {
			d.cancelCalibration(op)
		}
		log.WithError(err).Error("calibration failed, keeping previous calibration")
		d.mustFire(EventCalibrationFailed)
		return calibration.QualityUnknown, pkgerrors.Wrapf(err, "calibration %s failed", calibrationType)
	}

	q, ok := d.evaluator.Evaluate(result)
	d.lastQuality.Store(int32(q))
	d.metrics.calibrated(float64(q), q.String())

	fields := logrus.Fields{
		"quality":  q.String(),
		"minimum":  d.evaluator.Minimum().String(),
		"residual": result.Residual,
		"warnings": result.Warnings,
	}
	if ok {
		log.WithFields(fields).Info("calibration passed")
		d.mustFire(EventCalibrationPassed)
	} else {
		log.WithFields(fields).Warn("calibration quality below minimum, recording stays blocked")
		d.mustFire(EventCalibrationInsufficient)
	}

	d.hub.Publish(events.CalibrationFinished, events.CalibrationFinishedEvent{
		Type:    calibrationType,
		Quality: q.String(),
		Minimum: d.evaluator.Minimum().String(),
		Passed:  ok,
		Message: strings.Join(result.Warnings, "; "),
		Ts:      d.clock.Now().Unix(),
	})

	return q, nil
}

func (d *Driver) supportsCalibration(calibrationType string) bool {
	for _, t := range d.transport.CalibrationTypes() {
		if t == calibrationType {
			return true
		}
	}
	return false
}

func (d *Driver) waitCalibration(ctx context.Context, handle CalibrationHandle) (calibration.Result, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		result, err := d.transport.PollCalibrationResult(ctx, handle)
		if !errors.Is(err, ErrCalibrationRunning) {
			return result, err
		}
		select {
		case <-ctx.Done():
			return calibration.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// cancelCalibration must be called with d.mu held.
func (d *Driver) cancelCalibration(op *pendingCalibration) {
	op.cancel()
	if op.handle == nil {
		return
	}
	if err := d.transport.CancelCalibration(*op.handle); err != nil {
		logrus.WithError(err).WithField("type", op.typ).Warn("failed to cancel calibration")
	}
}

// AbortCalibration cancels the running calibration and returns to Connected.
// The last calibration quality is kept.
func (d *Driver) AbortCalibration() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.machine.Status() != StatusCalibrating || d.calibrator == nil {
		return pkgerrors.Wrapf(ErrNotCalibrating, "driver is %s", d.machine.Status())
	}

	d.cancelCalibration(d.calibrator)
	d.calibrator = nil
	_, err := d.fire(EventAbortCalibration)
	return err
}

// LastCalibrationQuality returns the grade of the last evaluated calibration.
func (d *Driver) LastCalibrationQuality() calibration.Quality {
	return calibration.Quality(d.lastQuality.Load())
}

// GetMinimumAcceptableCalibrationQuality returns the minimum grade needed to
// record.
func (d *Driver) GetMinimumAcceptableCalibrationQuality() calibration.Quality {
	return d.evaluator.Minimum()
}

// SetMinimumAcceptableCalibrationQuality changes the minimum grade. It is
// rejected while calibrating or recording. If the last calibration no longer
// meets the new minimum, a ready driver drops back to Connected.
func (d *Driver) SetMinimumAcceptableCalibrationQuality(q calibration.Quality) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.machine.Status()
	if st == StatusCalibrating || st == StatusRecording {
		return pkgerrors.Wrapf(ErrInvalidOperation, "cannot change minimum calibration quality while %s", st)
	}
	if err := d.evaluator.SetMinimum(q); err != nil {
		return pkgerrors.Wrap(ErrInvalidOperation, err.Error())
	}
	logrus.WithField("minimum", q.String()).Info("minimum calibration quality changed")

	last := d.LastCalibrationQuality()
	if st == StatusCalibratedAndReadyToRecord && !d.evaluator.MeetsMinimum(last) {
		logrus.WithFields(logrus.Fields{
			"last":    last.String(),
			"minimum": q.String(),
		}).Warn("last calibration is below the new minimum, recalibration required")
		d.mustFire(EventMinimumRaised)
	}
	return nil
}

// StartAcquisition starts streaming frames into the sample cache under a new
// run id. Until the first frame of the run arrives, CacheData keeps returning
// the previous run's last sample; compare its RunID with AcquisitionRunID.
func (d *Driver) StartAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.machine.Can(EventStartAcquisition) {
		return pkgerrors.Wrapf(ErrInvalidStateTransition, "cannot start acquisition while %s", d.machine.Status())
	}

	runID := uuid.NewString()
	d.pipeline.Begin(runID, d.model)
	if err := d.transport.BeginStreaming(d.conf.DataStreamConfig, d.pipeline.HandleFrame); err != nil {
		d.pipeline.End()
		return pkgerrors.Wrapf(ErrConnection, "failed to begin streaming: %v", err)
	}
	d.mustFire(EventStartAcquisition)

	logrus.WithField("runId", runID).Info("acquisition started")
	d.hub.Publish(events.AcquisitionStarted, events.AcquisitionEvent{RunID: runID, Ts: d.clock.Now().Unix()})

	return nil
}

// StopAcquisition stops streaming. The cached sample stays readable.
func (d *Driver) StopAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.machine.Can(EventStopAcquisition) {
		return pkgerrors.Wrapf(ErrInvalidStateTransition, "cannot stop acquisition while %s", d.machine.Status())
	}

	d.endStreaming()
	d.mustFire(EventStopAcquisition)
	return nil
}

// endStreaming must be called with d.mu held.
func (d *Driver) endStreaming() {
	runID := d.pipeline.Stats().RunID
	if err := d.transport.EndStreaming(); err != nil {
		logrus.WithError(err).Warn("failed to end streaming")
	}
	d.pipeline.End()

	logrus.WithFields(logrus.Fields{
		"runId": runID,
		"stats": d.pipeline.Stats(),
	}).Info("acquisition stopped")
	d.hub.Publish(events.AcquisitionStopped, events.AcquisitionEvent{RunID: runID, Ts: d.clock.Now().Unix()})
}

// AcquisitionRunID returns the id of the running acquisition, or "".
func (d *Driver) AcquisitionRunID() string {
	return d.pipeline.Stats().RunID
}

// PipelineStats returns the acquisition counters.
func (d *Driver) PipelineStats() PipelineStats {
	return d.pipeline.Stats()
}

// SetBodyDimensions forwards dims to the suit model. It is rejected while
// recording.
func (d *Driver) SetBodyDimensions(dims types.BodyDimensions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkModelLocked(); err != nil {
		return err
	}
	if st := d.machine.Status(); st == StatusRecording {
		return pkgerrors.Wrapf(ErrInvalidOperation, "cannot set body dimensions while %s", st)
	}
	for name, v := range dims {
		if !d.model.HasBodyPart(name) {
			return pkgerrors.Wrapf(ErrUnknownBodyPart, "%q", name)
		}
		if !validDimension(v) {
			return pkgerrors.Wrapf(ErrInvalidOperation, "body dimension %s must be a positive length, got %v", name, v)
		}
	}

	if err := d.transport.SetBodyDimensions(dims.Clone()); err != nil {
		return pkgerrors.Wrapf(ErrConnection, "failed to set body dimensions: %v", err)
	}
	logrus.WithField("bodyDimensions", dims).Info("body dimensions updated")
	return nil
}

// GetBodyDimensions returns all body dimensions of the suit model.
func (d *Driver) GetBodyDimensions() (types.BodyDimensions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkModelLocked(); err != nil {
		return nil, err
	}
	dims, err := d.transport.GetBodyDimensions()
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrConnection, "failed to get body dimensions: %v", err)
	}
	return dims.Clone(), nil
}

// GetBodyDimension returns one body dimension.
func (d *Driver) GetBodyDimension(name string) (float64, error) {
	dims, err := d.GetBodyDimensions()
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	known := d.model.HasBodyPart(name)
	d.mu.Unlock()

	v, ok := dims[name]
	if !known || !ok {
		return 0, pkgerrors.Wrapf(ErrUnknownBodyPart, "%q", name)
	}
	return v, nil
}

func (d *Driver) checkModelLocked() error {
	switch st := d.machine.Status(); st {
	case StatusDisconnected, StatusScanning, StatusUnknown:
		return pkgerrors.Wrapf(ErrInvalidOperation, "no suit model while %s", st)
	}
	return nil
}

// CacheData pulls the latest published sample into the driver's snapshot.
// Accessors read that snapshot until the next CacheData call.
func (d *Driver) CacheData() {
	if s := d.pipeline.Latest(); s != nil {
		d.cached.Store(s)
	}
}

// GetDataSample returns a copy of the cached sample.
func (d *Driver) GetDataSample() types.DriverDataSample {
	return d.cached.Load().Clone()
}

// GetLinkDataSample returns a copy of the cached link data.
func (d *Driver) GetLinkDataSample() []types.LinkData {
	s := d.cached.Load()
	if s == nil {
		return []types.LinkData{}
	}
	return append([]types.LinkData{}, s.Links...)
}

// GetSensorDataSample returns a copy of the cached sensor data.
func (d *Driver) GetSensorDataSample() []types.SensorData {
	s := d.cached.Load()
	if s == nil {
		return []types.SensorData{}
	}
	return append([]types.SensorData{}, s.Sensors...)
}

// GetJointDataSample returns a copy of the cached joint data.
func (d *Driver) GetJointDataSample() []types.JointData {
	s := d.cached.Load()
	if s == nil {
		return []types.JointData{}
	}
	return append([]types.JointData{}, s.Joints...)
}

// GetSuitName returns the suit name of the cached sample.
func (d *Driver) GetSuitName() string {
	if s := d.cached.Load(); s != nil {
		return s.SuitName
	}
	return ""
}

// GetSampleRelativeTime returns the cached sample's seconds since its run
// started.
func (d *Driver) GetSampleRelativeTime() float64 {
	if s := d.cached.Load(); s != nil {
		return s.RelativeTime
	}
	return 0
}

// GetSampleAbsoluteTime returns the cached sample's wall-clock time in
// seconds.
func (d *Driver) GetSampleAbsoluteTime() float64 {
	if s := d.cached.Load(); s != nil {
		return s.AbsoluteTime
	}
	return 0
}

// GetSuitLinkLabels returns the link names in sample order.
func (d *Driver) GetSuitLinkLabels() []string {
	return d.suitLabels((*types.DriverDataSample).LinkLabels, func(m *SuitModel) []string { return m.Links })
}

// GetSuitSensorLabels returns the sensor names in sample order.
func (d *Driver) GetSuitSensorLabels() []string {
	return d.suitLabels((*types.DriverDataSample).SensorLabels, func(m *SuitModel) []string { return m.Sensors })
}

// GetSuitJointLabels returns the joint names in sample order.
func (d *Driver) GetSuitJointLabels() []string {
	return d.suitLabels((*types.DriverDataSample).JointLabels, func(m *SuitModel) []string { return m.Joints })
}

// suitLabels prefers the cached sample and falls back to the connected suit
// model for channels the sample does not carry.
func (d *Driver) suitLabels(fromSample func(*types.DriverDataSample) []string, fromModel func(*SuitModel) []string) []string {
	if s := d.cached.Load(); s != nil {
		if ret := fromSample(s); len(ret) > 0 {
			return ret
		}
	}
	if m := d.labels.Load(); m != nil {
		return append([]string{}, fromModel(m)...)
	}
	return []string{}
}

// fire commits ev and announces it. Must be called with d.mu held.
func (d *Driver) fire(ev Event) (Transition, error) {
	t, err := d.machine.Fire(ev)
	if err != nil {
		return t, err
	}

	logrus.WithFields(logrus.Fields{
		"event": t.Event,
		"from":  t.From.String(),
		"to":    t.To.String(),
	}).Debug("driver status changed")
	d.metrics.transitioned(t)
	d.hub.Publish(events.StatusChanged, events.StatusChangedEvent{
		From:  t.From.String(),
		To:    t.To.String(),
		Event: string(t.Event),
		Ts:    d.clock.Now().Unix(),
	})

	return t, nil
}

// mustFire commits a transition the caller already knows is allowed.
func (d *Driver) mustFire(ev Event) {
	if _, err := d.fire(ev); err != nil {
		logrus.WithError(err).WithField("event", ev).Error("unexpected state transition failure")
	}
}
