package driver

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/types"
)

// fakeTransport is a scriptable Transport. Zero values connect immediately
// and calibrate to a Good grade.
type fakeTransport struct {
	mu sync.Mutex

	model      SuitModel
	scanDelay  time.Duration
	neverFound bool
	connectErr error
	// connectGate, when set, holds Connect until closed, ignoring ctx.
	connectGate  chan struct{}
	connectCalls int

	calTypes   []string
	result     calibration.Result
	resultErr  error
	blockCal   bool
	pollCount  int
	startCount int
	cancelled  []CalibrationHandle

	dims         types.BodyDimensions
	handler      FrameHandler
	streaming    bool
	streamErr    error
	disconnected int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		model: SuitModel{
			SuitName:  "suit-1",
			Links:     []string{"Pelvis", "Head"},
			Sensors:   []string{"Pelvis"},
			Joints:    []string{"jL5S1"},
			BodyParts: []string{"bodyHeight", "footSize"},
		},
		calTypes: []string{"Npose", "Tpose"},
		result:   calibration.Result{Grade: calibration.QualityGood},
		dims:     types.BodyDimensions{"bodyHeight": 1.8, "footSize": 0.27},
	}
}

func (f *fakeTransport) Configure(context.Context, Setup) error { return nil }

func (f *fakeTransport) Scan(ctx context.Context) (ConnectionHandle, error) {
	f.mu.Lock()
	delay, never := f.scanDelay, f.neverFound
	f.mu.Unlock()

	if never {
		<-ctx.Done()
		return ConnectionHandle{}, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ConnectionHandle{}, ctx.Err()
	case <-time.After(delay):
	}
	return ConnectionHandle{ID: "dev-0", SuitName: f.model.SuitName}, nil
}

func (f *fakeTransport) Connect(context.Context, ConnectionHandle) (SuitModel, error) {
	f.mu.Lock()
	f.connectCalls++
	gate := f.connectGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return SuitModel{}, f.connectErr
	}
	return f.model, nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	f.streaming = false
	f.handler = nil
	return nil
}

func (f *fakeTransport) CalibrationTypes() []string { return f.calTypes }

func (f *fakeTransport) StartCalibration(_ context.Context, typ string, _ types.BodyDimensions) (CalibrationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCount++
	return CalibrationHandle{ID: "cal", Type: typ}, nil
}

func (f *fakeTransport) PollCalibrationResult(ctx context.Context, _ CalibrationHandle) (calibration.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if ctx.Err() != nil {
		return calibration.Result{}, ctx.Err()
	}
	if f.blockCal {
		return calibration.Result{}, ErrCalibrationRunning
	}
	if f.resultErr != nil {
		return calibration.Result{}, f.resultErr
	}
	return f.result, nil
}

func (f *fakeTransport) CancelCalibration(h CalibrationHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, h)
	return nil
}

func (f *fakeTransport) BeginStreaming(_ types.DriverDataStreamConfig, h FrameHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return f.streamErr
	}
	f.handler = h
	f.streaming = true
	return nil
}

func (f *fakeTransport) EndStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.streaming = false
	return nil
}

func (f *fakeTransport) SetBodyDimensions(dims types.BodyDimensions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range dims {
		if _, ok := f.dims[k]; !ok {
			return pkgerrors.Errorf("no such body part %s", k)
		}
		f.dims[k] = v
	}
	return nil
}

func (f *fakeTransport) GetBodyDimensions() (types.BodyDimensions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dims.Clone(), nil
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// push delivers a frame to the current handler, if streaming.
func (f *fakeTransport) push(frame RawFrame) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(frame)
	return true
}

func (f *fakeTransport) frame(scale float64) RawFrame {
	fr := RawFrame{SuitName: f.model.SuitName, HardwareTime: scale}
	for _, n := range f.model.Links {
		fr.Links = append(fr.Links, RawLink{
			Name:        n,
			Position:    [3]float64{scale, scale, scale},
			Orientation: [4]float64{2, 0, 0, 0},
		})
	}
	for _, n := range f.model.Sensors {
		fr.Sensors = append(fr.Sensors, RawSensor{
			Name:          n,
			Position:      [3]float64{scale, scale, scale},
			Orientation:   [4]float64{0, 0, 0, 3},
			MagneticField: [3]float64{scale, scale, scale},
		})
	}
	for _, n := range f.model.Joints {
		fr.Joints = append(fr.Joints, RawJoint{Name: n, JointAngles: [3]float64{scale, scale, scale}})
	}
	return fr
}

// fakeClock advances by step on every Now call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testConfiguration() Configuration {
	return Configuration{
		LicensePath:                       "/etc/mvnd/license",
		SuitConfiguration:                 "FullBody",
		AcquisitionScenario:               "multiLevel",
		DefaultCalibrationType:            "Npose",
		MinimumRequiredCalibrationQuality: calibration.QualityAcceptable,
		ScanTimeout:                       time.Second,
		DataStreamConfig: types.DriverDataStreamConfig{
			EnableLinkData:   true,
			EnableSensorData: true,
			EnableJointData:  true,
		},
	}
}
