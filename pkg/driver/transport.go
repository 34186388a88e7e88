package driver

import (
	"context"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/types"
)

// Setup is handed to the transport before scanning. The paths are opaque to
// the driver.
type Setup struct {
	LicensePath         string
	SuitConfiguration   string
	AcquisitionScenario string
}

// ConnectionHandle identifies a suit found by Scan.
type ConnectionHandle struct {
	ID       string
	SuitName string
}

// CalibrationHandle identifies a calibration run.
type CalibrationHandle struct {
	ID   string
	Type string
}

// SuitModel is the kinematic model of a connected suit. The names and their
// order do not change while connected.
type SuitModel struct {
	SuitName  string
	Links     []string
	Sensors   []string
	Joints    []string
	BodyParts []string
}

// HasBodyPart reports whether name is a body dimension of the model.
func (m SuitModel) HasBodyPart(name string) bool {
	for _, p := range m.BodyParts {
		if p == name {
			return true
		}
	}
	return false
}

// RawLink is a transport-native link record.
type RawLink struct {
	Name                string
	Position            [3]float64
	LinearVelocity      [3]float64
	LinearAcceleration  [3]float64
	Orientation         [4]float64
	AngularVelocity     [3]float64
	AngularAcceleration [3]float64
}

// RawSensor is a transport-native sensor record.
type RawSensor struct {
	Name                 string
	Position             [3]float64
	Orientation          [4]float64
	FreeBodyAcceleration [3]float64
	MagneticField        [3]float64
}

// RawJoint is a transport-native joint record.
type RawJoint struct {
	Name        string
	JointAngles [3]float64
}

// RawFrame is one frame as delivered by the transport.
type RawFrame struct {
	SuitName string
	// HardwareTime is the suit's own timestamp in seconds. It is logged for
	// diagnostics only; sample times come from the driver clock.
	HardwareTime float64
	Links        []RawLink
	Sensors      []RawSensor
	Joints       []RawJoint
}

// FrameHandler receives frames from the transport's own goroutine. It must
// not block.
type FrameHandler func(RawFrame)

// Transport is the hardware capability the driver depends on. Blocking
// methods must return promptly once ctx is cancelled.
type Transport interface {
	Configure(ctx context.Context, setup Setup) error
	Scan(ctx context.Context) (ConnectionHandle, error)
	Connect(ctx context.Context, handle ConnectionHandle) (SuitModel, error)
	Disconnect() error

	// CalibrationTypes lists the calibration types the suit supports.
	CalibrationTypes() []string
	StartCalibration(ctx context.Context, calibrationType string, dims types.BodyDimensions) (CalibrationHandle, error)
	// PollCalibrationResult returns ErrCalibrationRunning until a result is
	// available.
	PollCalibrationResult(ctx context.Context, handle CalibrationHandle) (calibration.Result, error)
	CancelCalibration(handle CalibrationHandle) error

	// BeginStreaming starts delivering frames to handler until EndStreaming
	// returns. EndStreaming must not return while handler is still running.
	BeginStreaming(cfg types.DriverDataStreamConfig, handler FrameHandler) error
	EndStreaming() error

	SetBodyDimensions(dims types.BodyDimensions) error
	GetBodyDimensions() (types.BodyDimensions, error)
}
