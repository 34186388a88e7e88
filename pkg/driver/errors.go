package driver

// Errors returned by the driver. They are usually wrapped with context;
// test for them with errors.Is.
var (
	ErrInvalidStateTransition = &driverError{"invalid state transition"}
	ErrAlreadyConnected       = &driverError{"driver already connected"}
	ErrConnectionTimeout      = &driverError{"connection timeout"}
	ErrConnection             = &driverError{"connection error"}
	ErrInvalidCalibrationType = &driverError{"invalid calibration type"}
	ErrNotCalibrating         = &driverError{"calibration not running"}
	ErrCalibrationAborted     = &driverError{"calibration aborted"}
	ErrInvalidOperation       = &driverError{"invalid operation"}
	ErrUnknownBodyPart        = &driverError{"unknown body part"}
)

// ErrCalibrationRunning is returned by Transport.PollCalibrationResult while
// the calibration has not produced a result yet.
var ErrCalibrationRunning = &driverError{"calibration still running"}

type driverError struct{ msg string }

func (e *driverError) Error() string { return e.msg }
