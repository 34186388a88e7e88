package config

import (
	"time"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/types"
)

// Config is the daemon configuration. Getters return the configured value or
// its default.
type Config interface {
	LicensePath() string
	SuitConfiguration() string
	AcquisitionScenario() string
	DefaultCalibrationType() string
	MinimumCalibrationQuality() calibration.Quality
	ScanTimeout() time.Duration
	BodyDimensions() types.BodyDimensions
	StreamConfig() types.DriverDataStreamConfig
	CalibrationCron() string
	Transport() string
	SimFrameRate() float64

	SetMinimumCalibrationQuality(calibration.Quality)
	SetCalibrationCron(string)

	// DriverConfiguration builds and validates the driver configuration.
	DriverConfiguration() (driver.Configuration, error)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
