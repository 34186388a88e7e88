package driver

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/types"
)

const DefaultScanTimeout = 5 * time.Second

// Configuration is supplied once to New. The driver keeps its own deep copy,
// so changing the value afterwards has no effect on a running driver.
type Configuration struct {
	LicensePath                       string
	SuitConfiguration                 string
	AcquisitionScenario               string
	DefaultCalibrationType            string
	MinimumRequiredCalibrationQuality calibration.Quality
	ScanTimeout                       time.Duration
	BodyDimensions                    types.BodyDimensions
	DataStreamConfig                  types.DriverDataStreamConfig
}

// Validate checks the configuration for values the driver cannot run with.
func (c Configuration) Validate() error {
	if c.ScanTimeout <= 0 {
		return pkgerrors.Errorf("scan timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.MinimumRequiredCalibrationQuality <= calibration.QualityUnknown ||
		c.MinimumRequiredCalibrationQuality > calibration.QualityGood {
		return pkgerrors.Errorf("invalid minimum calibration quality %q", c.MinimumRequiredCalibrationQuality)
	}
	for name, v := range c.BodyDimensions {
		if !validDimension(v) {
			return pkgerrors.Errorf("body dimension %s must be a positive length, got %v", name, v)
		}
	}
	return nil
}

func (c Configuration) clone() Configuration {
	ret := c
	ret.BodyDimensions = c.BodyDimensions.Clone()
	return ret
}

func (c Configuration) setup() Setup {
	return Setup{
		LicensePath:         c.LicensePath,
		SuitConfiguration:   c.SuitConfiguration,
		AcquisitionScenario: c.AcquisitionScenario,
	}
}

func (c Configuration) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"licensePath":            c.LicensePath,
		"suitConfiguration":      c.SuitConfiguration,
		"acquisitionScenario":    c.AcquisitionScenario,
		"defaultCalibrationType": c.DefaultCalibrationType,
		"minimumQuality":         c.MinimumRequiredCalibrationQuality.String(),
		"scanTimeout":            c.ScanTimeout,
		"bodyDimensions":         len(c.BodyDimensions),
		"linkData":               c.DataStreamConfig.EnableLinkData,
		"sensorData":             c.DataStreamConfig.EnableSensorData,
		"jointData":              c.DataStreamConfig.EnableJointData,
	}
}

func validDimension(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
