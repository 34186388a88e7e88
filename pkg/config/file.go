package config

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/types"
	"github.com/charlie0129/mvnd/pkg/utils/ptr"
)

// EnvPrefix prefixes every environment override, e.g. MVND_SCANTIMEOUT or
// MVND_STREAM_JOINTS.
const EnvPrefix = "MVND"

const TransportSim = "sim"

var (
	defaultFileConfig = &RawFileConfig{
		LicensePath:               ptr.To(""),
		SuitConfiguration:         ptr.To("FullBody"),
		AcquisitionScenario:       ptr.To("multiLevel"),
		DefaultCalibrationType:    ptr.To("Npose"),
		MinimumCalibrationQuality: ptr.To(calibration.QualityAcceptable.String()),
		ScanTimeout:               ptr.To(driver.DefaultScanTimeout.String()),
		Stream: &RawStreamConfig{
			Links:   ptr.To(true),
			Sensors: ptr.To(true),
			Joints:  ptr.To(true),
		},
		CalibrationCron: ptr.To(""),
		Transport:       ptr.To(TransportSim),
		Sim: &RawSimConfig{
			FrameRate: ptr.To(60.0),
		},
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk form. Nil fields take their default.
type RawFileConfig struct {
	LicensePath               *string              `json:"licensePath,omitempty" yaml:"licensePath,omitempty"`
	SuitConfiguration         *string              `json:"suitConfiguration,omitempty" yaml:"suitConfiguration,omitempty"`
	AcquisitionScenario       *string              `json:"acquisitionScenario,omitempty" yaml:"acquisitionScenario,omitempty"`
	DefaultCalibrationType    *string              `json:"defaultCalibrationType,omitempty" yaml:"defaultCalibrationType,omitempty"`
	MinimumCalibrationQuality *string              `json:"minimumCalibrationQuality,omitempty" yaml:"minimumCalibrationQuality,omitempty"`
	ScanTimeout               *string              `json:"scanTimeout,omitempty" yaml:"scanTimeout,omitempty"`
	BodyDimensions            types.BodyDimensions `json:"bodyDimensions,omitempty" yaml:"bodyDimensions,omitempty"`
	Stream                    *RawStreamConfig     `json:"stream,omitempty" yaml:"stream,omitempty"`
	CalibrationCron           *string              `json:"calibrationCron,omitempty" yaml:"calibrationCron,omitempty"`
	Transport                 *string              `json:"transport,omitempty" yaml:"transport,omitempty"`
	Sim                       *RawSimConfig        `json:"sim,omitempty" yaml:"sim,omitempty"`
}

type RawStreamConfig struct {
	Links   *bool `json:"links,omitempty" yaml:"links,omitempty"`
	Sensors *bool `json:"sensors,omitempty" yaml:"sensors,omitempty"`
	Joints  *bool `json:"joints,omitempty" yaml:"joints,omitempty"`
}

type RawSimConfig struct {
	FrameRate *float64 `json:"frameRate,omitempty" yaml:"frameRate,omitempty"`
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) LicensePath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().LicensePath, *defaultFileConfig.LicensePath)
}

func (f *File) SuitConfiguration() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().SuitConfiguration, *defaultFileConfig.SuitConfiguration)
}

func (f *File) AcquisitionScenario() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AcquisitionScenario, *defaultFileConfig.AcquisitionScenario)
}

func (f *File) DefaultCalibrationType() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().DefaultCalibrationType, *defaultFileConfig.DefaultCalibrationType)
}

// MinimumCalibrationQuality returns QualityUnknown if the configured value
// cannot be parsed. DriverConfiguration reports the parse error.
func (f *File) MinimumCalibrationQuality() calibration.Quality {
	q, _ := f.minimumCalibrationQuality()
	return q
}

func (f *File) minimumCalibrationQuality() (calibration.Quality, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return calibration.ParseQuality(ptr.Deref(f.raw().MinimumCalibrationQuality, *defaultFileConfig.MinimumCalibrationQuality))
}

// ScanTimeout returns 0 if the configured value cannot be parsed.
func (f *File) ScanTimeout() time.Duration {
	d, _ := f.scanTimeout()
	return d
}

func (f *File) scanTimeout() (time.Duration, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := ptr.Deref(f.raw().ScanTimeout, *defaultFileConfig.ScanTimeout)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "invalid scan timeout %q", s)
	}
	return d, nil
}

func (f *File) BodyDimensions() types.BodyDimensions {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.raw().BodyDimensions.Clone()
}

func (f *File) StreamConfig() types.DriverDataStreamConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.raw().Stream
	if s == nil {
		s = &RawStreamConfig{}
	}
	def := defaultFileConfig.Stream
	return types.DriverDataStreamConfig{
		EnableLinkData:   ptr.Deref(s.Links, *def.Links),
		EnableSensorData: ptr.Deref(s.Sensors, *def.Sensors),
		EnableJointData:  ptr.Deref(s.Joints, *def.Joints),
	}
}

func (f *File) CalibrationCron() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().CalibrationCron, *defaultFileConfig.CalibrationCron)
}

func (f *File) Transport() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Transport, *defaultFileConfig.Transport)
}

func (f *File) SimFrameRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.raw().Sim
	if s == nil {
		s = &RawSimConfig{}
	}
	return ptr.Deref(s.FrameRate, *defaultFileConfig.Sim.FrameRate)
}

func (f *File) SetMinimumCalibrationQuality(q calibration.Quality) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().MinimumCalibrationQuality = ptr.To(q.String())
}

func (f *File) SetCalibrationCron(expr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().CalibrationCron = ptr.To(expr)
}

func (f *File) DriverConfiguration() (driver.Configuration, error) {
	q, err := f.minimumCalibrationQuality()
	if err != nil {
		return driver.Configuration{}, err
	}
	timeout, err := f.scanTimeout()
	if err != nil {
		return driver.Configuration{}, err
	}

	conf := driver.Configuration{
		LicensePath:                       f.LicensePath(),
		SuitConfiguration:                 f.SuitConfiguration(),
		AcquisitionScenario:               f.AcquisitionScenario(),
		DefaultCalibrationType:            f.DefaultCalibrationType(),
		MinimumRequiredCalibrationQuality: q,
		ScanTimeout:                       timeout,
		BodyDimensions:                    f.BodyDimensions(),
		DataStreamConfig:                  f.StreamConfig(),
	}
	if err := conf.Validate(); err != nil {
		return driver.Configuration{}, pkgerrors.Wrapf(err, "invalid configuration in %s", f.filepath)
	}
	return conf, nil
}

// Resolved returns the configuration with every default filled in.
func (f *File) Resolved() *RawFileConfig {
	stream := f.StreamConfig()
	return &RawFileConfig{
		LicensePath:               ptr.To(f.LicensePath()),
		SuitConfiguration:         ptr.To(f.SuitConfiguration()),
		AcquisitionScenario:       ptr.To(f.AcquisitionScenario()),
		DefaultCalibrationType:    ptr.To(f.DefaultCalibrationType()),
		MinimumCalibrationQuality: ptr.To(f.MinimumCalibrationQuality().String()),
		ScanTimeout:               ptr.To(f.ScanTimeout().String()),
		BodyDimensions:            f.BodyDimensions(),
		Stream: &RawStreamConfig{
			Links:   ptr.To(stream.EnableLinkData),
			Sensors: ptr.To(stream.EnableSensorData),
			Joints:  ptr.To(stream.EnableJointData),
		},
		CalibrationCron: ptr.To(f.CalibrationCron()),
		Transport:       ptr.To(f.Transport()),
		Sim: &RawSimConfig{
			FrameRate: ptr.To(f.SimFrameRate()),
		},
	}
}

// Load reads the file, which may be YAML or JSON, then applies MVND_*
// environment overrides. A missing or empty file is an empty configuration.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conf, err := readFile(f.filepath)
	if err != nil {
		return err
	}
	if err := applyEnv(conf); err != nil {
		return err
	}
	f.c = conf

	return nil
}

func readFile(path string) (*RawFileConfig, error) {
	fp, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RawFileConfig{}, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return &RawFileConfig{}, nil
	}

	conf := RawFileConfig{}
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", path)
	}
	return &conf, nil
}

// applyEnv overrides scalar keys from the environment. Body dimensions are
// file-only since their names are case-sensitive.
func applyEnv(c *RawFileConfig) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	strs := map[string]**string{
		"licensePath":               &c.LicensePath,
		"suitConfiguration":         &c.SuitConfiguration,
		"acquisitionScenario":       &c.AcquisitionScenario,
		"defaultCalibrationType":    &c.DefaultCalibrationType,
		"minimumCalibrationQuality": &c.MinimumCalibrationQuality,
		"scanTimeout":               &c.ScanTimeout,
		"calibrationCron":           &c.CalibrationCron,
		"transport":                 &c.Transport,
	}
	for key, dst := range strs {
		if err := v.BindEnv(key); err != nil {
			return pkgerrors.Wrapf(err, "failed to bind env for %s", key)
		}
		if v.IsSet(key) {
			*dst = ptr.To(v.GetString(key))
		}
	}

	if c.Stream == nil {
		c.Stream = &RawStreamConfig{}
	}
	bools := map[string]**bool{
		"stream.links":   &c.Stream.Links,
		"stream.sensors": &c.Stream.Sensors,
		"stream.joints":  &c.Stream.Joints,
	}
	for key, dst := range bools {
		if err := v.BindEnv(key); err != nil {
			return pkgerrors.Wrapf(err, "failed to bind env for %s", key)
		}
		if v.IsSet(key) {
			*dst = ptr.To(v.GetBool(key))
		}
	}
	if *c.Stream == (RawStreamConfig{}) {
		c.Stream = nil
	}

	if err := v.BindEnv("sim.frameRate"); err != nil {
		return pkgerrors.Wrap(err, "failed to bind env for sim.frameRate")
	}
	if v.IsSet("sim.frameRate") {
		if c.Sim == nil {
			c.Sim = &RawSimConfig{}
		}
		c.Sim.FrameRate = ptr.To(v.GetFloat64("sim.frameRate"))
	}

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	b, err := yaml.Marshal(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config for file %s", f.filepath)
	}
	if err := os.WriteFile(f.filepath, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	stream := f.StreamConfig()
	return logrus.Fields{
		"licensePath":               f.LicensePath(),
		"suitConfiguration":         f.SuitConfiguration(),
		"acquisitionScenario":       f.AcquisitionScenario(),
		"defaultCalibrationType":    f.DefaultCalibrationType(),
		"minimumCalibrationQuality": f.MinimumCalibrationQuality().String(),
		"scanTimeout":               f.ScanTimeout(),
		"bodyDimensions":            len(f.BodyDimensions()),
		"linkData":                  stream.EnableLinkData,
		"sensorData":                stream.EnableSensorData,
		"jointData":                 stream.EnableJointData,
		"calibrationCron":           f.CalibrationCron(),
		"transport":                 f.Transport(),
	}
}
