package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/suitinfo"
	"github.com/charlie0129/mvnd/pkg/types"
)

func getJSON[T any](c *Client, path, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) GetStatus() (*suitinfo.Status, error) {
	st, err := getJSON[suitinfo.Status](c, "/status", "status")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Connect blocks until the suit is connected or the daemon gives up.
func (c *Client) Connect() (*suitinfo.Status, error) {
	ret, err := c.Post("/connect", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect")
	}
	var st suitinfo.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) Terminate() (string, error) {
	return c.Post("/terminate", "")
}

// StartCalibration starts a calibration in the daemon. An empty type runs the
// configured default. Poll GetCalibration or subscribe to events for the
// outcome.
func (c *Client) StartCalibration(calibrationType string) (string, error) {
	payload, err := marshal(suitinfo.CalibrationRequest{Type: calibrationType})
	if err != nil {
		return "", err
	}
	ret, err := c.Post("/calibration/start", payload)
	return unquote(ret), err
}

func (c *Client) AbortCalibration() (string, error) {
	ret, err := c.Post("/calibration/abort", "")
	return unquote(ret), err
}

// GetCalibration returns the last calibration report, or ErrNotFound if none
// has run.
func (c *Client) GetCalibration() (*suitinfo.CalibrationReport, error) {
	r, err := getJSON[suitinfo.CalibrationReport](c, "/calibration", "calibration report")
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetMinimumQuality() (calibration.Quality, error) {
	return getJSON[calibration.Quality](c, "/calibration/minimum-quality", "minimum calibration quality")
}

func (c *Client) SetMinimumQuality(q calibration.Quality) (string, error) {
	payload, err := marshal(q)
	if err != nil {
		return "", err
	}
	return c.Put("/calibration/minimum-quality", payload)
}

// StartAcquisition returns the id of the new acquisition run.
func (c *Client) StartAcquisition() (string, error) {
	ret, err := c.Post("/acquisition/start", "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to start acquisition")
	}
	return unquote(ret), nil
}

func (c *Client) StopAcquisition() (string, error) {
	ret, err := c.Post("/acquisition/stop", "")
	return unquote(ret), err
}

func (c *Client) GetBodyDimensions() (types.BodyDimensions, error) {
	return getJSON[types.BodyDimensions](c, "/body-dimensions", "body dimensions")
}

func (c *Client) GetBodyDimension(name string) (float64, error) {
	return getJSON[float64](c, "/body-dimensions/"+url.PathEscape(name), "body dimension "+name)
}

// SetBodyDimensions returns every body dimension after the update.
func (c *Client) SetBodyDimensions(dims types.BodyDimensions) (types.BodyDimensions, error) {
	payload, err := marshal(dims)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/body-dimensions", payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set body dimensions")
	}
	var applied types.BodyDimensions
	if err := json.Unmarshal([]byte(ret), &applied); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal body dimensions")
	}
	return applied, nil
}

func (c *Client) GetSample() (*types.DriverDataSample, error) {
	s, err := getJSON[types.DriverDataSample](c, "/sample", "sample")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) GetLabels() (*suitinfo.Labels, error) {
	l, err := getJSON[suitinfo.Labels](c, "/labels", "labels")
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) GetSchedule() (*suitinfo.Schedule, error) {
	s, err := getJSON[suitinfo.Schedule](c, "/schedule", "schedule")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SetSchedule(cronExpr string) (string, error) {
	return c.Put("/schedule", strconv.Quote(cronExpr))
}

func (c *Client) DisableSchedule() (string, error) {
	return c.Delete("/schedule")
}

func (c *Client) SkipSchedule() (string, error) {
	return c.Post("/schedule/skip", "")
}

func (c *Client) PostponeSchedule(d time.Duration) (string, error) {
	payload, err := marshal(suitinfo.PostponeRequest{Duration: d.String()})
	if err != nil {
		return "", err
	}
	return c.Post("/schedule/postpone", payload)
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}
