// Package suitinfo holds the JSON shapes exchanged between the daemon and its
// clients.
package suitinfo

import (
	"time"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/driver"
)

// Status is returned by GET /status.
type Status struct {
	Status                    driver.Status        `json:"status"`
	LastCalibrationQuality    calibration.Quality  `json:"lastCalibrationQuality"`
	MinimumCalibrationQuality calibration.Quality  `json:"minimumCalibrationQuality"`
	Calibrating               bool                 `json:"calibrating"`
	AcquisitionRunID          string               `json:"acquisitionRunId,omitempty"`
	Pipeline                  driver.PipelineStats `json:"pipeline"`
	LastCalibration           *CalibrationReport   `json:"lastCalibration,omitempty"`
	Schedule                  Schedule             `json:"schedule"`
}

// CalibrationReport is the outcome of the last calibration started through
// the daemon, manually or by the schedule.
type CalibrationReport struct {
	Type       string    `json:"type"`
	Quality    string    `json:"quality"`
	Passed     bool      `json:"passed"`
	Error      string    `json:"error,omitempty"`
	Scheduled  bool      `json:"scheduled"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Schedule is the recalibration schedule state.
type Schedule struct {
	Cron     string    `json:"cron"`
	NextRun  time.Time `json:"nextRun,omitempty"`
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	TaskBusy bool      `json:"taskBusy"`
}

// Labels is returned by GET /labels, in stream order.
type Labels struct {
	Links   []string `json:"links"`
	Sensors []string `json:"sensors"`
	Joints  []string `json:"joints"`
}

// CalibrationRequest is the body of POST /calibration/start. An empty type
// runs the configured default.
type CalibrationRequest struct {
	Type string `json:"type"`
}

// PostponeRequest is the body of POST /schedule/postpone.
type PostponeRequest struct {
	Duration string `json:"duration"`
}
