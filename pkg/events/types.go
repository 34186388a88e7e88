package events

import "encoding/json"

const (
	StatusChanged       = "status.changed"
	CalibrationFinished = "calibration.finished"
	AcquisitionStarted  = "acquisition.started"
	AcquisitionStopped  = "acquisition.stopped"
	ScheduleUpcoming    = "schedule.upcoming"
	ScheduleError       = "schedule.error"
)

// Event is one published event. On the wire it is a server-sent event named
// Name with Data as its payload.
type Event struct {
	Name string
	Data json.RawMessage
	Ts   int64 // unix seconds
}

// StatusChangedEvent is published for every committed driver transition.
type StatusChangedEvent struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Event string `json:"event"`
	Ts    int64  `json:"ts"`
}

// CalibrationFinishedEvent reports a calibration outcome. Quality is
// "unknown" and Message holds the error when the calibration did not
// complete; otherwise Message lists vendor warnings, if any.
type CalibrationFinishedEvent struct {
	Type    string `json:"type"`
	Quality string `json:"quality"`
	Minimum string `json:"minimum"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

type AcquisitionEvent struct {
	RunID string `json:"runId"`
	Ts    int64  `json:"ts"`
}

type ScheduleEvent struct {
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// DecodeAs unmarshals the payload of e into T. An empty payload yields the
// zero T.
func DecodeAs[T any](e Event) (T, error) {
	var v T
	if len(e.Data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(e.Data, &v)
	return v, err
}
