package driver

import (
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
)

// Status is the driver lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusScanning
	StatusConnected
	StatusCalibrating
	StatusCalibratedAndReadyToRecord
	StatusRecording
	StatusUnknown
)

// AllStatuses lists every status, Unknown last.
var AllStatuses = []Status{
	StatusDisconnected,
	StatusScanning,
	StatusConnected,
	StatusCalibrating,
	StatusCalibratedAndReadyToRecord,
	StatusRecording,
	StatusUnknown,
}

var statusNames = map[Status]string{
	StatusDisconnected:               "Disconnected",
	StatusScanning:                   "Scanning",
	StatusConnected:                  "Connected",
	StatusCalibrating:                "Calibrating",
	StatusCalibratedAndReadyToRecord: "CalibratedAndReadyToRecord",
	StatusRecording:                  "Recording",
	StatusUnknown:                    "Unknown",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return statusNames[StatusUnknown]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st, n := range statusNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return pkgerrors.Errorf("unknown driver status %q", string(b))
}

// Event is a request to move the state machine.
type Event string

const (
	EventConnect                 Event = "connect"
	EventConnected               Event = "connected"
	EventConnectFailed           Event = "connectFailed"
	EventCalibrate               Event = "calibrate"
	EventCalibrationPassed       Event = "calibrationPassed"
	EventCalibrationInsufficient Event = "calibrationInsufficient"
	EventCalibrationFailed       Event = "calibrationFailed"
	EventAbortCalibration        Event = "abortCalibration"
	EventMinimumRaised           Event = "minimumRaised"
	EventStartAcquisition        Event = "startAcquisition"
	EventStopAcquisition         Event = "stopAcquisition"
	EventTerminate               Event = "terminate"
)

// AllEvents lists every event in the transition table.
var AllEvents = []Event{
	EventConnect,
	EventConnected,
	EventConnectFailed,
	EventCalibrate,
	EventCalibrationPassed,
	EventCalibrationInsufficient,
	EventCalibrationFailed,
	EventAbortCalibration,
	EventMinimumRaised,
	EventStartAcquisition,
	EventStopAcquisition,
	EventTerminate,
}

type transition struct {
	from []Status // nil means every status
	to   Status
	// toResume sends the machine back to the status recorded when
	// Calibrating was entered.
	toResume bool
}

var transitions = map[Event]transition{
	EventConnect:                 {from: []Status{StatusDisconnected}, to: StatusScanning},
	EventConnected:               {from: []Status{StatusScanning}, to: StatusConnected},
	EventConnectFailed:           {from: []Status{StatusScanning}, to: StatusDisconnected},
	EventCalibrate:               {from: []Status{StatusConnected, StatusCalibratedAndReadyToRecord}, to: StatusCalibrating},
	EventCalibrationPassed:       {from: []Status{StatusCalibrating}, to: StatusCalibratedAndReadyToRecord},
	EventCalibrationInsufficient: {from: []Status{StatusCalibrating}, to: StatusConnected},
	EventCalibrationFailed:       {from: []Status{StatusCalibrating}, toResume: true},
	EventAbortCalibration:        {from: []Status{StatusCalibrating}, to: StatusConnected},
	EventMinimumRaised:           {from: []Status{StatusCalibratedAndReadyToRecord}, to: StatusConnected},
	EventStartAcquisition:        {from: []Status{StatusCalibratedAndReadyToRecord}, to: StatusRecording},
	EventStopAcquisition:         {from: []Status{StatusRecording}, to: StatusCalibratedAndReadyToRecord},
	EventTerminate:               {to: StatusDisconnected},
}

// Allowed reports whether ev may fire from status from.
func Allowed(ev Event, from Status) bool {
	t, ok := transitions[ev]
	if !ok {
		return false
	}
	if t.from == nil {
		return true
	}
	for _, s := range t.from {
		if s == from {
			return true
		}
	}
	return false
}

// Transition is a committed state change.
type Transition struct {
	Event Event
	From  Status
	To    Status
}

// Machine holds the current Status and applies the transition table.
// Status reads are lock-free; transitions are serialized.
type Machine struct {
	mu      sync.Mutex
	current atomic.Int32
	// resume is where calibrationFailed returns to. Protected by mu.
	resume Status
}

// NewMachine returns a Machine in StatusDisconnected.
func NewMachine() *Machine {
	m := &Machine{}
	m.current.Store(int32(StatusDisconnected))
	return m
}

// Status returns the current status without locking.
func (m *Machine) Status() Status {
	return Status(m.current.Load())
}

// Can reports whether ev is allowed from the current status.
func (m *Machine) Can(ev Event) bool {
	return Allowed(ev, m.Status())
}

// Fire applies ev. A disallowed event returns ErrInvalidStateTransition and
// leaves the status unchanged.
func (m *Machine) Fire(ev Event) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fireLocked(ev)
}

func (m *Machine) fireLocked(ev Event) (Transition, error) {
	from := m.Status()
	t, ok := transitions[ev]
	if !ok || !Allowed(ev, from) {
		return Transition{}, pkgerrors.Wrapf(ErrInvalidStateTransition,
			"cannot %s while %s", ev, from)
	}

	to := t.to
	if t.toResume {
		to = m.resume
	}
	if ev == EventCalibrate {
		m.resume = from
	}
	m.current.Store(int32(to))

	return Transition{Event: ev, From: from, To: to}, nil
}
