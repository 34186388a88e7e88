package driver

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mvnd"

// Frame drop reasons.
const (
	dropNotRunning     = "not_running"
	dropSchemaMismatch = "schema_mismatch"
	dropInvalidValue   = "invalid_value"
	dropWrongSuit      = "wrong_suit"
)

// Metrics holds the driver's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	framesPublished   prometheus.Counter
	framesDropped     *prometheus.CounterVec
	framesOverwritten prometheus.Counter
	transitions       *prometheus.CounterVec
	status            prometheus.Gauge
	calibrations      *prometheus.CounterVec
	lastQuality       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_published_total",
			Help:      "Frames translated and published into the sample cache.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before publishing, by reason.",
		}, []string{"reason"}),
		framesOverwritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_overwritten_total",
			Help:      "Published frames replaced before any reader cached them.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_transitions_total",
			Help:      "Committed driver status transitions, by event.",
		}, []string{"event"}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "status",
			Help:      "Current driver status (0=Disconnected ... 5=Recording).",
		}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calibrations_total",
			Help:      "Evaluated calibration runs, by quality.",
		}, []string{"quality"}),
		lastQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "calibration_quality",
			Help:      "Quality of the last evaluated calibration (0=unknown ... 4=good).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesPublished,
			m.framesDropped,
			m.framesOverwritten,
			m.transitions,
			m.status,
			m.calibrations,
			m.lastQuality,
		)
	}

	return m
}

func (m *Metrics) framePublished() {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) frameOverwritten() {
	if m == nil {
		return
	}
	m.framesOverwritten.Inc()
}

func (m *Metrics) transitioned(t Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(t.Event)).Inc()
	m.status.Set(float64(t.To))
}

func (m *Metrics) calibrated(q float64, label string) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(label).Inc()
	m.lastQuality.Set(q)
}
