package driver

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/num/quat"

	"github.com/charlie0129/mvnd/pkg/types"
)

// PipelineStats is a snapshot of the pipeline counters.
type PipelineStats struct {
	Running     bool              `json:"running"`
	RunID       string            `json:"runId,omitempty"`
	Published   uint64            `json:"published"`
	Overwritten uint64            `json:"overwritten"`
	Dropped     map[string]uint64 `json:"dropped"`
}

// acquisitionRun is the per-run state of the pipeline. A run is immutable
// except for lastRelative, which only moves forward.
type acquisitionRun struct {
	id    string
	model SuitModel
	start time.Time
	// lastRelative holds the float64 bits of the last published relative time.
	lastRelative atomic.Uint64
}

// relativeTime returns the seconds since the run started, strictly greater
// than any value it returned before.
func (r *acquisitionRun) relativeTime(now time.Time) float64 {
	rel := now.Sub(r.start).Seconds()
	for {
		prevBits := r.lastRelative.Load()
		prev := math.Float64frombits(prevBits)
		next := rel
		if next <= prev {
			next = math.Nextafter(prev, math.Inf(1))
		}
		if r.lastRelative.CompareAndSwap(prevBits, math.Float64bits(next)) {
			return next
		}
	}
}

// Pipeline translates transport frames into samples and publishes the latest
// one into a single cache slot. HandleFrame never blocks on readers.
type Pipeline struct {
	clock   Clock
	metrics *Metrics
	stream  types.DriverDataStreamConfig

	run  atomic.Pointer[acquisitionRun]
	slot atomic.Pointer[types.DriverDataSample]
	// fresh is true while the slot holds a sample no reader has loaded.
	fresh atomic.Bool

	published      atomic.Uint64
	overwritten    atomic.Uint64
	droppedIdle    atomic.Uint64
	droppedSchema  atomic.Uint64
	droppedInvalid atomic.Uint64
	droppedSuit    atomic.Uint64
}

// NewPipeline returns an idle pipeline populating the channels enabled in
// stream.
func NewPipeline(stream types.DriverDataStreamConfig, clock Clock, metrics *Metrics) *Pipeline {
	if clock == nil {
		clock = realClock{}
	}
	return &Pipeline{
		clock:   clock,
		metrics: metrics,
		stream:  stream,
	}
}

// Begin starts a run against model. Relative time restarts from zero. The
// previous run's last sample stays in the slot until the first frame of this
// run replaces it; its RunID tells the two apart.
func (p *Pipeline) Begin(runID string, model SuitModel) {
	r := &acquisitionRun{
		id:    runID,
		model: model,
		start: p.clock.Now(),
	}
	r.lastRelative.Store(math.Float64bits(math.Inf(-1)))
	p.run.Store(r)
}

// End stops accepting frames. The last published sample stays in the slot.
func (p *Pipeline) End() {
	p.run.Store(nil)
}

// Running reports whether a run is active.
func (p *Pipeline) Running() bool {
	return p.run.Load() != nil
}

// Latest returns the most recently published sample, or nil before the first
// one. The returned sample must not be modified.
func (p *Pipeline) Latest() *types.DriverDataSample {
	s := p.slot.Load()
	p.fresh.Store(false)
	return s
}

// HandleFrame is the FrameHandler given to the transport.
func (p *Pipeline) HandleFrame(f RawFrame) {
	now := p.clock.Now()

	r := p.run.Load()
	if r == nil {
		p.drop(dropNotRunning, &p.droppedIdle, f)
		return
	}

	sample, reason := p.translate(r, f, now)
	if sample == nil {
		switch reason {
		case dropSchemaMismatch:
			p.drop(reason, &p.droppedSchema, f)
		case dropWrongSuit:
			p.drop(reason, &p.droppedSuit, f)
		default:
			p.drop(reason, &p.droppedInvalid, f)
		}
		return
	}

	// The run may have ended while the frame was being translated.
	if p.run.Load() != r {
		p.drop(dropNotRunning, &p.droppedIdle, f)
		return
	}

	p.slot.Store(sample)
	if p.fresh.Swap(true) {
		p.overwritten.Add(1)
		p.metrics.frameOverwritten()
	}
	p.published.Add(1)
	p.metrics.framePublished()

	logrus.WithFields(logrus.Fields{
		"runId":        r.id,
		"relativeTime": sample.RelativeTime,
		"hardwareTime": f.HardwareTime,
	}).Trace("frame published")
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	st := PipelineStats{
		Published:   p.published.Load(),
		Overwritten: p.overwritten.Load(),
		Dropped: map[string]uint64{
			dropNotRunning:     p.droppedIdle.Load(),
			dropSchemaMismatch: p.droppedSchema.Load(),
			dropInvalidValue:   p.droppedInvalid.Load(),
			dropWrongSuit:      p.droppedSuit.Load(),
		},
	}
	if r := p.run.Load(); r != nil {
		st.Running = true
		st.RunID = r.id
	}
	return st
}

func (p *Pipeline) drop(reason string, counter *atomic.Uint64, f RawFrame) {
	counter.Add(1)
	p.metrics.frameDropped(reason)
	logrus.WithFields(logrus.Fields{
		"reason":       reason,
		"suitName":     f.SuitName,
		"hardwareTime": f.HardwareTime,
	}).Debug("frame dropped")
}

// translate builds a complete sample from f, or returns nil and the drop
// reason.
func (p *Pipeline) translate(r *acquisitionRun, f RawFrame, now time.Time) (*types.DriverDataSample, string) {
	m := r.model
	if f.SuitName != "" && m.SuitName != "" && f.SuitName != m.SuitName {
		return nil, dropWrongSuit
	}

	s := &types.DriverDataSample{
		RunID:    r.id,
		SuitName: m.SuitName,
		Links:    []types.LinkData{},
		Sensors:  []types.SensorData{},
		Joints:   []types.JointData{},
	}
	if s.SuitName == "" {
		s.SuitName = f.SuitName
	}

	if p.stream.EnableLinkData {
		if len(f.Links) != len(m.Links) {
			return nil, dropSchemaMismatch
		}
		s.Links = make([]types.LinkData, len(f.Links))
		for i, l := range f.Links {
			if l.Name != m.Links[i] {
				return nil, dropSchemaMismatch
			}
			o, ok := unitQuaternion(l.Orientation)
			if !ok || !finite(l.Position, l.LinearVelocity, l.LinearAcceleration, l.AngularVelocity, l.AngularAcceleration) {
				return nil, dropInvalidValue
			}
			s.Links[i] = types.LinkData{
				Name:                l.Name,
				Position:            l.Position,
				LinearVelocity:      l.LinearVelocity,
				LinearAcceleration:  l.LinearAcceleration,
				Orientation:         o,
				AngularVelocity:     l.AngularVelocity,
				AngularAcceleration: l.AngularAcceleration,
			}
		}
	}

	if p.stream.EnableSensorData {
		if len(f.Sensors) != len(m.Sensors) {
			return nil, dropSchemaMismatch
		}
		s.Sensors = make([]types.SensorData, len(f.Sensors))
		for i, sn := range f.Sensors {
			if sn.Name != m.Sensors[i] {
				return nil, dropSchemaMismatch
			}
			o, ok := unitQuaternion(sn.Orientation)
			if !ok || !finite(sn.Position, sn.FreeBodyAcceleration, sn.MagneticField) {
				return nil, dropInvalidValue
			}
			s.Sensors[i] = types.SensorData{
				Name:                 sn.Name,
				Position:             sn.Position,
				Orientation:          o,
				FreeBodyAcceleration: sn.FreeBodyAcceleration,
				MagneticField:        sn.MagneticField,
			}
		}
	}

	if p.stream.EnableJointData {
		if len(f.Joints) != len(m.Joints) {
			return nil, dropSchemaMismatch
		}
		s.Joints = make([]types.JointData, len(f.Joints))
		for i, j := range f.Joints {
			if j.Name != m.Joints[i] {
				return nil, dropSchemaMismatch
			}
			if !finite(j.JointAngles) {
				return nil, dropInvalidValue
			}
			s.Joints[i] = types.JointData{Name: j.Name, JointAngles: j.JointAngles}
		}
	}

	s.AbsoluteTime = float64(now.UnixNano()) / 1e9
	s.RelativeTime = r.relativeTime(now)

	return s, ""
}

// unitQuaternion normalises a (w, x, y, z) quaternion. It fails for zero or
// non-finite input.
func unitQuaternion(o [4]float64) (types.Quaternion, bool) {
	q := quat.Number{Real: o[0], Imag: o[1], Jmag: o[2], Kmag: o[3]}
	if quat.IsNaN(q) || quat.IsInf(q) {
		return types.Quaternion{}, false
	}
	n := quat.Abs(q)
	if n == 0 || math.IsInf(n, 0) {
		return types.Quaternion{}, false
	}
	u := quat.Scale(1/n, q)
	return types.Quaternion{u.Real, u.Imag, u.Jmag, u.Kmag}, true
}

func finite(vs ...[3]float64) bool {
	for _, v := range vs {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
