package sim

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/mvnd/pkg/driver"
	"github.com/charlie0129/mvnd/pkg/types"
)

const (
	swayAmplitude = 0.03 // m
	swayFrequency = 0.5  // Hz
	twistAngle    = 0.2  // rad
	jointAmpDeg   = 15.0
)

// Earth field in the suit frame, normalised units.
var magneticField = r3.Vec{X: 0.38, Y: 0, Z: -0.92}

// generator produces a slow standing sway. Every segment moves on its own
// phase so frames differ per segment.
type generator struct {
	suitName   string
	bodyHeight float64
	cfg        types.DriverDataStreamConfig
}

func newGenerator(suitName string, bodyHeight float64, cfg types.DriverDataStreamConfig) *generator {
	if bodyHeight <= 0 {
		bodyHeight = DefaultBodyDimensions()["bodyHeight"]
	}
	return &generator{suitName: suitName, bodyHeight: bodyHeight, cfg: cfg}
}

func (g *generator) frame(t float64) driver.RawFrame {
	f := driver.RawFrame{SuitName: g.suitName, HardwareTime: t}

	if g.cfg.EnableLinkData {
		f.Links = make([]driver.RawLink, len(Segments))
		for i, name := range Segments {
			f.Links[i] = g.link(name, phase(i), t)
		}
	}
	if g.cfg.EnableSensorData {
		f.Sensors = make([]driver.RawSensor, len(Sensors))
		for i, name := range Sensors {
			l := g.link(name, phase(indexOf(Segments, name)), t)
			f.Sensors[i] = driver.RawSensor{
				Name:                 name,
				Position:             l.Position,
				Orientation:          l.Orientation,
				FreeBodyAcceleration: l.LinearAcceleration,
				MagneticField:        vec(rotate(quatOf(l.Orientation), magneticField)),
			}
		}
	}
	if g.cfg.EnableJointData {
		f.Joints = make([]driver.RawJoint, len(Joints))
		w := 2 * math.Pi * swayFrequency
		for i, name := range Joints {
			p := phase(i)
			f.Joints[i] = driver.RawJoint{
				Name: name,
				JointAngles: [3]float64{
					jointAmpDeg * math.Sin(w*t+p),
					jointAmpDeg / 2 * math.Cos(w*t+p),
					jointAmpDeg / 3 * math.Sin(2*w*t+p),
				},
			}
		}
	}

	return f
}

func (g *generator) link(name string, p, t float64) driver.RawLink {
	w := 2 * math.Pi * swayFrequency
	h := segmentHeight[name] * g.bodyHeight

	pos := r3.Vec{X: swayAmplitude * math.Sin(w*t+p), Y: swayAmplitude * math.Cos(w*t+p), Z: h}
	vel := r3.Vec{X: swayAmplitude * w * math.Cos(w*t+p), Y: -swayAmplitude * w * math.Sin(w*t+p)}
	acc := r3.Scale(-w*w, r3.Vec{X: pos.X, Y: pos.Y})

	// Twist about the vertical axis: q = exp(theta/2 * k).
	theta := twistAngle * math.Sin(w*t+p)
	q := quat.Exp(quat.Number{Kmag: theta / 2})
	omega := twistAngle * w * math.Cos(w*t+p)
	alpha := -twistAngle * w * w * math.Sin(w*t+p)

	return driver.RawLink{
		Name:                name,
		Position:            vec(pos),
		LinearVelocity:      vec(vel),
		LinearAcceleration:  vec(acc),
		Orientation:         [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		AngularVelocity:     [3]float64{0, 0, omega},
		AngularAcceleration: [3]float64{0, 0, alpha},
	}
}

// rotate applies q to v as q v q*.
func rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

func quatOf(o [4]float64) quat.Number {
	return quat.Number{Real: o[0], Imag: o[1], Jmag: o[2], Kmag: o[3]}
}

func vec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func phase(i int) float64 {
	return float64(i) * 0.37
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return 0
}
