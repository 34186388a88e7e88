package calibration

import (
	"math"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Residual thresholds, in meters, used when the vendor did not grade a run.
const (
	goodResidual       = 0.02
	acceptableResidual = 0.05
	poorResidual       = 0.10
)

// Evaluate grades a calibration result. It is a pure function of r.
func Evaluate(r Result) Quality {
	if r.Failed {
		return QualityFailed
	}
	if r.Grade != QualityUnknown {
		return r.Grade
	}
	if r.Residual < 0 || math.IsNaN(r.Residual) || math.IsInf(r.Residual, 0) {
		return QualityUnknown
	}

	switch {
	case r.Residual <= goodResidual:
		return QualityGood
	case r.Residual <= acceptableResidual:
		return QualityAcceptable
	case r.Residual <= poorResidual:
		return QualityPoor
	default:
		return QualityFailed
	}
}

// Evaluator checks grades against a minimum acceptable quality.
type Evaluator struct {
	mu      sync.RWMutex
	minimum Quality
}

// NewEvaluator returns an Evaluator with the given minimum.
func NewEvaluator(minimum Quality) (*Evaluator, error) {
	e := &Evaluator{}
	if err := e.SetMinimum(minimum); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate grades r and reports whether the grade meets the minimum.
func (e *Evaluator) Evaluate(r Result) (Quality, bool) {
	q := Evaluate(r)
	return q, e.MeetsMinimum(q)
}

// MeetsMinimum reports whether q is at least the configured minimum.
func (e *Evaluator) MeetsMinimum(q Quality) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return q >= e.minimum
}

// Minimum returns the minimum acceptable quality.
func (e *Evaluator) Minimum() Quality {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minimum
}

// SetMinimum changes the minimum acceptable quality. Unknown is rejected
// since any run would satisfy it.
func (e *Evaluator) SetMinimum(q Quality) error {
	if q <= QualityUnknown || q > QualityGood {
		return pkgerrors.Errorf("invalid minimum calibration quality %q", q)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minimum = q
	return nil
}
