package calibration

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Quality is a calibration grade. Grades are totally ordered:
// Unknown < Failed < Poor < Acceptable < Good.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityFailed
	QualityPoor
	QualityAcceptable
	QualityGood
)

var qualityNames = map[Quality]string{
	QualityUnknown:    "unknown",
	QualityFailed:     "failed",
	QualityPoor:       "poor",
	QualityAcceptable: "acceptable",
	QualityGood:       "good",
}

func (q Quality) String() string {
	if n, ok := qualityNames[q]; ok {
		return n
	}
	return qualityNames[QualityUnknown]
}

// ParseQuality parses a grade name, case-insensitively.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for q, n := range qualityNames {
		if n == s {
			return q, nil
		}
	}
	return QualityUnknown, pkgerrors.Errorf("unknown calibration quality %q", s)
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(b []byte) error {
	parsed, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Result is what the transport reports for a finished calibration run.
type Result struct {
	// Type is the calibration type that ran, e.g. Npose.
	Type string `json:"type"`
	// Grade is the vendor reported grade. QualityUnknown when the vendor did
	// not grade the run, in which case Residual is used.
	Grade Quality `json:"grade"`
	// Residual is the fit error of the kinematic model, in meters. Negative
	// means not available.
	Residual float64 `json:"residual"`
	// Failed is set when the run itself did not complete (e.g. the wearer
	// moved during a static pose).
	Failed   bool     `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}
