package calibration

import (
	"encoding/json"
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		want Quality
	}{
		{name: "vendor grade wins", r: Result{Grade: QualityPoor, Residual: 0.001}, want: QualityPoor},
		{name: "failed run", r: Result{Grade: QualityGood, Failed: true}, want: QualityFailed},
		{name: "good residual", r: Result{Residual: 0.02}, want: QualityGood},
		{name: "acceptable residual", r: Result{Residual: 0.03}, want: QualityAcceptable},
		{name: "poor residual", r: Result{Residual: 0.08}, want: QualityPoor},
		{name: "residual too large", r: Result{Residual: 0.5}, want: QualityFailed},
		{name: "no residual", r: Result{Residual: -1}, want: QualityUnknown},
		{name: "nan residual", r: Result{Residual: math.NaN()}, want: QualityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.r); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQualityOrder(t *testing.T) {
	order := []Quality{QualityUnknown, QualityFailed, QualityPoor, QualityAcceptable, QualityGood}
	for i := 1; i < len(order); i++ {
		if !(order[i-1] < order[i]) {
			t.Fatalf("%v should be below %v", order[i-1], order[i])
		}
	}
}

func TestEvaluator_MeetsMinimum(t *testing.T) {
	e, err := NewEvaluator(QualityAcceptable)
	if err != nil {
		t.Fatal(err)
	}

	if e.MeetsMinimum(QualityPoor) {
		t.Error("poor should not meet acceptable")
	}
	if !e.MeetsMinimum(QualityAcceptable) {
		t.Error("acceptable should meet acceptable")
	}
	if !e.MeetsMinimum(QualityGood) {
		t.Error("good should meet acceptable")
	}

	q, ok := e.Evaluate(Result{Residual: 0.09})
	if q != QualityPoor || ok {
		t.Errorf("Evaluate() = %v, %t", q, ok)
	}

	if err := e.SetMinimum(QualityUnknown); err == nil {
		t.Error("expected unknown minimum to be rejected")
	}
	if e.Minimum() != QualityAcceptable {
		t.Error("rejected minimum must not be applied")
	}
	if err := e.SetMinimum(QualityPoor); err != nil {
		t.Fatal(err)
	}
	if !e.MeetsMinimum(QualityPoor) {
		t.Error("poor should meet poor")
	}
}

func TestQualityText(t *testing.T) {
	q, err := ParseQuality(" Good ")
	if err != nil || q != QualityGood {
		t.Fatalf("ParseQuality() = %v, %v", q, err)
	}
	if _, err := ParseQuality("excellent"); err == nil {
		t.Fatal("expected error")
	}

	var r struct {
		Q Quality `json:"q"`
	}
	if err := json.Unmarshal([]byte(`{"q":"poor"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Q != QualityPoor {
		t.Fatalf("got %v", r.Q)
	}
	b, _ := json.Marshal(r)
	if string(b) != `{"q":"poor"}` {
		t.Fatalf("got %s", b)
	}
}
