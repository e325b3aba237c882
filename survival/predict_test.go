package survival

import (
	"math"
	"testing"
)

func TestSurvivalCurveProperties(t *testing.T) {
	const o, w = -1.0, 0.1
	if s := Survival(o, w, 0); math.Abs(s-1.0) > 1e-15 {
		t.Fatalf("S(0) = %v, want 1", s)
	}
	prev := 1.0
	for ts := 0.5; ts <= 50; ts += 0.5 {
		s := Survival(o, w, ts)
		if s < 0 || s > 1 {
			t.Fatalf("S(%v) = %v outside [0,1]", ts, s)
		}
		if s > prev {
			t.Fatalf("survival increased at t=%v: %v > %v", ts, s, prev)
		}
		prev = s
	}
	if prev > 1e-6 {
		t.Fatalf("survival should vanish for large t, got %v", prev)
	}
}

func TestTrapezoidAgainstClosedForm(t *testing.T) {
	// ∫₀¹ x² dx = 1/3; a fine grid should get close.
	n := 2001
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i) / float64(n-1)
		ys[i] = xs[i] * xs[i]
	}
	if got := trapezoid(ys, xs); math.Abs(got-1.0/3.0) > 1e-6 {
		t.Fatalf("trapezoid = %v, want 1/3", got)
	}
	if got := trapezoid(ys[:1], xs[:1]); got != 0 {
		t.Fatalf("single-point trapezoid = %v, want 0", got)
	}
}

func TestPredictStandardIsAfterLastEvent(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	for _, o := range []float64{-3, -1, 0, 1} {
		pred := m.PredictStandard(o, 10.0)
		if pred < 10.0 {
			t.Fatalf("prediction %v precedes the last event for o=%v", pred, o)
		}
		if math.IsNaN(pred) || math.IsInf(pred, 0) {
			t.Fatalf("non-finite prediction for o=%v", o)
		}
	}
	// A hotter hazard returns sooner.
	if m.PredictStandard(1.0, 10.0) >= m.PredictStandard(-3.0, 10.0) {
		t.Fatalf("higher hazard should predict an earlier return")
	}
}

func TestPredictConditionalMatchesStandardAtLastEvent(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	const o, lastT = -1.0, 7.5
	std := m.PredictStandard(o, lastT)
	cond, err := m.Predict(o, lastT, lastT)
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	// With no survived span the conditional split leaves only the first grid
	// point behind the cut, so the two estimates agree to grid resolution.
	if math.Abs(cond-std) > 2*m.Config().TimeScale {
		t.Fatalf("conditional %v vs standard %v differ beyond grid resolution", cond, std)
	}
}

func TestPredictConditionalPushesPastSurvivedSpan(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	const o, lastT = -1.0, 7.5
	unconditioned := m.PredictStandard(o, lastT)
	cond, err := m.Predict(o, lastT, lastT+20.0)
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	// Having survived 20 time units already can only delay the expectation.
	if cond < unconditioned-1e-9 {
		t.Fatalf("conditional prediction %v earlier than unconditioned %v", cond, unconditioned)
	}
}

func TestPredictRejectsStartBeforeLastEvent(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if _, err := m.Predict(-1.0, 10.0, 5.0); err == nil {
		t.Fatalf("expected error for prediction start before last event")
	}
}
