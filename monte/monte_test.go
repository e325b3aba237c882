package monte

import (
	"math"
	"testing"
)

func TestSampleReturnsReproducible(t *testing.T) {
	cfg := Config{Simulations: 500, Workers: 4, Seed: 99}
	a, err := NewSampler(0.1, 1.0, cfg)
	if err != nil {
		t.Fatalf("NewSampler error: %v", err)
	}
	b, err := NewSampler(0.1, 1.0, cfg)
	if err != nil {
		t.Fatalf("NewSampler error: %v", err)
	}

	sa, err := a.SampleReturns(-1.0, 10.0)
	if err != nil {
		t.Fatalf("SampleReturns error: %v", err)
	}
	sb, err := b.SampleReturns(-1.0, 10.0)
	if err != nil {
		t.Fatalf("SampleReturns error: %v", err)
	}
	for i := range sa {
		if sa[i] != sb[i] {
			t.Fatalf("same seed diverged at sample %d: %v vs %v", i, sa[i], sb[i])
		}
	}
	for i, v := range sa {
		if v < 10.0 {
			t.Fatalf("sample %d at %v precedes the last event", i, v)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite sample at %d", i)
		}
	}
}

func TestSampleMeanNearAnalyticExpectation(t *testing.T) {
	// With o = 0 and small w the process is nearly exponential with unit
	// rate, so the mean gap should be close to 1.
	s, err := NewSampler(1e-6, 1.0, Config{Simulations: 20000, Seed: 7})
	if err != nil {
		t.Fatalf("NewSampler error: %v", err)
	}
	samples, err := s.SampleReturns(0.0, 0.0)
	if err != nil {
		t.Fatalf("SampleReturns error: %v", err)
	}
	sum, err := Summarize(samples)
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if math.Abs(sum.Mean-1.0) > 0.05 {
		t.Fatalf("mean gap = %v, want about 1", sum.Mean)
	}
	if !(sum.P10 < sum.P50 && sum.P50 < sum.P90) {
		t.Fatalf("quantiles out of order: %+v", sum)
	}
}

func TestSampleReturnsAfterRespectsStart(t *testing.T) {
	s, err := NewSampler(0.1, 1.0, Config{Simulations: 1000, Seed: 3})
	if err != nil {
		t.Fatalf("NewSampler error: %v", err)
	}
	const lastT, predStart = 5.0, 15.0
	samples, err := s.SampleReturnsAfter(-1.0, lastT, predStart)
	if err != nil {
		t.Fatalf("SampleReturnsAfter error: %v", err)
	}
	for i, v := range samples {
		if v < predStart-1e-9 {
			t.Fatalf("conditional sample %d at %v precedes the window start", i, v)
		}
	}

	if _, err := s.SampleReturnsAfter(-1.0, 10.0, 5.0); err == nil {
		t.Fatalf("expected error for start before last event")
	}
}

func TestNewSamplerValidation(t *testing.T) {
	if _, err := NewSampler(0, 1, Config{Simulations: 1}); err == nil {
		t.Fatalf("expected error for zero hazard slope")
	}
	if _, err := NewSampler(0.1, 0, Config{Simulations: 1}); err == nil {
		t.Fatalf("expected error for zero time scale")
	}
	if _, err := NewSampler(0.1, 1, Config{}); err == nil {
		t.Fatalf("expected error for zero simulations")
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if _, err := Summarize(nil); err == nil {
		t.Fatalf("expected error for empty sample set")
	}
}
