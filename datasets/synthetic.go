package datasets

import (
	"fmt"
	"math"
	"math/rand"
)

// SyntheticOptions configures the synthetic event-log generator used by tests
// and the demo CLI. Subjects draw inter-event gaps from a Gompertz-type
// process with hazard exp(o + w·t), where o varies per subject.
type SyntheticOptions struct {
	Subjects int
	CatSizes []int
	NumFeats int

	// W is the hazard slope and LogIntensityMean/Std the per-subject spread of
	// the baseline log-intensity o.
	W                float64
	LogIntensityMean float64
	LogIntensityStd  float64

	ActivityEnd   float64
	PredictionEnd float64
	MaxSeqLen     int

	Seed int64
}

// GenerateSequences draws a synthetic cohort. Each subject's events carry
// random categorical codes (1-indexed) and unit-normal numeric features; the
// return target is the first sampled event inside the prediction window.
func GenerateSequences(opts SyntheticOptions) ([]*Sequence, error) {
	if opts.Subjects <= 0 {
		return nil, fmt.Errorf("subject count must be > 0, got %d", opts.Subjects)
	}
	if opts.W <= 0 {
		return nil, fmt.Errorf("hazard slope must be > 0, got %v", opts.W)
	}
	if opts.PredictionEnd <= opts.ActivityEnd {
		return nil, fmt.Errorf("prediction end %v must be after activity end %v",
			opts.PredictionEnd, opts.ActivityEnd)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var seqs []*Sequence
	for s := 0; s < opts.Subjects; s++ {
		o := opts.LogIntensityMean + rng.NormFloat64()*opts.LogIntensityStd
		t := rng.Float64() * opts.ActivityEnd * 0.25

		var events []Event
		target := Censored
		for t <= opts.PredictionEnd {
			if t <= opts.ActivityEnd {
				events = append(events, Event{
					Timestamp: t,
					Cats:      randomCats(rng, opts.CatSizes),
					Nums:      randomNums(rng, opts.NumFeats),
				})
			} else {
				target = t
				break
			}
			t += sampleGap(rng, o, opts.W)
		}
		if len(events) == 0 {
			continue
		}
		if opts.MaxSeqLen > 0 && len(events) > opts.MaxSeqLen {
			events = events[len(events)-opts.MaxSeqLen:]
		}
		seqs = append(seqs, &Sequence{
			SubjectID: fmt.Sprintf("subject-%04d", s),
			Events:    events,
			Target:    target,
		})
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("generator produced no usable sequences; widen the activity window")
	}
	return seqs, nil
}

// sampleGap inverts the survival function S(t) = exp((e^o − e^{o+w·t})/w) at
// a uniform draw, giving one inter-event gap.
func sampleGap(rng *rand.Rand, o, w float64) float64 {
	u := rng.Float64()
	if u < 1e-12 {
		u = 1e-12
	}
	return (math.Log(math.Exp(o)-w*math.Log(u)) - o) / w
}

func randomCats(rng *rand.Rand, catSizes []int) []int {
	cats := make([]int, len(catSizes))
	for i, size := range catSizes {
		cats[i] = 1 + rng.Intn(size)
	}
	return cats
}

func randomNums(rng *rand.Rand, n int) []float64 {
	nums := make([]float64, n)
	for i := range nums {
		nums[i] = rng.NormFloat64()
	}
	return nums
}
