// Package monte draws Monte Carlo return-time samples from a trained hazard
// output, giving a distribution around the point predictions.
package monte

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Config tunes a sampling run. Workers defaults to the CPU count and Seed to
// the wall clock.
type Config struct {
	Simulations int
	Workers     int
	Seed        int64
}

// Sampler draws return times from the hazard exp(o + w·t) by inverting its
// survival function at uniform draws. One sampler is tied to a model's hazard
// slope and time scale and can serve many subjects.
type Sampler struct {
	w         float64
	timeScale float64
	cfg       Config
	rng       *rand.Rand
}

func NewSampler(w, timeScale float64, cfg Config) (*Sampler, error) {
	if w <= 0 {
		return nil, fmt.Errorf("hazard slope must be > 0, got %v", w)
	}
	if timeScale <= 0 {
		return nil, fmt.Errorf("time scale must be > 0, got %v", timeScale)
	}
	if cfg.Simulations <= 0 {
		return nil, fmt.Errorf("simulation count must be > 0, got %d", cfg.Simulations)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Sampler{
		w:         w,
		timeScale: timeScale,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// SampleReturns draws absolute return times for a subject whose last event
// happened at lastT with hazard output lastO.
func (s *Sampler) SampleReturns(lastO, lastT float64) ([]float64, error) {
	return s.run(lastO, lastT, 1.0)
}

// SampleReturnsAfter draws return times conditioned on the subject not having
// returned before predStart. Draws come from the renormalized tail of the
// survival curve, so every sample lands at or after predStart. predStart must
// not precede the last observed event.
func (s *Sampler) SampleReturnsAfter(lastO, lastT, predStart float64) ([]float64, error) {
	tilStart := (predStart - lastT) * s.timeScale
	if tilStart < 0 {
		return nil, fmt.Errorf("prediction start %v precedes last event at %v", predStart, lastT)
	}
	sTilStart := math.Exp((math.Exp(lastO) - math.Exp(lastO+s.w*tilStart)) / s.w)
	return s.run(lastO, lastT, sTilStart)
}

// run fans the draws out over a worker pool. Seeds are precomputed serially
// from the sampler RNG so results are reproducible for a fixed Seed
// regardless of worker scheduling.
func (s *Sampler) run(lastO, lastT, survivalCap float64) ([]float64, error) {
	n := s.cfg.Simulations
	samples := make([]float64, n)

	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = s.rng.Int63()
	}

	workers := s.cfg.Workers
	if workers > n {
		workers = n
	}
	jobs := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(seeds[i]))
				u := rng.Float64() * survivalCap
				if u < 1e-12 {
					u = 1e-12
				}
				samples[i] = lastT + s.invertSurvival(lastO, u)/s.timeScale
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return samples, nil
}

// invertSurvival solves S(t) = u for the scaled elapsed time t.
func (s *Sampler) invertSurvival(o, u float64) float64 {
	return (math.Log(math.Exp(o)-s.w*math.Log(u)) - o) / s.w
}

// Summary condenses a sample set into its mean and central quantiles.
type Summary struct {
	Mean float64
	P10  float64
	P50  float64
	P90  float64
}

// Summarize computes the summary of a non-empty sample set.
func Summarize(samples []float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, fmt.Errorf("no samples to summarize")
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Summary{
		Mean: sum / float64(len(sorted)),
		P10:  quantile(sorted, 0.10),
		P50:  quantile(sorted, 0.50),
		P90:  quantile(sorted, 0.90),
	}, nil
}

// quantile interpolates linearly between the order statistics of a sorted
// sample.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
