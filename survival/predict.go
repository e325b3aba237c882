package survival

import (
	"fmt"
	"math"
)

// Survival evaluates S(t) = exp((e^o − e^{o+w·t})/w), the probability that no
// event has occurred within scaled elapsed time t of a step with hazard
// output o.
func Survival(o, w, t float64) float64 {
	return math.Exp((math.Exp(o) - math.Exp(o+w*t)) / w)
}

// PredictStandard estimates the expected return time for one sequence from
// the hazard output at its last real step and that step's timestamp. The
// expectation ∫S(t)dt is taken over a grid of IntegrationSteps points spaced
// TimeScale apart in scaled time, then mapped back to raw time units.
func (m *Model) PredictStandard(lastO, lastT float64) float64 {
	grid, s := m.survivalGrid(lastO)
	return lastT + trapezoid(s, grid)/m.cfg.TimeScale
}

// Predict estimates the expected return time conditioned on the subject not
// having returned before predStart. The survival curve past the already
// survived span is renormalized by S at that span, clamped away from zero so
// a near-certain return before predStart cannot blow up the tail integral.
// predStart must not precede the last observed event.
func (m *Model) Predict(lastO, lastT, predStart float64) (float64, error) {
	tilStart := (predStart - lastT) * m.cfg.TimeScale
	if tilStart < 0 {
		return 0, fmt.Errorf("prediction start %v precedes last event at %v", predStart, lastT)
	}
	sTilStart := Survival(lastO, m.cfg.W, tilStart)
	sTilStart = math.Min(math.Max(sTilStart, 1e-3), 1.0)

	grid, s := m.survivalGrid(lastO)
	split := len(grid)
	for k, d := range grid {
		if d >= tilStart {
			split = k
			break
		}
	}
	delta := trapezoid(s[:split], grid[:split])
	delta += trapezoid(s[split:], grid[split:]) / sTilStart
	return lastT + delta/m.cfg.TimeScale, nil
}

// survivalGrid evaluates S over the integration grid for one hazard output.
func (m *Model) survivalGrid(lastO float64) (grid, s []float64) {
	grid = make([]float64, m.cfg.IntegrationSteps)
	s = make([]float64, m.cfg.IntegrationSteps)
	for k := range grid {
		grid[k] = float64(k) * m.cfg.TimeScale
		s[k] = Survival(lastO, m.cfg.W, grid[k])
	}
	return grid, s
}

// trapezoid integrates ys over xs with the trapezoidal rule. Fewer than two
// points integrate to zero.
func trapezoid(ys, xs []float64) float64 {
	sum := 0.0
	for i := 1; i < len(ys); i++ {
		sum += (ys[i] + ys[i-1]) / 2 * (xs[i] - xs[i-1])
	}
	return sum
}
