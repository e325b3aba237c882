package train

import (
	"fmt"
	"math"
)

// AdamConfig carries the optimizer hyperparameters. Zero values fall back to
// the usual defaults; ClipNorm <= 0 disables gradient clipping.
type AdamConfig struct {
	LearningRate float64 `koanf:"learning_rate" json:"learning_rate"`
	Beta1        float64 `koanf:"beta1" json:"beta1"`
	Beta2        float64 `koanf:"beta2" json:"beta2"`
	Epsilon      float64 `koanf:"epsilon" json:"epsilon"`
	ClipNorm     float64 `koanf:"clip_norm" json:"clip_norm"`
}

func (c *AdamConfig) applyDefaults() {
	if c.LearningRate == 0 {
		c.LearningRate = 1e-3
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
}

// Adam updates parameter groups in place with bias-corrected adaptive
// moments. Moment buffers are allocated lazily on the first step and are tied
// to the group shapes seen then.
type Adam struct {
	cfg  AdamConfig
	step int
	m    [][]float64
	v    [][]float64
}

func NewAdam(cfg AdamConfig) *Adam {
	cfg.applyDefaults()
	return &Adam{cfg: cfg}
}

// Step applies one update. params and grads must be parallel: same group
// count, same lengths, stable across calls.
func (a *Adam) Step(params, grads [][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("optimizer got %d gradient groups for %d parameter groups", len(grads), len(params))
	}
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i := range params {
			a.m[i] = make([]float64, len(params[i]))
			a.v[i] = make([]float64, len(params[i]))
		}
	}
	for i := range params {
		if len(params[i]) != len(grads[i]) || len(params[i]) != len(a.m[i]) {
			return fmt.Errorf("group %d changed shape between optimizer steps", i)
		}
	}

	scale := 1.0
	if a.cfg.ClipNorm > 0 {
		norm := 0.0
		for i := range grads {
			for _, g := range grads[i] {
				norm += g * g
			}
		}
		norm = math.Sqrt(norm)
		if norm > a.cfg.ClipNorm {
			scale = a.cfg.ClipNorm / norm
		}
	}

	a.step++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))
	for i := range params {
		for j := range params[i] {
			g := grads[i][j] * scale
			a.m[i][j] = a.cfg.Beta1*a.m[i][j] + (1-a.cfg.Beta1)*g
			a.v[i][j] = a.cfg.Beta2*a.v[i][j] + (1-a.cfg.Beta2)*g*g
			mHat := a.m[i][j] / c1
			vHat := a.v[i][j] / c2
			params[i][j] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
		}
	}
	return nil
}
