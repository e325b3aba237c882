package survival

import (
	"fmt"

	"revisit/datasets"
)

// LossGradients runs a training-mode forward pass over the batch, evaluates
// the censored negative log-likelihood, and backpropagates it through the
// output head, the recurrent layer, and the feature encoder. It returns the
// loss, the hazard outputs, and one gradient slice per entry of Params, in
// the same order.
//
// The reserved embedding row 0 receives no gradient, so padding and "none"
// codes stay at the zero vector for the lifetime of the model.
func (m *Model) LossGradients(batch *datasets.Batch) (float64, [][]float64, [][]float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, nil, nil, fmt.Errorf("invalid batch: %w", err)
	}
	oj, cache, err := m.forward(batch.CatFeats, batch.NumFeats, batch.Lengths, true, true)
	if err != nil {
		return 0, nil, nil, err
	}
	loss, dOut, err := m.lossTerms(batch.Gaps, batch.PaddingMask, batch.ReturnMask, oj)
	if err != nil {
		return 0, nil, nil, err
	}

	g := m.newGradients()
	H := m.cfg.LSTMHiddenSize
	rawDim := m.cfg.rawDim()

	for b := range cache.steps {
		L := batch.Lengths[b]

		// Head and hidden projection first; collect dL/dh per step.
		dhOut := make([][]float64, L)
		for t := 0; t < L; t++ {
			s := &cache.steps[b][t]
			dO := dOut[b][t]
			if dO == 0 {
				dhOut[t] = make([]float64, H)
				continue
			}
			dz := make([]float64, m.cfg.HiddenSize)
			wOut := m.wOut.RawVector().Data
			for k := range dz {
				dz[k] = dO * wOut[k]
				g.wOut[k] += dO * s.z[k]
			}
			g.bOut[0] += dO

			dv2 := dz
			if s.m2 != nil {
				dv2 = mulVec(dz, s.m2)
			}
			da2 := make([]float64, len(dv2))
			for k := range da2 {
				da2[k] = dv2[k] * (1 - s.v2[k]*s.v2[k])
			}
			addOuter(g.wHid, m.cfg.HiddenSize, H, da2, s.h)
			addVec(g.bHid, da2)
			dhOut[t] = matTVec(m.wHid, da2)
		}

		// Reverse-time pass through the recurrent layer and the encoder.
		dhNext := make([]float64, H)
		dcNext := make([]float64, H)
		for t := L - 1; t >= 0; t-- {
			s := &cache.steps[b][t]
			dh := dhOut[t]
			addVec(dh, dhNext)

			da := make([]float64, 4*H)
			dc := make([]float64, H)
			for k := 0; k < H; k++ {
				dGout := dh[k] * s.tanhC[k]
				dc[k] = dcNext[k] + dh[k]*s.gout[k]*(1-s.tanhC[k]*s.tanhC[k])
				da[k] = dc[k] * s.gg[k] * s.gi[k] * (1 - s.gi[k])
				da[H+k] = dc[k] * s.cPrev[k] * s.gf[k] * (1 - s.gf[k])
				da[2*H+k] = dc[k] * s.gi[k] * (1 - s.gg[k]*s.gg[k])
				da[3*H+k] = dGout * s.gout[k] * (1 - s.gout[k])
			}

			hPrev := make([]float64, H)
			if t > 0 {
				hPrev = cache.steps[b][t-1].h
			}
			addOuter(g.wLSTMx, 4*H, m.cfg.InputSize, da, s.x)
			addOuter(g.wLSTMh, 4*H, H, da, hPrev)
			addVec(g.bLSTM, da)
			dhNext = matTVec(m.wLSTMh, da)
			for k := 0; k < H; k++ {
				dcNext[k] = dc[k] * s.gf[k]
			}

			dx := matTVec(m.wLSTMx, da)
			dv1 := dx
			if s.m1 != nil {
				dv1 = mulVec(dx, s.m1)
			}
			da1 := make([]float64, len(dv1))
			for k := range da1 {
				da1[k] = dv1[k] * (1 - s.v1[k]*s.v1[k])
			}
			addOuter(g.wIn, m.cfg.InputSize, rawDim, da1, s.raw)
			addVec(g.bIn, da1)

			draw := matTVec(m.wIn, da1)
			off := 0
			for f, width := range m.cfg.EmbDims {
				code := batch.CatFeats[b][t][f]
				if code != 0 {
					row := g.embeddings[f][code*width : (code+1)*width]
					addVec(row, draw[off:off+width])
				}
				off += width
			}
			// The numeric tail of draw has no parameters behind it.
		}
	}

	return loss, oj, g.flat(), nil
}

// gradients accumulates parameter gradients in buffers laid out exactly like
// the corresponding Params entries.
type gradients struct {
	embeddings [][]float64
	wIn, bIn   []float64
	wLSTMx     []float64
	wLSTMh     []float64
	bLSTM      []float64
	wHid, bHid []float64
	wOut, bOut []float64
}

func (m *Model) newGradients() *gradients {
	g := &gradients{
		embeddings: make([][]float64, len(m.embeddings)),
		wIn:        make([]float64, m.cfg.InputSize*m.cfg.rawDim()),
		bIn:        make([]float64, m.cfg.InputSize),
		wLSTMx:     make([]float64, 4*m.cfg.LSTMHiddenSize*m.cfg.InputSize),
		wLSTMh:     make([]float64, 4*m.cfg.LSTMHiddenSize*m.cfg.LSTMHiddenSize),
		bLSTM:      make([]float64, 4*m.cfg.LSTMHiddenSize),
		wHid:       make([]float64, m.cfg.HiddenSize*m.cfg.LSTMHiddenSize),
		bHid:       make([]float64, m.cfg.HiddenSize),
		wOut:       make([]float64, m.cfg.HiddenSize),
		bOut:       make([]float64, 1),
	}
	for f, size := range m.cfg.CatSizes {
		g.embeddings[f] = make([]float64, (size+1)*m.cfg.EmbDims[f])
	}
	return g
}

// flat returns the gradient buffers in Params order.
func (g *gradients) flat() [][]float64 {
	out := make([][]float64, 0, len(g.embeddings)+9)
	out = append(out, g.embeddings...)
	return append(out,
		g.wIn, g.bIn, g.wLSTMx, g.wLSTMh, g.bLSTM, g.wHid, g.bHid, g.wOut, g.bOut)
}

// addOuter accumulates the outer product u·vᵀ into a row-major rows×cols
// buffer.
func addOuter(dst []float64, rows, cols int, u, v []float64) {
	for r := 0; r < rows; r++ {
		ur := u[r]
		if ur == 0 {
			continue
		}
		row := dst[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			row[c] += ur * v[c]
		}
	}
}
