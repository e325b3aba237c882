package survival

import (
	"fmt"
	"math"
)

// ComputeLoss evaluates the censoring-aware negative log-likelihood of a
// batch of hazard outputs against its time gaps and masks.
//
// For each non-padded position with output o and scaled gap Δ the survival
// part contributes −(e^o − e^{o+w·Δ})/w, averaged over the non-padded count.
// Positions flagged as observed returns additionally contribute −(o + w·Δ),
// averaged over the return count. Censored positions only carry the survival
// part, which is what makes censoring informative rather than discarded.
func (m *Model) ComputeLoss(gaps [][]float64, paddingMask, returnMask [][]bool, hazard [][]float64) (float64, error) {
	loss, _, err := m.lossTerms(gaps, paddingMask, returnMask, hazard)
	return loss, err
}

// lossTerms computes the loss together with ∂loss/∂o per position. The
// survival term is its own derivative with respect to o, so the gradient
// reuses it directly; return-flagged positions add the −1 from the log-hazard
// term, each under its own averaging count.
func (m *Model) lossTerms(gaps [][]float64, paddingMask, returnMask [][]bool, hazard [][]float64) (float64, [][]float64, error) {
	B := len(hazard)
	if B == 0 {
		return 0, nil, fmt.Errorf("empty batch")
	}
	if len(gaps) != B || len(paddingMask) != B || len(returnMask) != B {
		return 0, nil, fmt.Errorf("batch size disagreement: hazard=%d gaps=%d padding=%d returns=%d",
			B, len(gaps), len(paddingMask), len(returnMask))
	}
	T := len(hazard[0])
	for b := 0; b < B; b++ {
		if len(hazard[b]) != T || len(gaps[b]) != T || len(paddingMask[b]) != T || len(returnMask[b]) != T {
			return 0, nil, fmt.Errorf("sequence %d rows are not all padded to %d steps", b, T)
		}
		for t := 0; t < T; t++ {
			if paddingMask[b][t] && returnMask[b][t] {
				return 0, nil, fmt.Errorf("sequence %d step %d is flagged both padding and return", b, t)
			}
		}
	}

	nPos, nRet := 0, 0
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			if !paddingMask[b][t] {
				nPos++
			}
			if returnMask[b][t] {
				nRet++
			}
		}
	}

	w := m.cfg.W
	loss := 0.0
	grad := make([][]float64, B)
	for b := 0; b < B; b++ {
		grad[b] = make([]float64, T)
		for t := 0; t < T; t++ {
			if paddingMask[b][t] {
				continue
			}
			o := hazard[b][t]
			p := o + w*gaps[b][t]*m.cfg.TimeScale
			term := -(math.Exp(o) - math.Exp(p)) / w
			loss += term / float64(nPos)
			grad[b][t] = term / float64(nPos)
			if returnMask[b][t] {
				loss += -p / float64(nRet)
				grad[b][t] += -1.0 / float64(nRet)
			}
		}
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, fmt.Errorf("loss is not finite; hazard outputs or gaps have diverged")
	}
	return loss, grad, nil
}
