package train

import (
	"fmt"
	"math"
	"sort"

	"revisit/datasets"
)

// RMSE measures prediction error over subjects with an observed return;
// censored subjects have no ground-truth return time and are skipped. With no
// observed returns at all it returns NaN.
func RMSE(preds, targets []float64) float64 {
	sum, n := 0.0, 0
	for i, tgt := range targets {
		if tgt == datasets.Censored {
			continue
		}
		d := preds[i] - tgt
		sum += d * d
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}

// ChurnRecall treats censored subjects as the positive class and a predicted
// return past predEnd as a positive call. With no censored subjects in the
// slice it returns 0.
func ChurnRecall(preds, targets []float64, predEnd float64) float64 {
	tp, pos := 0, 0
	for i, tgt := range targets {
		if tgt != datasets.Censored {
			continue
		}
		pos++
		if preds[i] > predEnd {
			tp++
		}
	}
	if pos == 0 {
		return 0
	}
	return float64(tp) / float64(pos)
}

// ChurnAUC ranks subjects by predicted return time and measures how well
// that ranking separates censored subjects (late predictions) from returned
// ones. It is the Mann-Whitney statistic with midrank tie handling. Both
// classes must be present.
func ChurnAUC(preds, targets []float64) (float64, error) {
	type scored struct {
		score float64
		churn bool
	}
	items := make([]scored, len(preds))
	nPos, nNeg := 0, 0
	for i := range preds {
		churn := targets[i] == datasets.Censored
		items[i] = scored{preds[i], churn}
		if churn {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0, fmt.Errorf("need both censored and returned subjects, got %d/%d", nPos, nNeg)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	rankSum := 0.0
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		midrank := float64(i+j+1) / 2 // 1-based average rank of the tie block
		for k := i; k < j; k++ {
			if items[k].churn {
				rankSum += midrank
			}
		}
		i = j
	}
	u := rankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}
