package survival

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// matVec computes W·x into a fresh slice.
func matVec(w *mat.Dense, x []float64) []float64 {
	rows, _ := w.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(w, mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

// matTVec computes Wᵀ·x into a fresh slice.
func matTVec(w *mat.Dense, x []float64) []float64 {
	_, cols := w.Dims()
	out := mat.NewVecDense(cols, nil)
	out.MulVec(w.T(), mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

func addVec(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// mulVec returns the elementwise product a⊙b.
func mulVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = a[i] * b[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func tanhInPlace(v []float64) {
	for i := range v {
		v[i] = math.Tanh(v[i])
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
