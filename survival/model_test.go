package survival

import (
	"math"
	"path/filepath"
	"testing"

	"revisit/datasets"
)

func testConfig(dropout float64) Config {
	return Config{
		CatSizes:         []int{3, 2},
		EmbDims:          []int{2, 2},
		NumFeats:         1,
		InputSize:        6,
		LSTMHiddenSize:   5,
		HiddenSize:       4,
		Dropout:          dropout,
		W:                0.1,
		TimeScale:        1.0,
		IntegrationSteps: 200,
		Seed:             42,
	}
}

func testBatch(t *testing.T) *datasets.Batch {
	t.Helper()
	seqs := []*datasets.Sequence{
		{
			SubjectID: "a",
			Events: []datasets.Event{
				{Timestamp: 1.0, Cats: []int{1, 2}, Nums: []float64{0.5}},
				{Timestamp: 3.0, Cats: []int{2, 1}, Nums: []float64{-0.5}},
				{Timestamp: 6.0, Cats: []int{3, 1}, Nums: []float64{0.0}},
			},
			Target: 9.0,
		},
		{
			SubjectID: "b",
			Events: []datasets.Event{
				{Timestamp: 2.0, Cats: []int{3, 1}, Nums: []float64{1.5}},
				{Timestamp: 5.0, Cats: []int{1, 2}, Nums: []float64{2.5}},
			},
			Target: datasets.Censored,
		},
	}
	b, err := datasets.BuildBatch(seqs, 12.0)
	if err != nil {
		t.Fatalf("BuildBatch error: %v", err)
	}
	return b
}

func TestForwardShapesAndDeterminism(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	b := testBatch(t)

	oj, err := m.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if len(oj) != 2 || len(oj[0]) != 3 || len(oj[1]) != 3 {
		t.Fatalf("unexpected output shape: %dx%d", len(oj), len(oj[0]))
	}
	for bi := range oj {
		for ti := 0; ti < b.Lengths[bi]; ti++ {
			if math.IsNaN(oj[bi][ti]) || math.IsInf(oj[bi][ti], 0) {
				t.Fatalf("non-finite output at [%d][%d]: %v", bi, ti, oj[bi][ti])
			}
		}
	}
	// Padding positions are defined as zero.
	if oj[1][2] != 0 {
		t.Fatalf("padding output = %v, want 0", oj[1][2])
	}

	again, err := m.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	for bi := range oj {
		for ti := range oj[bi] {
			if oj[bi][ti] != again[bi][ti] {
				t.Fatalf("inference forward is not deterministic at [%d][%d]", bi, ti)
			}
		}
	}

	m2, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	other, err := m2.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	for bi := range oj {
		for ti := range oj[bi] {
			if oj[bi][ti] != other[bi][ti] {
				t.Fatalf("same seed produced different outputs at [%d][%d]", bi, ti)
			}
		}
	}

	loss, err := m.ComputeLoss(b.Gaps, b.PaddingMask, b.ReturnMask, oj)
	if err != nil {
		t.Fatalf("ComputeLoss error: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("non-finite loss: %v", loss)
	}
	for bi, length := range b.Lengths {
		lastT := b.Timestamps[bi][length-1]
		pred := m.PredictStandard(oj[bi][length-1], lastT)
		if math.IsNaN(pred) || pred < lastT {
			t.Fatalf("sequence %d: prediction %v precedes last event %v", bi, pred, lastT)
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	b := testBatch(t)

	badCats := [][][]int{{{99, 1}, {1, 1}, {0, 0}}, b.CatFeats[1]}
	if _, err := m.Forward(badCats, b.NumFeats, b.Lengths, false); err == nil {
		t.Fatalf("expected error for out-of-range categorical code")
	}

	badLens := []int{3, 9}
	if _, err := m.Forward(b.CatFeats, b.NumFeats, badLens, false); err == nil {
		t.Fatalf("expected error for length beyond padded width")
	}
}

func TestLossMatchesHandComputation(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	// One position, o = 0, gap = 2, w = 0.1: survival term (e^0.2 − 1)/0.1,
	// return term −0.2.
	gaps := [][]float64{{2.0}}
	padding := [][]bool{{false}}
	returns := [][]bool{{true}}
	hazard := [][]float64{{0.0}}

	loss, grad, err := m.lossTerms(gaps, padding, returns, hazard)
	if err != nil {
		t.Fatalf("lossTerms error: %v", err)
	}
	const wantLoss = 2.2140275816016983 - 0.2
	if math.Abs(loss-wantLoss) > 1e-12 {
		t.Fatalf("loss = %.16f, want %.16f", loss, wantLoss)
	}
	const wantGrad = 2.2140275816016983 - 1.0
	if math.Abs(grad[0][0]-wantGrad) > 1e-12 {
		t.Fatalf("grad = %.16f, want %.16f", grad[0][0], wantGrad)
	}
}

func TestLossCensoredOnlyIsFinite(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	gaps := [][]float64{{1.0, 4.0}}
	padding := [][]bool{{false, false}}
	returns := [][]bool{{false, false}}
	hazard := [][]float64{{-0.5, -1.0}}

	loss, err := m.ComputeLoss(gaps, padding, returns, hazard)
	if err != nil {
		t.Fatalf("ComputeLoss error: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("censored-only loss is not finite: %v", loss)
	}
}

func TestLossAllPaddingIsZero(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	loss, err := m.ComputeLoss(
		[][]float64{{0, 0}},
		[][]bool{{true, true}},
		[][]bool{{false, false}},
		[][]float64{{0, 0}},
	)
	if err != nil {
		t.Fatalf("ComputeLoss error: %v", err)
	}
	if loss != 0 {
		t.Fatalf("all-padding loss = %v, want 0", loss)
	}
}

func TestLossPermutationInvariant(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	gaps := [][]float64{{2, 3, 3}, {3, 7, 0}}
	padding := [][]bool{{false, false, false}, {false, false, true}}
	returns := [][]bool{{false, false, true}, {false, false, false}}
	hazard := [][]float64{{-0.2, 0.1, -0.4}, {0.3, -0.1, 0}}

	a, err := m.ComputeLoss(gaps, padding, returns, hazard)
	if err != nil {
		t.Fatalf("ComputeLoss error: %v", err)
	}
	swap := func(x [][]float64) [][]float64 { return [][]float64{x[1], x[0]} }
	swapB := func(x [][]bool) [][]bool { return [][]bool{x[1], x[0]} }
	b, err := m.ComputeLoss(swap(gaps), swapB(padding), swapB(returns), swap(hazard))
	if err != nil {
		t.Fatalf("ComputeLoss error: %v", err)
	}
	if math.Abs(a-b) > 1e-12 {
		t.Fatalf("loss changed under batch permutation: %v vs %v", a, b)
	}
}

func TestLossRejectsReturnOnPadding(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	_, err = m.ComputeLoss(
		[][]float64{{1, 0}},
		[][]bool{{false, true}},
		[][]bool{{false, true}},
		[][]float64{{0, 0}},
	)
	if err == nil {
		t.Fatalf("expected error for return flag on a padding step")
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	b := testBatch(t)

	lossAt := func() float64 {
		oj, err := m.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
		if err != nil {
			t.Fatalf("Forward error: %v", err)
		}
		loss, err := m.ComputeLoss(b.Gaps, b.PaddingMask, b.ReturnMask, oj)
		if err != nil {
			t.Fatalf("ComputeLoss error: %v", err)
		}
		return loss
	}

	_, _, grads, err := m.LossGradients(b)
	if err != nil {
		t.Fatalf("LossGradients error: %v", err)
	}
	params := m.Params()
	if len(grads) != len(params) {
		t.Fatalf("%d gradient groups for %d parameter groups", len(grads), len(params))
	}

	const eps = 1e-6
	for gi := range params {
		if len(grads[gi]) != len(params[gi]) {
			t.Fatalf("group %d: gradient has %d entries, parameters %d", gi, len(grads[gi]), len(params[gi]))
		}
		stride := len(params[gi])/5 + 1
		for i := 0; i < len(params[gi]); i += stride {
			orig := params[gi][i]
			params[gi][i] = orig + eps
			up := lossAt()
			params[gi][i] = orig - eps
			down := lossAt()
			params[gi][i] = orig

			numeric := (up - down) / (2 * eps)
			analytic := grads[gi][i]
			diff := math.Abs(numeric - analytic)
			scale := math.Max(1.0, math.Max(math.Abs(numeric), math.Abs(analytic)))
			if diff/scale > 1e-4 {
				t.Fatalf("group %d entry %d: analytic %v vs numeric %v", gi, i, analytic, numeric)
			}
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	b := testBatch(t)
	before, err := m.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	cfg := testConfig(0)
	cfg.Seed = 999 // different init, must be fully overwritten by Load
	other, err := NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if err := other.Load(path); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	after, err := other.Forward(b.CatFeats, b.NumFeats, b.Lengths, false)
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	for bi := range before {
		for ti := range before[bi] {
			if before[bi][ti] != after[bi][ti] {
				t.Fatalf("loaded model diverges at [%d][%d]: %v vs %v",
					bi, ti, before[bi][ti], after[bi][ti])
			}
		}
	}
}

func TestLoadRejectsMismatchedShape(t *testing.T) {
	m, err := NewModel(testConfig(0))
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	cfg := testConfig(0)
	cfg.HiddenSize = 8
	other, err := NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if err := other.Load(path); err == nil {
		t.Fatalf("expected error for mismatched bundle shapes")
	}
}
