package survival

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Model is the recurrent survival model. Feature encoder: per-field
// embeddings (row 0 frozen to zero) concatenated with numeric features, then
// dense → tanh → dropout. Sequence encoder: a single-layer LSTM over the
// encoded steps, then dense → tanh → dropout and a final scalar head whose
// unconstrained output o_j is the log baseline intensity at step j.
type Model struct {
	cfg Config
	rng *rand.Rand

	// embeddings[f] is (CatSizes[f]+1) × EmbDims[f]; row 0 stays zero and
	// never receives gradient.
	embeddings []*mat.Dense

	wIn *mat.Dense // InputSize × rawDim
	bIn *mat.VecDense

	// LSTM gate weights stacked in i,f,g,o order.
	wLSTMx *mat.Dense // 4H × InputSize
	wLSTMh *mat.Dense // 4H × H
	bLSTM  *mat.VecDense

	wHid *mat.Dense // HiddenSize × H
	bHid *mat.VecDense

	wOut *mat.VecDense // HiddenSize
	bOut *mat.VecDense // length 1
}

// NewModel creates a model with the provided configuration, applying defaults
// for zero fields and validating the result. Weights are initialized with a
// seeded Xavier/Glorot uniform heuristic.
func NewModel(cfg Config) (*Model, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	m := &Model{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}

	m.embeddings = make([]*mat.Dense, len(cfg.CatSizes))
	for f, size := range cfg.CatSizes {
		emb := mat.NewDense(size+1, cfg.EmbDims[f], nil)
		for r := 1; r <= size; r++ {
			for c := 0; c < cfg.EmbDims[f]; c++ {
				emb.Set(r, c, m.xavier(size+1, cfg.EmbDims[f]))
			}
		}
		// Row 0 is the "none"/padding code and stays the zero vector.
		m.embeddings[f] = emb
	}

	rawDim := cfg.rawDim()
	H := cfg.LSTMHiddenSize
	m.wIn = m.newDense(cfg.InputSize, rawDim)
	m.bIn = mat.NewVecDense(cfg.InputSize, nil)
	m.wLSTMx = m.newDense(4*H, cfg.InputSize)
	m.wLSTMh = m.newDense(4*H, H)
	m.bLSTM = mat.NewVecDense(4*H, nil)
	m.wHid = m.newDense(cfg.HiddenSize, H)
	m.bHid = mat.NewVecDense(cfg.HiddenSize, nil)
	m.wOut = mat.NewVecDense(cfg.HiddenSize, nil)
	for k := 0; k < cfg.HiddenSize; k++ {
		m.wOut.SetVec(k, m.xavier(cfg.HiddenSize, 1))
	}
	m.bOut = mat.NewVecDense(1, nil)

	return m, nil
}

// Config returns the model's (defaulted) configuration.
func (m *Model) Config() Config { return m.cfg }

func (m *Model) newDense(rows, cols int) *mat.Dense {
	d := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d.Set(r, c, m.xavier(cols, rows))
		}
	}
	return d
}

// xavier draws one weight from the Xavier/Glorot uniform heuristic.
func (m *Model) xavier(fanIn, fanOut int) float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return (m.rng.Float64()*2.0 - 1.0) * limit
}

// stepCache keeps the per-step activations needed by backpropagation.
type stepCache struct {
	raw   []float64
	v1    []float64 // tanh of the input projection
	m1    []float64 // dropout mask with inverted scaling, nil if inactive
	x     []float64 // encoder output, LSTM input
	gi    []float64
	gf    []float64
	gg    []float64
	gout  []float64
	cPrev []float64
	c     []float64
	tanhC []float64
	h     []float64
	v2    []float64
	m2    []float64
	z     []float64
}

type fwdCache struct {
	steps [][]stepCache // [sequence][step], real steps only
}

// Forward encodes a padded batch and returns the hazard outputs o_j, shaped
// batch × max length. Padding positions are numerically defined (zero) but
// carry no meaning; callers must mask them. training toggles the stochastic
// dropout masks; there is no process-wide mode switch.
func (m *Model) Forward(catFeats [][][]int, numFeats [][][]float64, lengths []int, training bool) ([][]float64, error) {
	oj, _, err := m.forward(catFeats, numFeats, lengths, training, false)
	return oj, err
}

func (m *Model) forward(catFeats [][][]int, numFeats [][][]float64, lengths []int, training, withCache bool) ([][]float64, *fwdCache, error) {
	if err := m.checkForwardShapes(catFeats, numFeats, lengths); err != nil {
		return nil, nil, err
	}
	B := len(catFeats)
	T := len(catFeats[0])
	H := m.cfg.LSTMHiddenSize

	var cache *fwdCache
	if withCache {
		cache = &fwdCache{steps: make([][]stepCache, B)}
		for b := 0; b < B; b++ {
			cache.steps[b] = make([]stepCache, lengths[b])
		}
	}

	// Encode every real step: embeddings + numeric features, dense, tanh,
	// dropout.
	xs := make([][][]float64, B)
	for b := 0; b < B; b++ {
		xs[b] = make([][]float64, lengths[b])
		for t := 0; t < lengths[b]; t++ {
			raw := m.encodeRaw(catFeats[b][t], numFeats[b][t])
			v1 := matVec(m.wIn, raw)
			addVec(v1, m.bIn.RawVector().Data)
			tanhInPlace(v1)
			var m1 []float64
			x := v1
			if training && m.cfg.Dropout > 0 {
				m1 = m.dropoutMask(len(v1))
				x = mulVec(v1, m1)
			}
			xs[b][t] = x
			if withCache {
				s := &cache.steps[b][t]
				s.raw = raw
				s.v1 = v1
				s.m1 = m1
				s.x = x
			}
		}
	}

	// Recurrent pass, time-major over an arena of indices sorted by
	// descending length so each time step touches a contiguous active prefix.
	// Hidden states stay keyed by original batch index, so no output
	// reordering is needed afterwards.
	order := sortByLengthDesc(lengths)
	hState := make([][]float64, B)
	cState := make([][]float64, B)
	for b := 0; b < B; b++ {
		hState[b] = make([]float64, H)
		cState[b] = make([]float64, H)
	}
	hs := make([][][]float64, B)
	for b := 0; b < B; b++ {
		hs[b] = make([][]float64, lengths[b])
	}
	for t := 0; t < T; t++ {
		for k := 0; k < len(order) && lengths[order[k]] > t; k++ {
			b := order[k]
			var s *stepCache
			if withCache {
				s = &cache.steps[b][t]
			}
			h, c := m.lstmStep(xs[b][t], hState[b], cState[b], s)
			hState[b] = h
			cState[b] = c
			hs[b][t] = h
		}
	}

	// Post-recurrent projection and scalar hazard head.
	oj := make([][]float64, B)
	for b := 0; b < B; b++ {
		oj[b] = make([]float64, T)
		for t := 0; t < lengths[b]; t++ {
			v2 := matVec(m.wHid, hs[b][t])
			addVec(v2, m.bHid.RawVector().Data)
			tanhInPlace(v2)
			var m2 []float64
			z := v2
			if training && m.cfg.Dropout > 0 {
				m2 = m.dropoutMask(len(v2))
				z = mulVec(v2, m2)
			}
			oj[b][t] = dot(m.wOut.RawVector().Data, z) + m.bOut.AtVec(0)
			if withCache {
				s := &cache.steps[b][t]
				s.v2 = v2
				s.m2 = m2
				s.z = z
			}
		}
	}

	return oj, cache, nil
}

// encodeRaw concatenates the embedding rows for the step's categorical codes
// with its numeric features. Codes were range-checked beforehand.
func (m *Model) encodeRaw(cats []int, nums []float64) []float64 {
	raw := make([]float64, 0, m.cfg.rawDim())
	for f, code := range cats {
		raw = append(raw, m.embeddings[f].RawRowView(code)...)
	}
	raw = append(raw, nums...)
	return raw
}

// lstmStep advances one sequence by one step, optionally filling the cache.
func (m *Model) lstmStep(x, hPrev, cPrev []float64, s *stepCache) (h, c []float64) {
	H := m.cfg.LSTMHiddenSize
	a := matVec(m.wLSTMx, x)
	ah := matVec(m.wLSTMh, hPrev)
	addVec(a, ah)
	addVec(a, m.bLSTM.RawVector().Data)

	gi := make([]float64, H)
	gf := make([]float64, H)
	gg := make([]float64, H)
	gout := make([]float64, H)
	for k := 0; k < H; k++ {
		gi[k] = sigmoid(a[k])
		gf[k] = sigmoid(a[H+k])
		gg[k] = math.Tanh(a[2*H+k])
		gout[k] = sigmoid(a[3*H+k])
	}

	c = make([]float64, H)
	tanhC := make([]float64, H)
	h = make([]float64, H)
	for k := 0; k < H; k++ {
		c[k] = gf[k]*cPrev[k] + gi[k]*gg[k]
		tanhC[k] = math.Tanh(c[k])
		h[k] = gout[k] * tanhC[k]
	}

	if s != nil {
		s.gi, s.gf, s.gg, s.gout = gi, gf, gg, gout
		s.cPrev = append([]float64(nil), cPrev...)
		s.c = c
		s.tanhC = tanhC
		s.h = h
	}
	return h, c
}

// checkForwardShapes fails fast on any shape or code-range violation.
func (m *Model) checkForwardShapes(catFeats [][][]int, numFeats [][][]float64, lengths []int) error {
	B := len(catFeats)
	if B == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(numFeats) != B || len(lengths) != B {
		return fmt.Errorf("batch size disagreement: cats=%d nums=%d lengths=%d", B, len(numFeats), len(lengths))
	}
	T := len(catFeats[0])
	for b := 0; b < B; b++ {
		if len(catFeats[b]) != T || len(numFeats[b]) != T {
			return fmt.Errorf("sequence %d is not padded to max length %d", b, T)
		}
		if lengths[b] < 1 || lengths[b] > T {
			return fmt.Errorf("sequence %d has length %d outside [1,%d]", b, lengths[b], T)
		}
		for t := 0; t < T; t++ {
			if len(catFeats[b][t]) != len(m.cfg.CatSizes) {
				return fmt.Errorf("sequence %d step %d: %d categorical codes, model expects %d",
					b, t, len(catFeats[b][t]), len(m.cfg.CatSizes))
			}
			for f, code := range catFeats[b][t] {
				if code < 0 || code > m.cfg.CatSizes[f] {
					return fmt.Errorf("sequence %d step %d: categorical code %d out of range [0,%d] for field %d",
						b, t, code, m.cfg.CatSizes[f], f)
				}
			}
			if len(numFeats[b][t]) != m.cfg.NumFeats {
				return fmt.Errorf("sequence %d step %d: %d numeric features, model expects %d",
					b, t, len(numFeats[b][t]), m.cfg.NumFeats)
			}
		}
	}
	return nil
}

// dropoutMask draws an inverted-scaling dropout mask: zero with probability
// Dropout, 1/(1−Dropout) otherwise.
func (m *Model) dropoutMask(n int) []float64 {
	keep := 1.0 - m.cfg.Dropout
	mask := make([]float64, n)
	for i := range mask {
		if m.rng.Float64() >= m.cfg.Dropout {
			mask[i] = 1.0 / keep
		}
	}
	return mask
}

// sortByLengthDesc returns batch indices ordered by descending sequence
// length; ties keep original batch order.
func sortByLengthDesc(lengths []int) []int {
	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	// Insertion sort keeps this dependency-free and stable; batches are small.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && lengths[order[j]] > lengths[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}
