package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is a rectangular collection of padded sequences sharing one max
// length. Shapes: Timestamps, Gaps, PaddingMask, ReturnMask are B×T;
// CatFeats is B×T×F; NumFeats is B×T×N; Lengths and Targets are length B.
//
// Gap convention: position j of a sequence carries t_{j+1}−t_j for
// non-terminal real steps. The last real step carries the gap to the observed
// return when one happened inside the prediction window (and ReturnMask is
// set there), otherwise the right-censored gap to the prediction-window end.
type Batch struct {
	Timestamps  [][]float64
	CatFeats    [][][]int
	NumFeats    [][][]float64
	Gaps        [][]float64
	PaddingMask [][]bool
	ReturnMask  [][]bool
	Lengths     []int
	Targets     []float64
}

// BuildBatch pads a group of sequences into one Batch. predictionEnd is the
// censoring horizon used for the terminal gap of sequences with no observed
// return. All sequences must agree on categorical arity and numeric width,
// and events must be chronologically ordered.
func BuildBatch(seqs []*Sequence, predictionEnd float64) (*Batch, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("cannot build a batch from zero sequences")
	}

	maxLen := 0
	catArity := len(seqs[0].Events[0].Cats)
	numDim := len(seqs[0].Events[0].Nums)
	for i, s := range seqs {
		if len(s.Events) == 0 {
			return nil, fmt.Errorf("sequence %d (%s) has no events", i, s.SubjectID)
		}
		if len(s.Events) > maxLen {
			maxLen = len(s.Events)
		}
	}

	b := &Batch{
		Timestamps:  make([][]float64, len(seqs)),
		CatFeats:    make([][][]int, len(seqs)),
		NumFeats:    make([][][]float64, len(seqs)),
		Gaps:        make([][]float64, len(seqs)),
		PaddingMask: make([][]bool, len(seqs)),
		ReturnMask:  make([][]bool, len(seqs)),
		Lengths:     make([]int, len(seqs)),
		Targets:     make([]float64, len(seqs)),
	}

	for i, s := range seqs {
		L := len(s.Events)
		b.Lengths[i] = L
		b.Targets[i] = s.Target
		b.Timestamps[i] = make([]float64, maxLen)
		b.CatFeats[i] = make([][]int, maxLen)
		b.NumFeats[i] = make([][]float64, maxLen)
		b.Gaps[i] = make([]float64, maxLen)
		b.PaddingMask[i] = make([]bool, maxLen)
		b.ReturnMask[i] = make([]bool, maxLen)

		for t := 0; t < maxLen; t++ {
			if t >= L {
				b.PaddingMask[i][t] = true
				b.CatFeats[i][t] = make([]int, catArity)
				b.NumFeats[i][t] = make([]float64, numDim)
				continue
			}
			ev := s.Events[t]
			if len(ev.Cats) != catArity {
				return nil, fmt.Errorf("sequence %d (%s) step %d: categorical arity %d, want %d",
					i, s.SubjectID, t, len(ev.Cats), catArity)
			}
			if len(ev.Nums) != numDim {
				return nil, fmt.Errorf("sequence %d (%s) step %d: numeric width %d, want %d",
					i, s.SubjectID, t, len(ev.Nums), numDim)
			}
			for f, c := range ev.Cats {
				if c < 0 {
					return nil, fmt.Errorf("sequence %d (%s) step %d: negative categorical code %d in field %d",
						i, s.SubjectID, t, c, f)
				}
			}
			b.Timestamps[i][t] = ev.Timestamp
			b.CatFeats[i][t] = append([]int(nil), ev.Cats...)
			b.NumFeats[i][t] = append([]float64(nil), ev.Nums...)

			switch {
			case t < L-1:
				gap := s.Events[t+1].Timestamp - ev.Timestamp
				if gap < 0 {
					return nil, fmt.Errorf("sequence %d (%s): events out of order at step %d", i, s.SubjectID, t)
				}
				b.Gaps[i][t] = gap
			case s.Target >= 0:
				gap := s.Target - ev.Timestamp
				if gap < 0 {
					return nil, fmt.Errorf("sequence %d (%s): return target %v precedes last event %v",
						i, s.SubjectID, s.Target, ev.Timestamp)
				}
				b.Gaps[i][t] = gap
				b.ReturnMask[i][t] = true
			default:
				gap := predictionEnd - ev.Timestamp
				if gap < 0 {
					return nil, fmt.Errorf("sequence %d (%s): last event %v past prediction end %v",
						i, s.SubjectID, ev.Timestamp, predictionEnd)
				}
				b.Gaps[i][t] = gap
			}
		}
	}

	return b, nil
}

// Validate checks the batch's shape invariants: rectangular tensors, lengths
// within the max length, and padding mask consistent with lengths.
func (b *Batch) Validate() error {
	n := len(b.Timestamps)
	if n == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(b.CatFeats) != n || len(b.NumFeats) != n || len(b.Gaps) != n ||
		len(b.PaddingMask) != n || len(b.ReturnMask) != n ||
		len(b.Lengths) != n || len(b.Targets) != n {
		return fmt.Errorf("batch field lengths disagree on batch size %d", n)
	}
	maxLen := len(b.Timestamps[0])
	for i := 0; i < n; i++ {
		if len(b.Timestamps[i]) != maxLen || len(b.CatFeats[i]) != maxLen ||
			len(b.NumFeats[i]) != maxLen || len(b.Gaps[i]) != maxLen ||
			len(b.PaddingMask[i]) != maxLen || len(b.ReturnMask[i]) != maxLen {
			return fmt.Errorf("sequence %d is not padded to max length %d", i, maxLen)
		}
		if b.Lengths[i] < 1 || b.Lengths[i] > maxLen {
			return fmt.Errorf("sequence %d has length %d outside [1,%d]", i, b.Lengths[i], maxLen)
		}
		for t := 0; t < maxLen; t++ {
			if b.PaddingMask[i][t] != (t >= b.Lengths[i]) {
				return fmt.Errorf("sequence %d: padding mask disagrees with length %d at step %d",
					i, b.Lengths[i], t)
			}
			if b.ReturnMask[i][t] && b.PaddingMask[i][t] {
				return fmt.Errorf("sequence %d: return mask set on padding step %d", i, t)
			}
		}
	}
	return nil
}

// BatchFlat stores a batch in flat contiguous buffers, ready for tensor
// conversion.
type BatchFlat struct {
	Cats    []int32
	Nums    []float32
	Lengths []int32
	Targets []float32

	BatchSize int
	MaxLen    int
	CatArity  int
	NumDim    int
}

// Flatten copies the batch's model inputs into contiguous buffers.
func (b *Batch) Flatten() (*BatchFlat, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	n := len(b.Timestamps)
	maxLen := len(b.Timestamps[0])
	catArity := len(b.CatFeats[0][0])
	numDim := len(b.NumFeats[0][0])

	f := &BatchFlat{
		Cats:      make([]int32, n*maxLen*catArity),
		Nums:      make([]float32, n*maxLen*numDim),
		Lengths:   make([]int32, n),
		Targets:   make([]float32, n),
		BatchSize: n,
		MaxLen:    maxLen,
		CatArity:  catArity,
		NumDim:    numDim,
	}
	for i := 0; i < n; i++ {
		f.Lengths[i] = int32(b.Lengths[i])
		f.Targets[i] = float32(b.Targets[i])
		for t := 0; t < maxLen; t++ {
			for c := 0; c < catArity; c++ {
				f.Cats[(i*maxLen+t)*catArity+c] = int32(b.CatFeats[i][t][c])
			}
			for k := 0; k < numDim; k++ {
				f.Nums[(i*maxLen+t)*numDim+k] = float32(b.NumFeats[i][t][k])
			}
		}
	}
	return f, nil
}

// ToGomlxTensors converts the flat buffers to gomlx tensors: categorical
// codes (B×T×F int32), numeric features (B×T×N float32), lengths (B int32)
// and targets (B float32).
func (f *BatchFlat) ToGomlxTensors() (cats, nums, lengths, targets *tensors.Tensor, err error) {
	if f.BatchSize == 0 || f.MaxLen == 0 {
		return nil, nil, nil, nil, fmt.Errorf("cannot convert an empty batch to tensors")
	}
	cat3 := make([][][]int32, f.BatchSize)
	num3 := make([][][]float32, f.BatchSize)
	for i := 0; i < f.BatchSize; i++ {
		cat3[i] = make([][]int32, f.MaxLen)
		num3[i] = make([][]float32, f.MaxLen)
		for t := 0; t < f.MaxLen; t++ {
			cat3[i][t] = f.Cats[(i*f.MaxLen+t)*f.CatArity : (i*f.MaxLen+t+1)*f.CatArity]
			num3[i][t] = f.Nums[(i*f.MaxLen+t)*f.NumDim : (i*f.MaxLen+t+1)*f.NumDim]
		}
	}
	cats = tensors.FromAnyValue(cat3)
	nums = tensors.FromAnyValue(num3)
	lengths = tensors.FromAnyValue(f.Lengths)
	targets = tensors.FromAnyValue(f.Targets)
	return cats, nums, lengths, targets, nil
}
