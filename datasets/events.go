package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Event is one observed interaction of a subject: an absolute timestamp plus
// the categorical codes and numeric features recorded at that moment.
type Event struct {
	Timestamp float64
	Cats      []int
	Nums      []float64
}

// Sequence is one subject's ordered event history inside the activity window.
// Target is the absolute timestamp of the subject's first return inside the
// prediction window, or Censored when no return was observed.
type Sequence struct {
	SubjectID string
	Events    []Event
	Target    float64
}

// Censored marks a sequence whose subject did not return inside the
// prediction window.
const Censored = -1.0

// SequenceDataset holds sequences in memory and serves padded batches. It is
// built either from a CSV event log (FromCSV) or from generated sequences
// (FromSequences).
type SequenceDataset struct {
	// BatchSize is used by Yield when serving gomlx training loops.
	BatchSize int

	// PredictionEnd is the right edge of the prediction window; it becomes the
	// censoring horizon for sequences without an observed return.
	PredictionEnd float64

	seqs   []*Sequence
	cursor int
}

// FromSequences wraps already-built sequences into a dataset.
func FromSequences(seqs []*Sequence, predictionEnd float64) (*SequenceDataset, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences provided")
	}
	for i, s := range seqs {
		if len(s.Events) == 0 {
			return nil, fmt.Errorf("sequence %d (%s) has no events", i, s.SubjectID)
		}
	}
	return &SequenceDataset{
		BatchSize:     32,
		PredictionEnd: predictionEnd,
		seqs:          seqs,
	}, nil
}

// Len returns the number of sequences in the dataset. A nil dataset is
// empty, so a missing validation split can be passed around safely.
func (d *SequenceDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.seqs)
}

// SequenceAt returns the sequence at index i.
func (d *SequenceDataset) SequenceAt(i int) (*Sequence, error) {
	if i < 0 || i >= len(d.seqs) {
		return nil, fmt.Errorf("sequence index %d out of range [0,%d)", i, len(d.seqs))
	}
	return d.seqs[i], nil
}

// Shuffle reorders the sequences with the given seed. Batch boundaries move
// accordingly on the next Batches or Yield pass.
func (d *SequenceDataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.seqs), func(i, j int) {
		d.seqs[i], d.seqs[j] = d.seqs[j], d.seqs[i]
	})
}

// Batches partitions the dataset into padded batches of at most batchSize
// sequences, in current dataset order.
func (d *SequenceDataset) Batches(batchSize int) ([]*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	var out []*Batch
	for start := 0; start < len(d.seqs); start += batchSize {
		end := start + batchSize
		if end > len(d.seqs) {
			end = len(d.seqs)
		}
		b, err := BuildBatch(d.seqs[start:end], d.PredictionEnd)
		if err != nil {
			return nil, fmt.Errorf("batch starting at sequence %d: %w", start, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Split partitions the dataset into a train and validation dataset, with
// valFraction of sequences (rounded down, at least one when possible) going
// to validation. Current dataset order is preserved; Shuffle first for a
// random split.
func (d *SequenceDataset) Split(valFraction float64) (*SequenceDataset, *SequenceDataset, error) {
	if valFraction < 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction must be in [0,1), got %v", valFraction)
	}
	nVal := int(float64(len(d.seqs)) * valFraction)
	if nVal == 0 && valFraction > 0 && len(d.seqs) > 1 {
		nVal = 1
	}
	nTrain := len(d.seqs) - nVal
	if nTrain == 0 {
		return nil, nil, fmt.Errorf("split leaves no training sequences")
	}
	train, err := FromSequences(d.seqs[:nTrain], d.PredictionEnd)
	if err != nil {
		return nil, nil, err
	}
	train.BatchSize = d.BatchSize
	if nVal == 0 {
		return train, nil, nil
	}
	val, err := FromSequences(d.seqs[nTrain:], d.PredictionEnd)
	if err != nil {
		return nil, nil, err
	}
	val.BatchSize = d.BatchSize
	return train, val, nil
}

// Yield returns the next batch as gomlx tensors, for gomlx's train.Dataset
// interface. Inputs are [categorical codes, numeric features, lengths];
// labels are the per-sequence target timestamps. Returns io.EOF when the
// epoch is exhausted; Restart resets the cursor.
func (d *SequenceDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.cursor >= len(d.seqs) {
		return nil, nil, nil, io.EOF
	}
	end := d.cursor + d.BatchSize
	if end > len(d.seqs) {
		end = len(d.seqs)
	}
	b, err := BuildBatch(d.seqs[d.cursor:end], d.PredictionEnd)
	if err != nil {
		return nil, nil, nil, err
	}
	d.cursor = end

	flat, err := b.Flatten()
	if err != nil {
		return nil, nil, nil, err
	}
	cats, nums, lengths, targets, err := flat.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{cats, nums, lengths}, []*tensors.Tensor{targets}, nil
}

// Restart resets the Yield cursor for a new epoch.
func (d *SequenceDataset) Restart() error {
	d.cursor = 0
	return nil
}

// sortEventsByTime orders events chronologically in place.
func sortEventsByTime(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}
