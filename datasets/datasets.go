// Package datasets turns raw event logs into the padded, masked batches the
// survival model consumes.
//
// An event log is a set of (subject, timestamp, categorical codes, numeric
// features) rows. Each subject's rows become one Sequence; sequences are
// padded into rectangular Batches with explicit padding and return-event
// masks so downstream code never has to guess which positions are real.
//
// Notes on gomlx tensors:
//   - Batches can be flattened into contiguous buffers and converted into
//     gomlx tensors (see BatchFlat and ToGomlxTensors). The conversion is kept
//     as a small, well-defined step so the rest of the package has no opinion
//     about which runtime consumes the data.
//
// Categorical codes are 1-indexed; code 0 is reserved for "none"/padding and
// maps to a frozen zero embedding in the model.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Dataset is the batch-serving surface shared by the event-log and synthetic
// datasets.
type Dataset interface {
	Len() int
	SequenceAt(i int) (*Sequence, error)
	Batches(batchSize int) ([]*Batch, error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface.
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Restart() error
}
