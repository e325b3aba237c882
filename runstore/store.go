// Package runstore records training runs and their per-epoch metrics so
// experiments can be compared after the fact.
package runstore

import (
	"context"
	"time"

	"revisit/train"
)

// Run is one training run: its configuration snapshot and free-form notes.
type Run struct {
	ID         string
	CreatedAt  time.Time
	ConfigJSON string
	Notes      string
}

// Store persists runs and epoch histories. Implementations must be safe for
// concurrent use.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	AppendEpoch(ctx context.Context, runID string, stats train.EpochStats) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListEpochs(ctx context.Context, runID string) ([]train.EpochStats, error)
}
