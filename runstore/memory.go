package runstore

import (
	"context"
	"fmt"
	"sync"

	"revisit/train"
)

// MemoryStore keeps runs in process memory. Useful for tests and throwaway
// experiments.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]Run
	epochs map[string][]train.EpochStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]Run),
		epochs: make(map[string][]train.EpochStats),
	}
}

func (s *MemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryStore) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) AppendEpoch(ctx context.Context, runID string, stats train.EpochStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	s.epochs[runID] = append(s.epochs[runID], stats)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListEpochs(ctx context.Context, runID string) ([]train.EpochStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]train.EpochStats(nil), s.epochs[runID]...), nil
}
