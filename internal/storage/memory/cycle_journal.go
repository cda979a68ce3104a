package memory

import (
	"context"
	"sync"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
)

// CycleJournal is an in-memory implementation of storage.CycleJournal.
type CycleJournal struct {
	mu     sync.RWMutex
	cycles []*domain.RefundCycle // insertion order
	ids    map[string]struct{}
}

// NewCycleJournal creates a new in-memory cycle journal.
func NewCycleJournal() *CycleJournal {
	return &CycleJournal{
		ids: make(map[string]struct{}),
	}
}

// Insert adds one cycle. Returns ErrDuplicateKey if the cycle id exists.
func (j *CycleJournal) Insert(_ context.Context, c *domain.RefundCycle) error {
	if c == nil || c.CycleID == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.ids[c.CycleID]; exists {
		return storage.ErrDuplicateKey
	}

	cycleCopy := *c
	j.cycles = append(j.cycles, &cycleCopy)
	j.ids[c.CycleID] = struct{}{}
	return nil
}

// GetRecent returns up to limit cycles, newest first.
func (j *CycleJournal) GetRecent(_ context.Context, limit int) ([]*domain.RefundCycle, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.cycles) {
		limit = len(j.cycles)
	}

	result := make([]*domain.RefundCycle, 0, limit)
	for i := len(j.cycles) - 1; i >= 0 && len(result) < limit; i-- {
		cycleCopy := *j.cycles[i]
		result = append(result, &cycleCopy)
	}
	return result, nil
}

// GetByPayer returns all cycles that considered payer, oldest first.
func (j *CycleJournal) GetByPayer(_ context.Context, payer string) ([]*domain.RefundCycle, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.RefundCycle
	for _, c := range j.cycles {
		if c.PayerAddress == payer {
			cycleCopy := *c
			result = append(result, &cycleCopy)
		}
	}
	return result, nil
}

var _ storage.CycleJournal = (*CycleJournal)(nil)
