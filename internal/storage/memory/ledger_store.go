package memory

import (
	"context"
	"sync"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerBackend.
// Contents are lost on restart; intended for --use-memory runs and tests.
type LedgerStore struct {
	mu      sync.RWMutex
	records []domain.TradeRecord
}

// NewLedgerStore creates an empty in-memory ledger, optionally preloaded.
func NewLedgerStore(initial ...domain.TradeRecord) *LedgerStore {
	records := make([]domain.TradeRecord, len(initial))
	copy(records, initial)
	return &LedgerStore{records: records}
}

// Load returns a copy of all records in ledger order.
func (s *LedgerStore) Load(_ context.Context) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TradeRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Append adds r at the end and returns its index.
func (s *LedgerStore) Append(_ context.Context, r domain.TradeRecord) (int, error) {
	if r.PayerAddress == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	return len(s.records) - 1, nil
}

// Update replaces the record at index.
func (s *LedgerStore) Update(_ context.Context, index int, r domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.records) {
		return storage.ErrNotFound
	}
	s.records[index] = r
	return nil
}

var _ storage.LedgerBackend = (*LedgerStore)(nil)
