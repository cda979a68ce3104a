package storage

import (
	"context"

	"solana-refunder/internal/domain"
)

// LedgerBackend is the durable side of the refund ledger.
// Records are addressed by position; positions are assigned in append order and never change.
// Implementations are not required to be safe for concurrent writers: ledger.Store serializes access.
type LedgerBackend interface {
	// Load returns all records in ledger order.
	Load(ctx context.Context) ([]domain.TradeRecord, error)

	// Append persists r at the end of the ledger and returns its index.
	Append(ctx context.Context, r domain.TradeRecord) (int, error)

	// Update replaces the record at index. Returns ErrNotFound if index is out of range.
	Update(ctx context.Context, index int, r domain.TradeRecord) error
}

// CycleJournal records refund cycle outcomes for reconciliation.
type CycleJournal interface {
	// Insert adds one cycle. Returns ErrDuplicateKey if the cycle id exists.
	Insert(ctx context.Context, c *domain.RefundCycle) error

	// GetRecent returns up to limit cycles, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.RefundCycle, error)

	// GetByPayer returns all cycles that considered payer, oldest first.
	GetByPayer(ctx context.Context, payer string) ([]*domain.RefundCycle, error)
}
