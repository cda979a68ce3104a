// Package ledger owns the ordered refund ledger. All reads and writes go through Store,
// which serializes them and retries failed persistence a bounded number of times.
package ledger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/observability"
	"solana-refunder/internal/storage"
)

const (
	// DefaultMaxAttempts is the number of persistence attempts per operation.
	DefaultMaxAttempts = 3
	// DefaultRetryBackoff is the pause between persistence attempts.
	DefaultRetryBackoff = time.Second
)

// Options configures the ledger store.
type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Logger       *log.Logger
	// Sleep replaces time.Sleep between attempts (tests).
	Sleep func(time.Duration)
}

// Summary is a point-in-time count of ledger records.
type Summary struct {
	Records    int
	Pending    int
	Refunded   int
	PendingSOL decimal.Decimal
}

// Store is the single-writer ledger.
type Store struct {
	mu      sync.Mutex
	backend storage.LedgerBackend
	opts    Options
	logger  *log.Logger
}

// NewStore creates a ledger over backend.
func NewStore(backend storage.LedgerBackend, opts Options) *Store {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
	}
}

// Append adds rec at the end of the ledger. It returns false if rec is invalid
// or persistence failed after all attempts; the ledger is then unchanged.
func (s *Store) Append(ctx context.Context, rec domain.TradeRecord) bool {
	if rec.PayerAddress == "" || !rec.Status.Valid() {
		s.logger.Printf("[ledger] append rejected: invalid record address=%q amount=%s",
			rec.PayerAddress, rec.SettlementAmount)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var index int
	err := s.retry(ctx, "append", func() error {
		var err error
		index, err = s.backend.Append(ctx, rec)
		return err
	})
	if err != nil {
		s.logger.Printf("[ledger] append failed: address=%s amount=%s attempts=%d err=%v",
			rec.PayerAddress, rec.SettlementAmount, s.opts.MaxAttempts, err)
		observability.RecordLedgerFailure("append")
		return false
	}

	s.logger.Printf("[ledger] appended index=%d address=%s amount=%s", index, rec.PayerAddress, rec.SettlementAmount)
	return true
}

// UpdateAt merges patch into the record at index. It returns false if index is
// out of range or persistence failed after all attempts.
func (s *Store) UpdateAt(ctx context.Context, index int, patch domain.RecordPatch) bool {
	if patch.Status != nil && !patch.Status.Valid() {
		s.logger.Printf("[ledger] update rejected: invalid status index=%d", index)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		s.logger.Printf("[ledger] update failed: index=%d load err=%v", index, err)
		observability.RecordLedgerFailure("update")
		return false
	}
	if index < 0 || index >= len(records) {
		s.logger.Printf("[ledger] update rejected: index=%d out of range (records=%d)", index, len(records))
		return false
	}

	updated := patch.Apply(records[index])
	err = s.retry(ctx, "update", func() error {
		return s.backend.Update(ctx, index, updated)
	})
	if err != nil {
		s.logger.Printf("[ledger] update failed: index=%d address=%s amount=%s attempts=%d err=%v",
			index, updated.PayerAddress, updated.SettlementAmount, s.opts.MaxAttempts, err)
		observability.RecordLedgerFailure("update")
		return false
	}
	return true
}

// Records returns a snapshot copy of the ledger in order.
func (s *Store) Records(ctx context.Context) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx)
}

// Summary counts records by status and publishes the ledger gauges.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Records: len(records), PendingSOL: decimal.Zero}
	for _, r := range records {
		if r.IsPending() {
			sum.Pending++
			sum.PendingSOL = sum.PendingSOL.Add(r.SettlementAmount)
		} else {
			sum.Refunded++
		}
	}

	pendingSOL, _ := sum.PendingSOL.Float64()
	observability.UpdateLedgerGauges(sum.Pending, sum.Refunded, pendingSOL)
	return sum, nil
}

// load reads the backend with the same retry policy as writes. Caller holds mu.
func (s *Store) load(ctx context.Context) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	err := s.retry(ctx, "load", func() error {
		var err error
		records, err = s.backend.Load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.TradeRecord, len(records))
	copy(out, records)
	return out, nil
}

// retry runs op up to MaxAttempts times. Input errors and context
// cancellation are not retried.
func (s *Store) retry(ctx context.Context, operation string, op func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < s.opts.MaxAttempts {
			s.logger.Printf("[ledger] %s attempt %d/%d failed: %v", operation, attempt, s.opts.MaxAttempts, err)
			observability.RecordLedgerRetry(operation)
			s.opts.Sleep(s.opts.RetryBackoff)
		}
	}
	return err
}
