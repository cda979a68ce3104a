// Package refund settles pending ledger records from the treasury, one per cycle.
package refund

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/observability"
	"solana-refunder/internal/resolver"
	"solana-refunder/internal/storage"
)

// DefaultInterval is the time between refund cycles.
const DefaultInterval = 5 * time.Minute

// Ledger is the ledger access the engine needs.
type Ledger interface {
	Records(ctx context.Context) ([]domain.TradeRecord, error)
	UpdateAt(ctx context.Context, index int, patch domain.RecordPatch) bool
}

// BalanceReader reads the treasury balance in lamports.
type BalanceReader interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// PayeeResolver maps a ledger address to the wallet to pay.
type PayeeResolver interface {
	Resolve(ctx context.Context, account string) resolver.Resolution
}

// Transferrer sends lamports to a wallet and returns the confirmed signature.
// A transfer whose outcome is unknown fails with an *InFlightError; Await
// resumes watching it.
type Transferrer interface {
	Transfer(ctx context.Context, to string, lamports uint64) (string, error)
	Await(ctx context.Context, signature string, lastValidBlockHeight uint64) error
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	Enabled bool
	// Treasury is the base58 address whose balance funds refunds.
	Treasury string
	Interval time.Duration
	Policy   Policy
	// AllowOffCurvePayee permits paying owners that are program-derived addresses.
	AllowOffCurvePayee bool

	Ledger   Ledger
	Balance  BalanceReader
	Resolver PayeeResolver
	Transfer Transferrer
	// Journal is optional.
	Journal storage.CycleJournal

	Logger *log.Logger
	Now    func() time.Time
}

// Engine runs refund cycles. Cycles never overlap.
type Engine struct {
	opts   EngineOptions
	logger *log.Logger
	now    func() time.Time

	mu sync.Mutex
	// held is a transfer already sent for the head record that the ledger does not
	// show yet. While set, the head record is never paid again.
	held *heldTransfer
}

type heldTransfer struct {
	index                int
	payee                string
	signature            string
	lastValidBlockHeight uint64
	landed               bool // confirmed on chain, ledger update pending
}

// NewEngine creates a refund engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{opts: opts, logger: logger, now: now}
}

// Run executes one cycle immediately and then one per interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Printf("[refund] starting: enabled=%t interval=%s reserve=%s multiplier=%s",
		e.opts.Enabled, e.opts.Interval, e.opts.Policy.ReserveBuffer, e.opts.Policy.Multiplier)

	e.RunCycle(ctx)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle settles at most one pending record and reports how the cycle ended.
func (e *Engine) RunCycle(ctx context.Context) domain.RefundCycle {
	e.mu.Lock()
	defer e.mu.Unlock()

	cycle := domain.RefundCycle{
		CycleID:     uuid.NewString(),
		StartedAt:   e.now(),
		RecordIndex: -1,
	}

	e.process(ctx, &cycle)
	cycle.Duration = e.now().Sub(cycle.StartedAt)

	e.report(ctx, &cycle)
	return cycle
}

func (e *Engine) process(ctx context.Context, c *domain.RefundCycle) {
	if !e.opts.Enabled {
		c.Outcome = domain.CycleDisabled
		return
	}

	balance, err := e.opts.Balance.GetBalance(ctx, e.opts.Treasury)
	if err != nil {
		c.Outcome = domain.CycleBalanceUnavailable
		c.Detail = err.Error()
		return
	}
	c.BalanceLamports = balance
	sol, _ := LamportsToSOL(balance).Float64()
	observability.SetTreasuryBalance(sol)

	records, err := e.opts.Ledger.Records(ctx)
	if err != nil {
		c.Outcome = domain.CycleLedgerUnavailable
		c.Detail = err.Error()
		return
	}

	index := firstPending(records)
	if index < 0 {
		e.held = nil
		c.Outcome = domain.CycleIdle
		return
	}
	rec := records[index]
	c.RecordIndex = index
	c.PayerAddress = rec.PayerAddress
	c.Amount = rec.SettlementAmount

	if h := e.held; h != nil {
		if h.index == index {
			e.resume(ctx, c, h)
			return
		}
		// The held record is no longer the pending head, so it was settled elsewhere.
		e.logger.Printf("[refund] releasing hold: index=%d sig=%s", h.index, h.signature)
		e.held = nil
	}

	// Strict queue: an unaffordable head blocks everything behind it.
	required, ok := e.opts.Policy.Affordable(balance, rec.SettlementAmount)
	c.Required = required
	if !ok {
		c.Outcome = domain.CycleInsufficientFunds
		c.Detail = fmt.Sprintf("balance %s SOL < required %s SOL", LamportsToSOL(balance), required)
		return
	}

	res := e.opts.Resolver.Resolve(ctx, rec.PayerAddress)
	if !res.Resolved() || res.Address == rec.PayerAddress {
		c.Outcome = domain.CycleResolutionBlocked
		c.Detail = "no distinct owner: " + string(res.Outcome)
		return
	}
	c.Payee = res.Address
	if res.Outcome == resolver.OutcomeResolvedOffCurve && !e.opts.AllowOffCurvePayee {
		c.Outcome = domain.CycleResolutionBlocked
		c.Detail = "owner is off-curve"
		return
	}

	lamports := SOLToLamports(rec.SettlementAmount)
	if lamports == 0 {
		c.Outcome = domain.CycleTransferFailed
		c.Detail = "amount rounds to zero lamports"
		return
	}

	signature, err := e.opts.Transfer.Transfer(ctx, res.Address, lamports)
	if err != nil {
		var inflight *InFlightError
		if errors.As(err, &inflight) {
			e.held = &heldTransfer{
				index:                index,
				payee:                res.Address,
				signature:            inflight.Signature,
				lastValidBlockHeight: inflight.LastValidBlockHeight,
			}
			c.Signature = inflight.Signature
			c.Outcome = domain.CycleTransferUnknown
			c.Detail = err.Error()
			return
		}
		c.Outcome = domain.CycleTransferFailed
		c.Detail = err.Error()
		return
	}

	e.settle(ctx, c, &heldTransfer{index: index, payee: res.Address, signature: signature, landed: true})
}

// resume finishes a transfer sent in an earlier cycle instead of paying again.
func (e *Engine) resume(ctx context.Context, c *domain.RefundCycle, h *heldTransfer) {
	c.Payee = h.payee
	c.Signature = h.signature

	if !h.landed {
		err := e.opts.Transfer.Await(ctx, h.signature, h.lastValidBlockHeight)
		switch {
		case errors.Is(err, ErrOutcomeUnknown):
			c.Outcome = domain.CycleTransferUnknown
			c.Detail = err.Error()
			return
		case err != nil:
			// Failed or expired: nothing was paid, the record may be paid afresh.
			e.held = nil
			c.Outcome = domain.CycleTransferFailed
			c.Detail = err.Error()
			return
		}
		h.landed = true
	}

	e.settle(ctx, c, h)
}

// settle records a confirmed transfer in the ledger. On failure the transfer
// stays held so the next cycle retries the update, not the payment.
func (e *Engine) settle(ctx context.Context, c *domain.RefundCycle, h *heldTransfer) {
	c.Payee = h.payee
	c.Signature = h.signature

	if !e.opts.Ledger.UpdateAt(ctx, h.index, domain.RefundedPatch(h.signature)) {
		e.held = h
		c.Outcome = domain.CycleLedgerUpdateFailed
		c.Detail = "transfer confirmed but ledger not updated"
		return
	}
	e.held = nil
	c.Outcome = domain.CycleRefunded
}

// report logs the cycle, updates metrics and appends it to the journal.
func (e *Engine) report(ctx context.Context, c *domain.RefundCycle) {
	switch c.Outcome {
	case domain.CycleDisabled, domain.CycleIdle:
		// quiet
	case domain.CycleRefunded:
		e.logger.Printf("[refund] refunded: index=%d address=%s payee=%s amount=%s sig=%s",
			c.RecordIndex, c.PayerAddress, c.Payee, c.Amount, c.Signature)
		amount, _ := c.Amount.Float64()
		observability.RecordRefunded(amount)
	case domain.CycleLedgerUpdateFailed:
		e.logger.Printf("[refund] RECONCILE: funds sent but record still pending: index=%d address=%s payee=%s amount=%s sig=%s",
			c.RecordIndex, c.PayerAddress, c.Payee, c.Amount, c.Signature)
	case domain.CycleTransferUnknown:
		e.logger.Printf("[refund] RECONCILE: transfer in flight, record held: index=%d address=%s payee=%s amount=%s sig=%s detail=%s",
			c.RecordIndex, c.PayerAddress, c.Payee, c.Amount, c.Signature, c.Detail)
	default:
		e.logger.Printf("[refund] cycle ended: outcome=%s index=%d address=%s amount=%s required=%s balance_lamports=%d detail=%s",
			c.Outcome, c.RecordIndex, c.PayerAddress, c.Amount, c.Required, c.BalanceLamports, c.Detail)
	}

	observability.RecordRefundCycle(string(c.Outcome), c.Duration.Seconds(), float64(c.StartedAt.Unix()))

	if e.opts.Journal != nil {
		if err := e.opts.Journal.Insert(ctx, c); err != nil {
			e.logger.Printf("[refund] journal insert failed: cycle=%s outcome=%s err=%v", c.CycleID, c.Outcome, err)
		}
	}
}

func firstPending(records []domain.TradeRecord) int {
	for i := range records {
		if records[i].IsPending() {
			return i
		}
	}
	return -1
}
