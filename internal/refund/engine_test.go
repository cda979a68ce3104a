package refund

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/ledger"
	"solana-refunder/internal/resolver"
	"solana-refunder/internal/storage/memory"
)

const treasury = "Treasury11111111111111111111111111111111111"

type fakeBalance struct {
	lamports uint64
	err      error
	calls    int
}

func (f *fakeBalance) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	f.calls++
	if pubkey != treasury {
		return 0, errors.New("unexpected account " + pubkey)
	}
	return f.lamports, f.err
}

// fakeResolver maps payer -> resolution; unknown payers resolve to themselves.
type fakeResolver struct {
	results map[string]resolver.Resolution
	calls   []string
}

func (f *fakeResolver) Resolve(_ context.Context, account string) resolver.Resolution {
	f.calls = append(f.calls, account)
	if res, ok := f.results[account]; ok {
		return res
	}
	return resolver.Resolution{Address: account, Outcome: resolver.OutcomeNotFound}
}

type transferCall struct {
	to       string
	lamports uint64
}

type fakeTransfer struct {
	mu       sync.Mutex
	err      error
	awaitErr error
	calls    []transferCall
	awaited  []string
}

func (f *fakeTransfer) Transfer(_ context.Context, to string, lamports uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transferCall{to: to, lamports: lamports})
	if f.err != nil {
		return "", f.err
	}
	return "sig-" + to, nil
}

func (f *fakeTransfer) Await(_ context.Context, signature string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaited = append(f.awaited, signature)
	return f.awaitErr
}

// flakyUpdates wraps a ledger and fails the next failures UpdateAt calls.
type flakyUpdates struct {
	*ledger.Store
	failures int
}

func (f *flakyUpdates) UpdateAt(ctx context.Context, index int, patch domain.RecordPatch) bool {
	if f.failures > 0 {
		f.failures--
		return false
	}
	return f.Store.UpdateAt(ctx, index, patch)
}

type harness struct {
	store    *ledger.Store
	balance  *fakeBalance
	resolver *fakeResolver
	transfer *fakeTransfer
	journal  *memory.CycleJournal
	opts     EngineOptions
}

func newHarness(balanceSOL int64, records ...domain.TradeRecord) *harness {
	h := &harness{
		store: ledger.NewStore(memory.NewLedgerStore(records...), ledger.Options{
			Logger: log.New(io.Discard, "", 0),
			Sleep:  func(time.Duration) {},
		}),
		balance:  &fakeBalance{lamports: uint64(balanceSOL) * 1_000_000_000},
		resolver: &fakeResolver{results: map[string]resolver.Resolution{}},
		transfer: &fakeTransfer{},
		journal:  memory.NewCycleJournal(),
	}
	h.opts = EngineOptions{
		Enabled:  true,
		Treasury: treasury,
		Policy:   Policy{ReserveBuffer: d("2"), Multiplier: d("2")},
		Ledger:   h.store,
		Balance:  h.balance,
		Resolver: h.resolver,
		Transfer: h.transfer,
		Journal:  h.journal,
		Logger:   log.New(io.Discard, "", 0),
	}
	return h
}

func (h *harness) owns(payer, wallet string) {
	h.resolver.results[payer] = resolver.Resolution{Address: wallet, Outcome: resolver.OutcomeResolved}
}

func (h *harness) engine() *Engine {
	return NewEngine(h.opts)
}

func (h *harness) records(t *testing.T) []domain.TradeRecord {
	t.Helper()
	recs, err := h.store.Records(context.Background())
	require.NoError(t, err)
	return recs
}

func pendingRecord(payer, amount string) domain.TradeRecord {
	return domain.TradeRecord{PayerAddress: payer, SettlementAmount: d(amount), Status: domain.StatusPending}
}

func TestRunCycle_InsufficientFunds(t *testing.T) {
	h := newHarness(3, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleInsufficientFunds, cycle.Outcome)
	assert.Equal(t, 0, cycle.RecordIndex)
	assert.True(t, d("4").Equal(cycle.Required))
	assert.Empty(t, h.transfer.calls)
	assert.Empty(t, h.resolver.calls)
	assert.True(t, h.records(t)[0].IsPending())
}

func TestRunCycle_Refunds(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleRefunded, cycle.Outcome)
	assert.Equal(t, "sig-Owner1", cycle.Signature)
	assert.Equal(t, "Owner1", cycle.Payee)
	require.Len(t, h.transfer.calls, 1)
	assert.Equal(t, transferCall{to: "Owner1", lamports: 1_000_000_000}, h.transfer.calls[0])

	recs := h.records(t)
	assert.Equal(t, domain.StatusRefunded, recs[0].Status)
	assert.Equal(t, "sig-Owner1", recs[0].ConfirmationRef)
}

func TestRunCycle_StrictQueue(t *testing.T) {
	// Head needs 2 + 2*5 = 12; the cheap record behind it would need 2.2.
	h := newHarness(4, pendingRecord("W1", "5"), pendingRecord("W2", "0.1"))
	h.owns("W1", "Owner1")
	h.owns("W2", "Owner2")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleInsufficientFunds, cycle.Outcome)
	assert.Equal(t, 0, cycle.RecordIndex)
	assert.Empty(t, h.transfer.calls)
	for _, r := range h.records(t) {
		assert.True(t, r.IsPending())
	}
}

func TestRunCycle_SkipsRefundedAndSettlesOnePerCycle(t *testing.T) {
	done := domain.RefundedPatch("old").Apply(pendingRecord("W0", "1"))
	h := newHarness(100, done, pendingRecord("W1", "1"), pendingRecord("W2", "2"))
	h.owns("W1", "Owner1")
	h.owns("W2", "Owner2")
	engine := h.engine()
	ctx := context.Background()

	first := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, first.Outcome)
	assert.Equal(t, 1, first.RecordIndex)
	assert.Len(t, h.transfer.calls, 1)

	recs := h.records(t)
	assert.Equal(t, "old", recs[0].ConfirmationRef)
	assert.Equal(t, domain.StatusRefunded, recs[1].Status)
	assert.True(t, recs[2].IsPending())

	second := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, second.Outcome)
	assert.Equal(t, 2, second.RecordIndex)
	assert.Len(t, h.transfer.calls, 2)

	third := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleIdle, third.Outcome)
	assert.Equal(t, -1, third.RecordIndex)
}

func TestRunCycle_ResolutionBlocked(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleResolutionBlocked, cycle.Outcome)
	assert.Equal(t, []string{"W1"}, h.resolver.calls)
	assert.Empty(t, h.transfer.calls)
	assert.True(t, h.records(t)[0].IsPending())
}

func TestRunCycle_OffCurvePayee(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.resolver.results["W1"] = resolver.Resolution{Address: "PDA1", Outcome: resolver.OutcomeResolvedOffCurve}

	cycle := h.engine().RunCycle(context.Background())
	assert.Equal(t, domain.CycleResolutionBlocked, cycle.Outcome)
	assert.Empty(t, h.transfer.calls)

	h.opts.AllowOffCurvePayee = true
	cycle = h.engine().RunCycle(context.Background())
	assert.Equal(t, domain.CycleRefunded, cycle.Outcome)
	assert.Equal(t, "PDA1", h.transfer.calls[0].to)
}

func TestRunCycle_TransferFailedLeavesPending(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")
	h.transfer.err = errors.New("blockhash not found")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleTransferFailed, cycle.Outcome)
	assert.Contains(t, cycle.Detail, "blockhash not found")
	assert.True(t, h.records(t)[0].IsPending())
}

func TestRunCycle_ZeroLamportAmount(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "0.0000000001"))
	h.owns("W1", "Owner1")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleTransferFailed, cycle.Outcome)
	assert.Empty(t, h.transfer.calls)
}

func TestRunCycle_LedgerUpdateFailed(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")
	h.opts.Ledger = &flakyUpdates{Store: h.store, failures: 1}

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleLedgerUpdateFailed, cycle.Outcome)
	assert.Equal(t, "sig-Owner1", cycle.Signature)
	assert.Len(t, h.transfer.calls, 1)
	assert.True(t, h.records(t)[0].IsPending())
}

func TestRunCycle_LedgerUpdateFailedRetriesUpdateNotPayment(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"), pendingRecord("W2", "1"))
	h.owns("W1", "Owner1")
	h.owns("W2", "Owner2")
	ledgerWithFailures := &flakyUpdates{Store: h.store, failures: 2}
	h.opts.Ledger = ledgerWithFailures
	engine := h.engine()
	ctx := context.Background()

	first := engine.RunCycle(ctx)
	second := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleLedgerUpdateFailed, first.Outcome)
	assert.Equal(t, domain.CycleLedgerUpdateFailed, second.Outcome)
	assert.Equal(t, "sig-Owner1", second.Signature)
	assert.Len(t, h.transfer.calls, 1)
	assert.Empty(t, h.transfer.awaited)

	third := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, third.Outcome)
	assert.Equal(t, 0, third.RecordIndex)
	assert.Len(t, h.transfer.calls, 1)

	recs := h.records(t)
	assert.Equal(t, domain.StatusRefunded, recs[0].Status)
	assert.Equal(t, "sig-Owner1", recs[0].ConfirmationRef)
	assert.True(t, recs[1].IsPending())

	// The hold is released; the next record is paid normally.
	fourth := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, fourth.Outcome)
	assert.Equal(t, 1, fourth.RecordIndex)
	assert.Len(t, h.transfer.calls, 2)
}

func TestRunCycle_InFlightTransferIsHeld(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")
	h.transfer.err = &InFlightError{Signature: "sig-inflight", LastValidBlockHeight: 1150, Reason: "not confirmed"}
	engine := h.engine()
	ctx := context.Background()

	first := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleTransferUnknown, first.Outcome)
	assert.Equal(t, "sig-inflight", first.Signature)
	assert.True(t, h.records(t)[0].IsPending())

	// Still unknown: watched again, never re-sent.
	h.transfer.err = nil
	h.transfer.awaitErr = &InFlightError{Signature: "sig-inflight", LastValidBlockHeight: 1150, Reason: "not confirmed"}
	second := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleTransferUnknown, second.Outcome)
	assert.Len(t, h.transfer.calls, 1)
	assert.Equal(t, []string{"sig-inflight"}, h.transfer.awaited)

	// It lands: the ledger records the original signature.
	h.transfer.awaitErr = nil
	third := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, third.Outcome)
	assert.Equal(t, "sig-inflight", third.Signature)
	assert.Equal(t, "Owner1", third.Payee)
	assert.Len(t, h.transfer.calls, 1)

	recs := h.records(t)
	assert.Equal(t, domain.StatusRefunded, recs[0].Status)
	assert.Equal(t, "sig-inflight", recs[0].ConfirmationRef)
}

func TestRunCycle_ExpiredInFlightTransferIsPaidAgain(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")
	h.transfer.err = &InFlightError{Signature: "sig-inflight", LastValidBlockHeight: 1150, Reason: "not confirmed"}
	engine := h.engine()
	ctx := context.Background()

	assert.Equal(t, domain.CycleTransferUnknown, engine.RunCycle(ctx).Outcome)

	h.transfer.err = nil
	h.transfer.awaitErr = fmt.Errorf("%w: sig=sig-inflight", ErrBlockhashExpired)
	second := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleTransferFailed, second.Outcome)
	assert.Len(t, h.transfer.calls, 1)

	third := engine.RunCycle(ctx)
	assert.Equal(t, domain.CycleRefunded, third.Outcome)
	assert.Equal(t, "sig-Owner1", third.Signature)
	assert.Len(t, h.transfer.calls, 2)
}

func TestRunCycle_Disabled(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.opts.Enabled = false

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleDisabled, cycle.Outcome)
	assert.Zero(t, h.balance.calls)
	assert.Empty(t, h.transfer.calls)
}

func TestRunCycle_BalanceUnavailable(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.balance.err = errors.New("429 too many requests")

	cycle := h.engine().RunCycle(context.Background())

	assert.Equal(t, domain.CycleBalanceUnavailable, cycle.Outcome)
	assert.Empty(t, h.resolver.calls)
}

func TestRunCycle_Journal(t *testing.T) {
	h := newHarness(3, pendingRecord("W1", "1"))
	engine := h.engine()
	ctx := context.Background()

	first := engine.RunCycle(ctx)
	h.balance.lamports = 10_000_000_000
	h.owns("W1", "Owner1")
	second := engine.RunCycle(ctx)

	cycles, err := h.journal.GetByPayer(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, first.CycleID, cycles[0].CycleID)
	assert.Equal(t, domain.CycleInsufficientFunds, cycles[0].Outcome)
	assert.Equal(t, second.CycleID, cycles[1].CycleID)
	assert.Equal(t, domain.CycleRefunded, cycles[1].Outcome)
	assert.NotEqual(t, first.CycleID, second.CycleID)
}

func TestRun_CycleAtStartThenStops(t *testing.T) {
	h := newHarness(10, pendingRecord("W1", "1"))
	h.owns("W1", "Owner1")
	h.opts.Interval = time.Hour
	engine := h.engine()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		cycles, err := h.journal.GetRecent(context.Background(), 0)
		return err == nil && len(cycles) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, domain.StatusRefunded, h.records(t)[0].Status)
	assert.True(t, decimal.NewFromInt(1).Equal(h.records(t)[0].SettlementAmount))
}
