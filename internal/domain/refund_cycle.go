package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleOutcome classifies how a refund cycle ended.
type CycleOutcome string

// Cycle outcomes. Everything except Refunded leaves the ledger untouched.
const (
	CycleDisabled           CycleOutcome = "DISABLED"
	CycleIdle               CycleOutcome = "IDLE"                // no pending record
	CycleBalanceUnavailable CycleOutcome = "BALANCE_UNAVAILABLE" // treasury balance RPC failed
	CycleLedgerUnavailable  CycleOutcome = "LEDGER_UNAVAILABLE"  // ledger snapshot could not be read
	CycleInsufficientFunds  CycleOutcome = "INSUFFICIENT_FUNDS"
	CycleResolutionBlocked  CycleOutcome = "RESOLUTION_BLOCKED"
	CycleTransferFailed     CycleOutcome = "TRANSFER_FAILED"
	CycleTransferUnknown    CycleOutcome = "TRANSFER_UNKNOWN"     // submitted, neither landed nor expired
	CycleLedgerUpdateFailed CycleOutcome = "LEDGER_UPDATE_FAILED" // funds sent, record still pending
	CycleRefunded           CycleOutcome = "REFUNDED"
)

// RefundCycle is the result of one refund cycle, as logged and journaled.
type RefundCycle struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   CycleOutcome

	RecordIndex  int // -1 when no record was considered
	PayerAddress string
	Payee        string // resolved owner wallet
	Amount       decimal.Decimal
	Required     decimal.Decimal // reserve + multiplier × amount, in SOL

	BalanceLamports uint64
	Signature       string
	Detail          string
}
