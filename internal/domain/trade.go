package domain

import "github.com/shopspring/decimal"

// Status is the settlement state of a ledger record.
// Stored as 0/1 in the ledger file and the refund_ledger table.
type Status int

const (
	StatusPending  Status = 0
	StatusRefunded Status = 1
)

// String returns the status name used in logs and metrics labels.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRefunded
}

// TradeRecord is one qualifying trade in the refund ledger.
// PayerAddress is unique across the ledger; only Status and ConfirmationRef change after append.
type TradeRecord struct {
	PayerAddress     string          // buyer address as seen on the feed (token account or wallet)
	SettlementAmount decimal.Decimal // SOL paid for the target asset
	Status           Status
	ConfirmationRef  string // transfer signature, empty while pending
}

// IsPending reports whether the record still awaits a refund.
func (r *TradeRecord) IsPending() bool {
	return r.Status == StatusPending
}

// RecordPatch carries the fields to merge into an existing record.
// Nil fields are left untouched.
type RecordPatch struct {
	Status          *Status
	ConfirmationRef *string
}

// Apply returns a copy of r with the patch merged in.
func (p RecordPatch) Apply(r TradeRecord) TradeRecord {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ConfirmationRef != nil {
		r.ConfirmationRef = *p.ConfirmationRef
	}
	return r
}

// RefundedPatch builds the patch written after a confirmed transfer.
func RefundedPatch(signature string) RecordPatch {
	status := StatusRefunded
	return RecordPatch{Status: &status, ConfirmationRef: &signature}
}
