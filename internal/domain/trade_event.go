package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is a single DEX trade decoded from the streaming feed.
// Buy is the leg received by the buyer, Sell is the leg the buyer paid with.
// Fields the feed omitted are left empty / invalid; validation belongs to the consumer.
type TradeEvent struct {
	Signature string
	Program   string // DEX program address
	BlockTime time.Time

	Buyer     string // buy-side account address
	BuyMint   string
	BuyAmount decimal.NullDecimal

	SellMint   string
	SellAmount decimal.NullDecimal
}

// MissingFields returns the names of required fields that are empty.
func (e *TradeEvent) MissingFields() []string {
	var missing []string
	if e.Buyer == "" {
		missing = append(missing, "buyer")
	}
	if e.BuyMint == "" {
		missing = append(missing, "buy_mint")
	}
	if e.SellMint == "" {
		missing = append(missing, "sell_mint")
	}
	if !e.SellAmount.Valid {
		missing = append(missing, "sell_amount")
	}
	return missing
}
