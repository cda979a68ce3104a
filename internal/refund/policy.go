package refund

import (
	"math/big"

	"github.com/shopspring/decimal"

	"solana-refunder/internal/solana"
)

var lamportsPerSOL = decimal.NewFromInt(solana.LamportsPerSOL)

// Policy decides whether the treasury can afford a refund.
// A record of amount A is affordable when balance >= ReserveBuffer + Multiplier*A.
type Policy struct {
	ReserveBuffer decimal.Decimal // SOL kept in the treasury
	Multiplier    decimal.Decimal
}

// Required returns the balance in SOL needed to refund amount.
func (p Policy) Required(amount decimal.Decimal) decimal.Decimal {
	return p.ReserveBuffer.Add(p.Multiplier.Mul(amount))
}

// Affordable compares a lamport balance with the requirement for amount.
func (p Policy) Affordable(balanceLamports uint64, amount decimal.Decimal) (required decimal.Decimal, ok bool) {
	required = p.Required(amount)
	return required, LamportsToSOL(balanceLamports).GreaterThanOrEqual(required)
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSOL)
}

// SOLToLamports converts SOL to lamports, rounding down. Negative amounts give 0.
func SOLToLamports(amount decimal.Decimal) uint64 {
	l := amount.Mul(lamportsPerSOL).Floor()
	if !l.IsPositive() {
		return 0
	}
	return l.BigInt().Uint64()
}
