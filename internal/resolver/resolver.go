// Package resolver maps token-account addresses to the wallets that own them.
package resolver

import (
	"context"
	"log"

	"solana-refunder/internal/observability"
	"solana-refunder/internal/solana"
)

// Outcome classifies a resolution.
type Outcome string

const (
	OutcomeResolved         Outcome = "resolved"
	OutcomeResolvedOffCurve Outcome = "resolved_off_curve"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeNotTokenAccount  Outcome = "not_token_account"
	OutcomeMalformedData    Outcome = "malformed_data"
	OutcomeLookupFailed     Outcome = "lookup_failed"
)

// Resolution is the result of Resolve. Address equals the input for every
// outcome except the two resolved ones.
type Resolution struct {
	Address string
	Outcome Outcome
}

// Resolved reports whether a distinct owner was decoded.
func (r Resolution) Resolved() bool {
	return r.Outcome == OutcomeResolved || r.Outcome == OutcomeResolvedOffCurve
}

// AccountFetcher is the RPC subset used for resolution.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// Limiter bounds resolution calls.
type Limiter interface {
	Acquire()
}

// Options configures the resolver.
type Options struct {
	// TokenPrograms are the owner programs of token accounts. Defaults to DefaultTokenPrograms.
	TokenPrograms []string
	Logger        *log.Logger
}

// Resolver resolves token accounts to owner wallets. Safe for concurrent use.
type Resolver struct {
	rpc      AccountFetcher
	limiter  Limiter
	programs map[string]struct{}
	logger   *log.Logger
}

// New creates a resolver.
func New(rpc AccountFetcher, limiter Limiter, opts Options) *Resolver {
	programs := opts.TokenPrograms
	if len(programs) == 0 {
		programs = DefaultTokenPrograms()
	}
	set := make(map[string]struct{}, len(programs))
	for _, p := range programs {
		set[p] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		rpc:      rpc,
		limiter:  limiter,
		programs: set,
		logger:   logger,
	}
}

// Resolve returns the owner wallet of account. It never fails: every
// non-resolved outcome returns the input unchanged.
func (r *Resolver) Resolve(ctx context.Context, account string) Resolution {
	res := r.resolve(ctx, account)
	observability.RecordResolution(string(res.Outcome))
	return res
}

func (r *Resolver) resolve(ctx context.Context, account string) Resolution {
	unchanged := func(o Outcome) Resolution {
		return Resolution{Address: account, Outcome: o}
	}

	r.limiter.Acquire()

	info, err := r.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		r.logger.Printf("[resolver] lookup failed: address=%s err=%v", account, err)
		return unchanged(OutcomeLookupFailed)
	}
	if info == nil {
		r.logger.Printf("[resolver] account not found: address=%s", account)
		return unchanged(OutcomeNotFound)
	}
	if _, ok := r.programs[info.Owner]; !ok {
		r.logger.Printf("[resolver] not a token account: address=%s owner_program=%s", account, info.Owner)
		return unchanged(OutcomeNotTokenAccount)
	}

	owner, err := parseTokenAccountOwner(info.Data)
	if err != nil {
		r.logger.Printf("[resolver] malformed token account: address=%s err=%v", account, err)
		return unchanged(OutcomeMalformedData)
	}

	wallet := encodeKey(owner)
	if !isOnCurve(owner) {
		return Resolution{Address: wallet, Outcome: OutcomeResolvedOffCurve}
	}
	return Resolution{Address: wallet, Outcome: OutcomeResolved}
}
