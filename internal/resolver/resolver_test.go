package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-refunder/internal/ratelimit"
	"solana-refunder/internal/solana"
)

type fakeRPC struct {
	mu       sync.Mutex
	accounts map[string]*solana.AccountInfo
	err      error
	calls    int
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[pubkey], nil
}

type countingLimiter struct {
	mu sync.Mutex
	n  int
}

func (l *countingLimiter) Acquire() {
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
}

// ownerKey returns a 32-byte key whose first byte is b. y=3 lies on the
// curve, y=2 does not.
func ownerKey(b byte) []byte {
	key := make([]byte, 32)
	key[0] = b
	return key
}

func tokenAccountData(owner []byte) string {
	data := make([]byte, 165)
	copy(data[32:64], owner)
	return base64.StdEncoding.EncodeToString(data)
}

func newTestResolver(rpc AccountFetcher, limiter Limiter) *Resolver {
	return New(rpc, limiter, Options{Logger: log.New(io.Discard, "", 0)})
}

func TestResolve_TokenAccount(t *testing.T) {
	owner := ownerKey(3)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		"TA1": {Owner: TokenProgramID, Data: tokenAccountData(owner)},
	}}
	limiter := &countingLimiter{}

	res := newTestResolver(rpc, limiter).Resolve(context.Background(), "TA1")

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, base58.Encode(owner), res.Address)
	assert.True(t, res.Resolved())
	assert.Equal(t, 1, limiter.n)
}

func TestResolve_Token2022Account(t *testing.T) {
	owner := ownerKey(3)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		"TA1": {Owner: Token2022ProgramID, Data: tokenAccountData(owner)},
	}}

	res := newTestResolver(rpc, &countingLimiter{}).Resolve(context.Background(), "TA1")
	assert.Equal(t, OutcomeResolved, res.Outcome)
}

func TestResolve_OffCurveOwner(t *testing.T) {
	owner := ownerKey(2)
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		"TA1": {Owner: TokenProgramID, Data: tokenAccountData(owner)},
	}}

	res := newTestResolver(rpc, &countingLimiter{}).Resolve(context.Background(), "TA1")

	assert.Equal(t, OutcomeResolvedOffCurve, res.Outcome)
	assert.Equal(t, base58.Encode(owner), res.Address)
	assert.True(t, res.Resolved())
}

func TestResolve_ReturnsInputUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		rpc     *fakeRPC
		outcome Outcome
	}{
		{
			name:    "not found",
			rpc:     &fakeRPC{accounts: map[string]*solana.AccountInfo{}},
			outcome: OutcomeNotFound,
		},
		{
			name: "wallet owned by system program",
			rpc: &fakeRPC{accounts: map[string]*solana.AccountInfo{
				"W1": {Owner: "11111111111111111111111111111111", Lamports: 5},
			}},
			outcome: OutcomeNotTokenAccount,
		},
		{
			name: "short data",
			rpc: &fakeRPC{accounts: map[string]*solana.AccountInfo{
				"W1": {Owner: TokenProgramID, Data: base64.StdEncoding.EncodeToString(make([]byte, 40))},
			}},
			outcome: OutcomeMalformedData,
		},
		{
			name: "undecodable data",
			rpc: &fakeRPC{accounts: map[string]*solana.AccountInfo{
				"W1": {Owner: TokenProgramID, Data: "!!not base64!!"},
			}},
			outcome: OutcomeMalformedData,
		},
		{
			name:    "rpc error",
			rpc:     &fakeRPC{err: errors.New("connection reset")},
			outcome: OutcomeLookupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(tt.rpc, &countingLimiter{})

			first := r.Resolve(context.Background(), "W1")
			second := r.Resolve(context.Background(), "W1")

			assert.Equal(t, tt.outcome, first.Outcome)
			assert.Equal(t, "W1", first.Address)
			assert.False(t, first.Resolved())
			assert.Equal(t, first, second)
		})
	}
}

func TestResolve_CustomTokenPrograms(t *testing.T) {
	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{
		"TA1": {Owner: Token2022ProgramID, Data: tokenAccountData(ownerKey(3))},
	}}
	r := New(rpc, &countingLimiter{}, Options{
		TokenPrograms: []string{TokenProgramID},
		Logger:        log.New(io.Discard, "", 0),
	})

	res := r.Resolve(context.Background(), "TA1")
	assert.Equal(t, OutcomeNotTokenAccount, res.Outcome)
	assert.Equal(t, "TA1", res.Address)
}

func TestResolve_RateLimited(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	rpc := &fakeRPC{accounts: map[string]*solana.AccountInfo{}}
	limiter, err := ratelimit.New(2)
	require.NoError(t, err)
	r := newTestResolver(rpc, limiter)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(context.Background(), "W1")
		}()
	}
	wg.Wait()

	// 5 calls at 2/s need two full windows
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 5, rpc.calls)
}
