// Package ingestion turns feed trade events into pending ledger records.
package ingestion

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/observability"
)

// DefaultWrongMintLogEvery is how often an other-mint rejection is logged.
// Subscriptions cover whole DEX programs, so most trades are for other mints.
const DefaultWrongMintLogEvery = 1000

// Decision is the consumer's verdict on one trade event.
type Decision string

const (
	Accepted          Decision = "accepted"
	RejectedMalformed Decision = "malformed"
	RejectedMint      Decision = "wrong_mint"
	RejectedAmount    Decision = "non_positive_amount"
	RejectedDuplicate Decision = "duplicate"
	RejectedPersist   Decision = "persist_failed"
)

// Appender is the ledger operation the consumer needs.
type Appender interface {
	Append(ctx context.Context, rec domain.TradeRecord) bool
}

// ConsumerOptions contains configuration for creating a Consumer.
type ConsumerOptions struct {
	Store Appender
	// Dedup defaults to an empty tracker; call Seed to rebuild it from the ledger.
	Dedup *DedupTracker
	// TargetMint is the asset a qualifying trade must buy.
	TargetMint string
	// SettlementMints are the SOL-equivalent mints a buyer may pay with.
	SettlementMints []string
	// WrongMintLogEvery logs the first and then every Nth other-mint rejection.
	WrongMintLogEvery int
	Logger            *log.Logger
}

// Consumer filters trade events and appends qualifying trades to the ledger.
type Consumer struct {
	// mu covers the dedup check, the append and its rollback.
	mu sync.Mutex

	store           Appender
	dedup           *DedupTracker
	targetMint      string
	settlementMints map[string]struct{}
	logger          *log.Logger

	wrongMintEvery uint64
	wrongMint      atomic.Uint64
}

// NewConsumer creates a new stream consumer.
func NewConsumer(opts ConsumerOptions) *Consumer {
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDedupTracker()
	}

	mints := make(map[string]struct{}, len(opts.SettlementMints))
	for _, m := range opts.SettlementMints {
		mints[m] = struct{}{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	every := opts.WrongMintLogEvery
	if every <= 0 {
		every = DefaultWrongMintLogEvery
	}

	return &Consumer{
		store:           opts.Store,
		dedup:           dedup,
		targetMint:      opts.TargetMint,
		settlementMints: mints,
		logger:          logger,
		wrongMintEvery:  uint64(every),
	}
}

// Seed rebuilds the dedup set from the ledger's records.
func (c *Consumer) Seed(records []domain.TradeRecord) {
	addrs := make([]string, 0, len(records))
	for _, r := range records {
		addrs = append(addrs, r.PayerAddress)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedup.Reset(addrs)
}

// Run processes events in arrival order until the channel closes or ctx is done.
func (c *Consumer) Run(ctx context.Context, events <-chan domain.TradeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.OnTradeEvent(ctx, ev)
		}
	}
}

// OnTradeEvent applies the ingestion rules to one event.
func (c *Consumer) OnTradeEvent(ctx context.Context, ev domain.TradeEvent) Decision {
	d := c.decide(ctx, ev)
	observability.RecordTradeDecision(string(d), d == Accepted, float64(time.Now().Unix()))
	return d
}

func (c *Consumer) decide(ctx context.Context, ev domain.TradeEvent) Decision {
	if missing := ev.MissingFields(); len(missing) > 0 {
		c.logger.Printf("[ingest] dropping malformed trade: sig=%s missing=%s", ev.Signature, strings.Join(missing, ","))
		return RejectedMalformed
	}

	if ev.BuyMint != c.targetMint {
		if n := c.wrongMint.Add(1); n == 1 || n%c.wrongMintEvery == 0 {
			c.logger.Printf("[ingest] rejecting trade for other mint: sig=%s address=%s buy_mint=%s rejected_total=%d",
				ev.Signature, ev.Buyer, ev.BuyMint, n)
		}
		return RejectedMint
	}

	amount := c.settlementAmount(ev)
	if !amount.IsPositive() {
		c.logger.Printf("[ingest] rejecting trade: sig=%s address=%s sell_mint=%s amount=%s",
			ev.Signature, ev.Buyer, ev.SellMint, amount)
		return RejectedAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dedup.Add(ev.Buyer) {
		return RejectedDuplicate
	}

	rec := domain.TradeRecord{
		PayerAddress:     ev.Buyer,
		SettlementAmount: amount,
		Status:           domain.StatusPending,
	}
	if !c.store.Append(ctx, rec) {
		// Membership must follow durable state so a redelivery can retry.
		c.dedup.Remove(ev.Buyer)
		c.logger.Printf("[ingest] ledger append failed, address released: sig=%s address=%s amount=%s",
			ev.Signature, ev.Buyer, amount)
		return RejectedPersist
	}

	c.logger.Printf("[ingest] accepted trade: sig=%s address=%s amount=%s", ev.Signature, ev.Buyer, amount)
	return Accepted
}

// settlementAmount is the sell amount when paid in a settlement mint, else zero.
func (c *Consumer) settlementAmount(ev domain.TradeEvent) decimal.Decimal {
	if _, ok := c.settlementMints[ev.SellMint]; !ok {
		return decimal.Zero
	}
	return ev.SellAmount.Decimal
}
