// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedMessages   *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	FeedConnected  prometheus.Gauge

	// Ingestion metrics
	TradeDecisions *prometheus.CounterVec

	// Ledger metrics
	LedgerRecords        *prometheus.GaugeVec
	LedgerPendingSOL     prometheus.Gauge
	LedgerPersistRetries *prometheus.CounterVec
	LedgerPersistFailed  *prometheus.CounterVec

	// Resolver metrics
	ResolverOutcomes *prometheus.CounterVec
	RateLimiterWaits prometheus.Counter

	// Refund metrics
	RefundCycles        *prometheus.CounterVec
	RefundCycleDuration prometheus.Histogram
	RefundedSOL         prometheus.Counter
	TreasuryBalanceSOL  prometheus.Gauge

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	LastTradeAccepted  prometheus.Gauge
	LastCycleCompleted prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_refunder"
	}

	return &Metrics{
		// Feed metrics
		FeedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of feed messages received by kind",
		}, []string{"kind"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		FeedConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the feed connection is established",
		}),

		// Ingestion metrics
		TradeDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trade_decisions_total",
			Help:      "Total number of trade events by consumer decision",
		}, []string{"decision"}),

		// Ledger metrics
		LedgerRecords: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "records",
			Help:      "Number of ledger records by status",
		}, []string{"status"}),
		LedgerPendingSOL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_sol",
			Help:      "Total settlement amount of pending records in SOL",
		}),
		LedgerPersistRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "persist_retries_total",
			Help:      "Total number of ledger persistence retries by operation",
		}, []string{"operation"}),
		LedgerPersistFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "persist_failures_total",
			Help:      "Total number of ledger operations that exhausted their attempts",
		}, []string{"operation"}),

		// Resolver metrics
		ResolverOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total number of address resolutions by outcome",
		}, []string{"outcome"}),
		RateLimiterWaits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "rate_limiter_waits_total",
			Help:      "Total number of times a resolution waited for a rate limiter slot",
		}),

		// Refund metrics
		RefundCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refund",
			Name:      "cycles_total",
			Help:      "Total number of refund cycles by outcome",
		}, []string{"outcome"}),
		RefundCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refund",
			Name:      "cycle_duration_seconds",
			Help:      "Refund cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		RefundedSOL: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refund",
			Name:      "refunded_sol_total",
			Help:      "Total SOL refunded",
		}),
		TreasuryBalanceSOL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refund",
			Name:      "treasury_balance_sol",
			Help:      "Treasury balance observed by the last refund cycle",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Health metrics
		LastTradeAccepted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_trade_accepted_timestamp",
			Help:      "Unix timestamp of the last accepted trade",
		}),
		LastCycleCompleted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_refund_cycle_timestamp",
			Help:      "Unix timestamp of the last completed refund cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeedMessage increments the feed message counter for kind.
func RecordFeedMessage(kind string) {
	DefaultMetrics.FeedMessages.WithLabelValues(kind).Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// SetFeedConnected updates the feed connection gauge.
func SetFeedConnected(connected bool) {
	if connected {
		DefaultMetrics.FeedConnected.Set(1)
		return
	}
	DefaultMetrics.FeedConnected.Set(0)
}

// RecordTradeDecision records a consumer decision.
func RecordTradeDecision(decision string, accepted bool, unixSeconds float64) {
	DefaultMetrics.TradeDecisions.WithLabelValues(decision).Inc()
	if accepted {
		DefaultMetrics.LastTradeAccepted.Set(unixSeconds)
	}
}

// UpdateLedgerGauges updates the ledger size gauges.
func UpdateLedgerGauges(pending, refunded int, pendingSOL float64) {
	DefaultMetrics.LedgerRecords.WithLabelValues("pending").Set(float64(pending))
	DefaultMetrics.LedgerRecords.WithLabelValues("refunded").Set(float64(refunded))
	DefaultMetrics.LedgerPendingSOL.Set(pendingSOL)
}

// RecordLedgerRetry records a retried ledger persistence attempt.
func RecordLedgerRetry(operation string) {
	DefaultMetrics.LedgerPersistRetries.WithLabelValues(operation).Inc()
}

// RecordLedgerFailure records a ledger operation that gave up.
func RecordLedgerFailure(operation string) {
	DefaultMetrics.LedgerPersistFailed.WithLabelValues(operation).Inc()
}

// RecordResolution records an address resolution outcome.
func RecordResolution(outcome string) {
	DefaultMetrics.ResolverOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRateLimiterWait increments the limiter wait counter.
func RecordRateLimiterWait() {
	DefaultMetrics.RateLimiterWaits.Inc()
}

// RecordRefundCycle records a completed refund cycle.
func RecordRefundCycle(outcome string, durationSeconds, unixSeconds float64) {
	DefaultMetrics.RefundCycles.WithLabelValues(outcome).Inc()
	DefaultMetrics.RefundCycleDuration.Observe(durationSeconds)
	DefaultMetrics.LastCycleCompleted.Set(unixSeconds)
}

// RecordRefunded adds a settled amount to the refunded total.
func RecordRefunded(sol float64) {
	DefaultMetrics.RefundedSOL.Add(sol)
}

// SetTreasuryBalance updates the treasury balance gauge.
func SetTreasuryBalance(sol float64) {
	DefaultMetrics.TreasuryBalanceSOL.Set(sol)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}
