// Package config loads the refunder's YAML configuration.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration.
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Solana   SolanaConfig   `yaml:"solana"`
	Treasury TreasuryConfig `yaml:"treasury"`
	Refund   RefundConfig   `yaml:"refund"`
	Assets   AssetsConfig   `yaml:"assets"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// FeedConfig configures the trade stream.
type FeedConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Programs are DEX program ids or aliases (see ProgramAliases).
	Programs          []string      `yaml:"programs"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// SolanaConfig configures the JSON-RPC client.
type SolanaConfig struct {
	RPCURL     string        `yaml:"rpc_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// RateLimit is the number of resolution calls allowed per second.
	RateLimit int `yaml:"rate_limit"`
}

// TreasuryConfig holds the signing credential. One of the two is required when refunds are enabled.
type TreasuryConfig struct {
	SecretKey   string `yaml:"secret_key"`   // base58 64-byte secret key
	KeypairPath string `yaml:"keypair_path"` // solana-keygen JSON file
}

// RefundConfig configures the refund engine.
type RefundConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// ReserveBuffer and Multiplier are decimal strings, in SOL.
	ReserveBuffer      string        `yaml:"reserve_buffer"`
	Multiplier         string        `yaml:"multiplier"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
	AllowOffCurvePayee bool          `yaml:"allow_off_curve_payee"`
}

// AssetsConfig names the mints and programs the refunder recognizes.
type AssetsConfig struct {
	TargetMint      string   `yaml:"target_mint"`
	SettlementMints []string `yaml:"settlement_mints"`
	TokenPrograms   []string `yaml:"token_programs"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend      string        `yaml:"backend"` // csv, postgres or memory
	Path         string        `yaml:"path"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// JournalConfig configures the refund cycle journal. Empty DSN keeps it in memory.
type JournalConfig struct {
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// MetricsConfig configures the metrics/health HTTP server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Ledger backends.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ReserveBufferSOL returns the parsed reserve buffer. Call after Validate.
func (r RefundConfig) ReserveBufferSOL() decimal.Decimal {
	d, _ := decimal.NewFromString(r.ReserveBuffer)
	return d
}

// MultiplierValue returns the parsed multiplier. Call after Validate.
func (r RefundConfig) MultiplierValue() decimal.Decimal {
	d, _ := decimal.NewFromString(r.Multiplier)
	return d
}
