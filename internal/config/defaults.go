package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL           = "wss://streaming.bitquery.io/eap"
	DefaultReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultReadTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultRPCURL            = "https://api.mainnet-beta.solana.com"
	DefaultRPCTimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRateLimit         = 10
	DefaultRefundInterval    = 5 * time.Minute
	DefaultReserveBuffer     = "0.05"
	DefaultMultiplier        = "1"
	DefaultConfirmTimeout    = 2 * time.Minute
	DefaultLedgerBackend     = BackendCSV
	DefaultLedgerPath        = "data/refund_ledger.csv"
	DefaultMaxAttempts       = 3
	DefaultRetryBackoff      = 1 * time.Second
	DefaultMetricsAddr       = ":9090"
)

// Well-known mint and program ids.
const (
	WrappedSOLMint     = "So11111111111111111111111111111111111111112"
	NativeSOLMint      = "11111111111111111111111111111111"
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// ProgramAliases maps DEX names accepted in feed.programs to program ids.
var ProgramAliases = map[string]string{
	"raydium":      "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	"raydium_cpmm": "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C",
	"raydium_clmm": "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK",
	"pumpfun":      "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
	"pumpswap":     "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA",
	"orca":         "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	"meteora":      "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",
}

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.MaxReconnectDelay == 0 {
		c.Feed.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}

	// Solana defaults
	if c.Solana.RPCURL == "" {
		c.Solana.RPCURL = DefaultRPCURL
	}
	if c.Solana.Timeout == 0 {
		c.Solana.Timeout = DefaultRPCTimeout
	}
	if c.Solana.MaxRetries == 0 {
		c.Solana.MaxRetries = DefaultMaxRetries
	}
	if c.Solana.RateLimit == 0 {
		c.Solana.RateLimit = DefaultRateLimit
	}

	// Refund defaults
	if c.Refund.Interval == 0 {
		c.Refund.Interval = DefaultRefundInterval
	}
	if c.Refund.ReserveBuffer == "" {
		c.Refund.ReserveBuffer = DefaultReserveBuffer
	}
	if c.Refund.Multiplier == "" {
		c.Refund.Multiplier = DefaultMultiplier
	}
	if c.Refund.ConfirmTimeout == 0 {
		c.Refund.ConfirmTimeout = DefaultConfirmTimeout
	}

	// Asset defaults
	if len(c.Assets.SettlementMints) == 0 {
		c.Assets.SettlementMints = []string{WrappedSOLMint, NativeSOLMint}
	}
	if len(c.Assets.TokenPrograms) == 0 {
		c.Assets.TokenPrograms = []string{TokenProgramID, Token2022ProgramID}
	}

	// Ledger defaults
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = DefaultLedgerBackend
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath
	}
	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = DefaultMaxAttempts
	}
	if c.Ledger.RetryBackoff == 0 {
		c.Ledger.RetryBackoff = DefaultRetryBackoff
	}

	// Metrics defaults
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}

	c.Feed.Programs = resolvePrograms(c.Feed.Programs)
}

// resolvePrograms replaces aliases with program ids and drops blanks and duplicates.
func resolvePrograms(programs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range programs {
		if id, ok := ProgramAliases[p]; ok {
			p = id
		}
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
