package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate checks that all required fields are set and values are valid.
// Command-line overrides must be applied before calling it.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if len(c.Feed.Programs) == 0 {
		return errors.New("feed.programs must list at least one program")
	}
	if c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
		return fmt.Errorf("feed.max_reconnect_delay (%s) cannot be less than feed.reconnect_delay (%s)",
			c.Feed.MaxReconnectDelay, c.Feed.ReconnectDelay)
	}

	if c.Solana.RPCURL == "" {
		return errors.New("solana.rpc_url is required")
	}
	if c.Solana.RateLimit < 1 {
		return fmt.Errorf("solana.rate_limit must be >= 1, got %d", c.Solana.RateLimit)
	}
	if c.Solana.MaxRetries < 0 {
		return fmt.Errorf("solana.max_retries must be >= 0, got %d", c.Solana.MaxRetries)
	}

	if c.Assets.TargetMint == "" {
		return errors.New("assets.target_mint is required")
	}
	if len(c.Assets.SettlementMints) == 0 {
		return errors.New("assets.settlement_mints must not be empty")
	}

	if err := validateDecimal("refund.reserve_buffer", c.Refund.ReserveBuffer); err != nil {
		return err
	}
	if err := validateDecimal("refund.multiplier", c.Refund.Multiplier); err != nil {
		return err
	}
	if c.Refund.Interval <= 0 {
		return errors.New("refund.interval must be > 0")
	}
	if c.Refund.Enabled && c.Treasury.SecretKey == "" && c.Treasury.KeypairPath == "" {
		return errors.New("treasury.secret_key or treasury.keypair_path is required when refund.enabled is true")
	}

	switch c.Ledger.Backend {
	case BackendCSV:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required for the csv backend")
		}
	case BackendPostgres:
		if c.Ledger.PostgresDSN == "" {
			return errors.New("ledger.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ledger.backend must be one of csv, postgres, memory, got %q", c.Ledger.Backend)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be >= 1, got %d", c.Ledger.MaxAttempts)
	}

	return nil
}

func validateDecimal(field, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%s: invalid decimal %q", field, value)
	}
	if d.IsNegative() {
		return fmt.Errorf("%s must be >= 0, got %s", field, value)
	}
	return nil
}
