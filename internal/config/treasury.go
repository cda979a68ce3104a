package config

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// ErrNoTreasuryKey is returned when neither secret_key nor keypair_path is set.
var ErrNoTreasuryKey = errors.New("no treasury credential configured")

// LoadTreasuryKey parses the treasury signing key. secret_key takes precedence over keypair_path.
func LoadTreasuryKey(t TreasuryConfig) (solanago.PrivateKey, error) {
	var (
		key solanago.PrivateKey
		err error
	)
	switch {
	case t.SecretKey != "":
		key, err = solanago.PrivateKeyFromBase58(t.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("parse treasury.secret_key: %w", err)
		}
	case t.KeypairPath != "":
		key, err = solanago.PrivateKeyFromSolanaKeygenFile(t.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("read treasury.keypair_path: %w", err)
		}
	default:
		return nil, ErrNoTreasuryKey
	}

	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid treasury key: %w", err)
	}
	return key, nil
}
