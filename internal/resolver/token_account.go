package resolver

import (
	"encoding/base64"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Token program ids recognized by default.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// DefaultTokenPrograms returns the SPL Token and Token-2022 program ids.
func DefaultTokenPrograms() []string {
	return []string{TokenProgramID, Token2022ProgramID}
}

// Token account layout: mint(32) | owner(32) | amount(8) | ...
const (
	ownerOffset = 32
	ownerEnd    = 64
)

var errShortAccountData = errors.New("token account data too short")

// parseTokenAccountOwner decodes base64 account data and returns the raw owner key.
func parseTokenAccountOwner(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode token account data: %w", err)
	}
	if len(decoded) < ownerEnd {
		return nil, fmt.Errorf("%w: %d", errShortAccountData, len(decoded))
	}
	return decoded[ownerOffset:ownerEnd], nil
}

// isOnCurve reports whether key is a valid ed25519 point. Program-derived
// addresses are off-curve and have no private key.
func isOnCurve(key []byte) bool {
	if len(key) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

func encodeKey(key []byte) string {
	return base58.Encode(key)
}
