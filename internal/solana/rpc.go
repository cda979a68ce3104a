package solana

import "context"

// RPCClient defines the Solana RPC HTTP methods used by the refunder.
type RPCClient interface {
	// GetAccountInfo returns account info, or nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetBalance returns the account balance in lamports.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetLatestBlockhash returns a recent blockhash for transaction building.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetBlockHeight returns the current block height; a blockhash expires once it passes LastValidBlockHeight.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// SendTransaction submits a base64-encoded signed transaction and returns its signature.
	SendTransaction(ctx context.Context, encoded string) (string, error)

	// GetSignatureStatuses returns one status per signature; nil entries are unknown to the node.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
}

var _ RPCClient = (*HTTPClient)(nil)
