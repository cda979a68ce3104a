package refund

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"solana-refunder/internal/solana"
)

const (
	// DefaultConfirmTimeout bounds one wait for a submitted transfer. It outlasts a
	// blockhash (about 150 blocks).
	DefaultConfirmTimeout = 2 * time.Minute
	// DefaultPollInterval is the pause between signature status checks.
	DefaultPollInterval = 2 * time.Second
)

var (
	// ErrTransactionFailed means the transfer landed with an error.
	ErrTransactionFailed = errors.New("transfer failed on chain")
	// ErrBlockhashExpired means the transfer never landed and its blockhash can no longer be used.
	ErrBlockhashExpired = errors.New("transfer expired unconfirmed")
	// ErrOutcomeUnknown means the transfer may have been submitted but neither landed nor expired
	// while we watched. Paying the record again could pay it twice.
	ErrOutcomeUnknown = errors.New("transfer outcome unknown")
)

// InFlightError identifies a transfer whose outcome is unknown. It wraps ErrOutcomeUnknown.
type InFlightError struct {
	Signature            string
	LastValidBlockHeight uint64
	Reason               string
}

func (e *InFlightError) Error() string {
	return fmt.Sprintf("%v: sig=%s last_valid_block_height=%d: %s",
		ErrOutcomeUnknown, e.Signature, e.LastValidBlockHeight, e.Reason)
}

func (e *InFlightError) Unwrap() error {
	return ErrOutcomeUnknown
}

// TransferRPC is the RPC subset needed to submit and confirm a transfer.
type TransferRPC interface {
	GetLatestBlockhash(ctx context.Context) (*solana.Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, encoded string) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*solana.SignatureStatus, error)
}

// TransferOptions configures SystemTransfer.
type TransferOptions struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Logger         *log.Logger
}

// SystemTransfer sends SOL from the treasury with a System Program transfer.
type SystemTransfer struct {
	rpc            TransferRPC
	signer         solanago.PrivateKey
	from           solanago.PublicKey
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *log.Logger
}

// NewSystemTransfer creates a transferrer signing with key.
func NewSystemTransfer(rpc TransferRPC, key solanago.PrivateKey, opts TransferOptions) *SystemTransfer {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SystemTransfer{
		rpc:            rpc,
		signer:         key,
		from:           key.PublicKey(),
		confirmTimeout: opts.ConfirmTimeout,
		pollInterval:   opts.PollInterval,
		logger:         logger,
	}
}

// Treasury returns the base58 address transfers are paid from.
func (t *SystemTransfer) Treasury() string {
	return t.from.String()
}

// Transfer builds, signs and submits a transfer of lamports to the wallet at
// to, then waits for confirmed commitment. It returns the transaction signature.
// Once the transaction may have reached the network, a failure is either
// ErrTransactionFailed, ErrBlockhashExpired or an *InFlightError.
func (t *SystemTransfer) Transfer(ctx context.Context, to string, lamports uint64) (string, error) {
	if lamports == 0 {
		return "", fmt.Errorf("refusing zero-lamport transfer to %s", to)
	}

	dest, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("parse destination %q: %w", to, err)
	}

	bh, err := t.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	hash, err := solanago.HashFromBase58(bh.Blockhash)
	if err != nil {
		return "", fmt.Errorf("parse blockhash %q: %w", bh.Blockhash, err)
	}

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(lamports, t.from, dest).Build(),
		},
		hash,
		solanago.TransactionPayer(t.from),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(t.from) {
			return &t.signer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	signature := tx.Signatures[0].String()
	sent, err := t.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		var rpcErr *solana.RPCError
		if errors.As(err, &rpcErr) {
			// Rejected by the node (preflight), nothing was forwarded.
			return "", fmt.Errorf("send transaction %s: %w", signature, err)
		}
		// A transport failure does not tell us whether the node forwarded it.
		t.logger.Printf("[refund] send outcome unknown, watching signature: sig=%s err=%v", signature, err)
	} else if sent != "" && sent != signature {
		t.logger.Printf("[refund] node returned signature %s, expected %s", sent, signature)
		signature = sent
	}

	if err := t.Await(ctx, signature, bh.LastValidBlockHeight); err != nil {
		return "", err
	}
	return signature, nil
}

// Await polls the signature status until the transaction lands, fails, or the
// block height passes lastValidBlockHeight with the signature still unknown.
// If ctx ends or the confirm timeout elapses first, it returns an *InFlightError.
func (t *SystemTransfer) Await(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, t.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		// Height is read before the status, so an unknown status at a height past
		// the limit means the transaction can no longer land.
		height, heightErr := t.rpc.GetBlockHeight(ctx)
		if heightErr != nil {
			t.logger.Printf("[refund] block height check failed: sig=%s err=%v", signature, heightErr)
		}

		statuses, err := t.rpc.GetSignatureStatuses(ctx, []string{signature})
		switch {
		case err != nil:
			t.logger.Printf("[refund] signature status check failed: sig=%s err=%v", signature, err)
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("%w: sig=%s err=%v", ErrTransactionFailed, signature, st.Err)
			}
			if st.Landed() {
				return nil
			}
		case heightErr == nil && height > lastValidBlockHeight:
			return fmt.Errorf("%w: sig=%s block_height=%d last_valid_block_height=%d",
				ErrBlockhashExpired, signature, height, lastValidBlockHeight)
		}

		select {
		case <-ctx.Done():
			reason := fmt.Sprintf("not confirmed after %s", t.confirmTimeout)
			if parent.Err() != nil {
				reason = "stopped watching: " + parent.Err().Error()
			}
			return &InFlightError{
				Signature:            signature,
				LastValidBlockHeight: lastValidBlockHeight,
				Reason:               reason,
			}
		case <-ticker.C:
		}
	}
}
