package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
)

// LedgerStore implements storage.LedgerBackend using PostgreSQL.
// Ledger order is the position column; it is assigned on append and never rewritten.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerBackend = (*LedgerStore)(nil)

// Load returns all records ordered by position.
func (s *LedgerStore) Load(ctx context.Context) ([]domain.TradeRecord, error) {
	query := `
		SELECT payer_address, settlement_amount::text, status, COALESCE(confirmation_ref, '')
		FROM refund_ledger
		ORDER BY position ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query refund ledger: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		r, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund ledger: %w", err)
	}
	return records, nil
}

// Append inserts r after the current last position and returns its index.
func (s *LedgerStore) Append(ctx context.Context, r domain.TradeRecord) (int, error) {
	if r.PayerAddress == "" {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var position int
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM refund_ledger`).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("next ledger position: %w", err)
	}

	query := `
		INSERT INTO refund_ledger (position, payer_address, settlement_amount, status, confirmation_ref)
		VALUES ($1, $2, $3::numeric, $4, NULLIF($5, ''))
	`
	_, err = tx.Exec(ctx, query, position, r.PayerAddress, r.SettlementAmount.String(), int16(r.Status), r.ConfirmationRef)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert ledger record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return position, nil
}

// Update replaces the mutable fields of the record at index.
// Payer and amount are part of the record identity and are not rewritten.
func (s *LedgerStore) Update(ctx context.Context, index int, r domain.TradeRecord) error {
	query := `
		UPDATE refund_ledger
		SET status = $2, confirmation_ref = NULLIF($3, ''), updated_at = NOW()
		WHERE position = $1
	`

	tag, err := s.pool.Exec(ctx, query, index, int16(r.Status), r.ConfirmationRef)
	if err != nil {
		return fmt.Errorf("update ledger record %d: %w", index, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanLedgerRow(row pgx.Row) (domain.TradeRecord, error) {
	var (
		payer  string
		amount string
		status int16
		ref    string
	)
	if err := row.Scan(&payer, &amount, &status, &ref); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("scan ledger row: %w", err)
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("%w: settlement amount %q", storage.ErrCorrupt, amount)
	}

	return domain.TradeRecord{
		PayerAddress:     payer,
		SettlementAmount: dec,
		Status:           domain.Status(status),
		ConfirmationRef:  ref,
	}, nil
}
