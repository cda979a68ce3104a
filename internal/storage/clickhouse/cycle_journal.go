package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
)

// CycleJournal implements storage.CycleJournal using ClickHouse.
type CycleJournal struct {
	conn *Conn
}

// NewCycleJournal creates a new CycleJournal.
func NewCycleJournal(conn *Conn) *CycleJournal {
	return &CycleJournal{conn: conn}
}

// Compile-time interface check.
var _ storage.CycleJournal = (*CycleJournal)(nil)

const cycleColumns = `
	cycle_id, started_at, duration_ms, outcome,
	record_index, payer_address, payee, amount, required,
	balance_lamports, signature, detail
`

// Insert adds one cycle. Returns ErrDuplicateKey if the cycle id exists.
// MergeTree does not enforce uniqueness, so the check is explicit.
func (j *CycleJournal) Insert(ctx context.Context, c *domain.RefundCycle) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	id, err := uuid.Parse(c.CycleID)
	if err != nil {
		return fmt.Errorf("%w: cycle id %q", storage.ErrInvalidInput, c.CycleID)
	}

	exists, err := j.exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `INSERT INTO refund_cycles (` + cycleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = j.conn.Exec(ctx, query,
		id, c.StartedAt.UTC(), uint64(c.Duration.Milliseconds()), string(c.Outcome),
		int64(c.RecordIndex), c.PayerAddress, c.Payee, c.Amount.String(), c.Required.String(),
		c.BalanceLamports, c.Signature, c.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert refund cycle: %w", err)
	}
	return nil
}

// GetRecent returns up to limit cycles, newest first. A non-positive limit returns all cycles.
func (j *CycleJournal) GetRecent(ctx context.Context, limit int) ([]*domain.RefundCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM refund_cycles ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer rows.Close()

	return scanCycles(rows)
}

// GetByPayer returns all cycles that considered payer, oldest first.
func (j *CycleJournal) GetByPayer(ctx context.Context, payer string) ([]*domain.RefundCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM refund_cycles WHERE payer_address = ? ORDER BY started_at ASC`

	rows, err := j.conn.Query(ctx, query, payer)
	if err != nil {
		return nil, fmt.Errorf("query cycles by payer: %w", err)
	}
	defer rows.Close()

	return scanCycles(rows)
}

func (j *CycleJournal) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count uint64
	row := j.conn.QueryRow(ctx, `SELECT count() FROM refund_cycles WHERE cycle_id = ?`, id)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanCycles(rows driver.Rows) ([]*domain.RefundCycle, error) {
	var result []*domain.RefundCycle
	for rows.Next() {
		var (
			id         uuid.UUID
			startedAt  time.Time
			durationMs uint64
			outcome    string
			index      int64
			amount     string
			required   string
			c          domain.RefundCycle
		)
		err := rows.Scan(
			&id, &startedAt, &durationMs, &outcome,
			&index, &c.PayerAddress, &c.Payee, &amount, &required,
			&c.BalanceLamports, &c.Signature, &c.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan refund cycle: %w", err)
		}

		c.CycleID = id.String()
		c.StartedAt = startedAt
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Outcome = domain.CycleOutcome(outcome)
		c.RecordIndex = int(index)
		c.Amount = parseDecimal(amount)
		c.Required = parseDecimal(required)

		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund cycles: %w", err)
	}
	return result, nil
}

// parseDecimal tolerates empty strings written for cycles that never priced a record.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
