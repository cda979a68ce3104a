// Package csvfile stores the refund ledger as a CSV file that is rewritten in full on every mutation.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
)

// Header is the ledger file's column layout.
var Header = []string{"payerAddress", "settlementAmount", "status", "confirmationRef"}

// LedgerStore implements storage.LedgerBackend on a single CSV file.
// Every Append/Update reads the file, applies the change and replaces the file
// through a temp file + rename, so a crash leaves either the old or the new ledger.
type LedgerStore struct {
	path string
}

// NewLedgerStore creates a file-backed ledger at path. The file is created on first write.
func NewLedgerStore(path string) *LedgerStore {
	return &LedgerStore{path: path}
}

// Path returns the ledger file path.
func (s *LedgerStore) Path() string {
	return s.path
}

// Load reads all records. A missing file is an empty ledger.
func (s *LedgerStore) Load(ctx context.Context) ([]domain.TradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	return decode(f)
}

// Append adds r at the end of the file and returns its index.
func (s *LedgerStore) Append(ctx context.Context, r domain.TradeRecord) (int, error) {
	if r.PayerAddress == "" {
		return 0, storage.ErrInvalidInput
	}

	records, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	records = append(records, r)

	if err := s.write(records); err != nil {
		return 0, err
	}
	return len(records) - 1, nil
}

// Update replaces the record at index.
func (s *LedgerStore) Update(ctx context.Context, index int, r domain.TradeRecord) error {
	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(records) {
		return storage.ErrNotFound
	}
	records[index] = r

	return s.write(records)
}

// write replaces the ledger file atomically.
func (s *LedgerStore) write(records []domain.TradeRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if err := encode(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func encode(w io.Writer, records []domain.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.PayerAddress,
			r.SettlementAmount.String(),
			strconv.Itoa(int(r.Status)),
			r.ConfirmationRef,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ledger row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

func decode(r io.Reader) ([]domain.TradeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	start := 0
	if rows[0][0] == Header[0] {
		start = 1
	}

	records := make([]domain.TradeRecord, 0, len(rows)-start)
	for i, row := range rows[start:] {
		rec, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", storage.ErrCorrupt, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRow(row []string) (domain.TradeRecord, error) {
	if row[0] == "" {
		return domain.TradeRecord{}, errors.New("empty payer address")
	}

	amount, err := decimal.NewFromString(row[1])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("settlement amount %q: %w", row[1], err)
	}

	code, err := strconv.Atoi(row[2])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("status %q: %w", row[2], err)
	}
	status := domain.Status(code)
	if !status.Valid() {
		return domain.TradeRecord{}, fmt.Errorf("unknown status %d", code)
	}

	return domain.TradeRecord{
		PayerAddress:     row[0],
		SettlementAmount: amount,
		Status:           status,
		ConfirmationRef:  row[3],
	}, nil
}

var _ storage.LedgerBackend = (*LedgerStore)(nil)
