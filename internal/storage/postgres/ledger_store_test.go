package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/storage"
	"solana-refunder/internal/storage/migrations"
)

func TestLedgerStore_AppendAndLoad(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	idx, err := store.Append(ctx, domain.TradeRecord{
		PayerAddress:     "W1",
		SettlementAmount: decimal.RequireFromString("1.5"),
		Status:           domain.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = store.Append(ctx, domain.TradeRecord{
		PayerAddress:     "W2",
		SettlementAmount: decimal.RequireFromString("0.000000001"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "W1", records[0].PayerAddress)
	assert.True(t, decimal.RequireFromString("1.5").Equal(records[0].SettlementAmount))
	assert.Equal(t, domain.StatusPending, records[0].Status)
	assert.Empty(t, records[0].ConfirmationRef)

	assert.Equal(t, "W2", records[1].PayerAddress)
	assert.True(t, decimal.RequireFromString("0.000000001").Equal(records[1].SettlementAmount))
}

func TestLedgerStore_Update(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	for _, payer := range []string{"A", "B", "C"} {
		_, err := store.Append(ctx, domain.TradeRecord{PayerAddress: payer, SettlementAmount: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}

	records, err := store.Load(ctx)
	require.NoError(t, err)

	err = store.Update(ctx, 1, domain.RefundedPatch("sigB").Apply(records[1]))
	require.NoError(t, err)

	records, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "A", records[0].PayerAddress)
	assert.Equal(t, "B", records[1].PayerAddress)
	assert.Equal(t, "C", records[2].PayerAddress)
	assert.Equal(t, domain.StatusRefunded, records[1].Status)
	assert.Equal(t, "sigB", records[1].ConfirmationRef)
	assert.Equal(t, domain.StatusPending, records[2].Status)
}

func TestLedgerStore_UpdateNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	err := store.Update(context.Background(), 42, domain.TradeRecord{PayerAddress: "X", Status: domain.StatusRefunded})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_MigrationsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, migrations.RunPostgresMigrations(context.Background(), pool))
}
