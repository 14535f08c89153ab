package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendmirror/internal/storage"
	"lendmirror/internal/storage/clickhouse"
)

func TestRiskSnapshotStore_InsertBulkAndGetByMarket(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := clickhouse.NewRiskSnapshotStore(conn)

	points := []*storage.RiskSnapshot{
		{
			Market: "0xtoken", User: "0xaa",
			HealthFactor: 0.8, LiquidationRisk: 100.0,
			DepositAmount: 1.0, BorrowAmount: 1.2,
			Timestamp: 1000,
		},
		{
			Market: "0xtoken", User: "0xbb",
			HealthFactor: 2.0, LiquidationRisk: 50.0,
			DepositAmount: 3.0, BorrowAmount: 1.5,
			Timestamp: 2000,
		},
		{
			Market: "0xother", User: "0xcc",
			HealthFactor: 4.0, LiquidationRisk: 25.0,
			DepositAmount: 5.0, BorrowAmount: 1.0,
			Timestamp: 1500,
		},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.GetByMarket(ctx, "0xtoken", 0, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by timestamp ascending.
	assert.Equal(t, "0xaa", got[0].User)
	assert.Equal(t, "0xbb", got[1].User)
	assert.InDelta(t, 0.8, got[0].HealthFactor, 0.0001)
	assert.InDelta(t, 100.0, got[0].LiquidationRisk, 0.0001)
	assert.InDelta(t, 1.2, got[0].BorrowAmount, 0.0001)
	assert.Equal(t, int64(1000), got[0].Timestamp)
}

func TestRiskSnapshotStore_RangeExcludesOutside(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := clickhouse.NewRiskSnapshotStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*storage.RiskSnapshot{
		{Market: "0xtoken", User: "0xaa", HealthFactor: 1.0, Timestamp: 1000},
		{Market: "0xtoken", User: "0xbb", HealthFactor: 1.0, Timestamp: 5000},
	}))

	got, err := store.GetByMarket(ctx, "0xtoken", 0, 2000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xaa", got[0].User)
}

func TestRiskSnapshotStore_InsertBulkEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewRiskSnapshotStore(conn)
	require.NoError(t, store.InsertBulk(context.Background(), nil))
}
