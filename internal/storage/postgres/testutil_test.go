package postgres_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage/migrations"
	"lendmirror/internal/storage/postgres"
)

// setupTestDB creates a PostgreSQL container, applies the embedded migrations,
// and returns a ready store. Returns a cleanup function that must be called
// after tests complete.
func setupTestDB(t *testing.T) (*postgres.Store, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "failed to run migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return postgres.NewStore(pool), cleanup
}

func wad(f float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(f), new(big.Float).SetInt(domain.WadScale))
	out, _ := scaled.Int(nil)
	return out
}

// depositUnit builds a complete unit of work for a deposit event.
func depositUnit(txHash, user, market, stream string, block uint64, amount *big.Int) *domain.IndexUnit {
	now := time.Now().UnixMilli()
	return &domain.IndexUnit{
		Event: &domain.Event{
			TxHash:      txHash,
			Type:        domain.EventDeposit,
			Market:      market,
			Network:     "testnet",
			BlockNumber: block,
			Timestamp:   now,
			GasUsed:     21000,
			GasPriceWei: 1_000_000_000,
			Status:      domain.EventProcessed,
			CreatedAt:   now,
			Payload:     domain.DepositPayload{User: user, Value: amount},
		},
		User: &domain.User{Address: user, FirstSeen: now, LastSeen: now},
		Market: &domain.Market{
			Token:          market,
			Network:        "testnet",
			TotalLiquidity: new(big.Int).Set(amount),
			TotalBorrowed:  big.NewInt(0),
			UpdatedAt:      now,
		},
		Position: &domain.Position{
			User:            user,
			Market:          market,
			DepositAmount:   new(big.Int).Set(amount),
			BorrowAmount:    big.NewInt(0),
			CollateralValue: new(big.Int).Set(amount),
			HealthFactor:    domain.HealthFactorCeiling,
			LiquidationRisk: 0,
			InterestRateBps: 500,
			Status:          domain.PositionActive,
			PriceSource:     domain.SourceOracle,
			HealthSource:    domain.SourceOracle,
			LastUpdate:      now,
		},
		Activities: []*domain.UserActivity{{
			ID:        uuid.NewString(),
			User:      user,
			TxHash:    txHash,
			Kind:      domain.ActivityDeposit,
			Market:    market,
			Value:     new(big.Int).Set(amount),
			Timestamp: now,
		}},
		Stream:      stream,
		BlockNumber: block,
	}
}
