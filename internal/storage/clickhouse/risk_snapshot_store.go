package clickhouse

import (
	"context"
	"fmt"

	"lendmirror/internal/storage"
)

// RiskSnapshotStore implements storage.RiskSnapshotStore using ClickHouse.
// Each liquidation scan pushes one snapshot per inspected position, building
// a timeseries of portfolio risk.
type RiskSnapshotStore struct {
	conn *Conn
}

// NewRiskSnapshotStore creates a new RiskSnapshotStore.
func NewRiskSnapshotStore(conn *Conn) *RiskSnapshotStore {
	return &RiskSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RiskSnapshotStore = (*RiskSnapshotStore)(nil)

// InsertBulk adds multiple snapshots in one batch.
func (s *RiskSnapshotStore) InsertBulk(ctx context.Context, points []*storage.RiskSnapshot) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO risk_snapshots (
			market, user_address, health_factor, liquidation_risk,
			deposit_amount, borrow_amount, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Market, p.User, p.HealthFactor, p.LiquidationRisk,
			p.DepositAmount, p.BorrowAmount, uint64(p.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByMarket retrieves snapshots for a market within [start, end] (inclusive).
func (s *RiskSnapshotStore) GetByMarket(ctx context.Context, market string, start, end int64) ([]*storage.RiskSnapshot, error) {
	query := `
		SELECT market, user_address, health_factor, liquidation_risk,
		       deposit_amount, borrow_amount, timestamp_ms
		FROM risk_snapshots
		WHERE market = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, market, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by market: %w", err)
	}
	defer rows.Close()

	return scanRiskSnapshots(rows)
}

func scanRiskSnapshots(rows chRows) ([]*storage.RiskSnapshot, error) {
	var points []*storage.RiskSnapshot

	for rows.Next() {
		var p storage.RiskSnapshot
		var timestampMs uint64

		err := rows.Scan(
			&p.Market, &p.User, &p.HealthFactor, &p.LiquidationRisk,
			&p.DepositAmount, &p.BorrowAmount, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan risk snapshot row: %w", err)
		}

		p.Timestamp = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk snapshot rows: %w", err)
	}

	return points, nil
}
