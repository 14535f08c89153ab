package clickhouse

import (
	"context"
	"fmt"

	"lendmirror/internal/domain"
	"lendmirror/internal/storage"
)

// GasSampleStore implements storage.GasSampleStore using ClickHouse. Every
// processed event contributes one sample, feeding cross-network cost
// aggregation.
type GasSampleStore struct {
	conn *Conn
}

// NewGasSampleStore creates a new GasSampleStore.
func NewGasSampleStore(conn *Conn) *GasSampleStore {
	return &GasSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.GasSampleStore = (*GasSampleStore)(nil)

// InsertBulk adds multiple samples in one batch.
func (s *GasSampleStore) InsertBulk(ctx context.Context, samples []*storage.GasSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO gas_samples (
			network, event_type, tx_hash, gas_used, gas_price_wei, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		err = batch.Append(
			p.Network, string(p.EventType), p.TxHash,
			uint64(p.GasUsed), uint64(p.GasPriceWei), uint64(p.Timestamp),
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

// AverageCost returns the mean gas cost in wei for one event type on one
// network. Returns found=false when no samples exist.
func (s *GasSampleStore) AverageCost(ctx context.Context, t domain.EventType, network string) (avg float64, found bool, err error) {
	query := `
		SELECT avg(gas_used * gas_price_wei), count(*)
		FROM gas_samples
		WHERE event_type = ? AND network = ?
	`

	var count uint64
	err = s.conn.QueryRow(ctx, query, string(t), network).Scan(&avg, &count)
	if err != nil {
		return 0, false, fmt.Errorf("query average cost: %w", err)
	}
	if count == 0 {
		return 0, false, nil
	}
	return avg, true, nil
}
