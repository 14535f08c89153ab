package storage

import (
	"context"

	"lendmirror/internal/domain"
)

// RiskSnapshot is one point of the per-scan risk timeseries pushed to the
// analytics sink.
type RiskSnapshot struct {
	Market          string
	User            string
	HealthFactor    float64
	LiquidationRisk float64
	DepositAmount   float64 // display units
	BorrowAmount    float64 // display units
	Timestamp       int64   // Unix timestamp in milliseconds
}

// GasSample is one per-event gas cost observation.
type GasSample struct {
	Network     string
	EventType   domain.EventType
	TxHash      string
	GasUsed     int64
	GasPriceWei int64
	Timestamp   int64 // Unix timestamp in milliseconds
}

// RiskSnapshotStore provides access to risk_snapshots analytics storage.
type RiskSnapshotStore interface {
	// InsertBulk adds multiple snapshots in one batch.
	InsertBulk(ctx context.Context, points []*RiskSnapshot) error
}

// GasSampleStore provides access to gas_samples analytics storage.
type GasSampleStore interface {
	// InsertBulk adds multiple samples in one batch.
	InsertBulk(ctx context.Context, samples []*GasSample) error
}
