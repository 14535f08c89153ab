package storage

import (
	"context"

	"lendmirror/internal/domain"
)

// UnitWriter applies one logical unit of work atomically. It is the only
// component permitted to mutate durable rows; everything else reads.
type UnitWriter interface {
	// ApplyUnit upserts user/market/position rows, appends activity rows,
	// inserts the event row, and advances the stream watermark — all in one
	// transaction. Returns ErrDuplicateKey without side effects if the
	// event's tx_hash is already committed.
	ApplyUnit(ctx context.Context, unit *domain.IndexUnit) error
}

// EventStore provides read access to the append-only events table.
type EventStore interface {
	// GetEvent retrieves an event by tx hash. Returns ErrNotFound if not exists.
	GetEvent(ctx context.Context, txHash string) (*domain.Event, error)

	// HasEvent reports whether an event row is committed for the hash.
	HasEvent(ctx context.Context, txHash string) (bool, error)

	// GetEventsByMarket retrieves events for a market, ordered by block ASC.
	GetEventsByMarket(ctx context.Context, market string) ([]*domain.Event, error)

	// GetEventsByTypeAndNetwork retrieves processed events of one type on
	// one network, for cross-network aggregation.
	GetEventsByTypeAndNetwork(ctx context.Context, t domain.EventType, network string) ([]*domain.Event, error)
}

// UserStore provides read access to users.
type UserStore interface {
	// GetUser retrieves a user by address. Returns ErrNotFound if not exists.
	GetUser(ctx context.Context, address string) (*domain.User, error)
}

// MarketStore provides read access to markets.
type MarketStore interface {
	// GetMarket retrieves a market by token. Returns ErrNotFound if not exists.
	GetMarket(ctx context.Context, token string) (*domain.Market, error)
}

// PositionStore provides read access to materialized positions.
type PositionStore interface {
	// GetPosition retrieves the position for (user, market). Returns
	// ErrNotFound if not exists.
	GetPosition(ctx context.Context, user, market string) (*domain.Position, error)

	// GetPositionsByMarket retrieves all positions in a market.
	GetPositionsByMarket(ctx context.Context, market string) ([]*domain.Position, error)
}

// ActivityStore provides read access to the per-user audit trail.
type ActivityStore interface {
	// GetActivitiesByUser retrieves activities for a user, ordered by
	// timestamp ASC.
	GetActivitiesByUser(ctx context.Context, user string) ([]*domain.UserActivity, error)

	// GetActivitiesByTxHash retrieves the activity rows fanned out from one
	// event.
	GetActivitiesByTxHash(ctx context.Context, txHash string) ([]*domain.UserActivity, error)
}

// WatermarkStore persists the per-stream last-processed block so replays
// are discarded across restarts.
type WatermarkStore interface {
	// GetWatermark returns the stream's high-water mark. Returns
	// ErrNotFound if the stream has no committed events yet.
	GetWatermark(ctx context.Context, stream string) (uint64, error)

	// SetWatermark records the high-water mark; implementations must keep
	// it monotonically non-decreasing.
	SetWatermark(ctx context.Context, stream string, block uint64) error
}

// Store aggregates every read capability plus the unit writer. Both the
// in-memory and PostgreSQL backends satisfy it.
type Store interface {
	UnitWriter
	EventStore
	UserStore
	MarketStore
	PositionStore
	ActivityStore
	WatermarkStore
}
