// Package ledger exposes the read and subscription capabilities of the
// on-chain lending ledger. The contract itself is a black box; everything
// here speaks JSON-RPC to a node and treats every read as fallible.
package ledger

import (
	"context"
	"math/big"
	"time"
)

// RawPosition is the authoritative current state of a (user, token) pair as
// reported by the ledger.
type RawPosition struct {
	DepositAmount  *big.Int // wad
	BorrowAmount   *big.Int // wad
	LastUpdateTime int64    // Unix timestamp in milliseconds
}

// TokenConfig is the market interest configuration for a token.
type TokenConfig struct {
	InterestRateBps       uint32
	LiquidationPenaltyBps uint32
	AccrualInterval       time.Duration // discrete accrual step used by the ledger
	IsSupported           bool
}

// DepositRecord is one historical deposit event returned by a bounded
// range query. Used by the scanner for candidate discovery.
type DepositRecord struct {
	User        string
	Value       *big.Int // wad
	BlockNumber uint64
	TxHash      string
	Timestamp   int64 // Unix timestamp in milliseconds
}

// RawNotification is one event delivered by the feed before normalization.
// Args stays opaque here; the normalizer decodes it exactly once.
type RawNotification struct {
	Type        string
	Args        map[string]string
	Market      string
	Network     string
	BlockNumber uint64
	TxHash      string
	Timestamp   int64 // Unix timestamp in milliseconds
	GasUsed     int64
	GasPriceWei int64
}

// Reader provides authoritative reads from the ledger. All methods may fail
// transiently; callers retry or degrade, never trust a fabricated value.
type Reader interface {
	// ReadPosition returns the current deposit/borrow amounts for a user.
	ReadPosition(ctx context.Context, user, token string) (*RawPosition, error)

	// ReadHealthFactor returns the raw wad health-factor ratio for a user.
	ReadHealthFactor(ctx context.Context, user string) (*big.Int, error)

	// ReadTokenConfig returns the interest configuration for a token.
	ReadTokenConfig(ctx context.Context, token string) (*TokenConfig, error)

	// ReadPrice returns the oracle price for a token, wad.
	ReadPrice(ctx context.Context, token string) (*big.Int, error)

	// ReadDepositEvents returns historical deposit events for a token within
	// [fromBlock, toBlock]. Bounded: callers page through block ranges.
	ReadDepositEvents(ctx context.Context, token string, fromBlock, toBlock uint64) ([]*DepositRecord, error)

	// LatestBlock returns the newest block number known to the node.
	LatestBlock(ctx context.Context) (uint64, error)
}

// EventFeed streams ledger event notifications. Deliveries may be
// duplicated, reordered, or replayed after a reconnect; the ingestion gate
// and watermark absorb that.
type EventFeed interface {
	// SubscribeEvents subscribes to the given event types starting at
	// fromBlock. The returned channel closes when the feed shuts down.
	SubscribeEvents(ctx context.Context, types []string, fromBlock uint64) (<-chan RawNotification, error)

	// Close tears the feed down and releases the connection.
	Close() error
}
