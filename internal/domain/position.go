package domain

import "math/big"

// PositionStatus is the lifecycle state of a (user, market) position.
type PositionStatus string

// Position status values.
const (
	PositionActive     PositionStatus = "ACTIVE"
	PositionLiquidated PositionStatus = "LIQUIDATED"
	PositionClosed     PositionStatus = "CLOSED"
)

// ValueSource marks where a risk-relevant value came from. Fallback values
// are never silently treated as authoritative; consumers can inspect the
// source before acting on the number.
type ValueSource string

// Value provenance markers.
const (
	SourceOracle   ValueSource = "oracle"   // read live from the ledger
	SourcePrevious ValueSource = "previous" // carried over from the last stored value
	SourceFallback ValueSource = "fallback" // configured degraded-mode default
)

// Position is the materialized view of one (user, market) pair.
// Corresponds to positions table in PostgreSQL. The stored copy is a cache:
// the authoritative exposure is always re-read from the ledger at write time.
type Position struct {
	User            string         // FK to users, lowercase hex
	Market          string         // FK to markets
	DepositAmount   *big.Int       // wad
	BorrowAmount    *big.Int       // wad
	CollateralValue *big.Int       // deposit * oracle price, wad
	HealthFactor    float64        // normalized, clamped to [0, HealthFactorCeiling]
	LiquidationRisk float64        // 0..100, derived together with HealthFactor
	InterestRateBps uint32         // market borrow rate at last reconcile
	Status          PositionStatus // ACTIVE | LIQUIDATED | CLOSED
	PriceSource     ValueSource    // provenance of the price used for CollateralValue
	HealthSource    ValueSource    // provenance of HealthFactor
	LastUpdate      int64          // Unix timestamp in milliseconds
}
