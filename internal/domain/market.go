package domain

import "math/big"

// DefaultMarket is the logical market grouping used when a deployment runs a
// single pool per network.
const DefaultMarket = "default"

// Market represents a collateral/loan token pool.
// Corresponds to markets table in PostgreSQL. Key is the token address (or
// DefaultMarket); mutated by every processed event touching the token, never
// deleted.
type Market struct {
	Token          string   // PRIMARY KEY, lowercase hex token address
	Network        string   // network the pool lives on
	TotalLiquidity *big.Int // cumulative deposited liquidity, wad
	TotalBorrowed  *big.Int // cumulative borrowed, wad
	UtilizationBps uint32   // borrowed/liquidity in basis points
	UpdatedAt      int64    // Unix timestamp in milliseconds
}

// Utilization recomputes the utilization rate in basis points.
// Returns 0 when the pool holds no liquidity.
func (m *Market) Utilization() uint32 {
	if m.TotalLiquidity == nil || m.TotalLiquidity.Sign() == 0 || m.TotalBorrowed == nil {
		return 0
	}
	bps := new(big.Int).Mul(m.TotalBorrowed, big.NewInt(10000))
	bps.Quo(bps, m.TotalLiquidity)
	if !bps.IsUint64() || bps.Uint64() > 10000 {
		return 10000
	}
	return uint32(bps.Uint64())
}
