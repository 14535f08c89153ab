package domain

import "math/big"

// Canonical health-factor clamps. These are the single source for every
// component that displays or filters on risk; the ceiling stands in for the
// ledger's "no debt, effectively infinite safety" sentinel.
const (
	// HealthFactorCeiling is the display clamp for unbounded health factors.
	// Risk is exactly 0 at or above this value.
	HealthFactorCeiling = 100.0

	// HealthFactorFloor is the value at or below which risk is exactly 100.
	HealthFactorFloor = 1.0

	// LiquidationThreshold is the eligibility boundary: positions with a
	// live health factor strictly below it may be liquidated.
	LiquidationThreshold = 1.0
)

// WadScale is the ledger-native fixed-point scale (1e18).
var WadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// RawHealthFactorCap is the wad value corresponding to HealthFactorCeiling.
// Raw reads at or above it are clamped rather than propagated.
var RawHealthFactorCap = new(big.Int).Mul(big.NewInt(int64(HealthFactorCeiling)), WadScale)

// WadToFloat converts a wad fixed-point value to a display float.
// Only display-layer code should call this; ledger-native math stays in wad.
func WadToFloat(wad *big.Int) float64 {
	if wad == nil {
		return 0
	}
	f := new(big.Float).SetInt(wad)
	f.Quo(f, new(big.Float).SetInt(WadScale))
	out, _ := f.Float64()
	return out
}

// WadMul multiplies two wad values, keeping the wad scale.
func WadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, WadScale)
}

// NormalizeHealthFactor converts a raw ledger wad health factor to the
// canonical display value, clamping the sentinel ceiling.
func NormalizeHealthFactor(rawWad *big.Int) float64 {
	if rawWad == nil {
		return 0
	}
	if rawWad.Cmp(RawHealthFactorCap) >= 0 {
		return HealthFactorCeiling
	}
	return WadToFloat(rawWad)
}

// RiskPercent derives the liquidation risk from a normalized health factor.
// Derived together with the health factor from the same read, never
// independently: 0 at or above the ceiling, 100 at or below the floor,
// min(100, 100/hf) between.
func RiskPercent(healthFactor float64) float64 {
	switch {
	case healthFactor >= HealthFactorCeiling:
		return 0
	case healthFactor <= HealthFactorFloor:
		return 100
	default:
		risk := 100 / healthFactor
		if risk > 100 {
			risk = 100
		}
		return risk
	}
}
