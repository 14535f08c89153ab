package reconcile

import (
	"math/big"

	"lendmirror/internal/domain"
)

// CollateralValue computes deposit * oracle price in wad scale. Fixed-point
// all the way; conversion to display floats happens only at the API layer.
func CollateralValue(deposit, price *big.Int) *big.Int {
	if deposit == nil || price == nil {
		return new(big.Int)
	}
	return domain.WadMul(deposit, price)
}
