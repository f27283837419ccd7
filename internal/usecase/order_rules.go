package usecase

import (
	"fmt"
	"math"

	"github.com/sergeydz/perpmm/internal/domain"
)

// Orders whose price strays further than this fraction from mark are assumed
// to be calculation bugs and are dropped locally.
const maxPriceDeviation = 0.50

// ValidateOrderParams is the local precondition check both the strategy and
// the executor run before an order is allowed near the wire: positive
// size/price, the notional floor, and a sane distance from mark. Failing
// orders cost no remote call.
func ValidateOrderParams(o domain.OrderRequest, markPrice, minNotional float64) (bool, string) {
	if o.Size <= 0 {
		return false, fmt.Sprintf("non-positive size %.8f", o.Size)
	}
	if o.Price <= 0 {
		return false, fmt.Sprintf("non-positive price %.8f", o.Price)
	}
	if notional := o.Notional(); notional < minNotional {
		return false, fmt.Sprintf("notional %.2f below minimum %.2f", notional, minNotional)
	}
	if markPrice > 0 {
		deviation := math.Abs(o.Price-markPrice) / markPrice
		if deviation > maxPriceDeviation {
			return false, fmt.Sprintf("price %.4f deviates %.0f%% from mark %.4f", o.Price, deviation*100, markPrice)
		}
	}
	return true, ""
}
