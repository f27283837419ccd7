package usecase

import (
	"math"

	"github.com/shopspring/decimal"
)

// Price and size quantization. The venue rejects prices that are not tick
// multiples or that carry more than five significant figures, and sizes that
// exceed the asset's size decimals. All rounding goes through decimals to
// avoid float artifacts like 0.30000000000000004 leaking into order payloads.

const maxPriceSigFigs = 5

// RoundSize rounds a size to the asset's allowed number of decimals.
func RoundSize(size float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	f, _ := decimal.NewFromFloat(size).Round(int32(decimals)).Float64()
	return f
}

// RoundToSigFigs rounds v to the given number of significant figures.
func RoundToSigFigs(v float64, figs int) float64 {
	if v == 0 || figs <= 0 {
		return 0
	}
	magnitude := int32(math.Floor(math.Log10(math.Abs(v))))
	places := int32(figs) - 1 - magnitude
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// RoundToTick snaps a price to the nearest tick multiple. Ticks are expected
// to be powers of ten, so snapping after a sig-fig round cannot reintroduce
// extra figures.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Round(0).Mul(t).Float64()
	return f
}

// RoundPrice applies the venue price convention: five significant figures,
// then tick quantization.
func RoundPrice(price, tick float64) float64 {
	return RoundToTick(RoundToSigFigs(price, maxPriceSigFigs), tick)
}
