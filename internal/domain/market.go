package domain

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is the direction suggested by the momentum analyzer.
type Signal string

const (
	SignalLong  Signal = "long"
	SignalShort Signal = "short"
	SignalNone  Signal = "none"
)

// MarketState is a point-in-time snapshot of the market and the account.
// It is produced fresh each cycle and passed by value; consumers must not
// retain it across cycles.
type MarketState struct {
	Asset        string
	BestBid      float64
	BestAsk      float64
	MarkPrice    float64
	Position     float64 // signed: >0 long, <0 short, 0 flat
	AccountValue float64
	Leverage     int
	FundingRate  float64
}

func (s MarketState) MidPrice() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

func (s MarketState) SpreadPct() float64 {
	mid := s.MidPrice()
	if mid <= 0 {
		return 0
	}
	return (s.BestAsk - s.BestBid) / mid
}

// Valid reports whether the snapshot is internally consistent. A crossed book
// or a non-positive price means the venue returned garbage and the cycle must
// be skipped.
func (s MarketState) Valid() bool {
	return s.BestBid > 0 && s.BestAsk > 0 && s.MarkPrice > 0 && s.BestBid <= s.BestAsk
}
