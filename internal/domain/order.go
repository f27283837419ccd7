package domain

import "time"

// OrderRequest is a single order candidate produced by the strategy engine or
// the position reducer. It is handed to the executor exactly once and never
// mutated after creation.
type OrderRequest struct {
	ClientID   string
	Asset      string
	Side       Side
	Size       float64
	Price      float64
	ReduceOnly bool
	PostOnly   bool
}

func (o OrderRequest) Notional() float64 {
	return o.Size * o.Price
}

// IsBuy is a convenience for the risk checks, which reason in buy/sell terms.
func (o OrderRequest) IsBuy() bool {
	return o.Side == SideBuy
}

// OrderTypeParams selects the venue order type for a submission.
// TIF "Alo" rests passively (post-only), "Ioc" crosses immediately; the
// priority-fee marker is attached when the governor is in a degraded state.
type OrderTypeParams struct {
	TIF         string
	PriorityFee bool
}

// SubmitResult is the synchronous accept/reject from the venue. Status "ok"
// means accepted, not filled — fill truth comes from the fills ledger.
type SubmitResult struct {
	Status  string
	OrderID int64
	Raw     string
}

func (r *SubmitResult) Accepted() bool {
	return r != nil && r.Status == "ok"
}

// Fill is one entry of the account fill ledger, most recent first.
type Fill struct {
	Asset     string
	Side      Side
	Size      float64
	Price     float64
	ClosedPnL float64
	Time      time.Time
	OrderID   int64
}

func (f Fill) Notional() float64 {
	return f.Size * f.Price
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	OrderID   int64
	Asset     string
	Side      Side
	Size      float64
	Price     float64
	CreatedAt time.Time
}

// TradeRecord is one confirmed trade in the in-memory history ring owned by
// the risk manager.
type TradeRecord struct {
	Time        time.Time
	FillPrice   float64
	FillSize    float64
	RealizedPnL float64
}
