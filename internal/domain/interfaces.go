package domain

import (
	"context"
	"time"
)

// Exchange is the venue boundary the trading core depends on.
type Exchange interface {
	// GetMarketState returns a consistent snapshot or an error; callers treat
	// any error as "skip this cycle".
	GetMarketState(ctx context.Context, asset string) (*MarketState, error)

	// SubmitOrder is synchronous accept/reject. Acceptance is not proof of
	// execution; fill truth is read back via QueryRecentFills.
	SubmitOrder(ctx context.Context, req *OrderRequest, params OrderTypeParams) (*SubmitResult, error)

	CancelOrder(ctx context.Context, asset string, orderID int64) error
	CancelAll(ctx context.Context, asset string) error

	// QueryRecentFills returns the account fill ledger, most recent first.
	QueryRecentFills(ctx context.Context) ([]Fill, error)

	OpenOrders(ctx context.Context, asset string) ([]OpenOrder, error)
	Meta(ctx context.Context) ([]AssetMeta, error)

	// WS price feed registration.
	OnPriceUpdate(cb func(asset string, price float64))
	SubscribeBook(asset string) error
}

// TradeJournal persists confirmed fills, order attempts and session rows.
// Journaling is write-behind: implementations may fail, callers log and move
// on, the trading path never blocks on it.
type TradeJournal interface {
	SaveFill(ctx context.Context, sessionID, clientID string, f *Fill) error
	SaveOrderAttempt(ctx context.Context, a *OrderAttempt) error
	ListFills(ctx context.Context, limit int) ([]*JournalFill, error)

	OpenSession(ctx context.Context, sessionID, asset string, startedAt time.Time) error
	CloseSession(ctx context.Context, sessionID string, endedAt time.Time, cycles, fills int, volume, pnl float64) error
	ListSessions(ctx context.Context, limit int) ([]*SessionRow, error)
}

// SessionMetrics receives trading-loop observations. Implementations must be
// safe for concurrent use.
type SessionMetrics interface {
	OrderSubmitted(result string)
	FillConfirmed()
	CycleError()
	RateLimitHit()
	SetPosition(size float64)
	SetAccountValue(v float64)
	SetSignalStrength(v float64)
}

// OrderAttempt is a journal row for one submission outcome.
type OrderAttempt struct {
	ClientID   string
	Asset      string
	Side       Side
	Size       float64
	Price      float64
	ReduceOnly bool
	PostOnly   bool
	Status     string
	Reason     string
	CreatedAt  time.Time
}

// JournalFill is a persisted fill joined with its client order id.
type JournalFill struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	Asset     string    `json:"asset"`
	Side      Side      `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Notional  float64   `json:"notional"`
	PnL       float64   `json:"pnl"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRow summarizes one bot run.
type SessionRow struct {
	ID        string    `json:"id"`
	Asset     string    `json:"asset"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Cycles    int       `json:"cycles"`
	Fills     int       `json:"fills"`
	Volume    float64   `json:"volume"`
	PnL       float64   `json:"pnl"`
}
