package usecase

import (
	"context"

	"github.com/sergeydz/perpmm/internal/domain"
)

// MockExchange is the hand-rolled venue double used across the usecase
// tests. Fill queries pop from FillsQueue first so before/after ledger
// sequences can be scripted.
type MockExchange struct {
	State    *domain.MarketState
	StateErr error

	Fills      []domain.Fill
	FillsQueue [][]domain.Fill
	FillsErr   error
	FillCalls  int

	SubmitRes       *domain.SubmitResult
	SubmitErr       error
	Submitted       []domain.OrderRequest
	SubmittedParams []domain.OrderTypeParams

	CancelAllAssets []string
	CancelAllErr    error
	CancelledIDs    []int64

	Open       []domain.OpenOrder
	OpenErr    error
	MetaList   []domain.AssetMeta
	MetaErr    error
	PriceCB    func(asset string, price float64)
	Subscribed []string
}

func (m *MockExchange) GetMarketState(ctx context.Context, asset string) (*domain.MarketState, error) {
	if m.StateErr != nil {
		return nil, m.StateErr
	}
	if m.State == nil {
		return nil, domain.ErrMarketData
	}
	st := *m.State
	return &st, nil
}

func (m *MockExchange) SubmitOrder(ctx context.Context, req *domain.OrderRequest, params domain.OrderTypeParams) (*domain.SubmitResult, error) {
	m.Submitted = append(m.Submitted, *req)
	m.SubmittedParams = append(m.SubmittedParams, params)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	if m.SubmitRes != nil {
		return m.SubmitRes, nil
	}
	return &domain.SubmitResult{Status: "ok", OrderID: int64(len(m.Submitted))}, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, asset string, orderID int64) error {
	m.CancelledIDs = append(m.CancelledIDs, orderID)
	return nil
}

func (m *MockExchange) CancelAll(ctx context.Context, asset string) error {
	m.CancelAllAssets = append(m.CancelAllAssets, asset)
	return m.CancelAllErr
}

func (m *MockExchange) QueryRecentFills(ctx context.Context) ([]domain.Fill, error) {
	m.FillCalls++
	if m.FillsErr != nil {
		return nil, m.FillsErr
	}
	if len(m.FillsQueue) > 0 {
		head := m.FillsQueue[0]
		m.FillsQueue = m.FillsQueue[1:]
		return head, nil
	}
	return m.Fills, nil
}

func (m *MockExchange) OpenOrders(ctx context.Context, asset string) ([]domain.OpenOrder, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return m.Open, nil
}

func (m *MockExchange) Meta(ctx context.Context) ([]domain.AssetMeta, error) {
	if m.MetaErr != nil {
		return nil, m.MetaErr
	}
	return m.MetaList, nil
}

func (m *MockExchange) OnPriceUpdate(cb func(asset string, price float64)) {
	m.PriceCB = cb
}

func (m *MockExchange) SubscribeBook(asset string) error {
	m.Subscribed = append(m.Subscribed, asset)
	return nil
}

// ledger builds n placeholder fills, most recent first.
func ledger(n int) []domain.Fill {
	fills := make([]domain.Fill, n)
	for i := range fills {
		fills[i] = domain.Fill{Asset: "BTC", Side: domain.SideBuy, Size: 0.1, Price: 100}
	}
	return fills
}
