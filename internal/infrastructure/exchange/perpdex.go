package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sergeydz/perpmm/internal/domain"
)

const (
	PerpdexBaseURL = "https://api.perpdex.io"
	PerpdexWSURL   = "wss://api.perpdex.io/ws"

	// Client-side REST budget, kept under the venue's 10 req/s account cap.
	requestsPerSecond = 8
	requestBurst      = 16

	// A cached top-of-book older than this is not trusted; GetMarketState
	// falls back to the REST book query.
	bookMaxAge = 5 * time.Second
)

// PerpdexAdapter talks to the perpdex REST and WS APIs and implements
// domain.Exchange. Every REST call is a signed POST: /info for snapshot
// queries, /exchange for order actions. Numeric fields travel as decimal
// strings in both directions.
type PerpdexAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu        sync.Mutex
	wsConn    *websocket.Conn
	callbacks []func(asset string, price float64)
	books     map[string]bookTop
}

type bookTop struct {
	bid     float64
	ask     float64
	mark    float64
	funding float64
	at      time.Time
}

func NewPerpdexAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *PerpdexAdapter {
	if baseURL == "" {
		baseURL = PerpdexBaseURL
	}
	if wsURL == "" {
		wsURL = PerpdexWSURL
	}
	return &PerpdexAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:    logger,
		books:     make(map[string]bookTop),
	}
}

// --- REST ---

func (p *PerpdexAdapter) sign(timestamp int64, body []byte) string {
	// timestamp + apiKey + body
	toSign := fmt.Sprintf("%d%s%s", timestamp, p.apiKey, body)
	h := hmac.New(sha256.New, []byte(p.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (p *PerpdexAdapter) sendInfo(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	return p.post(ctx, "/info", payload)
}

func (p *PerpdexAdapter) sendAction(ctx context.Context, action map[string]interface{}) ([]byte, error) {
	envelope := map[string]interface{}{
		"action": action,
		"nonce":  time.Now().UnixMilli(),
	}
	return p.post(ctx, "/exchange", envelope)
}

func (p *PerpdexAdapter) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(payload)
	timestamp := time.Now().UnixMilli()

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-PDX-KEY", p.apiKey)
	req.Header.Set("X-PDX-TS", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-PDX-SIGN", p.sign(timestamp, body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode >= 400 {
		if isRateLimitText(respBody) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, strings.TrimSpace(string(respBody)))
		}
		return nil, fmt.Errorf("perpdex API error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func isRateLimitText(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests")
}

// GetMarketState assembles one consistent snapshot: top-of-book from the WS
// cache when it is fresh, the REST book otherwise, plus the clearinghouse
// account state. Any fetch or consistency problem returns nil and an error.
func (p *PerpdexAdapter) GetMarketState(ctx context.Context, asset string) (*domain.MarketState, error) {
	state := &domain.MarketState{Asset: asset}

	if top, ok := p.cachedBook(asset); ok {
		state.BestBid = top.bid
		state.BestAsk = top.ask
		state.MarkPrice = top.mark
		state.FundingRate = top.funding
	} else if err := p.fetchBook(ctx, asset, state); err != nil {
		return nil, err
	}

	if err := p.fetchAccount(ctx, asset, state); err != nil {
		return nil, err
	}

	if !state.Valid() {
		return nil, fmt.Errorf("%w: bid=%.8f ask=%.8f mark=%.8f", domain.ErrMarketData, state.BestBid, state.BestAsk, state.MarkPrice)
	}
	return state, nil
}

func (p *PerpdexAdapter) cachedBook(asset string) (bookTop, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	top, ok := p.books[asset]
	if !ok || time.Since(top.at) > bookMaxAge {
		return bookTop{}, false
	}
	return top, true
}

func (p *PerpdexAdapter) fetchBook(ctx context.Context, asset string, state *domain.MarketState) error {
	resp, err := p.sendInfo(ctx, map[string]interface{}{
		"type": "l2Book",
		"coin": asset,
	})
	if err != nil {
		return fmt.Errorf("l2Book: %w", err)
	}

	var book struct {
		Levels [][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
		MarkPx  string `json:"markPx"`
		Funding string `json:"funding"`
	}
	if err := json.Unmarshal(resp, &book); err != nil {
		return fmt.Errorf("l2Book decode: %w", err)
	}
	// levels[0] is bids, levels[1] is asks, best first.
	if len(book.Levels) < 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return fmt.Errorf("%w: empty book for %s", domain.ErrMarketData, asset)
	}

	state.BestBid, _ = strconv.ParseFloat(book.Levels[0][0].Px, 64)
	state.BestAsk, _ = strconv.ParseFloat(book.Levels[1][0].Px, 64)
	state.MarkPrice, _ = strconv.ParseFloat(book.MarkPx, 64)
	state.FundingRate, _ = strconv.ParseFloat(book.Funding, 64)
	if state.MarkPrice <= 0 {
		state.MarkPrice = (state.BestBid + state.BestAsk) / 2
	}
	return nil
}

func (p *PerpdexAdapter) fetchAccount(ctx context.Context, asset string, state *domain.MarketState) error {
	resp, err := p.sendInfo(ctx, map[string]interface{}{"type": "clearinghouseState"})
	if err != nil {
		return fmt.Errorf("clearinghouseState: %w", err)
	}

	var account struct {
		MarginSummary struct {
			AccountValue string `json:"accountValue"`
		} `json:"marginSummary"`
		AssetPositions []struct {
			Position struct {
				Coin     string `json:"coin"`
				Szi      string `json:"szi"`
				Leverage struct {
					Type  string `json:"type"`
					Value int    `json:"value"`
				} `json:"leverage"`
			} `json:"position"`
		} `json:"assetPositions"`
	}
	if err := json.Unmarshal(resp, &account); err != nil {
		return fmt.Errorf("clearinghouseState decode: %w", err)
	}

	state.AccountValue, _ = strconv.ParseFloat(account.MarginSummary.AccountValue, 64)
	for _, ap := range account.AssetPositions {
		if ap.Position.Coin != asset {
			continue
		}
		state.Position, _ = strconv.ParseFloat(ap.Position.Szi, 64)
		state.Leverage = ap.Position.Leverage.Value
		break
	}
	return nil
}

// SubmitOrder sends one order action and maps the venue's per-order status to
// a SubmitResult. "ok" means accepted (resting or filled at the engine), not
// that the fill is confirmed; callers verify against the fill ledger.
func (p *PerpdexAdapter) SubmitOrder(ctx context.Context, req *domain.OrderRequest, params domain.OrderTypeParams) (*domain.SubmitResult, error) {
	order := map[string]interface{}{
		"coin":       req.Asset,
		"isBuy":      req.IsBuy(),
		"px":         formatDecimal(req.Price),
		"sz":         formatDecimal(req.Size),
		"reduceOnly": req.ReduceOnly,
		"cloid":      req.ClientID,
		"orderType": map[string]interface{}{
			"limit": map[string]interface{}{"tif": params.TIF},
		},
	}
	if params.PriorityFee {
		order["priorityFee"] = true
	}

	resp, err := p.sendAction(ctx, map[string]interface{}{
		"type":   "order",
		"orders": []interface{}{order},
	})
	if err != nil {
		return nil, fmt.Errorf("order action: %w", err)
	}

	var result struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Resting *struct {
						Oid int64 `json:"oid"`
					} `json:"resting"`
					Filled *struct {
						Oid     int64  `json:"oid"`
						TotalSz string `json:"totalSz"`
						AvgPx   string `json:"avgPx"`
					} `json:"filled"`
					Error string `json:"error"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("order response decode: %w", err)
	}

	if result.Status != "ok" {
		if isRateLimitText(resp) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, result.Status)
		}
		return &domain.SubmitResult{Status: result.Status, Raw: string(resp)}, nil
	}
	if len(result.Response.Data.Statuses) == 0 {
		return &domain.SubmitResult{Status: "err", Raw: "no order status in response"}, nil
	}

	st := result.Response.Data.Statuses[0]
	switch {
	case st.Error != "":
		if isRateLimitText([]byte(st.Error)) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, st.Error)
		}
		return &domain.SubmitResult{Status: "err", Raw: st.Error}, nil
	case st.Resting != nil:
		return &domain.SubmitResult{Status: "ok", OrderID: st.Resting.Oid, Raw: "resting"}, nil
	case st.Filled != nil:
		return &domain.SubmitResult{Status: "ok", OrderID: st.Filled.Oid, Raw: "filled " + st.Filled.TotalSz + "@" + st.Filled.AvgPx}, nil
	}
	return &domain.SubmitResult{Status: "ok", Raw: string(resp)}, nil
}

func (p *PerpdexAdapter) CancelOrder(ctx context.Context, asset string, orderID int64) error {
	resp, err := p.sendAction(ctx, map[string]interface{}{
		"type": "cancel",
		"cancels": []interface{}{
			map[string]interface{}{"coin": asset, "oid": orderID},
		},
	})
	if err != nil {
		return fmt.Errorf("cancel action: %w", err)
	}
	return checkActionStatus(resp)
}

func (p *PerpdexAdapter) CancelAll(ctx context.Context, asset string) error {
	resp, err := p.sendAction(ctx, map[string]interface{}{
		"type": "cancelAll",
		"coin": asset,
	})
	if err != nil {
		return fmt.Errorf("cancelAll action: %w", err)
	}
	return checkActionStatus(resp)
}

func checkActionStatus(resp []byte) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("action response decode: %w", err)
	}
	if result.Status != "ok" {
		return fmt.Errorf("perpdex action status %q: %s", result.Status, string(resp))
	}
	return nil
}

// QueryRecentFills returns the account fill ledger as the venue reports it,
// most recent first.
func (p *PerpdexAdapter) QueryRecentFills(ctx context.Context) ([]domain.Fill, error) {
	resp, err := p.sendInfo(ctx, map[string]interface{}{"type": "userFills"})
	if err != nil {
		return nil, fmt.Errorf("userFills: %w", err)
	}

	var rows []struct {
		Coin      string `json:"coin"`
		Px        string `json:"px"`
		Sz        string `json:"sz"`
		Side      string `json:"side"`
		Time      int64  `json:"time"`
		ClosedPnl string `json:"closedPnl"`
		Oid       int64  `json:"oid"`
	}
	if err := json.Unmarshal(resp, &rows); err != nil {
		return nil, fmt.Errorf("userFills decode: %w", err)
	}

	fills := make([]domain.Fill, 0, len(rows))
	for _, r := range rows {
		price, _ := strconv.ParseFloat(r.Px, 64)
		size, _ := strconv.ParseFloat(r.Sz, 64)
		pnl, _ := strconv.ParseFloat(r.ClosedPnl, 64)

		fills = append(fills, domain.Fill{
			Asset:     r.Coin,
			Side:      sideFromVenue(r.Side),
			Size:      size,
			Price:     price,
			ClosedPnL: pnl,
			Time:      time.UnixMilli(r.Time),
			OrderID:   r.Oid,
		})
	}
	return fills, nil
}

func (p *PerpdexAdapter) OpenOrders(ctx context.Context, asset string) ([]domain.OpenOrder, error) {
	resp, err := p.sendInfo(ctx, map[string]interface{}{"type": "openOrders"})
	if err != nil {
		return nil, fmt.Errorf("openOrders: %w", err)
	}

	var rows []struct {
		Coin      string `json:"coin"`
		Oid       int64  `json:"oid"`
		Side      string `json:"side"`
		LimitPx   string `json:"limitPx"`
		Sz        string `json:"sz"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(resp, &rows); err != nil {
		return nil, fmt.Errorf("openOrders decode: %w", err)
	}

	var orders []domain.OpenOrder
	for _, r := range rows {
		if asset != "" && r.Coin != asset {
			continue
		}
		price, _ := strconv.ParseFloat(r.LimitPx, 64)
		size, _ := strconv.ParseFloat(r.Sz, 64)

		orders = append(orders, domain.OpenOrder{
			OrderID:   r.Oid,
			Asset:     r.Coin,
			Side:      sideFromVenue(r.Side),
			Size:      size,
			Price:     price,
			CreatedAt: time.UnixMilli(r.Timestamp),
		})
	}
	return orders, nil
}

func (p *PerpdexAdapter) Meta(ctx context.Context) ([]domain.AssetMeta, error) {
	resp, err := p.sendInfo(ctx, map[string]interface{}{"type": "meta"})
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}

	var result struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
			TickSz      string `json:"tickSz"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("meta decode: %w", err)
	}

	metas := make([]domain.AssetMeta, 0, len(result.Universe))
	for _, u := range result.Universe {
		tick, _ := strconv.ParseFloat(u.TickSz, 64)
		metas = append(metas, domain.AssetMeta{
			Asset:        u.Name,
			SizeDecimals: u.SzDecimals,
			TickSize:     tick,
			MaxLeverage:  u.MaxLeverage,
		})
	}
	return metas, nil
}

// formatDecimal renders a price or size the way the venue wants it: a plain
// decimal string, no exponent, no trailing zeros.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sideFromVenue(s string) domain.Side {
	// The venue reports "B" for buys and "A" for sells.
	if s == "B" {
		return domain.SideBuy
	}
	return domain.SideSell
}

// --- WebSocket book feed ---

func (p *PerpdexAdapter) OnPriceUpdate(cb func(asset string, price float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// SubscribeBook dials the WS endpoint on first use and subscribes to the
// level-2 book channel for one asset. Updates refresh the top-of-book cache
// and fan the mid price out to registered callbacks. A dropped connection is
// not redialed; the cache goes stale and GetMarketState reverts to REST.
func (p *PerpdexAdapter) SubscribeBook(asset string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(p.wsURL, nil)
		if err != nil {
			return fmt.Errorf("ws dial: %w", err)
		}
		p.wsConn = c
		go p.readLoop(c)
	}

	sub := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]interface{}{
			"type": "l2Book",
			"coin": asset,
		},
	}
	if err := p.wsConn.WriteJSON(sub); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}
	return nil
}

func (p *PerpdexAdapter) readLoop(c *websocket.Conn) {
	defer func() {
		c.Close()
		p.mu.Lock()
		if p.wsConn == c {
			p.wsConn = nil
		}
		p.mu.Unlock()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			p.logger.Warn("WS read failed, book feed stopped", zap.Error(err))
			return
		}

		var event struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.Channel != "l2Book" {
			continue
		}

		var book struct {
			Coin   string `json:"coin"`
			Levels [][]struct {
				Px string `json:"px"`
				Sz string `json:"sz"`
			} `json:"levels"`
			MarkPx  string `json:"markPx"`
			Funding string `json:"funding"`
		}
		if err := json.Unmarshal(event.Data, &book); err != nil {
			continue
		}
		if len(book.Levels) < 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
			continue
		}

		bid, _ := strconv.ParseFloat(book.Levels[0][0].Px, 64)
		ask, _ := strconv.ParseFloat(book.Levels[1][0].Px, 64)
		if bid <= 0 || ask <= 0 {
			continue
		}
		mark, _ := strconv.ParseFloat(book.MarkPx, 64)
		if mark <= 0 {
			mark = (bid + ask) / 2
		}
		funding, _ := strconv.ParseFloat(book.Funding, 64)

		p.mu.Lock()
		p.books[book.Coin] = bookTop{bid: bid, ask: ask, mark: mark, funding: funding, at: time.Now()}
		callbacks := make([]func(string, float64), len(p.callbacks))
		copy(callbacks, p.callbacks)
		p.mu.Unlock()

		mid := (bid + ask) / 2
		for _, cb := range callbacks {
			cb(book.Coin, mid)
		}
	}
}
