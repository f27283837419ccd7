package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

const (
	maxConsecutiveErrors = 5
	backoffCapUnits      = 12 // min(60, 5*n) seconds expressed in 5s units
	shutdownTimeout      = 10 * time.Second
)

// TradingConfig is the orchestrator's own knob set; risk and strategy
// tunables live with their components.
type TradingConfig struct {
	Asset         string        `json:"asset"`
	ActiveSleep   time.Duration `json:"active_sleep"` // usage above 50%
	IdleSleep     time.Duration `json:"idle_sleep"`
	StaleOrderAge time.Duration `json:"stale_order_age"`
}

func (c TradingConfig) withDefaults() TradingConfig {
	if c.ActiveSleep <= 0 {
		c.ActiveSleep = 10 * time.Second
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 30 * time.Second
	}
	if c.StaleOrderAge <= 0 {
		c.StaleOrderAge = 60 * time.Second
	}
	return c
}

// Strategy is what the trading loop needs from the quoting logic.
type Strategy interface {
	Observe(state domain.MarketState) MomentumReading
	ShouldTrade(state domain.MarketState) (bool, string)
	CalculateOrders(state domain.MarketState) []domain.OrderRequest
	ReductionOrder(state domain.MarketState) (domain.OrderRequest, bool)
}

// TradingService runs the single trading loop for one asset: snapshot,
// exits, exposure tiers, quoting, execution, bookkeeping, sleep. One cycle
// at a time; order submission is never concurrent.
type TradingService struct {
	cfg      TradingConfig
	exchange domain.Exchange
	strategy Strategy
	risk     *RiskManager
	governor *RateGovernor
	executor *OrderExecutor
	reducer  *PositionReducer
	meta     *AssetMetaCache
	journal  domain.TradeJournal
	metrics  domain.SessionMetrics
	logger   *zap.Logger

	mu            sync.Mutex
	running       bool
	started       bool
	stopChan      chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	cancel        context.CancelFunc
	sessionID     string
	startedAt     time.Time
	status        domain.ServiceStatus
	sessionFills  int
	sessionVolume float64
	sessionPnL    float64

	// Loop-goroutine-owned; surfaced into status under mu.
	cycle        int64
	consecErrors int

	backoffUnit time.Duration
	timeNow     func() time.Time
}

func NewTradingService(
	cfg TradingConfig,
	exchange domain.Exchange,
	strategy Strategy,
	risk *RiskManager,
	governor *RateGovernor,
	executor *OrderExecutor,
	reducer *PositionReducer,
	meta *AssetMetaCache,
	journal domain.TradeJournal,
	metrics domain.SessionMetrics,
	logger *zap.Logger,
) *TradingService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TradingService{
		cfg:         cfg.withDefaults(),
		exchange:    exchange,
		strategy:    strategy,
		risk:        risk,
		governor:    governor,
		executor:    executor,
		reducer:     reducer,
		meta:        meta,
		journal:     journal,
		metrics:     metrics,
		logger:      logger,
		backoffUnit: 5 * time.Second,
		timeNow:     time.Now,
	}
}

// Start launches the trading loop. The passed context bounds the whole
// session: cancelling it stops the loop the same way Stop does.
func (s *TradingService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("trading service already running for %s", s.cfg.Asset)
	}
	s.running = true
	s.started = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.cancel = cancel
	s.sessionID = uuid.NewString()
	s.startedAt = s.timeNow()
	s.cycle = 0
	s.consecErrors = 0
	s.sessionFills = 0
	s.sessionVolume = 0
	s.sessionPnL = 0
	s.status = domain.ServiceStatus{Running: true, Asset: s.cfg.Asset, SessionID: s.sessionID}
	sessionID, startedAt := s.sessionID, s.startedAt
	s.mu.Unlock()

	if err := s.journal.OpenSession(runCtx, sessionID, s.cfg.Asset, startedAt); err != nil {
		s.logger.Warn("Journal session open failed", zap.Error(err))
	}

	go s.run(runCtx)

	s.logger.Info("Trading service started",
		zap.String("asset", s.cfg.Asset),
		zap.String("session", sessionID))
	return nil
}

// Stop signals the loop and blocks until shutdown finished: cancel-all
// issued, session row closed.
func (s *TradingService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	done := s.done
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-done
}

// Status is the last finished cycle's snapshot.
func (s *TradingService) Status() domain.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running
	return st
}

func (s *TradingService) run(ctx context.Context) {
	defer s.finalize()

	s.logger.Info("Trading loop started", zap.String("asset", s.cfg.Asset))

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runCycle(ctx); err != nil {
			s.consecErrors++
			s.metrics.CycleError()
			s.mu.Lock()
			s.status.ConsecErrors = s.consecErrors
			s.mu.Unlock()
			s.logger.Error("Trading cycle failed",
				zap.Error(err),
				zap.Int("consecutive", s.consecErrors))

			if s.consecErrors >= maxConsecutiveErrors {
				s.logger.Error("Consecutive failure ceiling reached, stopping",
					zap.Int("failures", s.consecErrors))
				return
			}
			n := s.consecErrors
			if n > backoffCapUnits {
				n = backoffCapUnits
			}
			if !s.sleep(ctx, time.Duration(n)*s.backoffUnit) {
				return
			}
			continue
		}

		s.consecErrors = 0
		s.mu.Lock()
		s.status.ConsecErrors = 0
		s.mu.Unlock()

		if !s.sleep(ctx, s.sleepDuration(s.Status().PositionUsage)) {
			return
		}
	}
}

// runCycle is one pass of the control flow. Any returned error counts toward
// the consecutive-failure ceiling; nil means the cycle completed, whether or
// not it traded.
func (s *TradingService) runCycle(ctx context.Context) error {
	s.cycle++

	state, err := s.exchange.GetMarketState(ctx, s.cfg.Asset)
	if err != nil {
		return fmt.Errorf("market snapshot: %w", err)
	}
	snap := *state
	if !snap.Valid() {
		return fmt.Errorf("snapshot bid=%v ask=%v mark=%v: %w",
			snap.BestBid, snap.BestAsk, snap.MarkPrice, domain.ErrMarketData)
	}

	s.risk.UpdatePositionTracking(snap)
	reading := s.strategy.Observe(snap)
	defer s.refreshStatus(snap, reading)

	s.metrics.SetPosition(snap.Position)
	s.metrics.SetAccountValue(snap.AccountValue)
	s.metrics.SetSignalStrength(reading.Strength)

	// Exits trump everything else this cycle.
	if entry, ok := s.risk.EntryPrice(); ok && snap.Position != 0 {
		if s.risk.ShouldTakeProfit(snap, entry) {
			s.closePosition(ctx, snap, entry, "take profit")
			return nil
		}
		if s.risk.ShouldStopLoss(snap, entry) {
			s.closePosition(ctx, snap, entry, "stop loss")
			return nil
		}
	}

	if s.risk.NeedsAggressiveReduction(snap) {
		s.cancelStaleOrders(ctx, snap.Asset)
		res, attempts := s.reducer.ReducePosition(ctx, snap)
		for _, a := range attempts {
			s.settle(ctx, a.Order, a.Result)
		}
		if res.State == ExecSkipped {
			s.logger.Debug("Aggressive reduction skipped", zap.String("reason", res.Reason))
		}
		return nil
	}

	if s.risk.NeedsReduction(snap) {
		if o, ok := s.strategy.ReductionOrder(snap); ok {
			res := s.executor.ExecuteAndVerify(ctx, o, snap.MarkPrice)
			s.settle(ctx, o, res)
		}
		return nil
	}

	if ok, reason := s.strategy.ShouldTrade(snap); !ok {
		s.logger.Debug("Not trading this cycle", zap.String("reason", reason))
		return nil
	}

	for _, o := range s.strategy.CalculateOrders(snap) {
		res := s.executor.ExecuteAndVerify(ctx, o, snap.MarkPrice)
		s.settle(ctx, o, res)
		if res.State == ExecRateBlocked {
			// The governor said stop; the rest can wait for the next cycle.
			break
		}
	}
	return nil
}

// closePosition flattens the whole position after a take-profit or stop-loss
// trigger, priced through the book so it actually executes.
func (s *TradingService) closePosition(ctx context.Context, state domain.MarketState, entry float64, trigger string) {
	decimals := s.meta.SizeDecimals(state.Asset)
	tick := s.meta.TickSize(state.Asset)

	size := RoundSize(math.Abs(state.Position), decimals)
	if size <= 0 || size*state.MarkPrice < s.risk.Params().MinNotional {
		s.logger.Warn("Exit triggered but position below venue minimum",
			zap.String("trigger", trigger),
			zap.Float64("position", state.Position))
		return
	}

	offset := primaryReduceOffset + s.governor.PricePremium()
	side := domain.SideSell
	price := state.BestBid * (1 - offset)
	if state.Position < 0 {
		side = domain.SideBuy
		price = state.BestAsk * (1 + offset)
	}

	order := domain.OrderRequest{
		ClientID:   uuid.NewString(),
		Asset:      state.Asset,
		Side:       side,
		Size:       size,
		Price:      RoundPrice(price, tick),
		ReduceOnly: true,
	}

	s.logger.Info("Closing position",
		zap.String("trigger", trigger),
		zap.Float64("position", state.Position),
		zap.Float64("entry", entry),
		zap.Float64("mark", state.MarkPrice))

	res := s.executor.ExecuteAndVerify(ctx, order, state.MarkPrice)
	s.settle(ctx, order, res)
	if !res.Confirmed() {
		s.logger.Warn("Exit order did not confirm",
			zap.String("state", string(res.State)),
			zap.String("reason", res.Reason))
	}
}

// cancelStaleOrders drops same-asset resting orders older than the
// configured age before an aggressive reduction, so stale quotes cannot
// refill the position mid-unwind.
func (s *TradingService) cancelStaleOrders(ctx context.Context, asset string) {
	open, err := s.exchange.OpenOrders(ctx, asset)
	if err != nil {
		s.logger.Warn("Open orders query failed", zap.Error(err))
		return
	}

	cutoff := s.timeNow().Add(-s.cfg.StaleOrderAge)
	for _, o := range open {
		if !o.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.exchange.CancelOrder(ctx, asset, o.OrderID); err != nil {
			s.logger.Warn("Stale order cancel failed",
				zap.Int64("order_id", o.OrderID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Cancelled stale order",
			zap.Int64("order_id", o.OrderID),
			zap.Duration("age", s.timeNow().Sub(o.CreatedAt)))
	}
}

// settle books one execution outcome: journal rows, metrics, and on a
// confirmed fill the risk history and session totals. Journal failures are
// logged and ignored; persistence never blocks trading.
func (s *TradingService) settle(ctx context.Context, order domain.OrderRequest, res ExecResult) {
	s.metrics.OrderSubmitted(string(res.State))
	if res.State == ExecRateBlocked {
		s.metrics.RateLimitHit()
	}

	attempt := &domain.OrderAttempt{
		ClientID:   order.ClientID,
		Asset:      order.Asset,
		Side:       order.Side,
		Size:       order.Size,
		Price:      order.Price,
		ReduceOnly: order.ReduceOnly,
		PostOnly:   order.PostOnly,
		Status:     string(res.State),
		Reason:     res.Reason,
		CreatedAt:  s.timeNow(),
	}
	if err := s.journal.SaveOrderAttempt(ctx, attempt); err != nil {
		s.logger.Warn("Journal attempt write failed", zap.Error(err))
	}

	if !res.Confirmed() {
		return
	}

	now := s.timeNow()
	fill := &domain.Fill{
		Asset:     order.Asset,
		Side:      order.Side,
		Size:      res.FillSize,
		Price:     res.FillPrice,
		ClosedPnL: res.FillPnL,
		Time:      now,
		OrderID:   res.OrderID,
	}
	s.risk.RecordTrade(domain.TradeRecord{
		Time:        now,
		FillPrice:   res.FillPrice,
		FillSize:    res.FillSize,
		RealizedPnL: res.FillPnL,
	})
	if err := s.journal.SaveFill(ctx, s.sessionID, order.ClientID, fill); err != nil {
		s.logger.Warn("Journal fill write failed", zap.Error(err))
	}
	s.metrics.FillConfirmed()

	s.mu.Lock()
	s.sessionFills++
	s.sessionVolume += res.Notional
	s.sessionPnL += res.FillPnL
	s.mu.Unlock()
}

func (s *TradingService) refreshStatus(state domain.MarketState, reading MomentumReading) {
	usage := s.risk.PositionUsage(state)
	winRate := s.risk.Metrics().WinRate

	s.mu.Lock()
	s.status = domain.ServiceStatus{
		Running:       s.running,
		Asset:         s.cfg.Asset,
		SessionID:     s.sessionID,
		Cycle:         s.cycle,
		Position:      state.Position,
		PositionUsage: usage,
		AccountValue:  state.AccountValue,
		LastMark:      state.MarkPrice,
		LastSignal:    reading.Signal,
		WinRate:       winRate,
		VolumeTraded:  s.governor.VolumeTraded(),
		ConsecErrors:  s.consecErrors,
		SevereMode:    s.governor.SevereMode(),
		UpdatedAt:     s.timeNow(),
	}
	s.mu.Unlock()
}

func (s *TradingService) sleepDuration(usage float64) time.Duration {
	if usage > 0.5 {
		return s.cfg.ActiveSleep
	}
	return s.cfg.IdleSleep
}

// sleep waits out d, returning false when the service is shutting down.
func (s *TradingService) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.stopChan:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

// finalize runs exactly once when the loop exits, on its own context since
// the run context is usually already cancelled: best-effort cancel-all,
// close the session row, final log.
func (s *TradingService) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.exchange.CancelAll(ctx, s.cfg.Asset); err != nil {
		s.logger.Error("Cancel-all on shutdown failed", zap.Error(err))
	}

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	sid := s.sessionID
	fills := s.sessionFills
	volume := s.sessionVolume
	pnl := s.sessionPnL
	s.mu.Unlock()

	if err := s.journal.CloseSession(ctx, sid, s.timeNow(), int(s.cycle), fills, volume, pnl); err != nil {
		s.logger.Warn("Journal session close failed", zap.Error(err))
	}

	s.logger.Info("Trading service stopped",
		zap.String("session", sid),
		zap.Int64("cycles", s.cycle),
		zap.Int("fills", fills),
		zap.Float64("volume", volume),
		zap.Float64("pnl", pnl))

	close(s.done)
}

// nopMetrics keeps the hot path free of nil checks when no collector is
// wired.
type nopMetrics struct{}

func (nopMetrics) OrderSubmitted(string)     {}
func (nopMetrics) FillConfirmed()            {}
func (nopMetrics) CycleError()               {}
func (nopMetrics) RateLimitHit()             {}
func (nopMetrics) SetPosition(float64)       {}
func (nopMetrics) SetAccountValue(float64)   {}
func (nopMetrics) SetSignalStrength(float64) {}
