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
	defaultReduceCooldown = 45 * time.Second
	reduceStepFloor       = 0.10
	reduceStepCeil        = 0.20
	primaryReduceOffset   = 0.002
)

// PositionReducer unwinds an oversized position in bounded steps instead of
// dumping it in one order. Each attempt tries an IOC limit slightly through
// the book first, then chases with a second IOC at full slippage if the
// ledger shows no fill. Attempts are spaced by a cooldown so a stubborn
// market does not turn reduction into a fee grinder.
type PositionReducer struct {
	executor *OrderExecutor
	risk     *RiskManager
	governor *RateGovernor
	meta     *AssetMetaCache
	logger   *zap.Logger

	mu          sync.Mutex
	cooldown    time.Duration
	lastAttempt time.Time
	timeNow     func() time.Time
}

func NewPositionReducer(executor *OrderExecutor, risk *RiskManager, governor *RateGovernor, meta *AssetMetaCache, logger *zap.Logger) *PositionReducer {
	return &PositionReducer{
		executor: executor,
		risk:     risk,
		governor: governor,
		meta:     meta,
		logger:   logger,
		cooldown: defaultReduceCooldown,
		timeNow:  time.Now,
	}
}

// ReducePosition makes one bounded attempt to bring the position toward the
// reduction target. It never flips the position sign: every order it emits
// is reduce-only and sized below the current position. The returned attempts
// carry each submitted leg so the caller can journal them.
func (p *PositionReducer) ReducePosition(ctx context.Context, state domain.MarketState) (ExecResult, []ExecAttempt) {
	if state.Position == 0 {
		return ExecResult{State: ExecSkipped, Reason: "no position to reduce"}, nil
	}

	step, ok := p.stepSize(state)
	if !ok {
		return ExecResult{State: ExecSkipped, Reason: "position below reducible notional"}, nil
	}

	if remaining, ok := p.tryBegin(); !ok {
		return ExecResult{State: ExecSkipped, Reason: fmt.Sprintf("reduction cooldown, %.0fs remaining", remaining.Seconds())}, nil
	}

	decimals := p.meta.SizeDecimals(state.Asset)
	tick := p.meta.TickSize(state.Asset)

	side := domain.SideSell
	if state.Position < 0 {
		side = domain.SideBuy
	}

	size := RoundSize(step, decimals)
	if size <= 0 {
		return ExecResult{State: ExecSkipped, Reason: "step rounds to zero at venue precision"}, nil
	}

	// Primary: IOC limit a touch through the touch, widened by whatever
	// premium the governor currently demands.
	offset := primaryReduceOffset + p.governor.PricePremium()
	var primaryPx float64
	if side == domain.SideSell {
		primaryPx = state.BestBid * (1 - offset)
	} else {
		primaryPx = state.BestAsk * (1 + offset)
	}

	primary := domain.OrderRequest{
		ClientID:   uuid.NewString(),
		Asset:      state.Asset,
		Side:       side,
		Size:       size,
		Price:      RoundPrice(primaryPx, tick),
		ReduceOnly: true,
	}

	p.logger.Info("Reducing position",
		zap.String("asset", state.Asset),
		zap.Float64("position", state.Position),
		zap.Float64("step", size),
		zap.String("side", string(side)))

	res := p.executor.ExecuteAndVerify(ctx, primary, state.MarkPrice)
	attempts := []ExecAttempt{{Order: primary, Result: res}}
	if res.Confirmed() {
		p.logger.Info("Reduction filled",
			zap.Float64("size", res.FillSize),
			zap.Float64("price", res.FillPrice))
		return res, attempts
	}
	if res.State == ExecRateBlocked || res.State == ExecValidationFailed {
		return res, attempts
	}

	// The venue is pacing us; wait out the spacing before the chase order.
	if hint := p.governor.WaitHint(); hint > 0 {
		if err := sleepCtx(ctx, hint); err != nil {
			return res, attempts
		}
	}

	slippage := p.governor.Slippage()
	var chasePx float64
	if side == domain.SideSell {
		chasePx = state.MarkPrice * (1 - slippage)
	} else {
		chasePx = state.MarkPrice * (1 + slippage)
	}

	chase := domain.OrderRequest{
		ClientID:   uuid.NewString(),
		Asset:      state.Asset,
		Side:       side,
		Size:       size,
		Price:      RoundPrice(chasePx, tick),
		ReduceOnly: true,
	}

	p.logger.Warn("Primary reduction unfilled, chasing at slippage",
		zap.String("reason", res.Reason),
		zap.Float64("slippage", slippage))

	res = p.executor.ExecuteAndVerify(ctx, chase, state.MarkPrice)
	attempts = append(attempts, ExecAttempt{Order: chase, Result: res})
	if res.Confirmed() {
		p.logger.Info("Chase reduction filled",
			zap.Float64("size", res.FillSize),
			zap.Float64("price", res.FillPrice))
	} else {
		p.logger.Warn("Reduction attempt exhausted",
			zap.String("state", string(res.State)),
			zap.String("reason", res.Reason))
	}
	return res, attempts
}

// tryBegin enforces the inter-attempt cooldown and stamps the attempt time
// when it passes. Failed attempts count: a market that will not take our
// size gets the same breathing room as one that will.
func (p *PositionReducer) tryBegin() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.timeNow()
	if !p.lastAttempt.IsZero() {
		if remaining := p.cooldown - now.Sub(p.lastAttempt); remaining > 0 {
			return remaining, false
		}
	}
	p.lastAttempt = now
	return 0, true
}

// stepSize returns how much one attempt unwinds. The step leans toward the
// reduction target but stays within 10-20% of the current position, floored
// by the smallest size the venue will accept. It never exceeds the position.
func (p *PositionReducer) stepSize(state domain.MarketState) (float64, bool) {
	absPos := math.Abs(state.Position)
	if absPos == 0 || state.MarkPrice <= 0 {
		return 0, false
	}

	minNotional := p.risk.Params().MinNotional
	if absPos*state.MarkPrice < minNotional {
		return 0, false
	}

	step := absPos - p.risk.ReductionTargetSize()
	if floor := absPos * reduceStepFloor; step < floor {
		step = floor
	}
	if ceil := absPos * reduceStepCeil; step > ceil {
		step = ceil
	}
	if minSize := minNotional * reduceNotionalBuffer / state.MarkPrice; step < minSize {
		step = minSize
	}
	if step > absPos {
		step = absPos
	}
	return step, true
}
