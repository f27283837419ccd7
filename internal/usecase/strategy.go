package usecase

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

// StrategyParams are the tunables of the market-making strategy. Zero values
// fall back to the numbers the strategy was tuned with.
type StrategyParams struct {
	SpreadBaseline  float64 // min spread to quote at normal usage
	SpreadHighUsage float64 // loosened min spread above HighUsage, to let exits through
	SpreadLowUsage  float64 // loosened min spread below LowUsage, to invite entries
	HighUsage       float64
	LowUsage        float64

	VolatilityCeiling float64
	MinWinRate        float64
	MinTradesForGate  int

	SizeBuffer       float64 // notional buffer over the venue minimum
	MomentumSizeMult float64
	ReduceStep       float64 // fraction of the position per override order
	ReduceOffset     float64 // adverse price offset on reduce orders
}

func (p StrategyParams) withDefaults() StrategyParams {
	if p.SpreadBaseline <= 0 {
		p.SpreadBaseline = 0.0004
	}
	if p.SpreadHighUsage <= 0 {
		p.SpreadHighUsage = 0.0002
	}
	if p.SpreadLowUsage <= 0 {
		p.SpreadLowUsage = 0.0003
	}
	if p.HighUsage <= 0 {
		p.HighUsage = 0.8
	}
	if p.LowUsage <= 0 {
		p.LowUsage = 0.3
	}
	if p.VolatilityCeiling <= 0 {
		p.VolatilityCeiling = 0.005
	}
	if p.MinWinRate <= 0 {
		p.MinWinRate = 0.30
	}
	if p.MinTradesForGate <= 0 {
		p.MinTradesForGate = 5
	}
	if p.SizeBuffer <= 0 {
		p.SizeBuffer = 1.2
	}
	if p.MomentumSizeMult <= 0 {
		p.MomentumSizeMult = 1.5
	}
	if p.ReduceStep <= 0 {
		p.ReduceStep = 0.10
	}
	if p.ReduceOffset <= 0 {
		p.ReduceOffset = 0.002
	}
	return p
}

// Minimum headroom multiplier so a reduce order still clears the venue
// notional floor after size rounding.
const reduceNotionalBuffer = 1.05

// MarketMaker turns market snapshots into candidate orders: two-sided
// passive quotes by default, a single aggressive order when momentum lines
// up, and a reduce-only override when the position breaches its ceiling.
type MarketMaker struct {
	mu sync.Mutex

	params   StrategyParams
	risk     *RiskManager
	momentum *MomentumAnalyzer
	governor *RateGovernor
	meta     *AssetMetaCache
	logger   *zap.Logger

	lastReading MomentumReading
}

func NewMarketMaker(
	params StrategyParams,
	risk *RiskManager,
	momentum *MomentumAnalyzer,
	governor *RateGovernor,
	meta *AssetMetaCache,
	logger *zap.Logger,
) *MarketMaker {
	return &MarketMaker{
		params:      params.withDefaults(),
		risk:        risk,
		momentum:    momentum,
		governor:    governor,
		meta:        meta,
		logger:      logger,
		lastReading: MomentumReading{Signal: domain.SignalNone},
	}
}

// Observe feeds one snapshot into the analyzer and caches the reading for
// the rest of the cycle. Call it exactly once per cycle, whether or not the
// cycle goes on to trade, so the price window never stalls.
func (s *MarketMaker) Observe(state domain.MarketState) MomentumReading {
	reading := s.momentum.Observe(state.MarkPrice, state.MidPrice())
	s.mu.Lock()
	s.lastReading = reading
	s.mu.Unlock()
	return reading
}

// ShouldTrade gates the whole cycle: enough spread to earn (the requirement
// itself depends on current exposure), calm enough to quote, and a recent
// record that is not underwater.
func (s *MarketMaker) ShouldTrade(state domain.MarketState) (bool, string) {
	usage := s.risk.PositionUsage(state)

	minSpread := s.params.SpreadBaseline
	switch {
	case usage > s.params.HighUsage:
		minSpread = s.params.SpreadHighUsage
	case usage < s.params.LowUsage:
		minSpread = s.params.SpreadLowUsage
	}
	if spread := state.SpreadPct(); spread < minSpread {
		return false, "spread too tight"
	}

	if vol := s.volatility(); vol > s.params.VolatilityCeiling {
		return false, "volatility above ceiling"
	}

	m := s.risk.Metrics()
	if m.Trades >= s.params.MinTradesForGate && m.WinRate < s.params.MinWinRate {
		return false, "win rate below floor"
	}

	return true, ""
}

// volatility is stddev/mean over the momentum price window; an unfilled
// window reads as calm.
func (s *MarketMaker) volatility() float64 {
	w := s.momentum.Window()
	if len(w) < 2 {
		return 0
	}
	m := mean(w)
	if m == 0 {
		return 0
	}
	return stdDev(w) / m
}

// CalculateOrders produces this cycle's candidates from the last observed
// reading. Every returned order has already passed the local parameter
// validation.
func (s *MarketMaker) CalculateOrders(state domain.MarketState) []domain.OrderRequest {
	reading := s.LastReading()

	// Ceiling breach overrides everything: one reduce-only order, nothing else.
	if math.Abs(state.Position) > s.risk.Params().MaxPosition {
		if o, ok := s.ReductionOrder(state); ok {
			return s.keepValid(state, o)
		}
		return nil
	}

	decimals := s.meta.SizeDecimals(state.Asset)
	tick := s.meta.TickSize(state.Asset)

	base := s.baseSize(state.MarkPrice, decimals)
	if base <= 0 {
		return nil
	}

	if reading.Signal != domain.SignalNone {
		if o, ok := s.momentumOrder(state, reading.Signal, base, decimals, tick); ok {
			return s.keepValid(state, o)
		}
	}

	// Two-sided passive quoting when no directional edge is on.
	var orders []domain.OrderRequest
	if s.risk.CheckPositionLimits(state, base, true) {
		px := RoundPrice(state.BestBid, tick)
		orders = append(orders, s.newOrder(state.Asset, domain.SideBuy, base, px, false, true))
	}
	if s.risk.CheckPositionLimits(state, base, false) {
		px := RoundPrice(state.BestAsk, tick)
		orders = append(orders, s.newOrder(state.Asset, domain.SideSell, base, px, false, true))
	}
	return s.keepValid(state, orders...)
}

// momentumOrder sizes up in the signal direction and prices through the book
// with the governor's current slippage. The hour budget is only spent once
// the risk gate has passed.
func (s *MarketMaker) momentumOrder(state domain.MarketState, signal domain.Signal, base float64, decimals int, tick float64) (domain.OrderRequest, bool) {
	side := domain.SideBuy
	if signal == domain.SignalShort {
		side = domain.SideSell
	}

	size := RoundSize(base*s.params.MomentumSizeMult, decimals)
	if !s.risk.CheckPositionLimits(state, size, side == domain.SideBuy) {
		return domain.OrderRequest{}, false
	}
	if !s.momentum.ConsumeTradeSlot() {
		s.logger.Debug("Momentum trade budget spent, falling back to quoting",
			zap.String("signal", string(signal)))
		return domain.OrderRequest{}, false
	}

	slip := s.governor.Slippage()
	price := state.MarkPrice * (1 + slip)
	if side == domain.SideSell {
		price = state.MarkPrice * (1 - slip)
	}
	price = RoundPrice(price, tick)

	return s.newOrder(state.Asset, side, size, price, false, false), true
}

// ReductionOrder builds the single reduce-only order for a breached ceiling:
// max(10% of the position, the minimum viable size), priced slightly through
// the book so it executes, side opposite the position. Positions too small to
// clear the notional floor return false.
func (s *MarketMaker) ReductionOrder(state domain.MarketState) (domain.OrderRequest, bool) {
	if state.Position == 0 || state.MarkPrice <= 0 {
		return domain.OrderRequest{}, false
	}

	decimals := s.meta.SizeDecimals(state.Asset)
	tick := s.meta.TickSize(state.Asset)
	minNotional := s.risk.Params().MinNotional

	absPos := math.Abs(state.Position)
	if absPos*state.MarkPrice < minNotional {
		s.logger.Warn("Position below minimum notional, cannot reduce",
			zap.Float64("position", state.Position),
			zap.Float64("mark", state.MarkPrice))
		return domain.OrderRequest{}, false
	}

	minSize := minNotional * reduceNotionalBuffer / state.MarkPrice
	size := math.Max(absPos*s.params.ReduceStep, minSize)
	size = math.Min(size, absPos)
	size = RoundSize(size, decimals)
	if size <= 0 || size*state.MarkPrice < minNotional {
		return domain.OrderRequest{}, false
	}

	var side domain.Side
	var price float64
	if state.Position > 0 {
		side = domain.SideSell
		price = state.BestBid * (1 - s.params.ReduceOffset)
	} else {
		side = domain.SideBuy
		price = state.BestAsk * (1 + s.params.ReduceOffset)
	}
	price = RoundPrice(price, tick)

	return s.newOrder(state.Asset, side, size, price, true, false), true
}

// LastReading is the most recent analyzer output, for the status surface.
func (s *MarketMaker) LastReading() MomentumReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReading
}

// baseSize is the quote size: minimum notional with a 20% buffer at mark,
// rounded to the asset's size decimals.
func (s *MarketMaker) baseSize(markPrice float64, decimals int) float64 {
	if markPrice <= 0 {
		return 0
	}
	minNotional := s.risk.Params().MinNotional
	return RoundSize(minNotional*s.params.SizeBuffer/markPrice, decimals)
}

func (s *MarketMaker) newOrder(asset string, side domain.Side, size, price float64, reduceOnly, postOnly bool) domain.OrderRequest {
	return domain.OrderRequest{
		ClientID:   uuid.NewString(),
		Asset:      asset,
		Side:       side,
		Size:       size,
		Price:      price,
		ReduceOnly: reduceOnly,
		PostOnly:   postOnly,
	}
}

func (s *MarketMaker) keepValid(state domain.MarketState, orders ...domain.OrderRequest) []domain.OrderRequest {
	kept := orders[:0]
	for _, o := range orders {
		ok, reason := ValidateOrderParams(o, state.MarkPrice, s.risk.Params().MinNotional)
		if !ok {
			s.logger.Warn("Dropping invalid order candidate",
				zap.String("side", string(o.Side)),
				zap.Float64("size", o.Size),
				zap.Float64("price", o.Price),
				zap.String("reason", reason))
			continue
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
