package usecase

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

const (
	tradeHistoryCap    = 100
	tradeHistoryWindow = 24 * time.Hour
	lossStreakLookback = 3
	lossStreakLimit    = 2
)

// RiskParams are the policy knobs. Zero values fall back to the defaults the
// strategy was tuned with.
type RiskParams struct {
	MaxPosition         float64
	MinNotional         float64
	ProfitTakePct       float64
	StopLossPct         float64
	ReduceThreshold     float64
	AggressiveThreshold float64
	ReductionTarget     float64
}

func (p RiskParams) withDefaults() RiskParams {
	if p.MinNotional <= 0 {
		p.MinNotional = 12.0
	}
	if p.ProfitTakePct <= 0 {
		p.ProfitTakePct = 0.02
	}
	if p.StopLossPct <= 0 {
		p.StopLossPct = 0.01
	}
	if p.ReduceThreshold <= 0 {
		p.ReduceThreshold = 0.80
	}
	if p.AggressiveThreshold <= 0 {
		p.AggressiveThreshold = 0.85
	}
	if p.ReductionTarget <= 0 {
		p.ReductionTarget = 0.70
	}
	return p
}

// RiskDecision is the result of a pre-trade check. Expected denials travel as
// a reason string, never as an error.
type RiskDecision struct {
	Allowed bool
	Reason  string
}

func allow() RiskDecision {
	return RiskDecision{Allowed: true}
}

func deny(format string, args ...interface{}) RiskDecision {
	return RiskDecision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// RiskManager enforces exposure ceilings and performance gates, and owns the
// session trade history and position entry tracking.
type RiskManager struct {
	mu sync.Mutex

	params RiskParams

	trades []domain.TradeRecord

	entryPrice   float64
	hasEntry     bool
	lastPosition float64

	timeNow func() time.Time
}

func NewRiskManager(params RiskParams) *RiskManager {
	return &RiskManager{
		params:  params.withDefaults(),
		timeNow: time.Now,
	}
}

func (r *RiskManager) Params() RiskParams {
	return r.params
}

// CheckPositionLimits approves any order that shrinks the position and
// otherwise rejects when the hypothetical new position would breach the
// ceiling.
func (r *RiskManager) CheckPositionLimits(state domain.MarketState, size float64, isBuy bool) bool {
	delta := size
	if !isBuy {
		delta = -size
	}
	newPos := state.Position + delta

	if math.Abs(newPos) < math.Abs(state.Position) {
		return true
	}
	return math.Abs(newPos) <= r.params.MaxPosition
}

// ValidateTrade runs the full pre-trade gauntlet: notional floor, position
// ceiling, and the loss-streak circuit breaker (2 of the last 3 trades lost).
func (r *RiskManager) ValidateTrade(order domain.OrderRequest, state domain.MarketState) RiskDecision {
	if order.Notional() < r.params.MinNotional {
		return deny("notional %.2f below minimum %.2f", order.Notional(), r.params.MinNotional)
	}
	if !r.CheckPositionLimits(state, order.Size, order.IsBuy()) {
		return deny("position limit: %.4f + %s %.4f exceeds max %.4f",
			state.Position, order.Side, order.Size, r.params.MaxPosition)
	}
	if r.lossStreak() {
		return deny("loss streak: %d of last %d trades lost", lossStreakLimit, lossStreakLookback)
	}
	return allow()
}

func (r *RiskManager) lossStreak() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.trades) < lossStreakLookback {
		return false
	}
	losses := 0
	for _, rec := range r.trades[len(r.trades)-lossStreakLookback:] {
		if rec.RealizedPnL < 0 {
			losses++
		}
	}
	return losses >= lossStreakLimit
}

// ShouldTakeProfit is direction-aware: a favorable move from entry beyond the
// threshold for the current position sign.
func (r *RiskManager) ShouldTakeProfit(state domain.MarketState, entry float64) bool {
	if entry <= 0 || state.Position == 0 {
		return false
	}
	move := (state.MarkPrice - entry) / entry
	if state.Position < 0 {
		move = -move
	}
	return move >= r.params.ProfitTakePct
}

// ShouldStopLoss fires on an adverse move beyond the threshold: price falling
// for longs, rising for shorts.
func (r *RiskManager) ShouldStopLoss(state domain.MarketState, entry float64) bool {
	if entry <= 0 || state.Position == 0 {
		return false
	}
	move := (state.MarkPrice - entry) / entry
	if state.Position < 0 {
		move = -move
	}
	return move <= -r.params.StopLossPct
}

// RecordTrade appends to the history ring: capped at 100 entries, pruned to
// the trailing 24h.
func (r *RiskManager) RecordTrade(rec domain.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trades = append(r.trades, rec)
	if len(r.trades) > tradeHistoryCap {
		r.trades = r.trades[len(r.trades)-tradeHistoryCap:]
	}
	r.pruneLocked()
}

func (r *RiskManager) pruneLocked() {
	cutoff := r.timeNow().Add(-tradeHistoryWindow)
	idx := 0
	for idx < len(r.trades) && r.trades[idx].Time.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		r.trades = r.trades[idx:]
	}
}

// Metrics summarizes the trailing 24h of trade history.
func (r *RiskManager) Metrics() domain.RiskMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	m := domain.RiskMetrics{Trades: len(r.trades)}
	if len(r.trades) == 0 {
		return m
	}

	wins := 0
	for _, rec := range r.trades {
		m.TotalPnL += rec.RealizedPnL
		if rec.RealizedPnL > 0 {
			wins++
		}
		if rec.RealizedPnL < m.MaxDrawdown {
			m.MaxDrawdown = rec.RealizedPnL
		}
	}
	m.WinRate = float64(wins) / float64(len(r.trades))
	m.AvgPnL = m.TotalPnL / float64(len(r.trades))
	return m
}

// UpdatePositionTracking maintains the entry price bookkeeping: any
// magnitude increase (including a sign flip) stamps a fresh entry at the
// current mark, a return to exactly flat clears it.
func (r *RiskManager) UpdatePositionTracking(state domain.MarketState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := state.Position
	switch {
	case pos == 0:
		r.entryPrice = 0
		r.hasEntry = false
	case math.Abs(pos) > math.Abs(r.lastPosition) || pos*r.lastPosition < 0:
		r.entryPrice = state.MarkPrice
		r.hasEntry = true
	}
	r.lastPosition = pos
}

// EntryPrice returns the tracked entry and whether one is set.
func (r *RiskManager) EntryPrice() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryPrice, r.hasEntry
}

// PositionUsage is |position| as a fraction of the ceiling.
func (r *RiskManager) PositionUsage(state domain.MarketState) float64 {
	if r.params.MaxPosition <= 0 {
		return 0
	}
	return math.Abs(state.Position) / r.params.MaxPosition
}

// NeedsReduction reports the strategy-level tier (usage >= 0.80).
func (r *RiskManager) NeedsReduction(state domain.MarketState) bool {
	return r.PositionUsage(state) >= r.params.ReduceThreshold
}

// NeedsAggressiveReduction reports the engine-level tier (usage >= 0.85).
func (r *RiskManager) NeedsAggressiveReduction(state domain.MarketState) bool {
	return r.PositionUsage(state) >= r.params.AggressiveThreshold
}

// ReductionTargetSize is the absolute position the reducer steers toward:
// 70% of the ceiling, deliberately not zero so the breaker does not
// immediately re-arm.
func (r *RiskManager) ReductionTargetSize() float64 {
	return r.params.ReductionTarget * r.params.MaxPosition
}
