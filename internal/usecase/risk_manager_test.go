package usecase

import (
	"testing"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

func testState(position, mark float64) domain.MarketState {
	return domain.MarketState{
		Asset:        "BTC",
		BestBid:      mark - 0.5,
		BestAsk:      mark + 0.5,
		MarkPrice:    mark,
		Position:     position,
		AccountValue: 1000,
	}
}

func newTestRiskManager() *RiskManager {
	return NewRiskManager(RiskParams{
		MaxPosition:   5.0,
		MinNotional:   12.0,
		ProfitTakePct: 0.02,
		StopLossPct:   0.01,
	})
}

func TestRiskManager_CheckPositionLimits(t *testing.T) {
	r := newTestRiskManager()

	// Growing within the ceiling is fine.
	if !r.CheckPositionLimits(testState(4.0, 100), 1.0, true) {
		t.Error("Buy to 5.0 should be allowed at max 5.0")
	}
	// Growing past it is not.
	if r.CheckPositionLimits(testState(4.3, 100), 1.0, true) {
		t.Error("Buy to 5.3 should be rejected at max 5.0")
	}
	// Reducing trades always pass, even above the ceiling.
	if !r.CheckPositionLimits(testState(6.0, 100), 1.0, false) {
		t.Error("Sell that reduces an oversized position should be allowed")
	}
	// Shorts mirror longs.
	if r.CheckPositionLimits(testState(-4.5, 100), 1.0, false) {
		t.Error("Sell to -5.5 should be rejected at max 5.0")
	}
}

func TestRiskManager_ValidateTrade_MinNotional(t *testing.T) {
	r := newTestRiskManager()

	// size*price = 5.0 < 12.0 -> dropped before any remote call.
	order := domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Size: 0.05, Price: 100}
	dec := r.ValidateTrade(order, testState(0, 100))
	if dec.Allowed {
		t.Fatal("Expected denial on notional below minimum")
	}
	if dec.Reason == "" {
		t.Error("Denial must carry a reason")
	}
}

func TestRiskManager_ValidateTrade_LossStreak(t *testing.T) {
	r := newTestRiskManager()
	now := time.Now()

	order := domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Size: 0.5, Price: 100}

	// Two of the last three lost: breaker trips.
	r.RecordTrade(domain.TradeRecord{Time: now, RealizedPnL: -3})
	r.RecordTrade(domain.TradeRecord{Time: now, RealizedPnL: -1})
	r.RecordTrade(domain.TradeRecord{Time: now, RealizedPnL: 2})

	dec := r.ValidateTrade(order, testState(0, 100))
	if dec.Allowed {
		t.Fatal("Expected loss-streak denial")
	}

	// Two wins push the losses out of the lookback.
	r.RecordTrade(domain.TradeRecord{Time: now, RealizedPnL: 4})
	r.RecordTrade(domain.TradeRecord{Time: now, RealizedPnL: 1})

	dec = r.ValidateTrade(order, testState(0, 100))
	if !dec.Allowed {
		t.Fatalf("Expected approval after recovery, got: %s", dec.Reason)
	}
}

func TestRiskManager_ProfitAndStopThresholds(t *testing.T) {
	r := newTestRiskManager()

	// Long from 100: +2.5% takes profit, -1.1% stops out.
	if !r.ShouldTakeProfit(testState(1.0, 102.5), 100) {
		t.Error("Long +2.5% should take profit at 2%")
	}
	if r.ShouldTakeProfit(testState(1.0, 101.0), 100) {
		t.Error("Long +1.0% should not take profit at 2%")
	}
	if !r.ShouldStopLoss(testState(1.0, 98.9), 100) {
		t.Error("Long -1.1% should stop out at 1%")
	}

	// Shorts are direction-aware.
	if !r.ShouldTakeProfit(testState(-1.0, 97.0), 100) {
		t.Error("Short -3% should take profit")
	}
	if !r.ShouldStopLoss(testState(-1.0, 101.5), 100) {
		t.Error("Short +1.5% should stop out")
	}

	// Flat or unknown entry never triggers.
	if r.ShouldTakeProfit(testState(0, 200), 100) || r.ShouldStopLoss(testState(0, 1), 100) {
		t.Error("Flat position must not trigger exits")
	}
}

func TestRiskManager_Metrics(t *testing.T) {
	r := newTestRiskManager()
	now := time.Now()

	r.RecordTrade(domain.TradeRecord{Time: now, FillPrice: 100, FillSize: 1, RealizedPnL: 10})
	r.RecordTrade(domain.TradeRecord{Time: now, FillPrice: 101, FillSize: 1, RealizedPnL: -5})
	r.RecordTrade(domain.TradeRecord{Time: now, FillPrice: 102, FillSize: 1, RealizedPnL: 2})

	m := r.Metrics()
	if m.Trades != 3 {
		t.Fatalf("Expected 3 trades, got %d", m.Trades)
	}
	if m.WinRate < 0.666 || m.WinRate > 0.667 {
		t.Errorf("Expected win rate 2/3, got %f", m.WinRate)
	}
	if m.TotalPnL != 7 {
		t.Errorf("Expected total PnL 7, got %f", m.TotalPnL)
	}
	if m.MaxDrawdown != -5 {
		t.Errorf("Expected max drawdown -5, got %f", m.MaxDrawdown)
	}
}

func TestRiskManager_HistoryPruning(t *testing.T) {
	r := newTestRiskManager()
	clock := newFakeClock()
	r.timeNow = clock.Now

	stale := clock.Now().Add(-25 * time.Hour)
	r.RecordTrade(domain.TradeRecord{Time: stale, RealizedPnL: -100})
	r.RecordTrade(domain.TradeRecord{Time: clock.Now(), RealizedPnL: 3})

	m := r.Metrics()
	if m.Trades != 1 {
		t.Fatalf("Expected stale trade pruned, got %d trades", m.Trades)
	}
	if m.TotalPnL != 3 {
		t.Errorf("Expected PnL 3 after pruning, got %f", m.TotalPnL)
	}
}

func TestRiskManager_PositionTracking(t *testing.T) {
	r := newTestRiskManager()

	// Flat -> long stamps an entry.
	r.UpdatePositionTracking(testState(0.5, 100))
	entry, ok := r.EntryPrice()
	if !ok || entry != 100 {
		t.Fatalf("Expected entry 100, got %v (ok=%v)", entry, ok)
	}

	// Adding stamps a fresh entry at the new mark.
	r.UpdatePositionTracking(testState(1.0, 105))
	entry, _ = r.EntryPrice()
	if entry != 105 {
		t.Errorf("Expected entry restamped to 105, got %v", entry)
	}

	// Shrinking keeps the entry.
	r.UpdatePositionTracking(testState(0.7, 110))
	entry, ok = r.EntryPrice()
	if !ok || entry != 105 {
		t.Errorf("Expected entry kept at 105 on reduce, got %v", entry)
	}

	// Back to exactly flat clears it.
	r.UpdatePositionTracking(testState(0, 111))
	if _, ok := r.EntryPrice(); ok {
		t.Error("Expected entry cleared at flat")
	}
}

func TestRiskManager_ReductionTiers(t *testing.T) {
	r := newTestRiskManager()

	// 4.3 of 5.0 is 86% usage: both tiers fire, target is 3.5.
	s := testState(4.3, 100)
	if u := r.PositionUsage(s); u < 0.859 || u > 0.861 {
		t.Fatalf("Expected usage 0.86, got %f", u)
	}
	if !r.NeedsReduction(s) || !r.NeedsAggressiveReduction(s) {
		t.Error("Expected both reduction tiers at 86% usage")
	}
	if got := r.ReductionTargetSize(); got != 3.5 {
		t.Errorf("Expected reduction target 3.5, got %f", got)
	}

	// 4.0 of 5.0 is exactly the first tier.
	s = testState(4.0, 100)
	if !r.NeedsReduction(s) {
		t.Error("Expected strategy-tier reduction at 80% usage")
	}
	if r.NeedsAggressiveReduction(s) {
		t.Error("Aggressive tier must not fire at 80% usage")
	}
}
