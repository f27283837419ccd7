package usecase

import (
	"testing"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

// zigzagUp builds a rising sequence with periodic pullbacks so the trend
// term fires without pinning the RSI at 100.
func zigzagUp(start float64, n int) []float64 {
	prices := []float64{start}
	deltas := []float64{0.3, 0.3, -0.3}
	for i := 0; len(prices) < n; i++ {
		prices = append(prices, prices[len(prices)-1]+deltas[i%3])
	}
	return prices
}

func TestMomentum_ConstantWindowIsNeutral(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)

	var reading MomentumReading
	for i := 0; i < 20; i++ {
		reading = m.Observe(100.0, 100.0)
	}

	if reading.Signal != domain.SignalNone {
		t.Errorf("Expected none, got %s", reading.Signal)
	}
	if reading.Strength != 0 {
		t.Errorf("Expected strength 0, got %f", reading.Strength)
	}
	if reading.RSI != 50 {
		t.Errorf("Expected neutral RSI 50, got %f", reading.RSI)
	}
	if reading.ZScore != 0 {
		t.Errorf("Expected z-score 0, got %f", reading.ZScore)
	}
}

func TestMomentum_NoSignalBeforeWindowFull(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)

	// 19 strongly trending observations must still read neutral.
	price := 100.0
	var reading MomentumReading
	for i := 0; i < 19; i++ {
		price += 1.0
		reading = m.Observe(price, price)
	}

	if reading.Signal != domain.SignalNone {
		t.Errorf("Expected none before window fills, got %s", reading.Signal)
	}
	if m.WindowFull() {
		t.Error("Window should not be full after 19 observations")
	}
}

func TestMomentum_UptrendSignalsLong(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)

	var reading MomentumReading
	for _, p := range zigzagUp(100, 20) {
		reading = m.Observe(p, p)
	}

	if reading.Signal != domain.SignalLong {
		t.Fatalf("Expected long, got %s (strength %f)", reading.Signal, reading.Strength)
	}
	if reading.Strength <= signalThreshold {
		t.Errorf("Expected strength above %f, got %f", signalThreshold, reading.Strength)
	}
	if m.LastSignal() != domain.SignalLong {
		t.Errorf("LastSignal not updated, got %s", m.LastSignal())
	}
}

func TestMomentum_DowntrendSignalsShort(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)

	prices := zigzagUp(100, 20)
	var reading MomentumReading
	for i := range prices {
		// Mirror the rising sequence around its start.
		p := 200 - prices[i]
		reading = m.Observe(p, p)
	}

	if reading.Signal != domain.SignalShort {
		t.Fatalf("Expected short, got %s (strength %f)", reading.Signal, reading.Strength)
	}
	if reading.Strength >= -signalThreshold {
		t.Errorf("Expected strength below %f, got %f", -signalThreshold, reading.Strength)
	}
}

func TestMomentum_Deterministic(t *testing.T) {
	run := func() []MomentumReading {
		m := NewMomentumAnalyzer(20, 2)
		var out []MomentumReading
		for _, p := range zigzagUp(50, 40) {
			out = append(out, m.Observe(p, p*1.0001))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Reading %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestMomentum_WindowEviction(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)

	for i := 0; i < 50; i++ {
		m.Observe(float64(100+i), float64(100+i))
	}

	w := m.Window()
	if len(w) != 20 {
		t.Fatalf("Expected window of 20, got %d", len(w))
	}
	if w[0] != 130 || w[19] != 149 {
		t.Errorf("Expected window [130..149], got [%v..%v]", w[0], w[19])
	}
}

func TestMomentum_TradeSlotBudget(t *testing.T) {
	m := NewMomentumAnalyzer(20, 2)
	clock := newFakeClock()
	m.timeNow = clock.Now

	if !m.ConsumeTradeSlot() {
		t.Fatal("First slot should be granted")
	}
	if !m.ConsumeTradeSlot() {
		t.Fatal("Second slot should be granted")
	}
	if m.ConsumeTradeSlot() {
		t.Fatal("Third slot within the hour must be denied")
	}
	if m.TradesThisHour() != 2 {
		t.Errorf("Expected 2 trades this hour, got %d", m.TradesThisHour())
	}

	// Budget resets once the hour window elapses.
	clock.Advance(61 * time.Minute)
	if !m.ConsumeTradeSlot() {
		t.Fatal("Slot should be granted after the hour rolls over")
	}
	if m.TradesThisHour() != 1 {
		t.Errorf("Expected counter reset to 1, got %d", m.TradesThisHour())
	}
}

func TestComputeRSI(t *testing.T) {
	// Pure rise pins the oscillator at 100.
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	if got := computeRSI(rising, 14); got != 100 {
		t.Errorf("Expected RSI 100, got %f", got)
	}

	// Flat history is neutral.
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	if got := computeRSI(flat, 14); got != 50 {
		t.Errorf("Expected RSI 50, got %f", got)
	}

	// Too little history is neutral.
	if got := computeRSI([]float64{1, 2, 3}, 14); got != 50 {
		t.Errorf("Expected RSI 50 on short history, got %f", got)
	}
}

func TestZScore(t *testing.T) {
	if got := zScore([]float64{5, 5, 5, 5}); got != 0 {
		t.Errorf("Expected 0 on zero variance, got %f", got)
	}

	// Outlier at the end of a flat window reads strongly positive.
	vs := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 14}
	if got := zScore(vs); got <= 2 {
		t.Errorf("Expected z above 2, got %f", got)
	}
}
