package usecase

import (
	"math"
	"sync"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

const (
	defaultWindowSize        = 20
	defaultMaxMomentumTrades = 2

	rsiPeriod     = 14
	rsiOversold   = 30.0
	rsiOverbought = 70.0

	oversoldZ   = -2.0
	overboughtZ = 2.0

	signalThreshold = 0.3

	trendWeight     = 0.4
	meanRevWeight   = 0.3
	rsiWeight       = 0.2
	imbalanceWeight = 0.1
)

// MomentumReading is one analyzer output. Strength is the weighted sum the
// signal is derived from; RSI and ZScore ride along for logging.
type MomentumReading struct {
	Signal   domain.Signal
	Strength float64
	RSI      float64
	ZScore   float64
}

// MomentumAnalyzer keeps a sliding window of mark prices and derives a
// directional signal from trend, mean-reversion, oscillator and book
// imbalance terms. It also owns the momentum-trade hour budget.
type MomentumAnalyzer struct {
	mu sync.Mutex

	window     []float64
	windowSize int

	lastSignal domain.Signal

	tradesThisHour   int
	hourStart        time.Time
	maxTradesPerHour int

	timeNow func() time.Time
}

func NewMomentumAnalyzer(windowSize, maxTradesPerHour int) *MomentumAnalyzer {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	if maxTradesPerHour <= 0 {
		maxTradesPerHour = defaultMaxMomentumTrades
	}
	return &MomentumAnalyzer{
		window:           make([]float64, 0, windowSize),
		windowSize:       windowSize,
		lastSignal:       domain.SignalNone,
		maxTradesPerHour: maxTradesPerHour,
		timeNow:          time.Now,
	}
}

// Observe pushes the latest mark price into the window and recomputes the
// signal. Until the window fills, the reading is always neutral.
func (m *MomentumAnalyzer) Observe(markPrice, midPrice float64) MomentumReading {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, markPrice)
	if len(m.window) > m.windowSize {
		m.window = m.window[1:]
	}

	if len(m.window) < m.windowSize {
		m.lastSignal = domain.SignalNone
		return MomentumReading{Signal: domain.SignalNone, RSI: 50}
	}

	short := ema(m.window[len(m.window)-m.windowSize/4:])
	medium := ema(m.window[len(m.window)-m.windowSize/2:])
	long := ema(m.window)

	trend := 0.0
	switch {
	case short > medium && medium > long:
		trend = 1
	case short < medium && medium < long:
		trend = -1
	}

	z := zScore(m.window)
	meanRev := 0.0
	switch {
	case z < oversoldZ:
		meanRev = 1
	case z > overboughtZ:
		meanRev = -1
	}

	rsi := computeRSI(m.window, rsiPeriod)
	rsiTerm := 0.0
	switch {
	case rsi < rsiOversold:
		rsiTerm = 1
	case rsi > rsiOverbought:
		rsiTerm = -1
	}

	imbalance := 0.0
	if midPrice > 0 {
		imbalance = (markPrice - midPrice) / midPrice
	}

	strength := trendWeight*trend + meanRevWeight*meanRev + rsiWeight*rsiTerm + imbalanceWeight*imbalance

	signal := domain.SignalNone
	switch {
	case strength > signalThreshold:
		signal = domain.SignalLong
	case strength < -signalThreshold:
		signal = domain.SignalShort
	}
	m.lastSignal = signal

	return MomentumReading{Signal: signal, Strength: strength, RSI: rsi, ZScore: z}
}

func (m *MomentumAnalyzer) LastSignal() domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSignal
}

func (m *MomentumAnalyzer) WindowFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window) >= m.windowSize
}

// Window returns a copy of the current price window, oldest first.
func (m *MomentumAnalyzer) Window() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.window))
	copy(out, m.window)
	return out
}

// ConsumeTradeSlot claims one momentum trade from the rolling hour budget.
// Returns false when the budget is spent; the counter resets when the hour
// window elapses.
func (m *MomentumAnalyzer) ConsumeTradeSlot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeNow()
	if m.hourStart.IsZero() || now.Sub(m.hourStart) >= time.Hour {
		m.hourStart = now
		m.tradesThisHour = 0
	}
	if m.tradesThisHour >= m.maxTradesPerHour {
		return false
	}
	m.tradesThisHour++
	return true
}

func (m *MomentumAnalyzer) TradesThisHour() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tradesThisHour
}

// ema seeds with the first value; alpha follows the span of the slice.
func ema(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	alpha := 2.0 / (float64(len(values)) + 1.0)
	e := values[0]
	for _, v := range values[1:] {
		e = alpha*v + (1-alpha)*e
	}
	return e
}

// computeRSI is the classic 14-period oscillator over the tail of the
// window. Not enough deltas or a flat window read as neutral.
func computeRSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}
	var gains, losses float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100
		}
		return 50
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func zScore(values []float64) float64 {
	sd := stdDev(values)
	if sd == 0 {
		return 0
	}
	return (values[len(values)-1] - mean(values)) / sd
}
