package usecase

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

const (
	// Hard cap is 1200 requests/min on the venue; we stay under it.
	perMinuteRequestCap = 1000

	minWaitFloorSeconds = 1.0
	maxWaitSeconds      = 10.0
	severeWaitSeconds   = 30.0

	// Consecutive rate-limit failures at which severe mode engages.
	severeFailureCount = 3
)

// RateGovernor paces every remote request the bot makes. It is the one piece
// of deliberately shared mutable state in the process: strategy, executor and
// reducer all consult and update it, so every method takes the internal mutex.
type RateGovernor struct {
	mu sync.Mutex

	lastRequest    time.Time
	minuteStart    time.Time
	requestsMinute int

	consecutiveFails int
	cooldownUntil    time.Time

	minWait      float64 // seconds, decays toward the floor on success
	volumeTraded float64

	severe bool

	timeNow func() time.Time
}

func NewRateGovernor() *RateGovernor {
	return &RateGovernor{
		minWait: minWaitFloorSeconds,
		timeNow: time.Now,
	}
}

// CanProceed reports whether a remote call may be issued now. All three gates
// must pass: no active cooldown, minimum spacing since the last request, and
// headroom in the current minute window.
func (g *RateGovernor) CanProceed() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	g.rollMinuteLocked(now)

	if now.Before(g.cooldownUntil) {
		return false, fmt.Sprintf("cooldown active for %.1fs", g.cooldownUntil.Sub(now).Seconds())
	}

	wait := g.requiredWaitLocked()
	if !g.lastRequest.IsZero() {
		elapsed := now.Sub(g.lastRequest).Seconds()
		if elapsed < wait {
			return false, fmt.Sprintf("min wait %.1fs, elapsed %.1fs", wait, elapsed)
		}
	}

	if g.requestsMinute >= perMinuteRequestCap {
		return false, "minute request budget exhausted"
	}

	return true, ""
}

// WaitHint returns how long a caller should pause before the next remote
// call has a chance of passing CanProceed. Zero means go ahead now.
func (g *RateGovernor) WaitHint() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	var hint time.Duration
	if now.Before(g.cooldownUntil) {
		hint = g.cooldownUntil.Sub(now)
	}
	if !g.lastRequest.IsZero() {
		ready := g.lastRequest.Add(time.Duration(g.requiredWaitLocked() * float64(time.Second)))
		if d := ready.Sub(now); d > hint {
			hint = d
		}
	}
	return hint
}

// RecordRequest counts one outbound remote call against the minute window.
// Call it immediately before issuing the request.
func (g *RateGovernor) RecordRequest() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	g.rollMinuteLocked(now)
	g.requestsMinute++
	g.lastRequest = now
}

// OnSuccess records a confirmed outcome: failures reset, traded notional
// accumulates, the spacing requirement decays toward its floor and severe
// mode relaxes.
func (g *RateGovernor) OnSuccess(notional float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFails = 0
	if notional > 0 {
		g.volumeTraded += notional
	}
	g.minWait -= 0.5
	if g.minWait < minWaitFloorSeconds {
		g.minWait = minWaitFloorSeconds
	}
	g.severe = false
}

// OnRateLimit escalates after a throttling response. Cooldown tiers: 5s for
// failures 1-2, 15s for 3-4, then min(30, 5*n) seconds. Returns the cooldown
// applied so callers can log it.
func (g *RateGovernor) OnRateLimit() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	g.consecutiveFails++

	var cooldown float64
	switch {
	case g.consecutiveFails <= 2:
		cooldown = 5
	case g.consecutiveFails <= 4:
		cooldown = 15
	default:
		cooldown = math.Min(30, 5*float64(g.consecutiveFails))
	}
	g.cooldownUntil = now.Add(time.Duration(cooldown * float64(time.Second)))

	if g.consecutiveFails >= severeFailureCount {
		g.severe = true
	}

	return time.Duration(cooldown * float64(time.Second))
}

// Slippage returns the tolerance for aggressive orders, widening as the
// venue pushes back.
func (g *RateGovernor) Slippage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.consecutiveFails > 2 || g.severe:
		return 0.02
	case g.consecutiveFails > 0:
		return 0.015
	default:
		return 0.01
	}
}

// OrderTypeParams recommends the venue order type. Passive resting orders in
// normal operation, immediate-or-cancel with the priority-fee marker once
// the venue is pushing back hard.
func (g *RateGovernor) OrderTypeParams() domain.OrderTypeParams {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consecutiveFails > 2 || g.severe {
		return domain.OrderTypeParams{TIF: "Ioc", PriorityFee: true}
	}
	return domain.OrderTypeParams{TIF: "Alo"}
}

// PricePremium is the extra price aggressiveness granted to reduction orders
// while degraded: min(0.001*(fails+1), 0.005), doubled in severe mode,
// capped at 1%.
func (g *RateGovernor) PricePremium() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	premium := math.Min(0.001*float64(g.consecutiveFails+1), 0.005)
	if g.severe {
		premium *= 2
	}
	return math.Min(premium, 0.01)
}

func (g *RateGovernor) VolumeTraded() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volumeTraded
}

func (g *RateGovernor) ConsecutiveFailures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveFails
}

func (g *RateGovernor) SevereMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.severe
}

func (g *RateGovernor) RequestsThisMinute() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollMinuteLocked(g.timeNow())
	return g.requestsMinute
}

// requiredWaitLocked computes the spacing rule: a hard 30s in severe mode,
// otherwise the decaying base plus 0.5s per outstanding failure, capped.
func (g *RateGovernor) requiredWaitLocked() float64 {
	if g.severe {
		return severeWaitSeconds
	}
	return math.Min(maxWaitSeconds, g.minWait+0.5*float64(g.consecutiveFails))
}

// rollMinuteLocked resets the request counter when the wall-clock minute
// changes. The window is aligned, not sliding.
func (g *RateGovernor) rollMinuteLocked(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !minute.Equal(g.minuteStart) {
		g.minuteStart = minute
		g.requestsMinute = 0
	}
}
