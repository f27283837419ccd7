package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

func newTestExecutor(ex *MockExchange, g *RateGovernor) *OrderExecutor {
	e := NewOrderExecutor(ex, g, 12.0, zap.NewNop())
	e.verifyDelay = 0
	return e
}

func validOrder() domain.OrderRequest {
	return domain.OrderRequest{
		ClientID: "test-order",
		Asset:    "BTC",
		Side:     domain.SideBuy,
		Size:     1.0,
		Price:    50.0,
	}
}

func TestExecutor_ValidationFailureCostsNoRemoteCall(t *testing.T) {
	ex := &MockExchange{}
	g := NewRateGovernor()
	e := newTestExecutor(ex, g)

	// notional 5.0 < 12.0
	order := domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Size: 0.05, Price: 100}
	res := e.ExecuteAndVerify(context.Background(), order, 100)

	if res.State != ExecValidationFailed {
		t.Fatalf("Expected VALIDATION_FAILED, got %s", res.State)
	}
	if len(ex.Submitted) != 0 || ex.FillCalls != 0 {
		t.Error("Validation failure must not touch the venue")
	}
}

func TestExecutor_GovernorBlockAbortsBeforeSubmit(t *testing.T) {
	ex := &MockExchange{}
	g := NewRateGovernor()
	g.OnRateLimit() // active cooldown
	e := newTestExecutor(ex, g)

	res := e.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if res.State != ExecRateBlocked {
		t.Fatalf("Expected RATE_BLOCKED, got %s", res.State)
	}
	if len(ex.Submitted) != 0 {
		t.Error("Blocked order must not be submitted")
	}
}

func TestExecutor_FillConfirmed(t *testing.T) {
	newest := domain.Fill{Asset: "BTC", Side: domain.SideBuy, Size: 1.0, Price: 50}
	ex := &MockExchange{
		FillsQueue: [][]domain.Fill{
			ledger(10),
			append([]domain.Fill{newest}, ledger(10)...),
		},
	}
	g := NewRateGovernor()
	e := newTestExecutor(ex, g)

	res := e.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if res.State != ExecFillConfirmed {
		t.Fatalf("Expected FILL_CONFIRMED, got %s (%s)", res.State, res.Reason)
	}
	if res.Notional != 50.0 {
		t.Errorf("Expected fill notional 50.0, got %f", res.Notional)
	}
	if res.FillSize != 1.0 || res.FillPrice != 50 {
		t.Errorf("Expected newest fill attributed, got size=%f price=%f", res.FillSize, res.FillPrice)
	}
	// Confirmed notional feeds the governor.
	if g.VolumeTraded() != 50.0 {
		t.Errorf("Expected governor volume 50.0, got %f", g.VolumeTraded())
	}
}

func TestExecutor_UnchangedLedgerIsNeverSuccess(t *testing.T) {
	ex := &MockExchange{
		FillsQueue: [][]domain.Fill{ledger(10), ledger(10)},
	}
	g := NewRateGovernor()
	e := newTestExecutor(ex, g)

	res := e.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if res.State != ExecNoFillDetected {
		t.Fatalf("Expected NO_FILL_DETECTED, got %s", res.State)
	}
	if res.Confirmed() {
		t.Error("Unchanged fill count must never report success")
	}
	if g.VolumeTraded() != 0 {
		t.Errorf("Unconfirmed order must not add volume, got %f", g.VolumeTraded())
	}
}

func TestExecutor_SubmitRejected(t *testing.T) {
	ex := &MockExchange{
		SubmitRes: &domain.SubmitResult{Status: "error", Raw: "margin check failed"},
	}
	g := NewRateGovernor()
	e := newTestExecutor(ex, g)

	res := e.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if res.State != ExecSubmitRejected {
		t.Fatalf("Expected SUBMIT_REJECTED, got %s", res.State)
	}
	// Rejected submissions skip the verification read.
	if ex.FillCalls != 1 {
		t.Errorf("Expected exactly 1 fills query, got %d", ex.FillCalls)
	}
}

func TestExecutor_VenueThrottleEscalatesGovernor(t *testing.T) {
	ex := &MockExchange{
		SubmitErr: fmt.Errorf("submit order: %w", domain.ErrRateLimited),
	}
	g := NewRateGovernor()
	e := newTestExecutor(ex, g)

	res := e.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if res.State != ExecRateBlocked {
		t.Fatalf("Expected RATE_BLOCKED, got %s", res.State)
	}
	if g.ConsecutiveFailures() != 1 {
		t.Errorf("Expected governor failure recorded, got %d", g.ConsecutiveFailures())
	}
}

func TestExecutor_PostOnlyAlwaysRestsPassive(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(clock)
	// Push the governor into its degraded, IOC-recommending state.
	g.OnRateLimit()
	g.OnRateLimit()
	g.OnRateLimit()
	clock.Advance(16 * time.Second) // past the tier-2 cooldown

	ex := &MockExchange{FillsQueue: [][]domain.Fill{ledger(1), ledger(1)}}
	e := newTestExecutor(ex, g)

	order := validOrder()
	order.PostOnly = true
	e.ExecuteAndVerify(context.Background(), order, 50)

	if len(ex.SubmittedParams) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(ex.SubmittedParams))
	}
	if ex.SubmittedParams[0].TIF != "Alo" {
		t.Errorf("Post-only order must rest passive, got TIF %q", ex.SubmittedParams[0].TIF)
	}

	// A plain order in the same governor state follows the recommendation.
	ex2 := &MockExchange{FillsQueue: [][]domain.Fill{ledger(1), ledger(1)}}
	e2 := newTestExecutor(ex2, g)
	clock.Advance(31 * time.Second) // severe-mode spacing
	e2.ExecuteAndVerify(context.Background(), validOrder(), 50)

	if ex2.SubmittedParams[0].TIF != "Ioc" || !ex2.SubmittedParams[0].PriorityFee {
		t.Errorf("Expected degraded Ioc+priority params, got %+v", ex2.SubmittedParams[0])
	}
}
