package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

// ExecState is the terminal state of one execution attempt.
type ExecState string

const (
	ExecSkipped          ExecState = "SKIPPED"
	ExecValidationFailed ExecState = "VALIDATION_FAILED"
	ExecRateBlocked      ExecState = "RATE_BLOCKED"
	ExecAborted          ExecState = "ABORTED"
	ExecSubmitRejected   ExecState = "SUBMIT_REJECTED"
	ExecNoFillDetected   ExecState = "NO_FILL_DETECTED"
	ExecFillConfirmed    ExecState = "FILL_CONFIRMED"
)

// ExecResult reports how an order attempt ended. Only FILL_CONFIRMED carries
// fill details; NO_FILL_DETECTED means the venue accepted the order but the
// ledger shows nothing yet, which is not the same thing as a failure.
type ExecResult struct {
	State     ExecState
	Reason    string
	FillSize  float64
	FillPrice float64
	FillPnL   float64
	Notional  float64
	OrderID   int64
}

func (r ExecResult) Confirmed() bool {
	return r.State == ExecFillConfirmed
}

// ExecAttempt pairs an order with how its execution ended, for callers that
// submit several legs and journal each one.
type ExecAttempt struct {
	Order  domain.OrderRequest
	Result ExecResult
}

// OrderExecutor walks one order through validate, rate-check, submit and
// verify. The venue's synchronous accept is not proof of execution, so the
// executor snapshots the fill-ledger length before submitting and re-reads it
// after a settling delay; only a count increase confirms a fill.
type OrderExecutor struct {
	exchange    domain.Exchange
	governor    *RateGovernor
	minNotional float64
	verifyDelay time.Duration
	logger      *zap.Logger
}

func NewOrderExecutor(exchange domain.Exchange, governor *RateGovernor, minNotional float64, logger *zap.Logger) *OrderExecutor {
	if minNotional <= 0 {
		minNotional = 12.0
	}
	return &OrderExecutor{
		exchange:    exchange,
		governor:    governor,
		minNotional: minNotional,
		verifyDelay: time.Second,
		logger:      logger,
	}
}

// ExecuteAndVerify runs the full lifecycle for a single order. Remote
// problems come back inside the result, never as a panic or error that could
// knock the trading loop over. Passive quotes always rest as add-liquidity-
// only; anything priced through the book goes immediate-or-cancel, picking up
// the priority-fee marker whenever the governor is degraded.
func (e *OrderExecutor) ExecuteAndVerify(ctx context.Context, order domain.OrderRequest, markPrice float64) ExecResult {
	params := domain.OrderTypeParams{TIF: "Ioc", PriorityFee: e.governor.OrderTypeParams().PriorityFee}
	if order.PostOnly {
		params = domain.OrderTypeParams{TIF: "Alo"}
	}
	return e.execute(ctx, order, markPrice, params)
}

func (e *OrderExecutor) execute(ctx context.Context, order domain.OrderRequest, markPrice float64, params domain.OrderTypeParams) ExecResult {
	if ok, reason := ValidateOrderParams(order, markPrice, e.minNotional); !ok {
		return ExecResult{State: ExecValidationFailed, Reason: reason}
	}

	if ok, reason := e.governor.CanProceed(); !ok {
		return ExecResult{State: ExecRateBlocked, Reason: reason}
	}

	before, _, err := e.queryFills(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			cooldown := e.governor.OnRateLimit()
			return ExecResult{State: ExecRateBlocked, Reason: fmt.Sprintf("fills query throttled, cooling down %s", cooldown)}
		}
		return ExecResult{State: ExecAborted, Reason: fmt.Sprintf("fills pre-query: %v", err)}
	}

	e.governor.RecordRequest()
	res, err := e.exchange.SubmitOrder(ctx, &order, params)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			cooldown := e.governor.OnRateLimit()
			e.logger.Warn("Submit throttled by venue",
				zap.String("client_id", order.ClientID),
				zap.Duration("cooldown", cooldown))
			return ExecResult{State: ExecRateBlocked, Reason: "venue rate limit on submit"}
		}
		return ExecResult{State: ExecSubmitRejected, Reason: fmt.Sprintf("submit: %v", err)}
	}
	if !res.Accepted() {
		return ExecResult{State: ExecSubmitRejected, Reason: fmt.Sprintf("venue status %q: %s", res.Status, res.Raw)}
	}

	// Let the remote ledger settle before reading it back.
	if err := sleepCtx(ctx, e.verifyDelay); err != nil {
		return ExecResult{State: ExecNoFillDetected, Reason: "cancelled before verification", OrderID: res.OrderID}
	}

	after, newest, err := e.queryFills(ctx)
	if err != nil {
		// Ambiguous on purpose: the order may well have filled.
		return ExecResult{State: ExecNoFillDetected, Reason: fmt.Sprintf("fills verify query: %v", err), OrderID: res.OrderID}
	}

	if after > before && newest != nil {
		notional := newest.Notional()
		e.governor.OnSuccess(notional)
		e.logger.Info("Fill confirmed",
			zap.String("client_id", order.ClientID),
			zap.Float64("size", newest.Size),
			zap.Float64("price", newest.Price),
			zap.Float64("notional", notional))
		return ExecResult{
			State:     ExecFillConfirmed,
			FillSize:  newest.Size,
			FillPrice: newest.Price,
			FillPnL:   newest.ClosedPnL,
			Notional:  notional,
			OrderID:   res.OrderID,
		}
	}

	return ExecResult{State: ExecNoFillDetected, Reason: "accepted but no new fill within the verification window", OrderID: res.OrderID}
}

// queryFills counts the account ledger and hands back the newest entry.
func (e *OrderExecutor) queryFills(ctx context.Context) (int, *domain.Fill, error) {
	e.governor.RecordRequest()
	fills, err := e.exchange.QueryRecentFills(ctx)
	if err != nil {
		return 0, nil, err
	}
	if len(fills) == 0 {
		return 0, nil, nil
	}
	newest := fills[0]
	return len(fills), &newest, nil
}
