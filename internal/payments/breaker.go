package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
)

const (
	opCharge = "charge"
	opRefund = "refund"
)

// GuardParams configure the timeout and circuit breaker around a Gateway.
type GuardParams struct {
	Gateway Gateway
	Config  config.GatewayConfig
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
}

type guardedGateway struct {
	next    Gateway
	timeout time.Duration
	charges *gobreaker.CircuitBreaker[ChargeResult]
	refunds *gobreaker.CircuitBreaker[RefundResult]
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
}

// NewGuardedGateway bounds every call with the charge timeout and trips a breaker
// per operation after consecutive unknown-outcome failures. Declines and
// validation rejections do not count against the breaker.
func NewGuardedGateway(params GuardParams) (Gateway, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.Config.ChargeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &guardedGateway{
		next:    params.Gateway,
		timeout: timeout,
		logg:    params.Logger,
		metrics: params.Metrics,
	}
	g.charges = gobreaker.NewCircuitBreaker[ChargeResult](g.settings(opCharge, params.Config))
	g.refunds = gobreaker.NewCircuitBreaker[RefundResult](g.settings(opRefund, params.Config))
	return g, nil
}

func (g *guardedGateway) settings(op string, cfg config.GatewayConfig) gobreaker.Settings {
	threshold := cfg.BreakerFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.Settings{
		Name:        "gateway." + op,
		MaxRequests: cfg.BreakerHalfOpen,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || pkgerrors.IsValidation(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := g.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			g.logg.Warn(ctx, "gateway circuit breaker state changed")
			g.metrics.SetBreakerState(op, float64(to))
		},
	}
}

func (g *guardedGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.charges.Execute(func() (ChargeResult, error) {
		return g.next.Charge(callCtx, req)
	})
	err = g.classify(callCtx, opCharge, err)
	g.metrics.ObserveGatewayCall(opCharge, chargeResultLabel(result, err), time.Since(start))
	return result, err
}

func (g *guardedGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.refunds.Execute(func() (RefundResult, error) {
		return g.next.Refund(callCtx, req)
	})
	err = g.classify(callCtx, opRefund, err)
	g.metrics.ObserveGatewayCall(opRefund, resultLabel(err), time.Since(start))
	return result, err
}

func (g *guardedGateway) classify(callCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment gateway %s unavailable", op))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, fmt.Sprintf("payment gateway %s timed out", op))
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment gateway %s failed", op))
}

func chargeResultLabel(result ChargeResult, err error) string {
	if err == nil && result.Declined {
		return "declined"
	}
	return resultLabel(err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case pkgerrors.IsGatewayTimeout(err):
		return "timeout"
	case pkgerrors.IsValidation(err):
		return "rejected"
	default:
		return "error"
	}
}
