package payments

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

type stubGateway struct {
	charge func(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	refund func(ctx context.Context, req RefundRequest) (RefundResult, error)
	calls  int
}

func (s *stubGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	s.calls++
	return s.charge(ctx, req)
}

func (s *stubGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	s.calls++
	return s.refund(ctx, req)
}

func newGuard(t *testing.T, next Gateway, m *metrics.PaymentMetrics) Gateway {
	t.Helper()
	g, err := NewGuardedGateway(GuardParams{
		Gateway: next,
		Config: config.GatewayConfig{
			ChargeTimeout:   20 * time.Millisecond,
			BreakerFailures: 2,
			BreakerOpenFor:  time.Minute,
		},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	return g
}

func chargeReq() ChargeRequest {
	id := uuid.New()
	return ChargeRequest{PaymentID: id, IdempotencyKey: IdempotencyKeys{}.Charge(id), Amount: money.MustParse("3.00", "USD")}
}

func TestGuardedGatewayTripsAfterConsecutiveFailures(t *testing.T) {
	stub := &stubGateway{charge: func(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
		return ChargeResult{}, errors.New("connection reset")
	}}
	guard := newGuard(t, stub, nil)

	for i := 0; i < 2; i++ {
		_, err := guard.Charge(context.Background(), chargeReq())
		if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			t.Fatalf("attempt %d: expected dependency error, got %v", i, err)
		}
	}
	_, err := guard.Charge(context.Background(), chargeReq())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected open breaker to reject, got %v", err)
	}
	if stub.calls != 2 {
		t.Fatalf("open breaker should not reach the gateway; calls=%d", stub.calls)
	}
}

func TestGuardedGatewayDeclinesDoNotTrip(t *testing.T) {
	stub := &stubGateway{charge: func(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
		return ChargeResult{Declined: true, DeclineReason: "INSUFFICIENT_FUNDS"}, nil
	}}
	guard := newGuard(t, stub, nil)
	for i := 0; i < 5; i++ {
		res, err := guard.Charge(context.Background(), chargeReq())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Declined {
			t.Fatalf("expected decline result")
		}
	}
	if stub.calls != 5 {
		t.Fatalf("expected every call to reach the gateway; calls=%d", stub.calls)
	}
}

func TestGuardedGatewayValidationDoesNotTrip(t *testing.T) {
	stub := &stubGateway{charge: func(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
		return ChargeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "source rejected")
	}}
	guard := newGuard(t, stub, nil)
	for i := 0; i < 4; i++ {
		_, err := guard.Charge(context.Background(), chargeReq())
		if !pkgerrors.IsValidation(err) {
			t.Fatalf("expected validation passthrough, got %v", err)
		}
	}
	if stub.calls != 4 {
		t.Fatalf("validation errors must not open the breaker; calls=%d", stub.calls)
	}
}

func TestGuardedGatewayTimeoutIsClassified(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPaymentMetrics(reg)
	stub := &stubGateway{charge: func(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
		<-ctx.Done()
		return ChargeResult{}, ctx.Err()
	}}
	guard := newGuard(t, stub, m)

	_, err := guard.Charge(context.Background(), chargeReq())
	if !pkgerrors.IsGatewayTimeout(err) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}
	n, err := testutil.GatherAndCount(reg, "payment_gateway_results_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one gateway result series, got %d", n)
	}
}

func TestGuardedGatewayRefundBreakerIsSeparate(t *testing.T) {
	stub := &stubGateway{
		charge: func(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
			return ChargeResult{}, errors.New("down")
		},
		refund: func(ctx context.Context, req RefundRequest) (RefundResult, error) {
			return RefundResult{GatewayRefundID: "rf-1"}, nil
		},
	}
	guard := newGuard(t, stub, nil)
	for i := 0; i < 3; i++ {
		_, _ = guard.Charge(context.Background(), chargeReq())
	}
	res, err := guard.Refund(context.Background(), RefundRequest{GatewayRef: "gw-1", Amount: money.MustParse("1", "USD")})
	if err != nil {
		t.Fatalf("refund should not share the charge breaker: %v", err)
	}
	if res.GatewayRefundID != "rf-1" {
		t.Fatalf("unexpected refund id %q", res.GatewayRefundID)
	}
}
