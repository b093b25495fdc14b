package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

const defaultIdempotencyScope = "creatorpay"

// Gateway is the external processor. A declined charge is a result, not an error;
// errors mean the outcome is unknown or the request never ran.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

type ChargeRequest struct {
	PaymentID      uuid.UUID
	IdempotencyKey string
	Amount         money.Money
	Method         enums.PaymentMethod
	SourceRef      string
	Note           string
}

type ChargeResult struct {
	GatewayRef    string
	Declined      bool
	DeclineReason string
}

type RefundRequest struct {
	PaymentID      uuid.UUID
	IdempotencyKey string
	GatewayRef     string
	Amount         money.Money
	Reason         string
}

type RefundResult struct {
	GatewayRefundID string
}

// IdempotencyKeys derives gateway keys from payment ids so a retried call
// after a timeout lands on the same gateway operation.
type IdempotencyKeys struct {
	Scope string
}

func (k IdempotencyKeys) scope() string {
	if k.Scope == "" {
		return defaultIdempotencyScope
	}
	return k.Scope
}

func (k IdempotencyKeys) Charge(paymentID uuid.UUID) string {
	return fmt.Sprintf("%s-payment-%s", k.scope(), paymentID)
}

func (k IdempotencyKeys) Refund(paymentID uuid.UUID) string {
	return fmt.Sprintf("%s-refund-%s", k.scope(), paymentID)
}
