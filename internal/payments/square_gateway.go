package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/square"
)

// squareIdempotencyKeyMax is Square's limit on idempotency_key length.
const squareIdempotencyKeyMax = 45

var squareKeyNamespace = uuid.MustParse("8f1d4a52-93a6-4b0b-9f2e-3c7f0a6d5e21")

type squareClient interface {
	LocationID() string
	CreatePaymentStatus(ctx context.Context, params square.PaymentCreateParams) (string, string, error)
	RefundPayment(ctx context.Context, params square.RefundParams) error
}

type squareGateway struct {
	client squareClient
}

// NewSquareGateway charges and refunds through Square.
func NewSquareGateway(client squareClient) (Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &squareGateway{client: client}, nil
}

func (g *squareGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	id, status, err := g.client.CreatePaymentStatus(ctx, square.PaymentCreateParams{
		AmountCents:    req.Amount.MinorUnits(),
		Currency:       req.Amount.Currency(),
		LocationID:     g.client.LocationID(),
		SourceID:       req.SourceRef,
		IdempotencyKey: squareIdempotencyKey(req.IdempotencyKey),
		Note:           req.Note,
		ReferenceID:    req.PaymentID.String(),
	})
	if err != nil {
		if reason, declined := square.DeclineReason(err); declined {
			return ChargeResult{Declined: true, DeclineReason: reason}, nil
		}
		return ChargeResult{}, err
	}
	switch strings.ToUpper(status) {
	case "COMPLETED", "APPROVED":
		return ChargeResult{GatewayRef: id}, nil
	case "FAILED", "CANCELED":
		return ChargeResult{GatewayRef: id, Declined: true, DeclineReason: strings.ToLower(status)}, nil
	default:
		return ChargeResult{}, fmt.Errorf("square payment %s still %s", id, status)
	}
}

func (g *squareGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	key := squareIdempotencyKey(req.IdempotencyKey)
	err := g.client.RefundPayment(ctx, square.RefundParams{
		PaymentID:      req.GatewayRef,
		AmountCents:    req.Amount.MinorUnits(),
		Currency:       req.Amount.Currency(),
		Reason:         req.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{GatewayRefundID: key}, nil
}

// squareIdempotencyKey keeps derived keys within Square's length limit while
// staying a pure function of the original key.
func squareIdempotencyKey(key string) string {
	if len(key) <= squareIdempotencyKeyMax {
		return key
	}
	return uuid.NewSHA1(squareKeyNamespace, []byte(key)).String()
}
