package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	sqcore "github.com/square/square-go-sdk/core"

	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/square"
)

type fakeSquare struct {
	created  []square.PaymentCreateParams
	refunded []square.RefundParams
	status   string
	err      error
}

func (f *fakeSquare) LocationID() string { return "LOC1" }

func (f *fakeSquare) CreatePaymentStatus(ctx context.Context, params square.PaymentCreateParams) (string, string, error) {
	f.created = append(f.created, params)
	if f.err != nil {
		return "", "", f.err
	}
	return "sq-pay-1", f.status, nil
}

func (f *fakeSquare) RefundPayment(ctx context.Context, params square.RefundParams) error {
	f.refunded = append(f.refunded, params)
	return f.err
}

func TestSquareGatewayCharge(t *testing.T) {
	id := uuid.New()
	req := ChargeRequest{
		PaymentID:      id,
		IdempotencyKey: IdempotencyKeys{}.Charge(id),
		Amount:         money.MustParse("19.99", "USD"),
		SourceRef:      "cnon:card-nonce-ok",
	}

	cases := []struct {
		name     string
		client   *fakeSquare
		declined bool
		wantErr  bool
	}{
		{name: "completed", client: &fakeSquare{status: "COMPLETED"}},
		{name: "approved", client: &fakeSquare{status: "APPROVED"}},
		{name: "failed status", client: &fakeSquare{status: "FAILED"}, declined: true},
		{name: "pending status", client: &fakeSquare{status: "PENDING"}, wantErr: true},
		{
			name: "card declined",
			client: &fakeSquare{err: sqcore.NewAPIError(http.StatusPaymentRequired,
				errors.New(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`))},
			declined: true,
		},
		{name: "network", client: &fakeSquare{err: errors.New("dial tcp: timeout")}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, err := NewSquareGateway(tc.client)
			if err != nil {
				t.Fatalf("new gateway: %v", err)
			}
			res, err := gw.Charge(context.Background(), req)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Declined != tc.declined {
				t.Fatalf("declined=%v want %v", res.Declined, tc.declined)
			}
			sent := tc.client.created[0]
			if sent.AmountCents != 1999 || sent.LocationID != "LOC1" || sent.ReferenceID != id.String() {
				t.Fatalf("unexpected create params %+v", sent)
			}
			if len(sent.IdempotencyKey) > squareIdempotencyKeyMax {
				t.Fatalf("idempotency key too long: %d", len(sent.IdempotencyKey))
			}
		})
	}
}

func TestSquareIdempotencyKeyIsDeterministic(t *testing.T) {
	short := "creatorpay-payment-1"
	if got := squareIdempotencyKey(short); got != short {
		t.Fatalf("short keys should pass through, got %q", got)
	}
	long := "creatorpay-payment-" + strings.Repeat("a", 40)
	first := squareIdempotencyKey(long)
	if first != squareIdempotencyKey(long) {
		t.Fatalf("derived key must be stable")
	}
	if len(first) > squareIdempotencyKeyMax {
		t.Fatalf("derived key exceeds limit: %d", len(first))
	}
	if first == squareIdempotencyKey(long+"b") {
		t.Fatalf("distinct keys must not collide")
	}
}

func TestSquareGatewayRefundUsesStoredGatewayRef(t *testing.T) {
	client := &fakeSquare{}
	gw, _ := NewSquareGateway(client)
	id := uuid.New()
	_, err := gw.Refund(context.Background(), RefundRequest{
		PaymentID:      id,
		IdempotencyKey: IdempotencyKeys{}.Refund(id),
		GatewayRef:     "sq-pay-9",
		Amount:         money.MustParse("5", "USD"),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if client.refunded[0].PaymentID != "sq-pay-9" || client.refunded[0].AmountCents != 500 {
		t.Fatalf("unexpected refund params %+v", client.refunded[0])
	}
}

func TestSandboxGatewayHonoursIdempotencyKeys(t *testing.T) {
	gw := NewSandboxGateway()
	req := chargeReq()
	first, err := gw.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	req.SourceRef = SandboxSourceDecline
	second, err := gw.Charge(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second != first {
		t.Fatalf("replayed key should return first result; first=%+v second=%+v", first, second)
	}

	if _, err := gw.Refund(context.Background(), RefundRequest{IdempotencyKey: "rf"}); err == nil {
		t.Fatalf("refund without gateway ref should fail")
	}
}
