package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

const defaultCurrency = "USD"

// PaymentCreateParams describes one card charge. SourceID is the card nonce
// or stored card id; it never reaches the logs.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) request(key string) *sq.CreatePaymentRequest {
	return &sq.CreatePaymentRequest{
		IdempotencyKey: key,
		SourceID:       p.SourceID,
		AmountMoney:    money(p.AmountCents, p.Currency),
		LocationID:     optional(p.LocationID),
		CustomerID:     optional(p.CustomerID),
		Note:           optional(p.Note),
		ReferenceID:    optional(p.ReferenceID),
	}
}

// RefundParams refunds AmountCents of the Square payment PaymentID.
type RefundParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

func (p RefundParams) request(key string) *sq.RefundPaymentRequest {
	return &sq.RefundPaymentRequest{
		IdempotencyKey: key,
		PaymentID:      optional(p.PaymentID),
		AmountMoney:    money(p.AmountCents, p.Currency),
		Reason:         optional(p.Reason),
	}
}

// optional trims v and returns nil when nothing is left.
func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func money(minor int64, currency string) *sq.Money {
	if minor <= 0 {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = defaultCurrency
	}
	c := sq.Currency(code)
	return &sq.Money{Amount: &minor, Currency: &c}
}
