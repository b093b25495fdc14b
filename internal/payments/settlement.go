package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/payloads"
)

// Settlement is the terminal outcome of one payment transition.
type Settlement struct {
	Payment    models.Payment
	Outcome    enums.SettlementOutcome
	Reason     string
	OccurredAt time.Time
}

// SettlementHandler is implemented by the component that owns the funded record.
// It runs inside the settlement transaction, so a returned error rolls the
// payment transition back too.
type SettlementHandler interface {
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement Settlement) error
}

// SettlementHandlerFunc adapts a function to SettlementHandler.
type SettlementHandlerFunc func(ctx context.Context, tx *gorm.DB, settlement Settlement) error

func (f SettlementHandlerFunc) OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement Settlement) error {
	return f(ctx, tx, settlement)
}

func (s Settlement) FundingID() uuid.UUID {
	return s.Payment.FundingID
}

// Event renders the settlement as the outbox payload.
func (s Settlement) Event() payloads.SettlementEvent {
	return payloads.SettlementEvent{
		PaymentID:   s.Payment.ID,
		FundingType: s.Payment.FundingType,
		FundingID:   s.Payment.FundingID,
		PayerID:     s.Payment.PayerID,
		PayeeID:     s.Payment.PayeeID,
		Amount:      s.Payment.Amount,
		Currency:    s.Payment.Currency,
		Outcome:     s.Outcome,
		Reason:      s.Reason,
		OccurredAt:  s.OccurredAt,
	}
}
