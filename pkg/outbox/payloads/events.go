package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

// SettlementEvent is emitted once per terminal payment transition.
type SettlementEvent struct {
	PaymentID   uuid.UUID               `json:"paymentId"`
	FundingType enums.FundingType       `json:"fundingType"`
	FundingID   uuid.UUID               `json:"fundingId"`
	PayerID     uuid.UUID               `json:"payerId"`
	PayeeID     uuid.UUID               `json:"payeeId"`
	Amount      decimal.Decimal         `json:"amount"`
	Currency    string                  `json:"currency"`
	Outcome     enums.SettlementOutcome `json:"outcome"`
	Reason      string                  `json:"reason,omitempty"`
	OccurredAt  time.Time               `json:"occurredAt"`
}

// PayoutEvent reports payout requests and their terminal outcome.
type PayoutEvent struct {
	PayoutID         uuid.UUID          `json:"payoutId"`
	CreatorID        uuid.UUID          `json:"creatorId"`
	Amount           decimal.Decimal    `json:"amount"`
	Currency         string             `json:"currency"`
	Method           enums.PayoutMethod `json:"method"`
	Status           enums.PayoutStatus `json:"status"`
	ExternalPayoutID string             `json:"externalPayoutId,omitempty"`
	OccurredAt       time.Time          `json:"occurredAt"`
}
