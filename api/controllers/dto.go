package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creatorpay-backend/internal/payouts"
	"github.com/angelmondragon/creatorpay-backend/internal/tiers"
	"github.com/angelmondragon/creatorpay-backend/internal/tips"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

// amountDTO renders money with the currency's fixed minor-unit precision so
// "5" and "5.00" never both appear on the wire.
type amountDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func amountOf(amount decimal.Decimal, currency string) amountDTO {
	m, err := money.New(amount, currency)
	if err != nil {
		return amountDTO{Amount: amount.String(), Currency: currency}
	}
	return fromMoney(m)
}

func fromMoney(m money.Money) amountDTO {
	return amountDTO{
		Amount:   m.Amount().StringFixed(money.Precision(m.Currency())),
		Currency: m.Currency(),
	}
}

type tierDTO struct {
	ID              uuid.UUID           `json:"id"`
	CreatorID       uuid.UUID           `json:"creator_id"`
	Name            string              `json:"name"`
	Description     *string             `json:"description,omitempty"`
	WelcomeMessage  *string             `json:"welcome_message,omitempty"`
	Price           amountDTO           `json:"price"`
	DiscountedPrice *amountDTO          `json:"discounted_price,omitempty"`
	BillingPeriod   enums.BillingPeriod `json:"billing_period"`
	TrialDays       int                 `json:"trial_days"`
	Benefits        []string            `json:"benefits"`
	SortOrder       int                 `json:"sort_order"`
	DiscountPercent int                 `json:"discount_percent"`
	IsActive        bool                `json:"is_active"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toTierDTO(t models.SubscriptionTier) tierDTO {
	dto := tierDTO{
		ID:              t.ID,
		CreatorID:       t.CreatorID,
		Name:            t.Name,
		Description:     t.Description,
		WelcomeMessage:  t.WelcomeMessage,
		Price:           amountOf(t.PriceAmount, t.Currency),
		BillingPeriod:   t.BillingPeriod,
		TrialDays:       t.TrialDays,
		Benefits:        []string(t.Benefits),
		SortOrder:       t.SortOrder,
		DiscountPercent: t.DiscountPercent,
		IsActive:        t.IsActive,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if dto.Benefits == nil {
		dto.Benefits = []string{}
	}
	if t.DiscountPercent > 0 {
		if discounted, err := t.DiscountedPrice(); err == nil {
			d := fromMoney(discounted)
			dto.DiscountedPrice = &d
		}
	}
	return dto
}

type tierStatsDTO struct {
	TierID            uuid.UUID `json:"tier_id"`
	ActiveSubscribers int64     `json:"active_subscribers"`
	Revenue           amountDTO `json:"revenue"`
}

func toTierStatsDTO(s *tiers.Stats) tierStatsDTO {
	return tierStatsDTO{
		TierID:            s.TierID,
		ActiveSubscribers: s.ActiveSubscribers,
		Revenue:           fromMoney(s.Revenue),
	}
}

type subscriptionDTO struct {
	ID                 uuid.UUID                `json:"id"`
	SubscriberID       uuid.UUID                `json:"subscriber_id"`
	CreatorID          uuid.UUID                `json:"creator_id"`
	TierID             uuid.UUID                `json:"tier_id"`
	Price              amountDTO                `json:"price"`
	BillingPeriod      enums.BillingPeriod      `json:"billing_period"`
	Status             enums.SubscriptionStatus `json:"status"`
	StartDate          *time.Time               `json:"start_date,omitempty"`
	EndDate            *time.Time               `json:"end_date,omitempty"`
	CancelledAt        *time.Time               `json:"cancelled_at,omitempty"`
	CancellationReason *string                  `json:"cancellation_reason,omitempty"`
	AutoRenew          bool                     `json:"auto_renew"`
	RenewalCount       int                      `json:"renewal_count"`
	PaymentMethod      enums.PaymentMethod      `json:"payment_method"`
	CreatedAt          time.Time                `json:"created_at"`
}

func toSubscriptionDTO(s models.Subscription) subscriptionDTO {
	return subscriptionDTO{
		ID:                 s.ID,
		SubscriberID:       s.SubscriberID,
		CreatorID:          s.CreatorID,
		TierID:             s.TierID,
		Price:              amountOf(s.Amount, s.Currency),
		BillingPeriod:      s.BillingPeriod,
		Status:             s.Status,
		StartDate:          s.StartDate,
		EndDate:            s.EndDate,
		CancelledAt:        s.CancelledAt,
		CancellationReason: s.CancellationReason,
		AutoRenew:          s.AutoRenew,
		RenewalCount:       s.RenewalCount,
		PaymentMethod:      s.PaymentMethod,
		CreatedAt:          s.CreatedAt,
	}
}

type paymentDTO struct {
	ID            uuid.UUID           `json:"id"`
	PayerID       uuid.UUID           `json:"payer_id"`
	PayeeID       uuid.UUID           `json:"payee_id"`
	FundingType   enums.FundingType   `json:"funding_type"`
	FundingID     uuid.UUID           `json:"funding_id"`
	Amount        amountDTO           `json:"amount"`
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	FailureReason *string             `json:"failure_reason,omitempty"`
	SettledAt     *time.Time          `json:"settled_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toPaymentDTO(p *models.Payment) *paymentDTO {
	if p == nil {
		return nil
	}
	return &paymentDTO{
		ID:            p.ID,
		PayerID:       p.PayerID,
		PayeeID:       p.PayeeID,
		FundingType:   p.FundingType,
		FundingID:     p.FundingID,
		Amount:        amountOf(p.Amount, p.Currency),
		Method:        p.Method,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		SettledAt:     p.SettledAt,
		CreatedAt:     p.CreatedAt,
	}
}

type purchaseDTO struct {
	ID        uuid.UUID            `json:"id"`
	BuyerID   uuid.UUID            `json:"buyer_id"`
	ContentID uuid.UUID            `json:"content_id"`
	CreatorID uuid.UUID            `json:"creator_id"`
	Price     amountDTO            `json:"price"`
	Status    enums.PurchaseStatus `json:"status"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

func toPurchaseDTO(p models.ContentPurchase) purchaseDTO {
	return purchaseDTO{
		ID:        p.ID,
		BuyerID:   p.BuyerID,
		ContentID: p.ContentID,
		CreatorID: p.CreatorID,
		Price:     amountOf(p.Amount, p.Currency),
		Status:    p.Status,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
	}
}

type tipDTO struct {
	ID          uuid.UUID       `json:"id"`
	CreatorID   uuid.UUID       `json:"creator_id"`
	Amount      amountDTO       `json:"amount"`
	Message     *string         `json:"message,omitempty"`
	IsAnonymous bool            `json:"is_anonymous"`
	Status      enums.TipStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toTipDTO(t models.Tip) tipDTO {
	return tipDTO{
		ID:          t.ID,
		CreatorID:   t.CreatorID,
		Amount:      amountOf(t.Amount, t.Currency),
		Message:     t.Message,
		IsAnonymous: t.IsAnonymous,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}

// receivedTipDTO never carries the sender of an anonymous tip; tips.Service
// already strips it.
type receivedTipDTO struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    *uuid.UUID `json:"sender_id,omitempty"`
	Amount      amountDTO  `json:"amount"`
	Message     string     `json:"message,omitempty"`
	IsAnonymous bool       `json:"is_anonymous"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toReceivedTipDTO(t tips.ReceivedTip) receivedTipDTO {
	return receivedTipDTO{
		ID:          t.ID,
		SenderID:    t.SenderID,
		Amount:      fromMoney(t.Amount),
		Message:     t.Message,
		IsAnonymous: t.Anonymous,
		CreatedAt:   t.CreatedAt,
	}
}

type payoutDTO struct {
	ID               uuid.UUID          `json:"id"`
	CreatorID        uuid.UUID          `json:"creator_id"`
	Amount           amountDTO          `json:"amount"`
	Status           enums.PayoutStatus `json:"status"`
	Method           enums.PayoutMethod `json:"method"`
	ExternalPayoutID *string            `json:"external_payout_id,omitempty"`
	Description      *string            `json:"description,omitempty"`
	FailureReason    *string            `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func toPayoutDTO(p models.Payout) payoutDTO {
	return payoutDTO{
		ID:               p.ID,
		CreatorID:        p.CreatorID,
		Amount:           amountOf(p.Amount, p.Currency),
		Status:           p.Status,
		Method:           p.Method,
		ExternalPayoutID: p.ExternalPayoutID,
		Description:      p.Description,
		FailureReason:    p.FailureReason,
		CompletedAt:      p.CompletedAt,
		CreatedAt:        p.CreatedAt,
	}
}

type balanceDTO struct {
	Gross     amountDTO `json:"gross"`
	Fee       amountDTO `json:"fee"`
	Reserved  amountDTO `json:"reserved"`
	Available amountDTO `json:"available"`
}

func toBalanceDTO(b payouts.Balance) balanceDTO {
	return balanceDTO{
		Gross:     fromMoney(b.Gross),
		Fee:       fromMoney(b.Fee),
		Reserved:  fromMoney(b.Reserved),
		Available: fromMoney(b.Available),
	}
}

type pageDTO[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func mapItems[S, T any](items []S, fn func(S) T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}
