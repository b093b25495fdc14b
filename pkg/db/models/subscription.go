package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

// Subscription is a subscriber's recurring entitlement to a creator's tier.
// Amount and BillingPeriod are snapshotted so later tier edits never reach it.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubscriberID       uuid.UUID                `gorm:"column:subscriber_id;type:uuid;not null;index"`
	CreatorID          uuid.UUID                `gorm:"column:creator_id;type:uuid;not null;index"`
	TierID             uuid.UUID                `gorm:"column:tier_id;type:uuid;not null;index"`
	Amount             decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency           string                   `gorm:"column:currency;not null;default:USD"`
	BillingPeriod      enums.BillingPeriod      `gorm:"column:billing_period;type:billing_period;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	StartDate          *time.Time               `gorm:"column:start_date"`
	EndDate            *time.Time               `gorm:"column:end_date"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason *string                  `gorm:"column:cancellation_reason"`
	AutoRenew          bool                     `gorm:"column:auto_renew;not null"`
	RenewalCount       int                      `gorm:"column:renewal_count;not null;default:0"`
	PaymentMethod      enums.PaymentMethod      `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentMethodRef   *string                  `gorm:"column:payment_method_ref"`
	RenewalPaymentID   *uuid.UUID               `gorm:"column:renewal_payment_id;type:uuid"`
	Version            int                      `gorm:"column:version;not null;default:0"`
	CreatedAt          time.Time                `gorm:"column:created_at"`
	UpdatedAt          time.Time                `gorm:"column:updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (s Subscription) Money() (money.Money, error) {
	return money.New(s.Amount, s.Currency)
}
