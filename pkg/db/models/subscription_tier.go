package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

// SubscriptionTier is a creator-defined plan. Subscriptions reference it but never own it.
type SubscriptionTier struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CreatorID       uuid.UUID           `gorm:"column:creator_id;type:uuid;not null;index"`
	Name            string              `gorm:"column:name;not null"`
	Description     *string             `gorm:"column:description"`
	WelcomeMessage  *string             `gorm:"column:welcome_message"`
	PriceAmount     decimal.Decimal     `gorm:"column:price_amount;type:numeric(12,2);not null"`
	Currency        string              `gorm:"column:currency;not null;default:USD"`
	BillingPeriod   enums.BillingPeriod `gorm:"column:billing_period;type:billing_period;not null"`
	TrialDays       int                 `gorm:"column:trial_days;not null;default:0"`
	Benefits        pq.StringArray      `gorm:"column:benefits;type:text[]"`
	SortOrder       int                 `gorm:"column:sort_order;not null;default:1"`
	DiscountPercent int                 `gorm:"column:discount_percent;not null;default:0"`
	IsActive        bool                `gorm:"column:is_active;not null"`
	DeletedAt       *time.Time          `gorm:"column:deleted_at"`
	CreatedAt       time.Time           `gorm:"column:created_at"`
	UpdatedAt       time.Time           `gorm:"column:updated_at"`
}

func (SubscriptionTier) TableName() string { return "subscription_tiers" }

func (t *SubscriptionTier) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// Price returns the list price as Money.
func (t SubscriptionTier) Price() (money.Money, error) {
	return money.New(t.PriceAmount, t.Currency)
}

// DiscountedPrice is price × (1 − discount/100) rounded to minor units, never negative.
func (t SubscriptionTier) DiscountedPrice() (money.Money, error) {
	price, err := t.Price()
	if err != nil {
		return money.Money{}, err
	}
	if t.DiscountPercent <= 0 {
		return price, nil
	}
	return price.ApplyDiscount(decimal.NewFromInt(int64(t.DiscountPercent))), nil
}

// IsAvailable reports whether new subscriptions may be opened on the tier.
func (t SubscriptionTier) IsAvailable() bool {
	return t.IsActive && t.DeletedAt == nil
}

func (t SubscriptionTier) HasTrial() bool {
	return t.TrialDays > 0
}
