package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

// ContentPurchase is a one-off unlock of a content item, paid by exactly one Payment.
type ContentPurchase struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID   uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	ContentID uuid.UUID            `gorm:"column:content_id;type:uuid;not null;index"`
	CreatorID uuid.UUID            `gorm:"column:creator_id;type:uuid;not null"`
	Amount    decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency  string               `gorm:"column:currency;not null;default:USD"`
	Status    enums.PurchaseStatus `gorm:"column:status;type:purchase_status;not null"`
	PaymentID uuid.UUID            `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	ExpiresAt *time.Time           `gorm:"column:expires_at"`
	CreatedAt time.Time            `gorm:"column:created_at"`
	UpdatedAt time.Time            `gorm:"column:updated_at"`
}

func (ContentPurchase) TableName() string { return "content_purchases" }

func (p *ContentPurchase) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
