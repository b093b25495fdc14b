package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

// Payout debits a creator's derived available balance.
type Payout struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	CreatorID        uuid.UUID          `gorm:"column:creator_id;type:uuid;not null;index"`
	Amount           decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string             `gorm:"column:currency;not null;default:USD"`
	Status           enums.PayoutStatus `gorm:"column:status;type:payout_status;not null"`
	Method           enums.PayoutMethod `gorm:"column:method;type:payout_method;not null"`
	ExternalPayoutID *string            `gorm:"column:external_payout_id"`
	Description      *string            `gorm:"column:description"`
	FailureReason    *string            `gorm:"column:failure_reason"`
	CompletedAt      *time.Time         `gorm:"column:completed_at"`
	CreatedAt        time.Time          `gorm:"column:created_at"`
	UpdatedAt        time.Time          `gorm:"column:updated_at"`
}

func (Payout) TableName() string { return "payouts" }

func (p *Payout) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
