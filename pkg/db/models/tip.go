package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

type Tip struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SenderID    uuid.UUID       `gorm:"column:sender_id;type:uuid;not null;index"`
	CreatorID   uuid.UUID       `gorm:"column:creator_id;type:uuid;not null;index"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency    string          `gorm:"column:currency;not null;default:USD"`
	Message     *string         `gorm:"column:message"`
	IsAnonymous bool            `gorm:"column:is_anonymous;not null;default:false"`
	Status      enums.TipStatus `gorm:"column:status;type:tip_status;not null"`
	PaymentID   uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (Tip) TableName() string { return "tips" }

func (t *Tip) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
