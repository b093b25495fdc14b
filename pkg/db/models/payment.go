package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

// Payment is one money-movement attempt. Only the status and gateway columns
// change after insert.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PayerID          uuid.UUID           `gorm:"column:payer_id;type:uuid;not null;index"`
	PayeeID          uuid.UUID           `gorm:"column:payee_id;type:uuid;not null;index"`
	FundingType      enums.FundingType   `gorm:"column:funding_type;type:funding_type;not null"`
	FundingID        uuid.UUID           `gorm:"column:funding_id;type:uuid;not null;index"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;not null;default:USD"`
	Method           enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	SourceRef        *string             `gorm:"column:source_ref"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id"`
	GatewayRefundID  *string             `gorm:"column:gateway_refund_id"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	Description      *string             `gorm:"column:description"`
	IPAddress        *string             `gorm:"column:ip_address"`
	UserAgent        *string             `gorm:"column:user_agent"`
	SettledAt        *time.Time          `gorm:"column:settled_at"`
	CreatedAt        time.Time           `gorm:"column:created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (p Payment) Money() (money.Money, error) {
	return money.New(p.Amount, p.Currency)
}
