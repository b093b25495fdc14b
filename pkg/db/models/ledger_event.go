package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

// LedgerEvent is the append-only audit row written for each settlement event.
// SourceEventID is unique so redelivered events never duplicate an entry.
type LedgerEvent struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SourceEventID uuid.UUID             `gorm:"column:source_event_id;type:uuid;not null;uniqueIndex"`
	PaymentID     uuid.UUID             `gorm:"column:payment_id;type:uuid;not null;index"`
	FundingType   enums.FundingType     `gorm:"column:funding_type;type:funding_type;not null"`
	FundingID     uuid.UUID             `gorm:"column:funding_id;type:uuid;not null"`
	PayerID       uuid.UUID             `gorm:"column:payer_id;type:uuid;not null"`
	PayeeID       uuid.UUID             `gorm:"column:payee_id;type:uuid;not null;index"`
	Type          enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string                `gorm:"column:currency;not null"`
	OccurredAt    time.Time             `gorm:"column:occurred_at;not null"`
	Metadata      json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
