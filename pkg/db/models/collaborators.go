package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentRef is the read-only projection of the content catalog used for access checks.
type ContentRef struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CreatorID      uuid.UUID  `gorm:"column:creator_id;type:uuid;not null"`
	IsPublic       bool       `gorm:"column:is_public;not null"`
	RequiredTierID *uuid.UUID `gorm:"column:required_tier_id;type:uuid"`
}

func (ContentRef) TableName() string { return "contents" }

// BlockRef is the social graph's block relation: UserID has blocked BlockedUserID.
type BlockRef struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	BlockedUserID uuid.UUID `gorm:"column:blocked_user_id;type:uuid;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (BlockRef) TableName() string { return "blocks" }
