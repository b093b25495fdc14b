package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
)

// DB-backed readers for tables owned by the content and social services.
// Nothing here writes.

type contentCatalog struct {
	db *gorm.DB
}

func NewContentCatalog(db *gorm.DB) ContentCatalog {
	return &contentCatalog{db: db}
}

func (c *contentCatalog) Get(ctx context.Context, contentID uuid.UUID) (*models.ContentRef, error) {
	var ref models.ContentRef
	if err := c.db.WithContext(ctx).Where("id = ?", contentID).First(&ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

type socialGraph struct {
	db *gorm.DB
}

func NewSocialGraph(db *gorm.DB) SocialGraph {
	return &socialGraph{db: db}
}

// IsBlocked reports whether creatorID has blocked userID.
func (g *socialGraph) IsBlocked(ctx context.Context, creatorID, userID uuid.UUID) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.BlockRef{}).
		Where("user_id = ? AND blocked_user_id = ?", creatorID, userID).
		Count(&count).Error
	return count > 0, err
}
