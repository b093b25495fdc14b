package tips

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tip *models.Tip) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tip, error)
	ListReceived(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Tip, string, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.TipStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, tip *models.Tip) error {
	return r.db.WithContext(ctx).Create(tip).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tip, error) {
	var tip models.Tip
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tip).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tip, nil
}

// ListReceived pages through a creator's completed tips, newest first.
func (r *repository) ListReceived(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.Tip, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	qb := r.db.WithContext(ctx).Where("creator_id = ? AND status = ?", creatorID, enums.TipStatusCompleted)
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Tip
	if err := qb.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.Tip) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.TipStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Tip{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
