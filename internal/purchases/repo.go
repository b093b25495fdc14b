package purchases

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

// Repository persists content purchases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, purchase *models.ContentPurchase) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ContentPurchase, error)
	FindAccessible(ctx context.Context, buyerID, contentID uuid.UUID, now time.Time) (*models.ContentPurchase, error)
	FindPending(ctx context.Context, buyerID, contentID uuid.UUID) (*models.ContentPurchase, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.ContentPurchase, string, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.PurchaseStatus) (bool, error)
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

func (r *repository) Create(ctx context.Context, purchase *models.ContentPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ContentPurchase, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindAccessible(ctx context.Context, buyerID, contentID uuid.UUID, now time.Time) (*models.ContentPurchase, error) {
	return r.first(r.db.WithContext(ctx).
		Where("buyer_id = ? AND content_id = ? AND status = ?", buyerID, contentID, enums.PurchaseStatusCompleted).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC"))
}

func (r *repository) FindPending(ctx context.Context, buyerID, contentID uuid.UUID) (*models.ContentPurchase, error) {
	return r.first(r.db.WithContext(ctx).
		Where("buyer_id = ? AND content_id = ? AND status = ?", buyerID, contentID, enums.PurchaseStatusPending).
		Order("created_at DESC"))
}

func (r *repository) first(qb *gorm.DB) (*models.ContentPurchase, error) {
	var purchase models.ContentPurchase
	if err := qb.First(&purchase).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.ContentPurchase, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	qb := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID)
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.ContentPurchase
	if err := qb.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.ContentPurchase) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.PurchaseStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ContentPurchase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
