package tiers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
)

// Repository persists subscription tiers and answers the aggregate queries
// behind tier stats.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tier *models.SubscriptionTier) error
	Update(ctx context.Context, tier *models.SubscriptionTier) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error)
	ListAvailable(ctx context.Context, creatorID uuid.UUID) ([]models.SubscriptionTier, error)
	CountActiveSubscribers(ctx context.Context, tierID uuid.UUID) (int64, error)
	SumCompletedRevenue(ctx context.Context, tierID uuid.UUID) (decimal.Decimal, error)
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

func (r *repository) Create(ctx context.Context, tier *models.SubscriptionTier) error {
	return r.db.WithContext(ctx).Create(tier).Error
}

func (r *repository) Update(ctx context.Context, tier *models.SubscriptionTier) error {
	return r.db.WithContext(ctx).Save(tier).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tier).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

// ListAvailable orders by sort_order with creation order breaking ties.
func (r *repository) ListAvailable(ctx context.Context, creatorID uuid.UUID) ([]models.SubscriptionTier, error) {
	var rows []models.SubscriptionTier
	err := r.db.WithContext(ctx).
		Where("creator_id = ? AND is_active = ? AND deleted_at IS NULL", creatorID, true).
		Order("sort_order ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountActiveSubscribers(ctx context.Context, tierID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("tier_id = ? AND status IN ?", tierID, []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusTrial,
		}).
		Count(&count).Error
	return count, err
}

func (r *repository) SumCompletedRevenue(ctx context.Context, tierID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	subscriptionIDs := r.db.Model(&models.Subscription{}).Select("id").Where("tier_id = ?", tierID)
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("SUM(amount)").
		Where("status = ? AND funding_type IN ? AND funding_id IN (?)",
			enums.PaymentStatusCompleted,
			[]enums.FundingType{enums.FundingSubscription, enums.FundingSubscriptionRenewal},
			subscriptionIDs,
		).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
