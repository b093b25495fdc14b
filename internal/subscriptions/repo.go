package subscriptions

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

// DueKind selects which scheduler sweep a due query serves.
type DueKind string

const (
	DueRenewal         DueKind = "renewal"
	DueExpiry          DueKind = "expiry"
	DueTrialConversion DueKind = "trial_conversion"
)

var openStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusPending,
	enums.SubscriptionStatusTrial,
	enums.SubscriptionStatusActive,
}

var entitlingStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusTrial,
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusCancelled,
}

// Repository persists subscriptions. Every status or field change after
// insert goes through Transition or Claim, both conditioned on the version
// the caller read.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindOpen(ctx context.Context, subscriberID, creatorID uuid.UUID) (*models.Subscription, error)
	ListEntitling(ctx context.Context, subscriberID, creatorID uuid.UUID) ([]models.Subscription, error)
	ListForSubscriber(ctx context.Context, subscriberID uuid.UUID, params pagination.Params) ([]models.Subscription, string, error)
	ListForCreator(ctx context.Context, creatorID uuid.UUID, status *enums.SubscriptionStatus, params pagination.Params) ([]models.Subscription, string, error)
	ListDue(ctx context.Context, kind DueKind, now time.Time, limit int) ([]models.Subscription, error)
	Transition(ctx context.Context, sub *models.Subscription, to enums.SubscriptionStatus, fields map[string]any) (bool, error)
	Claim(ctx context.Context, sub *models.Subscription, paymentID uuid.UUID) (bool, error)
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

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindOpen(ctx context.Context, subscriberID, creatorID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND creator_id = ? AND status IN ?", subscriberID, creatorID, openStatuses).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListEntitling returns the subscriptions that may still grant access; the
// caller decides with the clock.
func (r *repository) ListEntitling(ctx context.Context, subscriberID, creatorID uuid.UUID) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND creator_id = ? AND status IN ?", subscriberID, creatorID, entitlingStatuses).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListForSubscriber(ctx context.Context, subscriberID uuid.UUID, params pagination.Params) ([]models.Subscription, string, error) {
	qb := r.db.WithContext(ctx).Where("subscriber_id = ?", subscriberID)
	return r.page(qb, params)
}

func (r *repository) ListForCreator(ctx context.Context, creatorID uuid.UUID, status *enums.SubscriptionStatus, params pagination.Params) ([]models.Subscription, string, error) {
	qb := r.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if status != nil {
		qb = qb.Where("status = ?", *status)
	}
	return r.page(qb, params)
}

func (r *repository) page(qb *gorm.DB, params pagination.Params) ([]models.Subscription, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Subscription
	if err := qb.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.Subscription) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

// ListDue mirrors the due predicates in SQL. Subscriptions with a renewal
// already in flight are excluded.
func (r *repository) ListDue(ctx context.Context, kind DueKind, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	qb := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("renewal_payment_id IS NULL AND end_date IS NOT NULL")
	switch kind {
	case DueRenewal:
		qb = qb.Where("status = ? AND auto_renew = ? AND billing_period <> ? AND end_date <= ?",
			enums.SubscriptionStatusActive, true, enums.BillingPeriodLifetime, now)
	case DueExpiry:
		qb = qb.Where("status = ? AND auto_renew = ? AND end_date < ?",
			enums.SubscriptionStatusActive, false, now)
	case DueTrialConversion:
		qb = qb.Where("status = ? AND end_date <= ?", enums.SubscriptionStatusTrial, now)
	default:
		return nil, errors.New("unknown due kind " + string(kind))
	}
	var rows []models.Subscription
	err := qb.Order("end_date ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Transition applies fields and the new status only if the row still has the
// status and version in sub. A false result means another writer won.
func (r *repository) Transition(ctx context.Context, sub *models.Subscription, to enums.SubscriptionStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND version = ?", sub.ID, sub.Status, sub.Version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Claim marks a renewal as in flight. At most one claim per subscription
// version can succeed.
func (r *repository) Claim(ctx context.Context, sub *models.Subscription, paymentID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND version = ? AND renewal_payment_id IS NULL", sub.ID, sub.Status, sub.Version).
		Updates(map[string]any{
			"renewal_payment_id": paymentID,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
