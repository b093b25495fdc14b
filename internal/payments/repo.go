package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

// Repository persists payments. Status changes only go through Transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByFunding(ctx context.Context, fundingType enums.FundingType, fundingID uuid.UUID) ([]models.Payment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	ListForPayer(ctx context.Context, payerID uuid.UUID, status *enums.PaymentStatus, params pagination.Params) ([]models.Payment, string, error)
	SumCompletedForPayer(ctx context.Context, payerID uuid.UUID, currency string, window SpendWindow) (decimal.Decimal, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, fields map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByFunding(ctx context.Context, fundingType enums.FundingType, fundingID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("funding_type = ? AND funding_id = ?", fundingType, fundingID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListForPayer pages a payer's history newest first, optionally narrowed to
// one status. It rides idx_payments_payer.
func (r *repository) ListForPayer(ctx context.Context, payerID uuid.UUID, status *enums.PaymentStatus, params pagination.Params) ([]models.Payment, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	qb := r.db.WithContext(ctx).Where("payer_id = ?", payerID)
	if status != nil {
		qb = qb.Where("status = ?", *status)
	}
	if cursor != nil {
		qb = qb.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Payment
	if err := qb.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

// SumCompletedForPayer totals COMPLETED payments in one currency. Both window
// bounds are inclusive and either may be open.
func (r *repository) SumCompletedForPayer(ctx context.Context, payerID uuid.UUID, currency string, window SpendWindow) (decimal.Decimal, error) {
	qb := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("SUM(amount)").
		Where("payer_id = ? AND currency = ? AND status = ?", payerID, currency, enums.PaymentStatusCompleted)
	if window.From != nil {
		qb = qb.Where("created_at >= ?", window.From.UTC())
	}
	if window.To != nil {
		qb = qb.Where("created_at <= ?", window.To.UTC())
	}
	var total decimal.NullDecimal
	if err := qb.Scan(&total).Error; err != nil {
		return decimal.Zero, err
	}
	return total.Decimal, nil
}

// Transition is a compare-and-swap on status; false means another writer got there first.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
