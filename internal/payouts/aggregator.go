package payouts

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

var revenueFundingTypes = []enums.FundingType{
	enums.FundingSubscription,
	enums.FundingSubscriptionRenewal,
	enums.FundingTip,
	enums.FundingContentPurchase,
}

var reservingPayoutStatuses = []enums.PayoutStatus{
	enums.PayoutStatusPending,
	enums.PayoutStatusProcessing,
	enums.PayoutStatusCompleted,
}

// Balance breaks a creator's available balance into its parts.
type Balance struct {
	Gross     money.Money
	Fee       money.Money
	Reserved  money.Money
	Available money.Money
}

// RevenueAggregator derives balances from completed payments and payouts.
// Nothing is stored; every call aggregates.
type RevenueAggregator interface {
	WithTx(tx *gorm.DB) RevenueAggregator
	AvailableBalance(ctx context.Context, creatorID uuid.UUID, currency string) (Balance, error)
}

type aggregator struct {
	db         *gorm.DB
	feePercent decimal.Decimal
}

func NewRevenueAggregator(db *gorm.DB, feePercent decimal.Decimal) RevenueAggregator {
	return &aggregator{db: db, feePercent: feePercent}
}

func (a *aggregator) WithTx(tx *gorm.DB) RevenueAggregator {
	if tx == nil {
		return a
	}
	return &aggregator{db: tx, feePercent: a.feePercent}
}

// AvailableBalance is gross revenue less the platform fee, less payouts that
// are pending, processing or completed.
func (a *aggregator) AvailableBalance(ctx context.Context, creatorID uuid.UUID, currency string) (Balance, error) {
	var revenue decimal.NullDecimal
	err := a.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("SUM(amount)").
		Where("payee_id = ? AND currency = ? AND status = ? AND funding_type IN ?",
			creatorID, currency, enums.PaymentStatusCompleted, revenueFundingTypes).
		Scan(&revenue).Error
	if err != nil {
		return Balance{}, err
	}
	var reserved decimal.NullDecimal
	err = a.db.WithContext(ctx).
		Model(&models.Payout{}).
		Select("SUM(amount)").
		Where("creator_id = ? AND currency = ? AND status IN ?", creatorID, currency, reservingPayoutStatuses).
		Scan(&reserved).Error
	if err != nil {
		return Balance{}, err
	}

	gross, err := money.New(revenue.Decimal, currency)
	if err != nil {
		return Balance{}, err
	}
	fee := gross.Percent(a.feePercent)
	reservedMoney, err := money.New(reserved.Decimal, currency)
	if err != nil {
		return Balance{}, err
	}
	net, err := gross.Sub(fee)
	if err != nil {
		return Balance{}, err
	}
	available, err := net.Sub(reservedMoney)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Gross: gross, Fee: fee, Reserved: reservedMoney, Available: available}, nil
}
