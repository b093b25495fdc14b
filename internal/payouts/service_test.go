package payouts

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

func newPayoutService(t *testing.T) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "payouts-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Aggregator:        NewRevenueAggregator(client.DB(), decimal.NewFromInt(20)),
		TransactionRunner: client,
		Outbox:            outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:            logg,
		Minimum:           decimal.NewFromInt(10),
		Now:               func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc, client
}

func seedRevenue(t *testing.T, client *db.Client, creator uuid.UUID, status enums.PaymentStatus, funding enums.FundingType, amount string) {
	t.Helper()
	require.NoError(t, client.DB().Create(&models.Payment{
		PayerID:     uuid.New(),
		PayeeID:     creator,
		FundingType: funding,
		FundingID:   uuid.New(),
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Method:      enums.PaymentMethodCreditCard,
		Status:      status,
	}).Error)
}

func request(creator uuid.UUID, amount string) RequestInput {
	return RequestInput{CreatorID: creator, Amount: money.MustParse(amount, "USD"), Method: enums.PayoutMethodBankAccount}
}

func TestAvailableBalanceNetsFeeAndPayouts(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()

	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingSubscription, "50.00")
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "25.00")
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingContentPurchase, "25.00")
	seedRevenue(t, client, creator, enums.PaymentStatusFailed, enums.FundingTip, "500.00")
	seedRevenue(t, client, creator, enums.PaymentStatusRefunded, enums.FundingTip, "500.00")
	seedRevenue(t, client, uuid.New(), enums.PaymentStatusCompleted, enums.FundingTip, "500.00")

	balance, err := svc.Balance(ctx, creator, "usd")
	require.NoError(t, err)
	assert.True(t, balance.Gross.Equal(money.MustParse("100.00", "USD")), "gross %s", balance.Gross)
	assert.True(t, balance.Fee.Equal(money.MustParse("20.00", "USD")), "fee %s", balance.Fee)
	assert.True(t, balance.Available.Equal(money.MustParse("80.00", "USD")), "available %s", balance.Available)

	_, err = svc.RequestPayout(ctx, request(creator, "30.00"))
	require.NoError(t, err)
	balance, err = svc.Balance(ctx, creator, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Reserved.Equal(money.MustParse("30.00", "USD")))
	assert.True(t, balance.Available.Equal(money.MustParse("50.00", "USD")))
}

func TestRequestPayoutRejectsOverdraw(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "50.00")

	_, err := svc.RequestPayout(ctx, request(creator, "40.01"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInsufficientBalance(err))

	var count int64
	require.NoError(t, client.DB().Model(&models.Payout{}).Count(&count).Error)
	assert.Zero(t, count)

	payout, err := svc.RequestPayout(ctx, request(creator, "40.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, payout.Status)

	var events int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPayoutRequested).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestRequestPayoutValidation(t *testing.T) {
	svc, _ := newPayoutService(t)
	creator := uuid.New()

	cases := map[string]RequestInput{
		"below minimum": request(creator, "9.99"),
		"zero":          request(creator, "0"),
		"negative":      request(creator, "-20"),
		"bad method":    {CreatorID: creator, Amount: money.MustParse("20", "USD"), Method: "CHEQUE"},
		"no creator":    {Amount: money.MustParse("20", "USD"), Method: enums.PayoutMethodPayPal},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RequestPayout(context.Background(), in)
			assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "100.00")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestPayout(ctx, request(creator, "30.00"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, pkgerrors.IsInsufficientBalance(err), "got %v", err)
	}
	assert.Equal(t, 2, succeeded)

	balance, err := svc.Balance(ctx, creator, "USD")
	require.NoError(t, err)
	assert.False(t, balance.Available.IsNegative())
}

func TestPayoutLifecycle(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "200.00")

	payout, err := svc.RequestPayout(ctx, request(creator, "50.00"))
	require.NoError(t, err)

	_, err = svc.MarkCompleted(ctx, payout.ID, "po_1")
	assert.True(t, pkgerrors.IsInvalidState(err), "completing a pending payout must fail")

	processing, err := svc.MarkProcessing(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, processing.Status)

	done, err := svc.MarkCompleted(ctx, payout.ID, "po_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, done.Status)
	require.NotNil(t, done.ExternalPayoutID)
	assert.Equal(t, "po_1", *done.ExternalPayoutID)
	require.NotNil(t, done.CompletedAt)

	_, err = svc.Cancel(ctx, creator, payout.ID)
	assert.True(t, pkgerrors.IsInvalidState(err))

	var settled int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPayoutSettled).Count(&settled).Error)
	assert.Equal(t, int64(1), settled)
}

func TestCancelReleasesReservation(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "100.00")

	payout, err := svc.RequestPayout(ctx, request(creator, "80.00"))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, uuid.New(), payout.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	cancelled, err := svc.Cancel(ctx, creator, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, creator, payout.ID)
	assert.True(t, pkgerrors.IsInvalidState(err))

	balance, err := svc.Balance(ctx, creator, "USD")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(money.MustParse("80.00", "USD")))
}

func TestMarkFailedStoresReasonOnRuneBoundary(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()
	creator := uuid.New()
	seedRevenue(t, client, creator, enums.PaymentStatusCompleted, enums.FundingTip, "80.00")

	payout, err := svc.RequestPayout(ctx, request(creator, "30.00"))
	require.NoError(t, err)

	reason := strings.Repeat("x", maxFailureReason-1) + "ü banco rechazó la transferencia"
	failed, err := svc.MarkFailed(ctx, payout.ID, reason)
	require.NoError(t, err)
	require.NotNil(t, failed.FailureReason)
	assert.True(t, utf8.ValidString(*failed.FailureReason))
	assert.Equal(t, strings.Repeat("x", maxFailureReason-1), *failed.FailureReason)
}

func TestListForCreatorReportsStorageFailureAsDependency(t *testing.T) {
	svc, client := newPayoutService(t)
	ctx := context.Background()

	_, _, err := svc.ListForCreator(ctx, uuid.New(), pagination.Params{Cursor: "!!"})
	assert.True(t, pkgerrors.IsValidation(err), "got %v", err)

	require.NoError(t, client.Close())
	_, _, err = svc.ListForCreator(ctx, uuid.New(), pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}
