package payments

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
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

type testLedger struct {
	client  *db.Client
	service Service
	now     time.Time
}

func newTestLedger(t *testing.T, gateway Gateway) *testLedger {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	if gateway == nil {
		gateway = NewSandboxGateway()
	}
	guarded, err := NewGuardedGateway(GuardParams{
		Gateway: gateway,
		Config:  config.GatewayConfig{ChargeTimeout: 50 * time.Millisecond, BreakerFailures: 3, BreakerOpenFor: time.Minute},
		Logger:  logg,
	})
	require.NoError(t, err)

	ledger := &testLedger{client: client, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		TransactionRunner: client,
		Outbox:            outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Gateway:           guarded,
		Logger:            logg,
		Now:               func() time.Time { return ledger.now },
	})
	require.NoError(t, err)
	ledger.service = svc
	return ledger
}

func (l *testLedger) createPayment(t *testing.T, source string) *models.Payment {
	t.Helper()
	payment, err := l.service.Create(context.Background(), CreateInput{
		PayerID:     uuid.New(),
		PayeeID:     uuid.New(),
		FundingType: enums.FundingTip,
		FundingID:   uuid.New(),
		Amount:      money.MustParse("12.50", "USD"),
		Method:      enums.PaymentMethodCreditCard,
		SourceRef:   source,
	})
	require.NoError(t, err)
	return payment
}

func (l *testLedger) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, l.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestCreateValidatesInput(t *testing.T) {
	ledger := newTestLedger(t, nil)
	valid := CreateInput{
		PayerID:     uuid.New(),
		PayeeID:     uuid.New(),
		FundingType: enums.FundingTip,
		FundingID:   uuid.New(),
		Amount:      money.MustParse("5", "USD"),
		Method:      enums.PaymentMethodCreditCard,
	}

	cases := map[string]func(in *CreateInput){
		"missing payer":   func(in *CreateInput) { in.PayerID = uuid.Nil },
		"missing payee":   func(in *CreateInput) { in.PayeeID = uuid.Nil },
		"missing funding": func(in *CreateInput) { in.FundingID = uuid.Nil },
		"bad funding":     func(in *CreateInput) { in.FundingType = "GIFT" },
		"bad method":      func(in *CreateInput) { in.Method = "CASH" },
		"zero amount":     func(in *CreateInput) { in.Amount = money.Zero("USD") },
		"negative amount": func(in *CreateInput) { in.Amount = money.MustParse("-1", "USD") },
		"no currency":     func(in *CreateInput) { in.Amount = money.Money{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := ledger.service.Create(context.Background(), in)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err), "expected validation error, got %v", err)
		})
	}

	payment, err := ledger.service.Create(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, "USD", payment.Currency)
}

func TestMarkCompletedEmitsSettlementAndNotifiesHandler(t *testing.T) {
	ledger := newTestLedger(t, nil)
	var seen []Settlement
	ledger.service.RegisterHandler(SettlementHandlerFunc(func(ctx context.Context, tx *gorm.DB, s Settlement) error {
		seen = append(seen, s)
		return nil
	}), enums.FundingTip)

	payment := ledger.createPayment(t, "")
	updated, err := ledger.service.MarkCompleted(context.Background(), payment.ID, "gw-1")
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)
	require.NotNil(t, updated.GatewayPaymentID)
	assert.Equal(t, "gw-1", *updated.GatewayPaymentID)
	require.NotNil(t, updated.SettledAt)
	require.Len(t, seen, 1)
	assert.Equal(t, enums.SettlementCompleted, seen[0].Outcome)
	assert.Equal(t, payment.FundingID, seen[0].FundingID())
	assert.Equal(t, int64(1), ledger.outboxCount(t, enums.EventPaymentCompleted))
}

func TestSettlementFromTerminalStateIsRejected(t *testing.T) {
	ledger := newTestLedger(t, nil)
	payment := ledger.createPayment(t, "")
	_, err := ledger.service.MarkFailed(context.Background(), payment.ID, "card expired")
	require.NoError(t, err)

	_, err = ledger.service.MarkCompleted(context.Background(), payment.ID, "gw-late")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidState(err))

	stored, err := ledger.service.Get(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "card expired", *stored.FailureReason)
}

func TestConcurrentSettlementHasSingleWinner(t *testing.T) {
	ledger := newTestLedger(t, nil)
	var calls int32
	ledger.service.RegisterHandler(SettlementHandlerFunc(func(ctx context.Context, tx *gorm.DB, s Settlement) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), enums.FundingTip)
	payment := ledger.createPayment(t, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i == 0 {
				_, errs[i] = ledger.service.MarkCompleted(context.Background(), payment.ID, "gw-a")
			} else {
				_, errs[i] = ledger.service.MarkFailed(context.Background(), payment.ID, "declined")
			}
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case pkgerrors.IsInvalidState(err):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHandlerErrorRollsBackTransition(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ledger.service.RegisterHandler(SettlementHandlerFunc(func(ctx context.Context, tx *gorm.DB, s Settlement) error {
		return pkgerrors.New(pkgerrors.CodeInternal, "funding update failed")
	}), enums.FundingTip)
	payment := ledger.createPayment(t, "")

	_, err := ledger.service.MarkCompleted(context.Background(), payment.ID, "gw-1")
	require.Error(t, err)

	stored, err := ledger.service.Get(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
	assert.Equal(t, int64(0), ledger.outboxCount(t, enums.EventPaymentCompleted))
}

func TestChargeOutcomes(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		ledger := newTestLedger(t, nil)
		payment := ledger.createPayment(t, "card-ok")
		updated, err := ledger.service.Charge(context.Background(), payment.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)
		require.NotNil(t, updated.GatewayPaymentID)
	})

	t.Run("declined", func(t *testing.T) {
		ledger := newTestLedger(t, nil)
		payment := ledger.createPayment(t, SandboxSourceDecline)
		updated, err := ledger.service.Charge(context.Background(), payment.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.PaymentStatusFailed, updated.Status)
		require.NotNil(t, updated.FailureReason)
		assert.Equal(t, "CARD_DECLINED", *updated.FailureReason)
	})

	t.Run("timeout leaves pending", func(t *testing.T) {
		ledger := newTestLedger(t, nil)
		payment := ledger.createPayment(t, SandboxSourceTimeout)
		_, err := ledger.service.Charge(context.Background(), payment.ID)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsGatewayTimeout(err))

		stored, err := ledger.service.Get(context.Background(), payment.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.PaymentStatusPending, stored.Status)
	})

	t.Run("already settled", func(t *testing.T) {
		ledger := newTestLedger(t, nil)
		payment := ledger.createPayment(t, "card-ok")
		_, err := ledger.service.Charge(context.Background(), payment.ID)
		require.NoError(t, err)
		_, err = ledger.service.Charge(context.Background(), payment.ID)
		assert.True(t, pkgerrors.IsInvalidState(err))
	})
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	ledger := newTestLedger(t, nil)
	payment := ledger.createPayment(t, "card-ok")

	_, err := ledger.service.Refund(context.Background(), payment.ID, "requested")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidState(err))

	_, err = ledger.service.Charge(context.Background(), payment.ID)
	require.NoError(t, err)

	refunded, err := ledger.service.Refund(context.Background(), payment.ID, "requested")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.GatewayRefundID)
	assert.Equal(t, int64(1), ledger.outboxCount(t, enums.EventPaymentRefunded))

	_, err = ledger.service.Refund(context.Background(), payment.ID, "again")
	assert.True(t, pkgerrors.IsInvalidState(err))
}

func TestReconcilePendingSettlesStalePayments(t *testing.T) {
	ledger := newTestLedger(t, nil)
	ok := ledger.createPayment(t, "card-ok")
	declined := ledger.createPayment(t, SandboxSourceDecline)
	fresh := ledger.createPayment(t, "card-ok")

	stale := ledger.now.Add(-time.Hour)
	require.NoError(t, ledger.client.DB().Model(&models.Payment{}).
		Where("id IN ?", []uuid.UUID{ok.ID, declined.ID}).
		Update("created_at", stale).Error)
	require.NoError(t, ledger.client.DB().Model(&models.Payment{}).
		Where("id = ?", fresh.ID).
		Update("created_at", ledger.now).Error)

	result, err := ledger.service.ReconcilePending(context.Background(), 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 2, Completed: 1, Failed: 1}, result)

	stored, err := ledger.service.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
}

func TestIdempotencyKeysAreStablePerPayment(t *testing.T) {
	id := uuid.MustParse("7d0c0a52-5d2a-4d47-8f59-0d0f1f3c9a10")
	keys := IdempotencyKeys{}
	assert.Equal(t, "creatorpay-payment-7d0c0a52-5d2a-4d47-8f59-0d0f1f3c9a10", keys.Charge(id))
	assert.Equal(t, "creatorpay-refund-7d0c0a52-5d2a-4d47-8f59-0d0f1f3c9a10", keys.Refund(id))
	assert.Equal(t, keys.Charge(id), keys.Charge(id))
	assert.Equal(t, "cp-payment-"+id.String(), IdempotencyKeys{Scope: "cp"}.Charge(id))
}

func TestTrimReasonKeepsValidUTF8(t *testing.T) {
	reason := strings.Repeat("a", maxReasonLength-1) + "é tarjeta rechazada"
	got := trimReason(reason)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxReasonLength-1), got)
	assert.Equal(t, "card declined", trimReason("  card declined \n"))
}

func seedPayment(t *testing.T, client *db.Client, payer uuid.UUID, status enums.PaymentStatus, currency, amount string, at time.Time) models.Payment {
	t.Helper()
	payment := models.Payment{
		PayerID:     payer,
		PayeeID:     uuid.New(),
		FundingType: enums.FundingContentPurchase,
		FundingID:   uuid.New(),
		Amount:      decimal.RequireFromString(amount),
		Currency:    currency,
		Method:      enums.PaymentMethodCreditCard,
		Status:      status,
		CreatedAt:   at.UTC(),
		UpdatedAt:   at.UTC(),
	}
	require.NoError(t, client.DB().Create(&payment).Error)
	return payment
}

func TestListForPayerPagesNewestFirst(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	payer := uuid.New()
	day := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	oldest := seedPayment(t, l.client, payer, enums.PaymentStatusCompleted, "USD", "10.00", day)
	failed := seedPayment(t, l.client, payer, enums.PaymentStatusFailed, "USD", "3.00", day.Add(time.Hour))
	newest := seedPayment(t, l.client, payer, enums.PaymentStatusCompleted, "EUR", "7.50", day.Add(2*time.Hour))
	seedPayment(t, l.client, uuid.New(), enums.PaymentStatusCompleted, "USD", "99.00", day)

	first, next, err := l.service.ListForPayer(ctx, payer, nil, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, newest.ID, first[0].ID)
	assert.Equal(t, failed.ID, first[1].ID)
	require.NotEmpty(t, next)

	second, next, err := l.service.ListForPayer(ctx, payer, nil, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, oldest.ID, second[0].ID)
	assert.Empty(t, next)

	completed := enums.PaymentStatusCompleted
	filtered, _, err := l.service.ListForPayer(ctx, payer, &completed, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	for _, p := range filtered {
		assert.Equal(t, enums.PaymentStatusCompleted, p.Status)
	}
}

func TestListForPayerValidatesInput(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	bogus := enums.PaymentStatus("SETTLED")
	_, _, err := l.service.ListForPayer(ctx, uuid.New(), &bogus, pagination.Params{Limit: 10})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	_, _, err = l.service.ListForPayer(ctx, uuid.New(), nil, pagination.Params{Limit: 10, Cursor: "not-a-cursor"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	require.NoError(t, l.client.Close())
	_, _, err = l.service.ListForPayer(ctx, uuid.New(), nil, pagination.Params{Limit: 10})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestTotalSpentCountsCompletedPaymentsInWindow(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	payer := uuid.New()
	jan := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)

	seedPayment(t, l.client, payer, enums.PaymentStatusCompleted, "USD", "12.50", jan)
	seedPayment(t, l.client, payer, enums.PaymentStatusCompleted, "USD", "30.00", feb)
	seedPayment(t, l.client, payer, enums.PaymentStatusRefunded, "USD", "5.00", feb)
	seedPayment(t, l.client, payer, enums.PaymentStatusPending, "USD", "8.00", feb)
	seedPayment(t, l.client, payer, enums.PaymentStatusCompleted, "EUR", "40.00", feb)
	seedPayment(t, l.client, uuid.New(), enums.PaymentStatusCompleted, "USD", "100.00", feb)

	total, err := l.service.TotalSpent(ctx, payer, "usd", SpendWindow{})
	require.NoError(t, err)
	assert.Equal(t, "USD", total.Currency())
	assert.True(t, total.Amount().Equal(decimal.RequireFromString("42.50")), total.Amount().String())

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	windowed, err := l.service.TotalSpent(ctx, payer, "USD", SpendWindow{From: &from})
	require.NoError(t, err)
	assert.True(t, windowed.Amount().Equal(decimal.RequireFromString("30")), windowed.Amount().String())

	// bounds are inclusive
	to := jan
	upTo, err := l.service.TotalSpent(ctx, payer, "USD", SpendWindow{To: &to})
	require.NoError(t, err)
	assert.True(t, upTo.Amount().Equal(decimal.RequireFromString("12.50")), upTo.Amount().String())

	none, err := l.service.TotalSpent(ctx, uuid.New(), "USD", SpendWindow{})
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestTotalSpentValidatesInput(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	_, err := l.service.TotalSpent(ctx, uuid.New(), "XXX", SpendWindow{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, err = l.service.TotalSpent(ctx, uuid.New(), "USD", SpendWindow{From: &from, To: &to})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}
