package purchases

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
)

type stubCatalog map[uuid.UUID]models.ContentRef

func (c stubCatalog) Get(_ context.Context, id uuid.UUID) (*models.ContentRef, error) {
	ref, ok := c[id]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

type fixture struct {
	purchases Service
	payments  payments.Service
	content   models.ContentRef
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "purchases-test", Output: io.Discard})
	f := &fixture{
		content: models.ContentRef{ID: uuid.New(), CreatorID: uuid.New()},
		now:     time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	gateway, err := payments.NewGuardedGateway(payments.GuardParams{
		Gateway: payments.NewSandboxGateway(),
		Config:  config.GatewayConfig{ChargeTimeout: 50 * time.Millisecond, BreakerFailures: 5, BreakerOpenFor: time.Minute},
		Logger:  logg,
	})
	require.NoError(t, err)
	paySvc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(client.DB()),
		TransactionRunner: client,
		Outbox:            outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Gateway:           gateway,
		Logger:            logg,
		Now:               clock,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Content:           stubCatalog{f.content.ID: f.content},
		Payments:          paySvc,
		TransactionRunner: client,
		Logger:            logg,
		Now:               clock,
	})
	require.NoError(t, err)
	f.purchases, f.payments = svc, paySvc
	return f
}

func (f *fixture) input(buyer uuid.UUID, source string) PurchaseInput {
	return PurchaseInput{
		BuyerID:       buyer,
		ContentID:     f.content.ID,
		Price:         money.MustParse("4.99", "USD"),
		Method:        enums.PaymentMethodCreditCard,
		PaymentSource: source,
	}
}

func TestIsAccessible(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name     string
		purchase models.ContentPurchase
		want     bool
	}{
		{"completed forever", models.ContentPurchase{Status: enums.PurchaseStatusCompleted}, true},
		{"completed not yet expired", models.ContentPurchase{Status: enums.PurchaseStatusCompleted, ExpiresAt: &future}, true},
		{"completed expired", models.ContentPurchase{Status: enums.PurchaseStatusCompleted, ExpiresAt: &past}, false},
		{"expires exactly now", models.ContentPurchase{Status: enums.PurchaseStatusCompleted, ExpiresAt: &now}, false},
		{"pending", models.ContentPurchase{Status: enums.PurchaseStatusPending}, false},
		{"refunded", models.ContentPurchase{Status: enums.PurchaseStatusRefunded}, false},
		{"failed", models.ContentPurchase{Status: enums.PurchaseStatusFailed}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAccessible(tc.purchase, now))
		})
	}
}

func TestPurchaseCompletesWithPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()

	res, err := f.purchases.Purchase(ctx, f.input(buyer, "tok_visa"))
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusCompleted, res.Purchase.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, res.Payment.Status)
	assert.Equal(t, res.Purchase.ID, res.Payment.FundingID)
	assert.Equal(t, res.Payment.ID, res.Purchase.PaymentID)
	assert.Equal(t, f.content.CreatorID, res.Payment.PayeeID)

	found, err := f.purchases.FindAccessible(ctx, buyer, f.content.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, res.Purchase.ID, found.ID)

	_, err = f.purchases.Purchase(ctx, f.input(buyer, "tok_visa"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestPurchaseDeclineMarksFailedAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()

	res, err := f.purchases.Purchase(ctx, f.input(buyer, payments.SandboxSourceDecline))
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusFailed, res.Purchase.Status)

	found, err := f.purchases.FindAccessible(ctx, buyer, f.content.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	retry, err := f.purchases.Purchase(ctx, f.input(buyer, "tok_visa"))
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusCompleted, retry.Purchase.Status)
}

func TestPurchaseTimeoutBlocksDuplicateUntilSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()

	res, err := f.purchases.Purchase(ctx, f.input(buyer, payments.SandboxSourceTimeout))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsGatewayTimeout(err))
	assert.Equal(t, enums.PurchaseStatusPending, res.Purchase.Status)

	_, err = f.purchases.Purchase(ctx, f.input(buyer, "tok_visa"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = f.payments.MarkCompleted(ctx, res.Payment.ID, "late")
	require.NoError(t, err)
	stored, err := f.purchases.Get(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusCompleted, stored.Status)
}

func TestRefundRevokesPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()

	res, err := f.purchases.Purchase(ctx, f.input(buyer, "tok_visa"))
	require.NoError(t, err)
	_, err = f.payments.Refund(ctx, res.Payment.ID, "requested")
	require.NoError(t, err)

	stored, err := f.purchases.Get(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusRefunded, stored.Status)
	found, err := f.purchases.FindAccessible(ctx, buyer, f.content.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Hour)

	cases := map[string]func(in *PurchaseInput){
		"free":          func(in *PurchaseInput) { in.Price = money.Zero("USD") },
		"no source":     func(in *PurchaseInput) { in.PaymentSource = "" },
		"bad method":    func(in *PurchaseInput) { in.Method = "CASH" },
		"past expiry":   func(in *PurchaseInput) { in.ExpiresAt = &past },
		"own content":   func(in *PurchaseInput) { in.BuyerID = f.content.CreatorID },
		"missing buyer": func(in *PurchaseInput) { in.BuyerID = uuid.Nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.input(uuid.New(), "tok_visa")
			mutate(&in)
			_, err := f.purchases.Purchase(ctx, in)
			assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
		})
	}

	in := f.input(uuid.New(), "tok_visa")
	in.ContentID = uuid.New()
	_, err := f.purchases.Purchase(ctx, in)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPurchaseExpiryEndsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := uuid.New()
	expires := f.now.Add(48 * time.Hour)

	in := f.input(buyer, "tok_visa")
	in.ExpiresAt = &expires
	_, err := f.purchases.Purchase(ctx, in)
	require.NoError(t, err)

	found, err := f.purchases.FindAccessible(ctx, buyer, f.content.ID)
	require.NoError(t, err)
	assert.NotNil(t, found)

	f.now = expires.Add(time.Second)
	found, err = f.purchases.FindAccessible(ctx, buyer, f.content.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
