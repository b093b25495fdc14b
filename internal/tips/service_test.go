package tips

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/internal/payments"
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

func newTipService(t *testing.T) (Service, payments.Service, *db.Client) {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "tips-test", Output: io.Discard})
	clock := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

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
		Now:               now,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Payments:          paySvc,
		TransactionRunner: client,
		Logger:            logg,
		Now:               now,
	})
	require.NoError(t, err)
	return svc, paySvc, client
}

func tipInput(sender, creator uuid.UUID) SendTipInput {
	return SendTipInput{
		SenderID:      sender,
		CreatorID:     creator,
		Amount:        money.MustParse("3.00", "USD"),
		Message:       "thanks for the stream",
		Method:        enums.PaymentMethodCreditCard,
		PaymentSource: "tok_visa",
	}
}

func TestSendTipSettles(t *testing.T) {
	svc, _, _ := newTipService(t)
	creator := uuid.New()

	res, err := svc.SendTip(context.Background(), tipInput(uuid.New(), creator))
	require.NoError(t, err)
	assert.Equal(t, enums.TipStatusCompleted, res.Tip.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, res.Payment.Status)
	assert.Equal(t, enums.FundingTip, res.Payment.FundingType)
	assert.Equal(t, res.Tip.ID, res.Payment.FundingID)
	require.NotNil(t, res.Tip.Message)
	assert.Equal(t, "thanks for the stream", *res.Tip.Message)
}

func TestSendTipValidation(t *testing.T) {
	svc, _, client := newTipService(t)
	creator := uuid.New()

	cases := map[string]func(in *SendTipInput){
		"self tip":        func(in *SendTipInput) { in.SenderID = creator },
		"long message":    func(in *SendTipInput) { in.Message = strings.Repeat("x", maxMessageLength+1) },
		"zero amount":     func(in *SendTipInput) { in.Amount = money.Zero("USD") },
		"negative amount": func(in *SendTipInput) { in.Amount = money.MustParse("-2", "USD") },
		"no source":       func(in *SendTipInput) { in.PaymentSource = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := tipInput(uuid.New(), creator)
			mutate(&in)
			_, err := svc.SendTip(context.Background(), in)
			assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
		})
	}

	var tipsCount, paymentsCount int64
	require.NoError(t, client.DB().Model(&models.Tip{}).Count(&tipsCount).Error)
	require.NoError(t, client.DB().Model(&models.Payment{}).Count(&paymentsCount).Error)
	assert.Zero(t, tipsCount)
	assert.Zero(t, paymentsCount)
}

func TestDeclinedTipFails(t *testing.T) {
	svc, _, _ := newTipService(t)
	in := tipInput(uuid.New(), uuid.New())
	in.PaymentSource = payments.SandboxSourceDecline

	res, err := svc.SendTip(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, enums.TipStatusFailed, res.Tip.Status)
}

func TestListReceivedHidesAnonymousSenders(t *testing.T) {
	svc, paySvc, _ := newTipService(t)
	ctx := context.Background()
	creator := uuid.New()
	named := uuid.New()

	_, err := svc.SendTip(ctx, tipInput(named, creator))
	require.NoError(t, err)
	anon := tipInput(uuid.New(), creator)
	anon.Anonymous = true
	_, err = svc.SendTip(ctx, anon)
	require.NoError(t, err)
	refunded, err := svc.SendTip(ctx, tipInput(uuid.New(), creator))
	require.NoError(t, err)
	_, err = paySvc.Refund(ctx, refunded.Payment.ID, "mistake")
	require.NoError(t, err)

	tip, err := svc.Get(ctx, refunded.Tip.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TipStatusRefunded, tip.Status)

	received, next, err := svc.ListReceived(ctx, creator, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, received, 2)

	assert.True(t, received[0].Anonymous)
	assert.Nil(t, received[0].SenderID)
	require.NotNil(t, received[1].SenderID)
	assert.Equal(t, named, *received[1].SenderID)
	assert.True(t, received[1].Amount.Equal(money.MustParse("3.00", "USD")))
}
