package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/internal/access"
	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/internal/subscriptions"
	"github.com/angelmondragon/creatorpay-backend/internal/tiers"
	"github.com/angelmondragon/creatorpay-backend/internal/tips"
	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: config.AppEnvDev},
		Gateway: config.GatewayConfig{
			Provider:        config.GatewayProviderSandbox,
			ChargeTimeout:   time.Second,
			BreakerFailures: 5,
			BreakerOpenFor:  time.Minute,
		},
		Access: config.AccessConfig{GraceWindow: 24 * time.Hour},
		Payout: config.PayoutConfig{PlatformFeePercent: "10", MinimumAmount: "5"},
	}
}

func TestNewServicesRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "app-test", Output: io.Discard})
	_, err := NewServices(context.Background(), Params{Logger: logg})
	require.Error(t, err)
	_, err = NewServices(context.Background(), Params{Config: testConfig(), Logger: logg})
	require.Error(t, err)
}

func TestServicesSettleAcrossModules(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Client(t)
	svcs, err := NewServices(ctx, Params{
		Config:   testConfig(),
		Logger:   logger.New(logger.Options{ServiceName: "app-test", Output: io.Discard}),
		DB:       client,
		Registry: prometheus.NewRegistry(),
		Gateway:  payments.NewSandboxGateway(),
	})
	require.NoError(t, err)

	creator, fan := uuid.New(), uuid.New()
	tier, err := svcs.Tiers.CreateTier(ctx, creator, tiers.CreateTierInput{
		Name:          "Supporter",
		Price:         decimal.RequireFromString("20"),
		Currency:      "USD",
		BillingPeriod: enums.BillingPeriodMonthly,
		Benefits:      []string{"early access"},
	})
	require.NoError(t, err)

	result, err := svcs.Subscriptions.Subscribe(ctx, subscriptions.SubscribeInput{
		SubscriberID:  fan,
		TierID:        tier.ID,
		Method:        enums.PaymentMethodCreditCard,
		PaymentSource: "cnon:card-ok",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, result.Subscription.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, result.Payment.Status)

	gated := models.ContentRef{ID: uuid.New(), CreatorID: creator, RequiredTierID: &tier.ID}
	require.NoError(t, client.DB().Create(&gated).Error)
	decision, err := svcs.Access.Evaluate(ctx, fan, gated.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, access.ReasonSubscription, decision.Reason)

	_, err = svcs.Tips.SendTip(ctx, tips.SendTipInput{
		SenderID:      fan,
		CreatorID:     creator,
		Amount:        money.MustParse("10", "USD"),
		Method:        enums.PaymentMethodCreditCard,
		PaymentSource: "cnon:card-ok",
	})
	require.NoError(t, err)

	balance, err := svcs.Payouts.Balance(ctx, creator, "USD")
	require.NoError(t, err)
	assert.Equal(t, "30.00", balance.Gross.Amount().StringFixed(2))
	assert.Equal(t, "3.00", balance.Fee.Amount().StringFixed(2))
	assert.Equal(t, "27.00", balance.Available.Amount().StringFixed(2))
}
