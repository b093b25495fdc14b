// Package app wires the domain services shared by cmd/api and cmd/cron-worker.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/creatorpay-backend/internal/access"
	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/internal/payouts"
	"github.com/angelmondragon/creatorpay-backend/internal/purchases"
	"github.com/angelmondragon/creatorpay-backend/internal/subscriptions"
	"github.com/angelmondragon/creatorpay-backend/internal/tiers"
	"github.com/angelmondragon/creatorpay-backend/internal/tips"
	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/square"
)

type Services struct {
	Tiers         tiers.Service
	Subscriptions subscriptions.Service
	Purchases     purchases.Service
	Tips          tips.Service
	Payouts       payouts.Service
	Payments      payments.Service
	Access        access.Evaluator
}

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Registry prometheus.Registerer
	// Gateway overrides the configured provider; tests pass a fake.
	Gateway payments.Gateway
}

// NewServices builds every domain service on one payment ledger. The
// subscription, purchase and tip services register their settlement handlers
// with that ledger as they are constructed.
func NewServices(ctx context.Context, params Params) (*Services, error) {
	cfg, logg := params.Config, params.Logger
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	conn := params.DB.DB()

	paymentMetrics := metrics.NewPaymentMetrics(params.Registry)
	gateway := params.Gateway
	if gateway == nil {
		var err error
		gateway, err = newGateway(ctx, cfg, logg)
		if err != nil {
			return nil, err
		}
	}
	guarded, err := payments.NewGuardedGateway(payments.GuardParams{
		Gateway: gateway,
		Config:  cfg.Gateway,
		Logger:  logg,
		Metrics: paymentMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("guard gateway: %w", err)
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(conn),
		TransactionRunner: params.DB,
		Outbox:            emitter,
		Gateway:           guarded,
		Logger:            logg,
		Metrics:           paymentMetrics,
		Keys:              payments.IdempotencyKeys{Scope: cfg.Gateway.IdempotencyScope},
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	tierSvc, err := tiers.NewService(tiers.ServiceParams{Repo: tiers.NewRepository(conn), Logger: logg})
	if err != nil {
		return nil, fmt.Errorf("tiers service: %w", err)
	}

	subscriptionRepo := subscriptions.NewRepository(conn)
	subscriptionSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionRepo,
		Tiers:             tierSvc,
		Payments:          paymentSvc,
		TransactionRunner: params.DB,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions service: %w", err)
	}

	content := access.NewContentCatalog(conn)
	purchaseSvc, err := purchases.NewService(purchases.ServiceParams{
		Repo:              purchases.NewRepository(conn),
		Content:           content,
		Payments:          paymentSvc,
		TransactionRunner: params.DB,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("purchases service: %w", err)
	}

	tipSvc, err := tips.NewService(tips.ServiceParams{
		Repo:              tips.NewRepository(conn),
		Payments:          paymentSvc,
		TransactionRunner: params.DB,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("tips service: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:              payouts.NewRepository(conn),
		Aggregator:        payouts.NewRevenueAggregator(conn, cfg.Payout.FeePercent()),
		TransactionRunner: params.DB,
		Outbox:            emitter,
		Logger:            logg,
		Minimum:           cfg.Payout.Minimum(),
	})
	if err != nil {
		return nil, fmt.Errorf("payouts service: %w", err)
	}

	evaluator, err := access.NewEvaluator(access.Params{
		Content:       content,
		Blocks:        access.NewSocialGraph(conn),
		Subscriptions: subscriptionRepo,
		Purchases:     purchaseSvc,
		GraceWindow:   cfg.Access.GraceWindow,
		Logger:        logg,
	})
	if err != nil {
		return nil, fmt.Errorf("access evaluator: %w", err)
	}

	return &Services{
		Tiers:         tierSvc,
		Subscriptions: subscriptionSvc,
		Purchases:     purchaseSvc,
		Tips:          tipSvc,
		Payouts:       payoutSvc,
		Payments:      paymentSvc,
		Access:        evaluator,
	}, nil
}

func newGateway(ctx context.Context, cfg *config.Config, logg *logger.Logger) (payments.Gateway, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Gateway.Provider), config.GatewayProviderSandbox) {
		logg.Warn(ctx, "using sandbox payment gateway")
		return payments.NewSandboxGateway(), nil
	}
	client, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return nil, fmt.Errorf("square client: %w", err)
	}
	return payments.NewSquareGateway(client)
}
