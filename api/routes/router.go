package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/creatorpay-backend/api/controllers"
	"github.com/angelmondragon/creatorpay-backend/api/middleware"
	"github.com/angelmondragon/creatorpay-backend/internal/access"
	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/internal/payouts"
	"github.com/angelmondragon/creatorpay-backend/internal/purchases"
	"github.com/angelmondragon/creatorpay-backend/internal/subscriptions"
	"github.com/angelmondragon/creatorpay-backend/internal/tiers"
	"github.com/angelmondragon/creatorpay-backend/internal/tips"
	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/redis"
)

// Cache is the Redis surface the HTTP layer needs.
type Cache interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      controllers.Pinger
	Cache   Cache
	Metrics http.Handler

	Tiers         tiers.Service
	Subscriptions subscriptions.Service
	Purchases     purchases.Service
	Tips          tips.Service
	Payouts       payouts.Service
	Payments      payments.Service
	Access        access.Evaluator
	DeadLetters   controllers.DeadLetterReader
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, map[string]controllers.Pinger{
			"db":    d.DB,
			"redis": d.Cache,
		}, logg))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	writePolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.UserLimit, cfg.RateLimit.IPLimit)

	r.Route("/api/v1", func(r chi.Router) {
		// browsing a creator's tiers needs no account
		r.Get("/creators/{creatorID}/tiers", controllers.ListCreatorTiers(d.Tiers, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(writePolicy, d.Cache, logg))
			r.Use(middleware.Idempotency(d.Cache, cfg.Redis.IdempotencyTTL, logg))

			r.Route("/tiers", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleCreator))
				r.Post("/", controllers.CreateTier(d.Tiers, logg))
				r.Route("/{tierID}", func(r chi.Router) {
					r.Patch("/", controllers.UpdateTier(d.Tiers, logg))
					r.Delete("/", controllers.DeleteTier(d.Tiers, logg))
					r.Post("/deactivate", controllers.DeactivateTier(d.Tiers, logg))
					r.Post("/reactivate", controllers.ReactivateTier(d.Tiers, logg))
					r.Post("/benefits", controllers.AddTierBenefit(d.Tiers, logg))
					r.Delete("/benefits", controllers.RemoveTierBenefit(d.Tiers, logg))
					r.Get("/stats", controllers.TierStats(d.Tiers, logg))
				})
			})

			r.With(middleware.RequireRole(logg, enums.UserRoleCreator)).
				Get("/creators/me/subscribers", controllers.ListMySubscribers(d.Subscriptions, logg))

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", controllers.Subscribe(d.Subscriptions, logg))
				r.Get("/", controllers.ListMySubscriptions(d.Subscriptions, logg))
				r.Post("/{subscriptionID}/cancel", controllers.CancelSubscription(d.Subscriptions, logg))
				r.Post("/{subscriptionID}/auto-renew", controllers.ToggleAutoRenew(d.Subscriptions, logg))
			})

			r.Post("/purchases", controllers.PurchaseContent(d.Purchases, logg))

			r.Route("/tips", func(r chi.Router) {
				r.Post("/", controllers.SendTip(d.Tips, logg))
				r.With(middleware.RequireRole(logg, enums.UserRoleCreator)).
					Get("/received", controllers.ListReceivedTips(d.Tips, logg))
			})

			r.Route("/payouts", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleCreator))
				r.Post("/", controllers.RequestPayout(d.Payouts, logg))
				r.Get("/", controllers.ListPayouts(d.Payouts, logg))
				r.Get("/balance", controllers.PayoutBalance(d.Payouts, logg))
				r.Post("/{payoutID}/cancel", controllers.CancelPayout(d.Payouts, logg))
			})

			r.Route("/payments", func(r chi.Router) {
				r.Get("/", controllers.ListMyPayments(d.Payments, logg))
				r.Get("/total", controllers.PaymentsTotal(d.Payments, logg))
				r.With(middleware.RequireRole(logg, enums.UserRoleAdmin)).
					Post("/{paymentID}/refund", controllers.RefundPayment(d.Payments, logg))
			})

			r.Get("/content/{contentID}/access", controllers.ContentAccess(d.Access, logg))

			r.Route("/admin/payouts/{payoutID}", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
				r.Post("/processing", controllers.MarkPayoutProcessing(d.Payouts, logg))
				r.Post("/complete", controllers.CompletePayout(d.Payouts, logg))
				r.Post("/fail", controllers.FailPayout(d.Payouts, logg))
			})

			if d.DeadLetters != nil {
				r.Route("/admin/dead-letters", func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
					r.Get("/", controllers.ListDeadLetters(d.DeadLetters, logg))
					r.Get("/{eventID}", controllers.GetDeadLetter(d.DeadLetters, logg))
				})
			}
		})
	})

	return r
}
