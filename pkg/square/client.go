package square

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client wraps the Square SDK calls the payment gateway needs. Every call is
// logged with sensitive fields masked and every failure is mapped onto a
// pkg/errors code.
type Client struct {
	sdk         *sqclient.Client
	environment string
	locationID  string
	logg        *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q, got %q", sandboxEnv, productionEnv, env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	location := strings.TrimSpace(cfg.LocationID)
	if location == "" {
		return nil, errors.New("square location id is required")
	}

	c := &Client{
		sdk:         sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)),
		environment: env,
		locationID:  location,
		logg:        logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"environment": env, "location_id": location}), "square client initialized")
	return c, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// LocationID is the Square location charges are booked against.
func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// CreatePaymentStatus creates a payment and returns its Square id and status.
func (c *Client) CreatePaymentStatus(ctx context.Context, params PaymentCreateParams) (string, string, error) {
	key := idempotencyKey("charge", params.IdempotencyKey)
	var id, status string
	err := c.call(ctx, "create_payment", map[string]any{
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
		"currency":     params.Currency,
		"source_id":    params.SourceID,
	}, func(ctx context.Context) error {
		resp, err := c.sdk.Payments.Create(ctx, params.request(key))
		if err != nil {
			return err
		}
		payment := resp.GetPayment()
		id, status = deref(payment.GetID()), deref(payment.GetStatus())
		return nil
	})
	return id, status, err
}

// RefundPayment returns part or all of a completed Square payment.
func (c *Client) RefundPayment(ctx context.Context, params RefundParams) error {
	key := idempotencyKey("refund", params.IdempotencyKey)
	return c.call(ctx, "refund_payment", map[string]any{
		"square_payment_id": params.PaymentID,
		"amount":            params.AmountCents,
	}, func(ctx context.Context) error {
		_, err := c.sdk.Refunds.RefundPayment(ctx, params.request(key))
		return err
	})
}

// call logs the request, runs fn, then logs either the outcome or the mapped
// error. Declines are expected traffic and only warn.
func (c *Client) call(ctx context.Context, op string, fields map[string]any, fn func(context.Context) error) error {
	ctx = c.logg.WithFields(ctx, masked(op, fields))
	started := time.Now()
	c.logg.Debug(ctx, "square request")

	err := fn(ctx)
	ctx = c.logg.WithField(ctx, "duration_ms", time.Since(started).Milliseconds())
	if err == nil {
		c.logg.Info(ctx, "square request succeeded")
		return nil
	}
	if reason, declined := DeclineReason(err); declined {
		c.logg.Warn(c.logg.WithField(ctx, "decline_reason", reason), "square declined payment")
	} else {
		c.logg.Error(ctx, "square request failed", err)
	}
	return classify(err, op)
}

var sensitiveKeys = []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone", "source"}

func masked(op string, fields map[string]any) map[string]any {
	out := map[string]any{"square_operation": op}
	for key, value := range fields {
		out[key] = mask(key, value)
	}
	return out
}

func mask(key string, value any) any {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return "[REDACTED]"
		}
	}
	return value
}

// idempotencyKey passes callers' keys through and mints one when they have none.
func idempotencyKey(prefix, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return prefix + "-" + uuid.NewString()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
