package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

const (
	defaultReconcileAfter = 15 * time.Minute
	defaultReconcileLimit = 250
)

type pendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (payments.ReconcileResult, error)
}

// PaymentReconcileJobParams configures the stale payment sweep.
type PaymentReconcileJobParams struct {
	Logger   *logger.Logger
	Payments pendingReconciler
	After    time.Duration
	Limit    int
}

// NewPaymentReconcileJob builds the job that re-drives payments left PENDING
// by a gateway timeout or a crashed worker.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		payments: params.Payments,
		after:    after,
		limit:    limit,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	payments pendingReconciler
	after    time.Duration
	limit    int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	result, err := j.payments.ReconcilePending(ctx, j.after, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"completed": result.Completed,
		"failed":    result.Failed,
		"pending":   result.Pending,
		"skipped":   result.Skipped,
	})
	if err != nil {
		return fmt.Errorf("reconcile pending payments: %w", err)
	}
	j.logg.Info(logCtx, "payment reconciliation complete")
	return nil
}
