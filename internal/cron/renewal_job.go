package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/creatorpay-backend/internal/subscriptions"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
)

const (
	defaultRenewalConcurrency = 8
	defaultRenewalBatchSize   = 200
	maxRenewalBatchesPerKind  = 50
)

// Expiries run first so a lapsed subscription is never charged again.
var renewalSweepOrder = []subscriptions.DueKind{
	subscriptions.DueExpiry,
	subscriptions.DueTrialConversion,
	subscriptions.DueRenewal,
}

type renewer interface {
	ListDue(ctx context.Context, kind subscriptions.DueKind, limit int) ([]models.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID) (*subscriptions.RenewalResult, error)
}

// RenewalJobParams configures the subscription renewal sweep.
type RenewalJobParams struct {
	Logger         *logger.Logger
	Subscriptions  renewer
	Metrics        *metrics.RenewalMetrics
	Concurrency    int
	BatchSize      int
	RequestsPerSec float64
}

// NewRenewalJob builds the sweep that renews, converts and expires due
// subscriptions through a bounded pool of workers.
func NewRenewalJob(params RenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRenewalConcurrency
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRenewalBatchSize
	}
	limit := rate.Inf
	if params.RequestsPerSec > 0 {
		limit = rate.Limit(params.RequestsPerSec)
	}
	return &renewalJob{
		logg:        params.Logger,
		subs:        params.Subscriptions,
		metrics:     params.Metrics,
		concurrency: concurrency,
		batch:       batch,
		limiter:     rate.NewLimiter(limit, concurrency),
	}, nil
}

type renewalJob struct {
	logg        *logger.Logger
	subs        renewer
	metrics     *metrics.RenewalMetrics
	concurrency int
	batch       int
	limiter     *rate.Limiter
}

func (j *renewalJob) Name() string { return "subscription-renewal" }

type renewalTally struct {
	mu     sync.Mutex
	counts map[subscriptions.RenewalOutcome]int
	errs   error
}

func (t *renewalTally) record(outcome subscriptions.RenewalOutcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[outcome]++
	if err != nil {
		t.errs = multierr.Append(t.errs, err)
	}
}

// Run drains every due queue. A failed item is counted and logged, and the
// sweep moves on; the aggregated errors are returned at the end.
func (j *renewalJob) Run(ctx context.Context) error {
	tally := &renewalTally{counts: map[subscriptions.RenewalOutcome]int{}}
	for _, kind := range renewalSweepOrder {
		if err := j.sweep(ctx, kind, tally); err != nil {
			tally.record(subscriptions.OutcomeFailed, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	fields := map[string]any{}
	for _, outcome := range []subscriptions.RenewalOutcome{
		subscriptions.OutcomeRenewed,
		subscriptions.OutcomeExpired,
		subscriptions.OutcomePending,
		subscriptions.OutcomeSkipped,
		subscriptions.OutcomeFailed,
	} {
		n := tally.counts[outcome]
		fields[string(outcome)] = n
		if j.metrics != nil {
			j.metrics.Add(string(outcome), n)
		}
	}
	logCtx := j.logg.WithFields(ctx, fields)
	if tally.errs != nil {
		j.logg.Warn(logCtx, "renewal sweep finished with errors")
		return tally.errs
	}
	j.logg.Info(logCtx, "renewal sweep complete")
	return nil
}

// sweep pages through one due queue. Items that stay due after an attempt
// (failed charges) come back in the next page, so ids already attempted in
// this run end the loop instead of being retried.
func (j *renewalJob) sweep(ctx context.Context, kind subscriptions.DueKind, tally *renewalTally) error {
	seen := map[uuid.UUID]struct{}{}
	for page := 0; page < maxRenewalBatchesPerKind; page++ {
		due, err := j.subs.ListDue(ctx, kind, j.batch)
		if err != nil {
			return fmt.Errorf("list due %s: %w", kind, err)
		}
		fresh := make([]uuid.UUID, 0, len(due))
		for _, sub := range due {
			if _, ok := seen[sub.ID]; ok {
				continue
			}
			seen[sub.ID] = struct{}{}
			fresh = append(fresh, sub.ID)
		}
		if len(fresh) == 0 {
			return nil
		}

		var g errgroup.Group
		g.SetLimit(j.concurrency)
		for _, id := range fresh {
			id := id
			g.Go(func() error {
				j.renewOne(ctx, kind, id, tally)
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < j.batch || ctx.Err() != nil {
			return nil
		}
	}
	j.logg.Warn(j.logg.WithField(ctx, "kind", string(kind)), "renewal sweep hit batch cap; remaining items wait for next run")
	return nil
}

func (j *renewalJob) renewOne(ctx context.Context, kind subscriptions.DueKind, id uuid.UUID, tally *renewalTally) {
	itemCtx := j.logg.WithSubscriptionID(ctx, id.String())
	if kind != subscriptions.DueExpiry {
		if err := j.limiter.Wait(ctx); err != nil {
			tally.record(subscriptions.OutcomeSkipped, nil)
			return
		}
	}
	start := time.Now()
	result, err := j.subs.Renew(itemCtx, id)
	itemCtx = j.logg.WithField(itemCtx, "duration_ms", time.Since(start).Milliseconds())

	outcome := subscriptions.OutcomeFailed
	if result != nil {
		outcome = result.Outcome
	}
	switch {
	case err != nil:
		j.logg.Error(itemCtx, "renewal failed", err)
		tally.record(subscriptions.OutcomeFailed, fmt.Errorf("renew %s: %w", id, err))
	case outcome == subscriptions.OutcomePending:
		// charge outlived the gateway deadline; payment reconciliation settles it
		j.logg.Warn(itemCtx, "renewal charge still pending")
		tally.record(outcome, nil)
	default:
		j.logg.Debug(j.logg.WithField(itemCtx, "outcome", string(outcome)), "renewal processed")
		tally.record(outcome, nil)
	}
}
