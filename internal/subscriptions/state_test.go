package subscriptions

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestDuePredicatesAfterOneMonth(t *testing.T) {
	activated := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	sub := models.Subscription{Status: enums.SubscriptionStatusPending, BillingPeriod: enums.BillingPeriodMonthly}
	c, err := planActivate(&sub, activated)
	require.NoError(t, err)
	applyChange(&sub, c)

	require.NotNil(t, sub.EndDate)
	want, _ := enums.BillingPeriodMonthly.Advance(activated)
	assert.True(t, sub.EndDate.Equal(want))

	later := sub.EndDate.Add(24 * time.Hour)
	sub.AutoRenew = true
	assert.True(t, IsDueForRenewal(sub, later))
	assert.False(t, IsDueForExpiry(sub, later))

	sub.AutoRenew = false
	assert.False(t, IsDueForRenewal(sub, later))
	assert.True(t, IsDueForExpiry(sub, later))

	assert.False(t, IsDueForRenewal(sub, activated.Add(time.Hour)))
	assert.False(t, IsDueForExpiry(sub, activated.Add(time.Hour)))
}

func TestLifetimeSubscriptionsNeverComeDue(t *testing.T) {
	sub := models.Subscription{
		Status:        enums.SubscriptionStatusActive,
		BillingPeriod: enums.BillingPeriodLifetime,
		AutoRenew:     true,
		StartDate:     timePtr(time.Now()),
	}
	assert.False(t, IsDueForRenewal(sub, time.Now().AddDate(10, 0, 0)))
	_, err := planRenew(&sub, time.Now())
	assert.True(t, pkgerrors.IsInvalidState(err))
}

func TestTransitionPlansRejectWrongSourceState(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name   string
		status enums.SubscriptionStatus
		plan   func(*models.Subscription) error
	}{
		{"activate expired", enums.SubscriptionStatusExpired, func(s *models.Subscription) error { _, err := planActivate(s, now); return err }},
		{"cancel cancelled", enums.SubscriptionStatusCancelled, func(s *models.Subscription) error { _, err := planCancel(s, "", now); return err }},
		{"cancel suspended", enums.SubscriptionStatusSuspended, func(s *models.Subscription) error { _, err := planCancel(s, "", now); return err }},
		{"expire pending", enums.SubscriptionStatusPending, func(s *models.Subscription) error { _, err := planExpire(s, now); return err }},
		{"renew trial", enums.SubscriptionStatusTrial, func(s *models.Subscription) error { _, err := planRenew(s, now); return err }},
		{"convert active", enums.SubscriptionStatusActive, func(s *models.Subscription) error { _, err := planConvertTrial(s, now); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &models.Subscription{ID: uuid.New(), Status: tc.status, BillingPeriod: enums.BillingPeriodMonthly}
			err := tc.plan(sub)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalidState(err))
		})
	}
}

func TestRenewClearsCancellationAndCounts(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	paymentID := uuid.New()
	sub := models.Subscription{
		Status:           enums.SubscriptionStatusActive,
		BillingPeriod:    enums.BillingPeriodQuarterly,
		RenewalCount:     2,
		StartDate:        timePtr(now.AddDate(0, -3, 0)),
		EndDate:          timePtr(now),
		RenewalPaymentID: &paymentID,
	}
	c, err := planRenew(&sub, now)
	require.NoError(t, err)
	applyChange(&sub, c)

	assert.Equal(t, 3, sub.RenewalCount)
	assert.True(t, sub.StartDate.Equal(now))
	assert.True(t, sub.EndDate.Equal(now.AddDate(0, 3, 0)))
	assert.Nil(t, sub.CancelledAt)
	assert.Nil(t, sub.RenewalPaymentID)
}

func TestExpireBeforeEndPullsEndDateBack(t *testing.T) {
	now := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	sub := models.Subscription{
		Status:        enums.SubscriptionStatusActive,
		BillingPeriod: enums.BillingPeriodMonthly,
		StartDate:     timePtr(now.AddDate(0, 0, -5)),
		EndDate:       timePtr(now.AddDate(0, 0, 25)),
	}
	c, err := planExpire(&sub, now)
	require.NoError(t, err)
	applyChange(&sub, c)
	assert.Equal(t, enums.SubscriptionStatusExpired, sub.Status)
	assert.True(t, sub.EndDate.Equal(now))
}

// Random walks over the planners must never produce endDate < startDate,
// and cancelledAt must only ever be seen on CANCELLED subscriptions.
func TestEndDateNeverPrecedesStartDate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	periods := []enums.BillingPeriod{
		enums.BillingPeriodMonthly, enums.BillingPeriodQuarterly,
		enums.BillingPeriodYearly, enums.BillingPeriodLifetime,
	}
	for walk := 0; walk < 200; walk++ {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		sub := models.Subscription{
			ID:            uuid.New(),
			Status:        enums.SubscriptionStatusPending,
			BillingPeriod: periods[rng.Intn(len(periods))],
		}
		if rng.Intn(2) == 0 {
			sub.Status = enums.SubscriptionStatusTrial
			sub.StartDate = timePtr(now)
			sub.EndDate = timePtr(now.AddDate(0, 0, 7))
		}
		lastCount := 0
		for step := 0; step < 12; step++ {
			now = now.Add(time.Duration(rng.Intn(90*24)) * time.Hour)
			var (
				c   change
				err error
			)
			switch rng.Intn(6) {
			case 0:
				c, err = planActivate(&sub, now)
			case 1:
				c, err = planRenew(&sub, now)
			case 2:
				c, err = planCancel(&sub, "walk", now)
			case 3:
				c, err = planExpire(&sub, now)
			case 4:
				c, err = planConvertTrial(&sub, now)
			case 5:
				c = planHonourPaidPeriod(&sub, now)
			}
			if err != nil {
				assert.True(t, pkgerrors.IsInvalidState(err))
				continue
			}
			applyChange(&sub, c)
			if sub.StartDate != nil && sub.EndDate != nil {
				assert.False(t, sub.EndDate.Before(*sub.StartDate), "walk %d step %d: end %s before start %s", walk, step, sub.EndDate, sub.StartDate)
			}
			if sub.CancelledAt != nil {
				assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
			}
			assert.GreaterOrEqual(t, sub.RenewalCount, lastCount)
			lastCount = sub.RenewalCount
		}
	}
}

// applyChange mirrors what Transition writes so planners can be checked in memory.
func applyChange(sub *models.Subscription, c change) {
	if c.noop {
		return
	}
	sub.Status = c.to
	sub.Version++
	for key, value := range c.fields {
		switch key {
		case "start_date":
			sub.StartDate = toTime(value)
		case "end_date":
			sub.EndDate = toTime(value)
		case "cancelled_at":
			sub.CancelledAt = toTime(value)
		case "cancellation_reason":
			if s, ok := value.(string); ok {
				sub.CancellationReason = &s
			} else {
				sub.CancellationReason = nil
			}
		case "auto_renew":
			sub.AutoRenew = value.(bool)
		case "renewal_count":
			sub.RenewalCount = value.(int)
		case "renewal_payment_id":
			if id, ok := value.(uuid.UUID); ok {
				sub.RenewalPaymentID = &id
			} else {
				sub.RenewalPaymentID = nil
			}
		}
	}
}

func toTime(value any) *time.Time {
	if t, ok := value.(time.Time); ok {
		return &t
	}
	return nil
}
