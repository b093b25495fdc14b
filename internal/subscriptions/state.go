package subscriptions

import (
	"fmt"
	"time"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

const (
	ReasonPaymentFailed = "payment_failed"
	ReasonRefunded      = "refunded"
)

// IsDueForRenewal is true for an auto-renewing ACTIVE subscription whose
// period has ended. LIFETIME subscriptions are never due.
func IsDueForRenewal(sub models.Subscription, now time.Time) bool {
	return sub.AutoRenew &&
		sub.Status == enums.SubscriptionStatusActive &&
		sub.BillingPeriod.Recurring() &&
		sub.EndDate != nil &&
		!now.Before(*sub.EndDate)
}

// IsDueForExpiry is true for an ACTIVE subscription past its end that will
// not renew.
func IsDueForExpiry(sub models.Subscription, now time.Time) bool {
	return !sub.AutoRenew &&
		sub.Status == enums.SubscriptionStatusActive &&
		sub.EndDate != nil &&
		now.After(*sub.EndDate)
}

func IsDueForTrialConversion(sub models.Subscription, now time.Time) bool {
	return sub.Status == enums.SubscriptionStatusTrial &&
		sub.EndDate != nil &&
		!now.Before(*sub.EndDate)
}

// change is a planned transition: the target status plus the columns to set.
type change struct {
	to     enums.SubscriptionStatus
	fields map[string]any
	noop   bool
}

func invalidState(sub *models.Subscription, action string) error {
	return pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot %s a %s subscription", action, sub.Status),
	).WithDetails(map[string]any{
		"subscription_id": sub.ID.String(),
		"status":          sub.Status,
	})
}

// planActivate moves PENDING or TRIAL to ACTIVE, filling dates that are unset.
func planActivate(sub *models.Subscription, now time.Time) (change, error) {
	switch sub.Status {
	case enums.SubscriptionStatusActive:
		return change{noop: true}, nil
	case enums.SubscriptionStatusPending, enums.SubscriptionStatusTrial:
	default:
		return change{}, invalidState(sub, "activate")
	}
	fields := map[string]any{}
	start := now
	if sub.StartDate != nil {
		start = *sub.StartDate
	} else {
		fields["start_date"] = start
	}
	if sub.EndDate == nil {
		if end, ok := sub.BillingPeriod.Advance(start); ok {
			fields["end_date"] = end
		}
	}
	return change{to: enums.SubscriptionStatusActive, fields: fields}, nil
}

// planConvertTrial starts the first paid period when a trial converts.
func planConvertTrial(sub *models.Subscription, now time.Time) (change, error) {
	if sub.Status != enums.SubscriptionStatusTrial {
		return change{}, invalidState(sub, "convert")
	}
	fields := map[string]any{
		"start_date":         now,
		"end_date":           nil,
		"renewal_payment_id": nil,
	}
	if end, ok := sub.BillingPeriod.Advance(now); ok {
		fields["end_date"] = end
	}
	return change{to: enums.SubscriptionStatusActive, fields: fields}, nil
}

// planCancel stops future renewals. The current period is left intact.
func planCancel(sub *models.Subscription, reason string, now time.Time) (change, error) {
	if sub.Status.IsTerminal() {
		return change{}, invalidState(sub, "cancel")
	}
	fields := map[string]any{
		"cancelled_at": now,
		"auto_renew":   false,
	}
	if reason != "" {
		fields["cancellation_reason"] = reason
	}
	return change{to: enums.SubscriptionStatusCancelled, fields: fields}, nil
}

// planExpire ends the subscription, pulling endDate back to now if it was
// still in the future.
func planExpire(sub *models.Subscription, now time.Time) (change, error) {
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrial:
	default:
		return change{}, invalidState(sub, "expire")
	}
	fields := map[string]any{"renewal_payment_id": nil}
	if sub.EndDate == nil || sub.EndDate.After(now) {
		fields["end_date"] = now
		if sub.StartDate != nil && sub.StartDate.After(now) {
			fields["start_date"] = now
		}
	}
	return change{to: enums.SubscriptionStatusExpired, fields: fields}, nil
}

// planRenew starts a new period from now and clears any cancellation.
func planRenew(sub *models.Subscription, now time.Time) (change, error) {
	if sub.Status != enums.SubscriptionStatusActive {
		return change{}, invalidState(sub, "renew")
	}
	end, ok := sub.BillingPeriod.Advance(now)
	if !ok {
		return change{}, invalidState(sub, "renew a lifetime")
	}
	return change{
		to: enums.SubscriptionStatusActive,
		fields: map[string]any{
			"start_date":          now,
			"end_date":            end,
			"renewal_count":       sub.RenewalCount + 1,
			"cancelled_at":        nil,
			"cancellation_reason": nil,
			"renewal_payment_id":  nil,
		},
	}, nil
}

// planHonourPaidPeriod covers a charge that lands after the subscriber
// cancelled: the paid period is granted but the subscription stays cancelled.
func planHonourPaidPeriod(sub *models.Subscription, now time.Time) change {
	fields := map[string]any{"renewal_payment_id": nil}
	start := now
	if sub.EndDate != nil && sub.EndDate.After(now) {
		start = *sub.EndDate
	}
	if sub.StartDate == nil {
		fields["start_date"] = now
	}
	if end, ok := sub.BillingPeriod.Advance(start); ok {
		fields["end_date"] = end
	}
	if sub.RenewalPaymentID != nil {
		fields["renewal_count"] = sub.RenewalCount + 1
	}
	return change{to: sub.Status, fields: fields}
}
