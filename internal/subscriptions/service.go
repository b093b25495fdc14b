package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creatorpay-backend/internal/payments"
	dbpkg "github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

const maxCancellationReason = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type tierReader interface {
	Get(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error)
}

// paymentLedger is the slice of payments.Service the subscription ledger drives.
type paymentLedger interface {
	CreateTx(ctx context.Context, tx *gorm.DB, input payments.CreateInput) (*models.Payment, error)
	Charge(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	RegisterHandler(handler payments.SettlementHandler, fundingTypes ...enums.FundingType)
}

// Service owns subscriptions and their lifecycle.
type Service interface {
	Subscribe(ctx context.Context, input SubscribeInput) (*SubscribeResult, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, actorID, id uuid.UUID, reason string) (*models.Subscription, error)
	Expire(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Renew(ctx context.Context, id uuid.UUID) (*RenewalResult, error)
	ToggleAutoRenew(ctx context.Context, subscriberID, id uuid.UUID, enabled bool) (*models.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListForSubscriber(ctx context.Context, subscriberID uuid.UUID, params pagination.Params) (*ListResult, error)
	ListForCreator(ctx context.Context, creatorID uuid.UUID, status *enums.SubscriptionStatus, params pagination.Params) (*ListResult, error)
	ListDue(ctx context.Context, kind DueKind, limit int) ([]models.Subscription, error)
	OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error
}

type SubscribeInput struct {
	SubscriberID  uuid.UUID
	TierID        uuid.UUID
	Method        enums.PaymentMethod
	PaymentSource string
	AutoRenew     *bool
	IPAddress     string
	UserAgent     string
}

type SubscribeResult struct {
	Subscription *models.Subscription
	Payment      *models.Payment
}

type ListResult struct {
	Subscriptions []models.Subscription
	NextCursor    string
}

// RenewalOutcome is what one scheduler task did with a subscription.
type RenewalOutcome string

const (
	OutcomeRenewed RenewalOutcome = "renewed"
	OutcomeExpired RenewalOutcome = "expired"
	OutcomePending RenewalOutcome = "pending"
	OutcomeSkipped RenewalOutcome = "skipped"
	OutcomeFailed  RenewalOutcome = "failed"
)

type RenewalResult struct {
	Outcome      RenewalOutcome
	Subscription *models.Subscription
	Payment      *models.Payment
}

type ServiceParams struct {
	Repo              Repository
	Tiers             tierReader
	Payments          paymentLedger
	TransactionRunner txRunner
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo     Repository
	tiers    tierReader
	payments paymentLedger
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the ledger and registers it as the settlement handler for
// subscription payments.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tier reader required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	svc := &service{
		repo:     params.Repo,
		tiers:    params.Tiers,
		payments: params.Payments,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
		now:      func() time.Time { return now().UTC() },
	}
	params.Payments.RegisterHandler(svc, enums.FundingSubscription, enums.FundingSubscriptionRenewal)
	return svc, nil
}

// Subscribe opens a subscription on an available tier. Trials start without a
// payment. Paid tiers create the subscription and its payment together and
// charge outside the transaction; settlement decides the final state.
func (s *service) Subscribe(ctx context.Context, input SubscribeInput) (*SubscribeResult, error) {
	if input.SubscriberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriber_id is required")
	}
	if input.TierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier_id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	}
	tier, err := s.tiers.Get(ctx, input.TierID)
	if err != nil {
		return nil, err
	}
	if !tier.IsAvailable() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier is not available")
	}
	if tier.CreatorID == input.SubscriberID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creators cannot subscribe to themselves")
	}
	price, err := tier.DiscountedPrice()
	if err != nil {
		return nil, err
	}
	source := strings.TrimSpace(input.PaymentSource)
	if !tier.HasTrial() && price.IsPositive() && source == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_source is required")
	}

	now := s.now()
	autoRenew := true
	if input.AutoRenew != nil {
		autoRenew = *input.AutoRenew
	}
	sub := &models.Subscription{
		SubscriberID:  input.SubscriberID,
		CreatorID:     tier.CreatorID,
		TierID:        tier.ID,
		Amount:        price.Amount(),
		Currency:      price.Currency(),
		BillingPeriod: tier.BillingPeriod,
		Status:        enums.SubscriptionStatusPending,
		AutoRenew:     autoRenew,
		PaymentMethod: input.Method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if source != "" {
		sub.PaymentMethodRef = &source
	}
	switch {
	case tier.HasTrial():
		trialEnd := now.AddDate(0, 0, tier.TrialDays)
		sub.Status = enums.SubscriptionStatusTrial
		sub.StartDate = &now
		sub.EndDate = &trialEnd
	case !price.IsPositive():
		sub.Status = enums.SubscriptionStatusActive
		sub.StartDate = &now
		if end, ok := tier.BillingPeriod.Advance(now); ok {
			sub.EndDate = &end
		}
	}

	var payment *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindOpen(ctx, input.SubscriberID, tier.CreatorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open subscription")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "an open subscription to this creator already exists").
				WithDetails(map[string]any{"subscription_id": existing.ID.String(), "status": existing.Status})
		}
		if err := repo.Create(ctx, sub); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "an open subscription to this creator already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert subscription")
		}
		if sub.Status != enums.SubscriptionStatusPending {
			return nil
		}
		payment, err = s.payments.CreateTx(ctx, tx, payments.CreateInput{
			PayerID:     sub.SubscriberID,
			PayeeID:     sub.CreatorID,
			FundingType: enums.FundingSubscription,
			FundingID:   sub.ID,
			Amount:      price,
			Method:      input.Method,
			SourceRef:   source,
			Description: "subscription to " + tier.Name,
			IPAddress:   input.IPAddress,
			UserAgent:   input.UserAgent,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithSubscriptionID(s.logg.WithUserID(ctx, sub.SubscriberID.String()), sub.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{"tier_id": tier.ID.String(), "status": sub.Status})
	s.logg.Info(logCtx, "subscription created")

	if payment == nil {
		return &SubscribeResult{Subscription: sub}, nil
	}
	// A gateway timeout leaves both records PENDING; the caller gets them
	// alongside the error.
	charged, chargeErr := s.payments.Charge(logCtx, payment.ID)
	if charged == nil {
		charged = payment
	}
	current, err := s.Get(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return &SubscribeResult{Subscription: current, Payment: charged}, chargeErr
}

func (s *service) Activate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.apply(ctx, id, "subscription activated", func(sub *models.Subscription, now time.Time) (change, error) {
		return planActivate(sub, now)
	})
}

// Cancel may be called by the subscriber or the creator.
func (s *service) Cancel(ctx context.Context, actorID, id uuid.UUID, reason string) (*models.Subscription, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCancellationReason {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason must be at most %d characters", maxCancellationReason))
	}
	return s.apply(ctx, id, "subscription cancelled", func(sub *models.Subscription, now time.Time) (change, error) {
		if actorID != sub.SubscriberID && actorID != sub.CreatorID {
			return change{}, pkgerrors.New(pkgerrors.CodeForbidden, "subscription does not belong to user")
		}
		return planCancel(sub, reason, now)
	})
}

// Expire ends an ACTIVE or TRIAL subscription whose period is over.
func (s *service) Expire(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.apply(ctx, id, "subscription expired", func(sub *models.Subscription, now time.Time) (change, error) {
		if sub.EndDate == nil || !now.After(*sub.EndDate) {
			return change{}, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription period has not ended")
		}
		if sub.RenewalPaymentID != nil {
			return change{}, pkgerrors.New(pkgerrors.CodeStateConflict, "a renewal payment is in flight")
		}
		return planExpire(sub, now)
	})
}

func (s *service) ToggleAutoRenew(ctx context.Context, subscriberID, id uuid.UUID, enabled bool) (*models.Subscription, error) {
	return s.apply(ctx, id, "subscription auto-renew changed", func(sub *models.Subscription, now time.Time) (change, error) {
		if sub.SubscriberID != subscriberID {
			return change{}, pkgerrors.New(pkgerrors.CodeForbidden, "subscription does not belong to user")
		}
		if sub.Status.IsTerminal() {
			return change{}, invalidState(sub, "change auto-renew on")
		}
		if sub.AutoRenew == enabled {
			return change{noop: true}, nil
		}
		return change{to: sub.Status, fields: map[string]any{"auto_renew": enabled}}, nil
	})
}

// Renew runs one scheduler task: it claims the subscription, creates the
// renewal payment in the same transaction and charges it. Settlement applies
// the renew or expire transition.
func (s *service) Renew(ctx context.Context, id uuid.UUID) (*RenewalResult, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ctx = s.logg.WithSubscriptionID(ctx, id.String())
	if sub.RenewalPaymentID != nil {
		return &RenewalResult{Outcome: OutcomeSkipped, Subscription: sub}, nil
	}

	var fundingType enums.FundingType
	switch {
	case IsDueForTrialConversion(*sub, now) && sub.AutoRenew:
		fundingType = enums.FundingSubscription
	case IsDueForTrialConversion(*sub, now), IsDueForExpiry(*sub, now):
		expired, err := s.expireClaimed(ctx, sub, now)
		if err != nil {
			return nil, err
		}
		return &RenewalResult{Outcome: OutcomeExpired, Subscription: expired}, nil
	case IsDueForRenewal(*sub, now):
		fundingType = enums.FundingSubscriptionRenewal
	default:
		return &RenewalResult{Outcome: OutcomeSkipped, Subscription: sub}, nil
	}

	amount, err := sub.Money()
	if err != nil {
		return nil, err
	}
	var payment *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.payments.CreateTx(ctx, tx, payments.CreateInput{
			PayerID:     sub.SubscriberID,
			PayeeID:     sub.CreatorID,
			FundingType: fundingType,
			FundingID:   sub.ID,
			Amount:      amount,
			Method:      sub.PaymentMethod,
			SourceRef:   derefString(sub.PaymentMethodRef),
			Description: "subscription renewal",
		})
		if err != nil {
			return err
		}
		claimed, err := s.repo.WithTx(tx).Claim(ctx, sub, created.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim renewal")
		}
		if !claimed {
			return invalidState(sub, "claim")
		}
		payment = created
		return nil
	})
	if err != nil {
		if pkgerrors.IsInvalidState(err) {
			s.logg.Warn(ctx, "renewal claim lost")
			return &RenewalResult{Outcome: OutcomeSkipped, Subscription: sub}, nil
		}
		return nil, err
	}

	charged, err := s.payments.Charge(ctx, payment.ID)
	if err != nil {
		if pkgerrors.IsGatewayTimeout(err) {
			return &RenewalResult{Outcome: OutcomePending, Subscription: sub, Payment: payment}, nil
		}
		return &RenewalResult{Outcome: OutcomeFailed, Subscription: sub, Payment: payment}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome := OutcomeExpired
	if charged.Status == enums.PaymentStatusCompleted {
		outcome = OutcomeRenewed
	}
	return &RenewalResult{Outcome: outcome, Subscription: current, Payment: charged}, nil
}

func (s *service) expireClaimed(ctx context.Context, sub *models.Subscription, now time.Time) (*models.Subscription, error) {
	c, err := planExpire(sub, now)
	if err != nil {
		return nil, err
	}
	var updated *models.Subscription
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = s.transition(ctx, s.repo.WithTx(tx), sub, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "subscription expired")
	return updated, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) ListForSubscriber(ctx context.Context, subscriberID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListForSubscriber(ctx, subscriberID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return &ListResult{Subscriptions: rows, NextCursor: next}, nil
}

func (s *service) ListForCreator(ctx context.Context, creatorID uuid.UUID, status *enums.SubscriptionStatus, params pagination.Params) (*ListResult, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *status))
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListForCreator(ctx, creatorID, status, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return &ListResult{Subscriptions: rows, NextCursor: next}, nil
}

func (s *service) ListDue(ctx context.Context, kind DueKind, limit int) ([]models.Subscription, error) {
	rows, err := s.repo.ListDue(ctx, kind, s.now(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}
	return rows, nil
}

// OnPaymentSettled runs inside the payment's settlement transaction. Stale
// settlements (the subscription moved on) are ignored so replays are safe.
func (s *service) OnPaymentSettled(ctx context.Context, tx *gorm.DB, settlement payments.Settlement) error {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByID(ctx, settlement.FundingID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription for payment not found")
	}
	now := s.now()
	paymentID := settlement.Payment.ID
	inFlight := sub.RenewalPaymentID != nil && *sub.RenewalPaymentID == paymentID
	succeeded := settlement.Outcome.Succeeded()

	var (
		c       change
		planErr error
	)
	switch {
	case settlement.Outcome == enums.SettlementRefunded:
		c, planErr = planRefund(sub, now)
	case sub.Status == enums.SubscriptionStatusPending && settlement.Payment.FundingType == enums.FundingSubscription:
		if succeeded {
			c, planErr = planActivate(sub, now)
		} else {
			c, planErr = planCancel(sub, ReasonPaymentFailed, now)
		}
	case !inFlight:
		c = change{noop: true}
	case sub.Status == enums.SubscriptionStatusTrial:
		if succeeded {
			c, planErr = planConvertTrial(sub, now)
		} else {
			c, planErr = planExpire(sub, now)
		}
	case sub.Status == enums.SubscriptionStatusActive:
		if succeeded {
			c, planErr = planRenew(sub, now)
		} else {
			c, planErr = planExpire(sub, now)
		}
	case succeeded:
		c = planHonourPaidPeriod(sub, now)
	default:
		c = change{to: sub.Status, fields: map[string]any{"renewal_payment_id": nil}}
	}
	if planErr != nil {
		return planErr
	}

	logCtx := s.logg.WithFields(s.logg.WithSubscriptionID(ctx, sub.ID.String()), map[string]any{
		"payment_id": paymentID.String(),
		"outcome":    settlement.Outcome,
		"from":       sub.Status,
	})
	if c.noop {
		s.logg.Debug(logCtx, "settlement does not affect subscription")
		return nil
	}
	updated, err := s.transition(ctx, repo, sub, c)
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(logCtx, "to", updated.Status), "subscription settled")
	return nil
}

// planRefund revokes access for the refunded period.
func planRefund(sub *models.Subscription, now time.Time) (change, error) {
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrial:
		c, err := planExpire(sub, now)
		if err != nil {
			return change{}, err
		}
		c.fields["cancellation_reason"] = ReasonRefunded
		return c, nil
	case enums.SubscriptionStatusCancelled:
		if sub.EndDate != nil && sub.EndDate.After(now) {
			return change{to: sub.Status, fields: map[string]any{"end_date": now}}, nil
		}
	}
	return change{noop: true}, nil
}

func (s *service) apply(ctx context.Context, id uuid.UUID, msg string, plan func(sub *models.Subscription, now time.Time) (change, error)) (*models.Subscription, error) {
	var updated *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		c, err := plan(sub, s.now())
		if err != nil {
			return err
		}
		if c.noop {
			updated = sub
			return nil
		}
		updated, err = s.transition(ctx, repo, sub, c)
		return err
	})
	logCtx := s.logg.WithSubscriptionID(ctx, id.String())
	if err != nil {
		if pkgerrors.IsInvalidState(err) {
			s.logg.Warn(logCtx, "subscription transition rejected")
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithField(logCtx, "status", updated.Status), msg)
	return updated, nil
}

func (s *service) transition(ctx context.Context, repo Repository, sub *models.Subscription, c change) (*models.Subscription, error) {
	swapped, err := repo.Transition(ctx, sub, c.to, c.fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}
	if !swapped {
		return nil, invalidState(sub, "update")
	}
	updated, err := repo.FindByID(ctx, sub.ID)
	if err != nil || updated == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
	}
	return updated, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
