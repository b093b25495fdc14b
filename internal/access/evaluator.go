package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

type ContentCatalog interface {
	Get(ctx context.Context, contentID uuid.UUID) (*models.ContentRef, error)
}

type SocialGraph interface {
	IsBlocked(ctx context.Context, creatorID, userID uuid.UUID) (bool, error)
}

type SubscriptionReader interface {
	ListEntitling(ctx context.Context, subscriberID, creatorID uuid.UUID) ([]models.Subscription, error)
}

type PurchaseReader interface {
	FindAccessible(ctx context.Context, buyerID, contentID uuid.UUID) (*models.ContentPurchase, error)
}

// Reason names the rule that decided an access check.
type Reason string

const (
	ReasonPublic       Reason = "public"
	ReasonOwner        Reason = "owner"
	ReasonBlocked      Reason = "blocked"
	ReasonSubscription Reason = "subscription"
	ReasonPurchase     Reason = "purchase"
	ReasonNoEntitled   Reason = "not_entitled"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

type Evaluator interface {
	CanView(ctx context.Context, viewerID, contentID uuid.UUID) (bool, error)
	Evaluate(ctx context.Context, viewerID, contentID uuid.UUID) (Decision, error)
}

type Params struct {
	Content       ContentCatalog
	Blocks        SocialGraph
	Subscriptions SubscriptionReader
	Purchases     PurchaseReader
	GraceWindow   time.Duration
	Logger        *logger.Logger
	Now           func() time.Time
}

type evaluator struct {
	content ContentCatalog
	blocks  SocialGraph
	subs    SubscriptionReader
	buys    PurchaseReader
	grace   time.Duration
	logg    *logger.Logger
	now     func() time.Time
}

func NewEvaluator(params Params) (Evaluator, error) {
	if params.Content == nil {
		return nil, fmt.Errorf("content catalog required")
	}
	if params.Blocks == nil {
		return nil, fmt.Errorf("social graph required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription reader required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase reader required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &evaluator{
		content: params.Content,
		blocks:  params.Blocks,
		subs:    params.Subscriptions,
		buys:    params.Purchases,
		grace:   params.GraceWindow,
		logg:    params.Logger,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

func (e *evaluator) CanView(ctx context.Context, viewerID, contentID uuid.UUID) (bool, error) {
	decision, err := e.Evaluate(ctx, viewerID, contentID)
	return decision.Allowed, err
}

// Evaluate checks the cheap rules (public, owner, block) before touching the
// subscription and purchase ledgers.
func (e *evaluator) Evaluate(ctx context.Context, viewerID, contentID uuid.UUID) (Decision, error) {
	content, err := e.content.Get(ctx, contentID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load content")
	}
	if content == nil {
		return Decision{}, pkgerrors.New(pkgerrors.CodeNotFound, "content not found")
	}
	if content.IsPublic {
		return Decision{Allowed: true, Reason: ReasonPublic}, nil
	}
	if viewerID == uuid.Nil {
		return Decision{Reason: ReasonNoEntitled}, nil
	}
	if viewerID == content.CreatorID {
		return Decision{Allowed: true, Reason: ReasonOwner}, nil
	}

	blocked, err := e.blocks.IsBlocked(ctx, content.CreatorID, viewerID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check block")
	}
	if blocked {
		return Decision{Reason: ReasonBlocked}, nil
	}

	now := e.now()
	subs, err := e.subs.ListEntitling(ctx, viewerID, content.CreatorID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscriptions")
	}
	for _, sub := range subs {
		if SubscriptionGrants(sub, content.RequiredTierID, now, e.grace) {
			return Decision{Allowed: true, Reason: ReasonSubscription}, nil
		}
	}

	purchase, err := e.buys.FindAccessible(ctx, viewerID, content.ID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
	}
	if purchase != nil {
		return Decision{Allowed: true, Reason: ReasonPurchase}, nil
	}

	e.logg.Debug(e.logg.WithFields(ctx, map[string]any{
		"content_id": contentID.String(),
		"viewer_id":  viewerID.String(),
	}), "access denied")
	return Decision{Reason: ReasonNoEntitled}, nil
}

// SubscriptionGrants decides from dates rather than status alone, since the
// scheduler may not have expired a lapsed subscription yet. ACTIVE and TRIAL
// get a grace window past endDate; CANCELLED runs exactly to endDate. A nil
// endDate is a lifetime period.
func SubscriptionGrants(sub models.Subscription, requiredTierID *uuid.UUID, now time.Time, grace time.Duration) bool {
	if requiredTierID != nil && sub.TierID != *requiredTierID {
		return false
	}
	if sub.StartDate == nil {
		return false
	}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrial:
		return sub.EndDate == nil || now.Before(sub.EndDate.Add(grace))
	case enums.SubscriptionStatusCancelled:
		return sub.EndDate == nil || now.Before(*sub.EndDate)
	default:
		return false
	}
}
