package tiers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
	maxTrialDays         = 365
	maxBenefitLength     = 255
)

// Service is the tier catalog. Only a tier's creator may change it; none of
// its mutations reach subscriptions already opened on the tier.
type Service interface {
	CreateTier(ctx context.Context, creatorID uuid.UUID, input CreateTierInput) (*models.SubscriptionTier, error)
	UpdateTier(ctx context.Context, creatorID, tierID uuid.UUID, input UpdateTierInput) (*models.SubscriptionTier, error)
	Deactivate(ctx context.Context, creatorID, tierID uuid.UUID) (*models.SubscriptionTier, error)
	Reactivate(ctx context.Context, creatorID, tierID uuid.UUID) (*models.SubscriptionTier, error)
	SoftDelete(ctx context.Context, creatorID, tierID uuid.UUID) error
	AddBenefit(ctx context.Context, creatorID, tierID uuid.UUID, benefit string) (*models.SubscriptionTier, error)
	RemoveBenefit(ctx context.Context, creatorID, tierID uuid.UUID, benefit string) (*models.SubscriptionTier, error)
	Get(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error)
	ListAvailable(ctx context.Context, creatorID uuid.UUID) ([]models.SubscriptionTier, error)
	Stats(ctx context.Context, creatorID, tierID uuid.UUID) (*Stats, error)
}

type CreateTierInput struct {
	Name            string
	Description     *string
	WelcomeMessage  *string
	Price           decimal.Decimal
	Currency        string
	BillingPeriod   enums.BillingPeriod
	TrialDays       int
	Benefits        []string
	SortOrder       int
	DiscountPercent int
}

// UpdateTierInput carries optional changes. Price and billing period are not
// editable; a new tier is the way to reprice.
type UpdateTierInput struct {
	Name            *string
	Description     *string
	WelcomeMessage  *string
	SortOrder       *int
	DiscountPercent *int
	TrialDays       *int
}

// Stats is computed from the subscription and payment indexes on demand.
type Stats struct {
	TierID            uuid.UUID
	ActiveSubscribers int64
	Revenue           money.Money
}

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tier repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, logg: params.Logger, now: now}, nil
}

// DiscountedPrice is the price a new subscriber pays on the tier.
func DiscountedPrice(tier models.SubscriptionTier) (money.Money, error) {
	return tier.DiscountedPrice()
}

func (s *service) CreateTier(ctx context.Context, creatorID uuid.UUID, input CreateTierInput) (*models.SubscriptionTier, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator_id is required")
	}
	price, err := money.New(input.Price, input.Currency)
	if err != nil {
		return nil, err
	}
	if price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if !input.BillingPeriod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing period %q", input.BillingPeriod))
	}
	sortOrder := input.SortOrder
	if sortOrder == 0 {
		sortOrder = 1
	}

	tier := &models.SubscriptionTier{
		CreatorID:       creatorID,
		Name:            strings.TrimSpace(input.Name),
		Description:     trimmed(input.Description),
		WelcomeMessage:  trimmed(input.WelcomeMessage),
		PriceAmount:     price.Amount(),
		Currency:        price.Currency(),
		BillingPeriod:   input.BillingPeriod,
		TrialDays:       input.TrialDays,
		SortOrder:       sortOrder,
		DiscountPercent: input.DiscountPercent,
		IsActive:        true,
	}
	for _, benefit := range input.Benefits {
		if benefit = strings.TrimSpace(benefit); benefit != "" {
			tier.Benefits = append(tier.Benefits, benefit)
		}
	}
	if err := validateTier(tier); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, tier); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert tier")
	}

	logCtx := s.logg.WithFields(s.logg.WithCreatorID(ctx, creatorID.String()), map[string]any{
		"tier_id":        tier.ID.String(),
		"billing_period": tier.BillingPeriod,
	})
	s.logg.Info(logCtx, "tier created")
	return tier, nil
}

func (s *service) UpdateTier(ctx context.Context, creatorID, tierID uuid.UUID, input UpdateTierInput) (*models.SubscriptionTier, error) {
	return s.mutate(ctx, creatorID, tierID, "tier updated", func(tier *models.SubscriptionTier) error {
		if tier.DeletedAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "tier is deleted")
		}
		if input.Name != nil {
			tier.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			tier.Description = trimmed(input.Description)
		}
		if input.WelcomeMessage != nil {
			tier.WelcomeMessage = trimmed(input.WelcomeMessage)
		}
		if input.SortOrder != nil {
			tier.SortOrder = *input.SortOrder
		}
		if input.DiscountPercent != nil {
			tier.DiscountPercent = *input.DiscountPercent
		}
		if input.TrialDays != nil {
			tier.TrialDays = *input.TrialDays
		}
		return validateTier(tier)
	})
}

func (s *service) Deactivate(ctx context.Context, creatorID, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	return s.mutate(ctx, creatorID, tierID, "tier deactivated", func(tier *models.SubscriptionTier) error {
		tier.IsActive = false
		return nil
	})
}

func (s *service) Reactivate(ctx context.Context, creatorID, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	return s.mutate(ctx, creatorID, tierID, "tier reactivated", func(tier *models.SubscriptionTier) error {
		if tier.DeletedAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "deleted tiers cannot be reactivated")
		}
		tier.IsActive = true
		return nil
	})
}

// SoftDelete hides the tier for good. Subscriptions keep their reference.
func (s *service) SoftDelete(ctx context.Context, creatorID, tierID uuid.UUID) error {
	_, err := s.mutate(ctx, creatorID, tierID, "tier deleted", func(tier *models.SubscriptionTier) error {
		if tier.DeletedAt == nil {
			deletedAt := s.now().UTC()
			tier.DeletedAt = &deletedAt
		}
		tier.IsActive = false
		return nil
	})
	return err
}

func (s *service) AddBenefit(ctx context.Context, creatorID, tierID uuid.UUID, benefit string) (*models.SubscriptionTier, error) {
	benefit = strings.TrimSpace(benefit)
	if benefit == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "benefit is required")
	}
	return s.mutate(ctx, creatorID, tierID, "tier benefit added", func(tier *models.SubscriptionTier) error {
		for _, existing := range tier.Benefits {
			if existing == benefit {
				return nil
			}
		}
		tier.Benefits = append(tier.Benefits, benefit)
		return validateTier(tier)
	})
}

func (s *service) RemoveBenefit(ctx context.Context, creatorID, tierID uuid.UUID, benefit string) (*models.SubscriptionTier, error) {
	benefit = strings.TrimSpace(benefit)
	return s.mutate(ctx, creatorID, tierID, "tier benefit removed", func(tier *models.SubscriptionTier) error {
		kept := tier.Benefits[:0]
		for _, existing := range tier.Benefits {
			if existing != benefit {
				kept = append(kept, existing)
			}
		}
		tier.Benefits = kept
		return nil
	})
}

func (s *service) Get(ctx context.Context, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	tier, err := s.repo.FindByID(ctx, tierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tier")
	}
	if tier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tier not found")
	}
	return tier, nil
}

func (s *service) ListAvailable(ctx context.Context, creatorID uuid.UUID) ([]models.SubscriptionTier, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator_id is required")
	}
	rows, err := s.repo.ListAvailable(ctx, creatorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tiers")
	}
	return rows, nil
}

func (s *service) Stats(ctx context.Context, creatorID, tierID uuid.UUID) (*Stats, error) {
	tier, err := s.owned(ctx, creatorID, tierID)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountActiveSubscribers(ctx, tierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count subscribers")
	}
	total, err := s.repo.SumCompletedRevenue(ctx, tierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum tier revenue")
	}
	revenue, err := money.New(total, tier.Currency)
	if err != nil {
		return nil, err
	}
	return &Stats{TierID: tierID, ActiveSubscribers: count, Revenue: revenue}, nil
}

func (s *service) owned(ctx context.Context, creatorID, tierID uuid.UUID) (*models.SubscriptionTier, error) {
	tier, err := s.Get(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier.CreatorID != creatorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "tier does not belong to creator")
	}
	return tier, nil
}

func (s *service) mutate(ctx context.Context, creatorID, tierID uuid.UUID, msg string, apply func(tier *models.SubscriptionTier) error) (*models.SubscriptionTier, error) {
	tier, err := s.owned(ctx, creatorID, tierID)
	if err != nil {
		return nil, err
	}
	if err := apply(tier); err != nil {
		return nil, err
	}
	tier.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, tier); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update tier")
	}
	logCtx := s.logg.WithFields(s.logg.WithCreatorID(ctx, creatorID.String()), map[string]any{
		"tier_id":   tier.ID.String(),
		"is_active": tier.IsActive,
	})
	s.logg.Info(logCtx, msg)
	return tier, nil
}

func validateTier(tier *models.SubscriptionTier) error {
	switch {
	case tier.Name == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	case utf8.RuneCountInString(tier.Name) > maxNameLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	case tier.Description != nil && utf8.RuneCountInString(*tier.Description) > maxDescriptionLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	case tier.DiscountPercent < 0 || tier.DiscountPercent > 100:
		return pkgerrors.New(pkgerrors.CodeValidation, "discount_percent must be between 0 and 100")
	case tier.TrialDays < 0 || tier.TrialDays > maxTrialDays:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("trial_days must be between 0 and %d", maxTrialDays))
	case tier.SortOrder < 1:
		return pkgerrors.New(pkgerrors.CodeValidation, "sort_order must be at least 1")
	}
	for _, benefit := range tier.Benefits {
		if utf8.RuneCountInString(benefit) > maxBenefitLength {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("benefits must be at most %d characters", maxBenefitLength))
		}
	}
	return nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
