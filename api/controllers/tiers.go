package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/api/validators"
	"github.com/angelmondragon/creatorpay-backend/internal/tiers"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

type createTierRequest struct {
	Name            string   `json:"name" validate:"required,min=1,max=100"`
	Description     *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	WelcomeMessage  *string  `json:"welcome_message,omitempty" validate:"omitempty,max=2000"`
	Price           string   `json:"price" validate:"required,decimal"`
	Currency        string   `json:"currency,omitempty" validate:"omitempty,currency"`
	BillingPeriod   string   `json:"billing_period" validate:"required"`
	TrialDays       int      `json:"trial_days" validate:"min=0,max=365"`
	Benefits        []string `json:"benefits,omitempty" validate:"omitempty,max=50,dive,min=1,max=200"`
	SortOrder       int      `json:"sort_order"`
	DiscountPercent int      `json:"discount_percent" validate:"min=0,max=100"`
}

func (r createTierRequest) toInput() (tiers.CreateTierInput, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		return tiers.CreateTierInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "price must be a decimal amount").
			WithDetails(map[string]any{"field": "price"})
	}
	period, err := enums.ParseBillingPeriod(strings.ToUpper(strings.TrimSpace(r.BillingPeriod)))
	if err != nil {
		return tiers.CreateTierInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing_period").
			WithDetails(map[string]any{"field": "billing_period"})
	}
	currency := strings.ToUpper(strings.TrimSpace(r.Currency))
	if currency == "" {
		currency = "USD"
	}
	return tiers.CreateTierInput{
		Name:            validators.SanitizeString(r.Name, 100),
		Description:     r.Description,
		WelcomeMessage:  r.WelcomeMessage,
		Price:           price,
		Currency:        currency,
		BillingPeriod:   period,
		TrialDays:       r.TrialDays,
		Benefits:        r.Benefits,
		SortOrder:       r.SortOrder,
		DiscountPercent: r.DiscountPercent,
	}, nil
}

type updateTierRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description     *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	WelcomeMessage  *string `json:"welcome_message,omitempty" validate:"omitempty,max=2000"`
	SortOrder       *int    `json:"sort_order,omitempty"`
	DiscountPercent *int    `json:"discount_percent,omitempty" validate:"omitempty,min=0,max=100"`
	TrialDays       *int    `json:"trial_days,omitempty" validate:"omitempty,min=0,max=365"`
}

type benefitRequest struct {
	Benefit string `json:"benefit" validate:"required,min=1,max=200"`
}

// CreateTier creates a tier owned by the caller.
func CreateTier(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createTierRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := svc.CreateTier(r.Context(), creatorID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toTierDTO(*tier))
	}
}

// ListCreatorTiers is public: anyone browsing a creator sees the available tiers.
func ListCreatorTiers(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, err := pathUUID(r, "creatorID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAvailable(r.Context(), creatorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapItems(list, toTierDTO))
	}
}

func UpdateTier(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, tierID, err := tierScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateTierRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := svc.UpdateTier(r.Context(), creatorID, tierID, tiers.UpdateTierInput{
			Name:            body.Name,
			Description:     body.Description,
			WelcomeMessage:  body.WelcomeMessage,
			SortOrder:       body.SortOrder,
			DiscountPercent: body.DiscountPercent,
			TrialDays:       body.TrialDays,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTierDTO(*tier))
	}
}

type uuidPair struct {
	creator uuid.UUID
	tier    uuid.UUID
}

func tierScope(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	creatorID, err := actorID(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	tierID, err := pathUUID(r, "tierID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return creatorID, tierID, nil
}

func tierTransition(logg *logger.Logger, fn func(*http.Request, uuidPair) (*models.SubscriptionTier, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, tierID, err := tierScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := fn(r, uuidPair{creator: creatorID, tier: tierID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTierDTO(*tier))
	}
}

func DeactivateTier(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return tierTransition(logg, func(r *http.Request, ids uuidPair) (*models.SubscriptionTier, error) {
		return svc.Deactivate(r.Context(), ids.creator, ids.tier)
	})
}

func ReactivateTier(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return tierTransition(logg, func(r *http.Request, ids uuidPair) (*models.SubscriptionTier, error) {
		return svc.Reactivate(r.Context(), ids.creator, ids.tier)
	})
}

func AddTierBenefit(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return tierTransition(logg, func(r *http.Request, ids uuidPair) (*models.SubscriptionTier, error) {
		var body benefitRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			return nil, err
		}
		return svc.AddBenefit(r.Context(), ids.creator, ids.tier, body.Benefit)
	})
}

func RemoveTierBenefit(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return tierTransition(logg, func(r *http.Request, ids uuidPair) (*models.SubscriptionTier, error) {
		benefit := strings.TrimSpace(r.URL.Query().Get("benefit"))
		if benefit == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "benefit query parameter required")
		}
		return svc.RemoveBenefit(r.Context(), ids.creator, ids.tier, benefit)
	})
}

func DeleteTier(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, tierID, err := tierScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SoftDelete(r.Context(), creatorID, tierID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func TierStats(svc tiers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, tierID, err := tierScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), creatorID, tierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTierStatsDTO(stats))
	}
}
