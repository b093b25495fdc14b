package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/api/validators"
	"github.com/angelmondragon/creatorpay-backend/internal/subscriptions"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

type subscribeRequest struct {
	TierID        uuid.UUID `json:"tier_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
	PaymentSource string    `json:"payment_source,omitempty" validate:"omitempty,max=255"`
	AutoRenew     *bool     `json:"auto_renew,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type autoRenewRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type subscribeResponse struct {
	Subscription subscriptionDTO `json:"subscription"`
	Payment      *paymentDTO     `json:"payment,omitempty"`
}

func parsePaymentMethod(raw string) (enums.PaymentMethod, error) {
	method, err := enums.ParsePaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_method").
			WithDetails(map[string]any{"field": "payment_method"})
	}
	return method, nil
}

// Subscribe creates a subscription for the caller and charges the first period
// unless the tier has a trial.
func Subscribe(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriberID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body subscribeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := parsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Subscribe(r.Context(), subscriptions.SubscribeInput{
			SubscriberID:  subscriberID,
			TierID:        body.TierID,
			Method:        method,
			PaymentSource: strings.TrimSpace(body.PaymentSource),
			AutoRenew:     body.AutoRenew,
			IPAddress:     requestIP(r),
			UserAgent:     userAgent(r),
		})
		var payload any
		if result != nil && result.Subscription != nil {
			payload = subscribeResponse{
				Subscription: toSubscriptionDTO(*result.Subscription),
				Payment:      toPaymentDTO(result.Payment),
			}
		}
		writeCharge(r.Context(), logg, w, payload, err)
	}
}

func ListMySubscriptions(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriberID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForSubscriber(r.Context(), subscriberID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pageDTO[subscriptionDTO]{
			Items:      mapItems(list.Subscriptions, toSubscriptionDTO),
			NextCursor: list.NextCursor,
		})
	}
}

// ListMySubscribers pages the calling creator's subscriptions, optionally
// narrowed with ?status=.
func ListMySubscribers(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var status *enums.SubscriptionStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseSubscriptionStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = &parsed
		}
		list, err := svc.ListForCreator(r.Context(), creatorID, status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pageDTO[subscriptionDTO]{
			Items:      mapItems(list.Subscriptions, toSubscriptionDTO),
			NextCursor: list.NextCursor,
		})
	}
}

// CancelSubscription accepts the subscriber or the creator as actor.
func CancelSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		sub, err := svc.Cancel(r.Context(), actor, id, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSubscriptionDTO(*sub))
	}
}

func ToggleAutoRenew(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriberID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body autoRenewRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.ToggleAutoRenew(r.Context(), subscriberID, id, *body.Enabled)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSubscriptionDTO(*sub))
	}
}
