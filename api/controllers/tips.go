package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/api/validators"
	"github.com/angelmondragon/creatorpay-backend/internal/tips"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

type sendTipRequest struct {
	CreatorID     uuid.UUID `json:"creator_id" validate:"required"`
	Amount        string    `json:"amount" validate:"required,decimal"`
	Currency      string    `json:"currency,omitempty" validate:"omitempty,currency"`
	Message       string    `json:"message,omitempty" validate:"omitempty,max=500"`
	Anonymous     bool      `json:"anonymous"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
	PaymentSource string    `json:"payment_source,omitempty" validate:"omitempty,max=255"`
}

type sendTipResponse struct {
	Tip     tipDTO      `json:"tip"`
	Payment *paymentDTO `json:"payment,omitempty"`
}

func SendTip(svc tips.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body sendTipRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(body.Amount, body.Currency, "amount")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := parsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SendTip(r.Context(), tips.SendTipInput{
			SenderID:      senderID,
			CreatorID:     body.CreatorID,
			Amount:        amount,
			Message:       body.Message,
			Anonymous:     body.Anonymous,
			Method:        method,
			PaymentSource: strings.TrimSpace(body.PaymentSource),
			IPAddress:     requestIP(r),
			UserAgent:     userAgent(r),
		})
		var payload any
		if result != nil && result.Tip != nil {
			payload = sendTipResponse{
				Tip:     toTipDTO(*result.Tip),
				Payment: toPaymentDTO(result.Payment),
			}
		}
		writeCharge(r.Context(), logg, w, payload, err)
	}
}

// ListReceivedTips lists completed tips for the calling creator.
func ListReceivedTips(svc tips.Service, logg *logger.Logger) http.HandlerFunc {
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
		list, next, err := svc.ListReceived(r.Context(), creatorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pageDTO[receivedTipDTO]{
			Items:      mapItems(list, toReceivedTipDTO),
			NextCursor: next,
		})
	}
}
