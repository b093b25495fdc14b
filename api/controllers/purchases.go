package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/api/validators"
	"github.com/angelmondragon/creatorpay-backend/internal/purchases"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/money"
)

type purchaseRequest struct {
	ContentID     uuid.UUID  `json:"content_id" validate:"required"`
	Price         string     `json:"price" validate:"required,decimal"`
	Currency      string     `json:"currency,omitempty" validate:"omitempty,currency"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PaymentMethod string     `json:"payment_method" validate:"required"`
	PaymentSource string     `json:"payment_source,omitempty" validate:"omitempty,max=255"`
}

type purchaseResponse struct {
	Purchase purchaseDTO `json:"purchase"`
	Payment  *paymentDTO `json:"payment,omitempty"`
}

func parseAmount(raw, currency, field string) (money.Money, error) {
	if strings.TrimSpace(currency) == "" {
		currency = "USD"
	}
	m, err := money.Parse(raw, currency)
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field).
			WithDetails(map[string]any{"field": field})
	}
	return m, nil
}

func PurchaseContent(svc purchases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body purchaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		price, err := parseAmount(body.Price, body.Currency, "price")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := parsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Purchase(r.Context(), purchases.PurchaseInput{
			BuyerID:       buyerID,
			ContentID:     body.ContentID,
			Price:         price,
			ExpiresAt:     body.ExpiresAt,
			Method:        method,
			PaymentSource: strings.TrimSpace(body.PaymentSource),
			IPAddress:     requestIP(r),
			UserAgent:     userAgent(r),
		})
		var payload any
		if result != nil && result.Purchase != nil {
			payload = purchaseResponse{
				Purchase: toPurchaseDTO(*result.Purchase),
				Payment:  toPaymentDTO(result.Payment),
			}
		}
		writeCharge(r.Context(), logg, w, payload, err)
	}
}
