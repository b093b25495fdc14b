package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/internal/access"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
)

type accessDTO struct {
	ContentID uuid.UUID     `json:"content_id"`
	Allowed   bool          `json:"allowed"`
	Reason    access.Reason `json:"reason"`
}

func ContentAccess(evaluator access.Evaluator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID, err := actorID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		contentID, err := pathUUID(r, "contentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := evaluator.Evaluate(r.Context(), viewerID, contentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accessDTO{ContentID: contentID, Allowed: decision.Allowed, Reason: decision.Reason})
	}
}
