package controllers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/api/middleware"
	"github.com/angelmondragon/creatorpay-backend/api/responses"
	"github.com/angelmondragon/creatorpay-backend/api/validators"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/pagination"
)

func actorID(ctx context.Context) (uuid.UUID, error) {
	id, ok := middleware.ActorID(ctx)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

// requestIP mirrors the rate limiter: first X-Forwarded-For hop, then RemoteAddr.
func requestIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		if first := strings.TrimSpace(strings.Split(header, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func userAgent(r *http.Request) string {
	return validators.SanitizeString(r.UserAgent(), 512)
}

// writeCharge answers a create-and-charge call. A gateway timeout that still
// produced records is 202: the payment stays PENDING until reconciliation.
func writeCharge(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, body any, err error) {
	if err != nil {
		typed := pkgerrors.As(err)
		if body != nil && typed != nil && typed.Code() == pkgerrors.CodeGatewayTimeout {
			if logg != nil {
				logg.Warn(ctx, "charge outcome unknown, payment left pending")
			}
			responses.WriteSuccessStatus(w, http.StatusAccepted, body)
			return
		}
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusCreated, body)
}
