package square

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

const categoryPaymentMethod = "PAYMENT_METHOD_ERROR"

var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
	http.StatusGatewayTimeout:      pkgerrors.CodeGatewayTimeout,
}

func codeForStatus(status int) pkgerrors.Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// classify maps an SDK failure onto a pkg/errors code. Errors that never
// reached Square are dependency failures.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := "square " + strings.ReplaceAll(op, "_", " ") + " failed"
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, e := range apiErrors(apiErr) {
		if e.Code == sq.ErrorCodeIdempotencyKeyReused {
			code = pkgerrors.CodeIdempotency
			break
		}
		if e.Category == sq.ErrorCategoryAuthenticationError {
			code = pkgerrors.CodeUnauthorized
			break
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// DeclineReason reports whether err is Square refusing the payment method,
// as opposed to failing to process the request, and the first error code it
// gave.
func DeclineReason(err error) (string, bool) {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	declined := apiErr.StatusCode == http.StatusPaymentRequired
	reason := ""
	for _, e := range apiErrors(apiErr) {
		declined = declined || string(e.Category) == categoryPaymentMethod
		if reason == "" {
			reason = string(e.Code)
		}
	}
	switch {
	case !declined:
		return "", false
	case reason == "":
		return "declined", true
	}
	return reason, true
}

// apiErrors decodes the errors array Square puts in non-2xx bodies.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
