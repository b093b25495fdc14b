package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible classification of a failure.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// money and gateway failures
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeGatewayTimeout      Code = "GATEWAY_TIMEOUT"
	CodeCurrencyMismatch    Code = "CURRENCY_MISMATCH"
)

// Metadata drives how a code is rendered over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, retryable bool, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: details}
}

// A currency mismatch is a programming error, so it renders like any other
// internal failure.
var metadataByCode = map[Code]Metadata{
	CodeValidation:          meta(http.StatusBadRequest, false, "validation failed", true),
	CodeUnauthorized:        meta(http.StatusUnauthorized, false, "authentication required", false),
	CodeForbidden:           meta(http.StatusForbidden, false, "access denied", false),
	CodeNotFound:            meta(http.StatusNotFound, false, "resource not found", false),
	CodeConflict:            meta(http.StatusConflict, false, "conflict detected", false),
	CodeStateConflict:       meta(http.StatusUnprocessableEntity, false, "state transition disallowed", true),
	CodeIdempotency:         meta(http.StatusConflict, false, "idempotency key reused", true),
	CodeRateLimit:           meta(http.StatusTooManyRequests, false, "rate limit exceeded", false),
	CodeInternal:            meta(http.StatusInternalServerError, true, "internal server error", false),
	CodeDependency:          meta(http.StatusServiceUnavailable, true, "dependency unavailable", true),
	CodeInsufficientBalance: meta(http.StatusUnprocessableEntity, false, "insufficient balance", true),
	CodeGatewayTimeout:      meta(http.StatusGatewayTimeout, true, "payment is still processing", true),
	CodeCurrencyMismatch:    meta(http.StatusInternalServerError, false, "internal server error", false),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. The message is for logs and, when the code allows
// details, for clients; the cause stays server side.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the client-visible details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, so a bare New(code, "") works as
// an errors.Is target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost coded error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// IsInvalidState reports a transition attempted from the wrong source state.
func IsInvalidState(err error) bool { return IsCode(err, CodeStateConflict) }

func IsNotFound(err error) bool            { return IsCode(err, CodeNotFound) }
func IsInsufficientBalance(err error) bool { return IsCode(err, CodeInsufficientBalance) }
func IsGatewayTimeout(err error) bool      { return IsCode(err, CodeGatewayTimeout) }
func IsCurrencyMismatch(err error) bool    { return IsCode(err, CodeCurrencyMismatch) }
