package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeInsufficientBalance, status: http.StatusUnprocessableEntity, publicMsg: "insufficient balance", detailsOK: true},
		{code: CodeGatewayTimeout, status: http.StatusGatewayTimeout, publicMsg: "payment is still processing", retryable: true, detailsOK: true},
		{code: CodeCurrencyMismatch, status: http.StatusInternalServerError, publicMsg: "internal server error"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestPredicatesFollowWrappedChain(t *testing.T) {
	inner := New(CodeStateConflict, "payment is not pending")
	outer := fmt.Errorf("settle: %w", inner)

	if !IsInvalidState(outer) {
		t.Fatalf("expected invalid state through wrap")
	}
	if IsValidation(outer) || IsGatewayTimeout(outer) {
		t.Fatalf("unexpected predicate match")
	}
	if IsCurrencyMismatch(stdErrors.New("plain")) {
		t.Fatalf("plain errors should never match")
	}
	if !IsInsufficientBalance(New(CodeInsufficientBalance, "short")) {
		t.Fatalf("expected insufficient balance")
	}
}

func TestDumpClassifiesChain(t *testing.T) {
	err := Wrap(CodeGatewayTimeout, context.DeadlineExceeded, "charge timed out")
	d := Dump(fmt.Errorf("wrap: %w", err))
	if d.Code != CodeGatewayTimeout || !d.Retryable || !d.Timeout {
		t.Fatalf("unexpected dump %+v", d)
	}
	if d.Canceled {
		t.Fatalf("deadline is not a cancellation")
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected three chain entries, got %d", len(d.Chain))
	}

	fields := d.Fields()
	if fields["timeout"] != true || fields["error_code"] != string(CodeGatewayTimeout) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("empty postgres fields should be omitted")
	}
}

func TestDumpReadsPostgresErrors(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Constraint: "ux_subscriptions_open", Table: "subscriptions"}
	d := Dump(Wrap(CodeConflict, pgErr, "already subscribed"))
	if d.PGCode != "23505" || d.PGConstraint != "ux_subscriptions_open" {
		t.Fatalf("unexpected dump %+v", d)
	}
	fields := d.Fields()
	if fields["pg_table"] != "subscriptions" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["error_chain"]; !ok {
		t.Fatalf("wrapped errors should log their chain")
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("load tier: %w", Newf(CodeNotFound, "tier %d not found", 7))
	if !stdErrors.Is(err, New(CodeNotFound, "")) {
		t.Fatalf("expected code match through wrap")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatalf("different codes must not match")
	}
	if got := As(err).Message(); got != "tier 7 not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if Wrap(CodeInternal, nil, "x").Unwrap() != nil {
		t.Fatalf("nil cause should stay nil")
	}
}
