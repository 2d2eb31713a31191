package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidEvent:         http.StatusBadRequest,
		CodeUnauthorized:         http.StatusUnauthorized,
		CodeLedgerUnavailable:    http.StatusInternalServerError,
		CodeConfigurationMissing: http.StatusInternalServerError,
		CodeNotifierFailure:      http.StatusBadGateway,
		CodeRateLimit:            http.StatusTooManyRequests,
	}
	for code, status := range cases {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Fatalf("%s: expected status %d, got %d", code, status, got)
		}
	}
	if got := MetadataFor(Code("nope")).HTTPStatus; got != http.StatusInternalServerError {
		t.Fatalf("unknown code should fall back to internal, got %d", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("sheet offline")
	err := Wrap(CodeLedgerUnavailable, cause, "read ledger")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	wrapped := fmt.Errorf("ingest: %w", err)
	typed := As(wrapped)
	if typed == nil || typed.Code() != CodeLedgerUnavailable {
		t.Fatalf("expected typed error from chain, got %v", typed)
	}
}

func TestHasCodeWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeInvalidEvent, "email required")
	outer := Wrap(CodeInternal, inner, "handle event")
	if !HasCode(outer, CodeInvalidEvent) {
		t.Fatalf("expected nested code to be found")
	}
	if HasCode(outer, CodeUnauthorized) {
		t.Fatalf("unexpected code match")
	}
	if HasCode(nil, CodeInternal) {
		t.Fatalf("nil error must not match")
	}
}
