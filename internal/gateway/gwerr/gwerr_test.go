package gwerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeUnknownModel, "unknown model %q", "nope")
	if CodeOf(err) != CodeUnknownModel {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}

	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("plain error produced a code")
	}
	if CodeOf(nil) != "" {
		t.Fatal("nil error produced a code")
	}
}

func TestCodeOfUnwrapsNestedErrors(t *testing.T) {
	inner := New(CodeInsufficientCredits, "no credits")
	outer := fmt.Errorf("pipeline: %w", inner)

	if !Is(outer, CodeInsufficientCredits) {
		t.Fatal("wrapped gateway error not recognized")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeProviderError, cause, "anthropic: call failed")

	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
}

func TestProviderCarriesUpstreamStatus(t *testing.T) {
	err := Provider(http.StatusServiceUnavailable, "openai: overloaded")
	if err.UpstreamStatus != http.StatusServiceUnavailable {
		t.Fatalf("UpstreamStatus = %d", err.UpstreamStatus)
	}
	if err.Code != CodeProviderError {
		t.Fatalf("Code = %q", err.Code)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeUnknownModel, http.StatusNotFound},
		{CodeInactiveModel, http.StatusBadRequest},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInsufficientCredits, http.StatusPaymentRequired},
		{CodeProviderError, http.StatusBadGateway},
		{CodePersistenceError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := HTTPStatus(New(tc.code, "x")); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}

	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain) = %d, want 500", got)
	}
}
