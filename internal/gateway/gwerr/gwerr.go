// Package gwerr defines the gateway's error taxonomy. Every caller-visible
// failure is one of these codes; anything else escaping the pipeline is a
// programming error.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a gateway failure.
type Code string

const (
	CodeInvalidRequest      Code = "invalid_request"
	CodeUnknownModel        Code = "unknown_model"
	CodeInactiveModel       Code = "inactive_model"
	CodeRateLimited         Code = "rate_limited"
	CodeInsufficientCredits Code = "insufficient_credits"
	CodeProviderError       Code = "provider_error"
	CodeTranscodingError    Code = "transcoding_error"
	CodePersistenceError    Code = "persistence_error"
)

// Error is a categorized gateway failure. UpstreamStatus is only set for
// provider errors.
type Error struct {
	Code           Code
	Message        string
	UpstreamStatus int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Provider creates a provider error carrying the upstream HTTP status.
func Provider(status int, format string, args ...interface{}) *Error {
	return &Error{Code: CodeProviderError, Message: fmt.Sprintf(format, args...), UpstreamStatus: status}
}

// CodeOf extracts the Code from err, or empty when err is not a gateway error.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the status the gateway answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidRequest, CodeInactiveModel:
		return http.StatusBadRequest
	case CodeUnknownModel:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
