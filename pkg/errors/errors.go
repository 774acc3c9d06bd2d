package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tendant/simple-mfa/pkg/mfa"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// MFA errors
	ErrCodeNoAvailableMethod ErrorCode = "NO_AVAILABLE_METHOD"
	ErrCodeNoActiveChallenge ErrorCode = "NO_ACTIVE_CHALLENGE"
	ErrCodeStepFailed        ErrorCode = "STEP_FAILED"
	ErrCodeMalformedProof    ErrorCode = "MALFORMED_PROOF"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// FromMfa classifies an error returned by mfa.MfaService. Messages never
// say which factor failed beyond the method id.
func FromMfa(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var stepErr *mfa.StepError
	switch {
	case errors.As(err, &stepErr):
		return Wrap(err, ErrCodeStepFailed, "verification failed").WithDetail("method", string(stepErr.Method))
	case errors.Is(err, mfa.ErrNoAvailableMethod):
		return Wrap(err, ErrCodeNoAvailableMethod, "no verification method available")
	case errors.Is(err, mfa.ErrNoActiveChallenge):
		return Wrap(err, ErrCodeNoActiveChallenge, "no active challenge")
	case errors.Is(err, mfa.ErrMalformedProof):
		return Wrap(err, ErrCodeMalformedProof, "proof does not match a pending step")
	case errors.Is(err, mfa.ErrRateLimited):
		return Wrap(err, ErrCodeRateLimitExceeded, "too many attempts")
	case errors.Is(err, mfa.ErrVersionConflict):
		return Wrap(err, ErrCodeConflict, "challenge changed concurrently, retry")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "request timed out")
	default:
		return Wrap(err, ErrCodeInternal, "internal error")
	}
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeMalformedProof:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeStepFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNoActiveChallenge:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNoAvailableMethod:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// Unauthorized creates an "unauthorized" error
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}
