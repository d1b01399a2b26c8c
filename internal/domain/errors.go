package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery signals a missing or blank query string.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrQueryTooLong signals a query exceeding the configured maximum.
	ErrQueryTooLong = errors.New("query too long")
	// ErrInvalidPagination signals a negative offset or non-positive limit.
	ErrInvalidPagination = errors.New("invalid pagination")
	// ErrCacheUnavailable signals an unreachable cache backend. Never fatal:
	// every cache operation degrades to a recorded miss or a no-op.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrUnknownCacheType signals a cache type missing from the configuration table.
	ErrUnknownCacheType = errors.New("unknown cache type")
)

// ValidationError marks malformed input. Always surfaced to the caller,
// never retried and never downgraded to a fallback.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// ProviderErrorCode classifies provider failures.
type ProviderErrorCode string

// Provider error codes.
const (
	CodeTimeout         ProviderErrorCode = "TIMEOUT"
	CodeInvalidResponse ProviderErrorCode = "INVALID_RESPONSE"
	CodeProviderError   ProviderErrorCode = "PROVIDER_ERROR"
)

// ProviderError normalizes completion/embedding/index call failures into a
// typed error with a code and details.
type ProviderError struct {
	Code    ProviderErrorCode
	Details string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Details)
	}
	return fmt.Sprintf("provider error %s", e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError creates a ProviderError.
func NewProviderError(code ProviderErrorCode, details string, err error) error {
	return &ProviderError{Code: code, Details: details, Err: err}
}

// ProviderCode extracts the ProviderErrorCode from err, or "" if err is not
// a ProviderError.
func ProviderCode(err error) ProviderErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
