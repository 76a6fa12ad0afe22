// Package errors defines the application error taxonomy used across the
// sync engine, providers, and the HTTP API. Every error is classified so the
// scheduler knows whether a retry can help and the API knows which status
// code to return.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Category represents the category of an error.
type Category string

const (
	// CategoryCredential covers decryption failures and unusable stored secrets.
	// Never retryable: the user has to reconnect the wallet.
	CategoryCredential Category = "credential"
	// CategoryProviderUnavailable covers network errors and timeouts against
	// an external data source. Retryable.
	CategoryProviderUnavailable Category = "provider_unavailable"
	// CategoryProviderAuth covers rejected API keys and expired tokens.
	// Not retryable: the user has to reconnect.
	CategoryProviderAuth Category = "provider_auth"
	// CategoryProviderRateLimited covers 429-style upstream throttling.
	// Retryable with backoff.
	CategoryProviderRateLimited Category = "provider_rate_limited"
	// CategorySchema covers responses the provider client could not decode.
	// Logged, not retried; retrying a parse failure cannot succeed.
	CategorySchema Category = "schema"
	// CategoryValidation covers malformed caller input.
	CategoryValidation Category = "validation"
	// CategoryNotFound covers missing entities.
	CategoryNotFound Category = "not_found"
	// CategoryConflict covers uniqueness and concurrency conflicts.
	CategoryConflict Category = "conflict"
	// CategoryDatabase covers datastore failures.
	CategoryDatabase Category = "database"
	// CategoryInternal covers everything else.
	CategoryInternal Category = "internal"
)

// Error is an error with a category, a stable code, and an HTTP status.
type Error struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewCredentialError creates a credential error (decrypt failure, missing key).
func NewCredentialError(message string, cause error) *Error {
	return &Error{
		Category:   CategoryCredential,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "CREDENTIAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewProviderUnavailableError creates a retryable provider connectivity error.
func NewProviderUnavailableError(provider string, cause error) *Error {
	return &Error{
		Category:   CategoryProviderUnavailable,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    fmt.Sprintf("provider unavailable: %s", provider),
		Cause:      cause,
	}
}

// NewProviderAuthError creates a terminal provider authentication error.
func NewProviderAuthError(provider string, cause error) *Error {
	return &Error{
		Category:   CategoryProviderAuth,
		StatusCode: http.StatusUnauthorized,
		Code:       "PROVIDER_AUTH_ERROR",
		Message:    fmt.Sprintf("provider rejected credentials: %s", provider),
		Cause:      cause,
	}
}

// NewProviderRateLimitedError creates a provider rate-limit error.
func NewProviderRateLimitedError(provider string) *Error {
	return &Error{
		Category:   CategoryProviderRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMITED",
		Message:    fmt.Sprintf("provider rate limit exceeded: %s", provider),
	}
}

// NewSchemaError creates an error for an undecodable provider response.
func NewSchemaError(provider string, cause error) *Error {
	return &Error{
		Category:   CategorySchema,
		StatusCode: http.StatusBadGateway,
		Code:       "SCHEMA_ERROR",
		Message:    fmt.Sprintf("unexpected response shape from %s", provider),
		Cause:      cause,
	}
}

// NewValidationError creates an error for malformed input.
func NewValidationError(field, reason string) *Error {
	return &Error{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(resource, id string) *Error {
	return &Error{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *Error {
	return &Error{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewDatabaseError creates a datastore error.
func NewDatabaseError(operation string, cause error) *Error {
	return &Error{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Category:   CategoryInternal,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize returns the *Error in err's chain, or wraps err as internal.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("unexpected error", err)
}

// IsRetryable reports whether a retry with backoff can plausibly succeed.
// Credential, auth, schema, and validation failures are terminal.
func IsRetryable(err error) bool {
	appErr := Categorize(err)
	if appErr == nil {
		return false
	}
	switch appErr.Category {
	case CategoryProviderUnavailable, CategoryProviderRateLimited, CategoryDatabase:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the HTTP status code for an error.
func HTTPStatusCode(err error) int {
	if appErr := Categorize(err); appErr != nil {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
