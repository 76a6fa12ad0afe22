package provider

import (
	"errors"
	"net/http"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

// classifyHTTPStatus maps an upstream HTTP status onto the error taxonomy.
// 401/403 are terminal auth failures, 429 is a retryable rate limit, and
// everything else 4xx/5xx counts as the provider being unavailable.
func classifyHTTPStatus(provider string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewProviderAuthError(provider, nil)
	case status == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitedError(provider)
	case status >= 400:
		return apperrors.NewProviderUnavailableError(provider,
			errors.New(http.StatusText(status)))
	}
	return nil
}

// classifyTransportError maps network-level failures (timeouts, refused
// connections, DNS) onto retryable provider-unavailable errors.
func classifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewProviderUnavailableError(provider, err)
}
