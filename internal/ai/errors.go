package ai

import (
	"fmt"
	"strings"
)

// providerStatusError maps a non-200 provider status to a typed error string
// the router can classify. The prefix is machine-readable; the rest is for
// humans.
func providerStatusError(provider string, status int, body []byte) error {
	switch status {
	case 429:
		return fmt.Errorf("RATE_LIMIT: %s API rate limit exceeded. Please wait before retrying", provider)
	case 403:
		return fmt.Errorf("FORBIDDEN: %s API access denied - check API key permissions", provider)
	case 401:
		return fmt.Errorf("UNAUTHORIZED: Invalid %s API key", provider)
	case 402:
		return fmt.Errorf("QUOTA_EXCEEDED: %s API quota exhausted. Add credits or use another provider", provider)
	case 500, 502, 503, 504, 529:
		return fmt.Errorf("SERVICE_ERROR: %s service temporarily unavailable (status %d)", provider, status)
	default:
		return fmt.Errorf("API_ERROR: %s request failed with status %d: %s", provider, status, string(body))
	}
}

// isRetryable reports whether an error is worth retrying against the same
// provider. Auth and quota errors are permanent for this process.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "UNAUTHORIZED:"),
		strings.HasPrefix(msg, "FORBIDDEN:"),
		strings.HasPrefix(msg, "QUOTA_EXCEEDED:"):
		return false
	}
	return true
}
