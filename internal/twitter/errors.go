package twitter

import (
	"errors"
	"fmt"
)

// ErrUnauthorized signals that the provider rejected the access token.
// The dispatcher treats it as "refresh once and retry".
var ErrUnauthorized = errors.New("access token rejected")

// ExchangeError indicates the authorization-code exchange failed: the
// provider rejected the code or verifier, or the follow-up identity lookup
// failed. The user must restart the authorization flow.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError indicates the provider rejected the refresh token. It is
// never retried; callers surface it as "re-authentication required".
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// APIError is a non-auth provider failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api error: status %d: %s", e.StatusCode, e.Body)
}
