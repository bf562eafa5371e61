package oauth2

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrSessionNotFound = errors.New("session not found")
)

// UnknownProviderError is returned when a provider name is not registered.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q not available", e.Provider)
}

// InvalidStateError reports a failed CSRF check. It matches ErrInvalidState
// with errors.Is.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return "invalid state: " + e.Reason
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// TokenExchangeError carries the upstream response of a failed code exchange.
// StatusCode is zero when no response was received.
type TokenExchangeError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s token exchange failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s token exchange failed: %v", e.Provider, e.Err)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// ProfileFetchError carries the upstream response of a failed profile request.
type ProfileFetchError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProfileFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s profile fetch failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s profile fetch failed: %v", e.Provider, e.Err)
}

func (e *ProfileFetchError) Unwrap() error {
	return e.Err
}
