package auth

import (
	"errors"
	"fmt"
)

// Common errors returned by the auth package.
var (
	// ErrMissingCredentials is returned when the configuration is
	// incomplete.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrTokenCacheMiss indicates no token is cached for a resource.
	ErrTokenCacheMiss = errors.New("token cache miss")

	// ErrTokenParse is returned when the token endpoint response
	// cannot be decoded.
	ErrTokenParse = errors.New("token parse error")
)

// TokenRequestError is a non-success HTTP response from the token
// endpoint.
type TokenRequestError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TokenRequestError) Error() string {
	return fmt.Sprintf("token request failed (status %d): %s", e.StatusCode, e.Body)
}
