package odata

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrContextCancelled is returned when the context is cancelled
	// during a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrParse is returned when a response body cannot be decoded.
	ErrParse = errors.New("parse error")

	// ErrPageLimitExceeded is returned when a page walk exceeds the
	// configured MaxPages safety cutoff.
	ErrPageLimitExceeded = errors.New("page limit exceeded")
)

// RateLimitError is returned once the retry budget for 429 responses
// is exhausted. RetryAfter is the delay the next retry would have
// used.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (429): retry after %s", e.RetryAfter)
}

// ServerError is a non-retryable status or an exhausted 5xx retry
// budget, carrying the status and response body.
type ServerError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
}

// NotFoundError is a 404 response. Never retried.
type NotFoundError struct {
	Body string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Body)
}
