package odata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request and retry operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "d365_requests_total",
		Help: "Total OData requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "d365_request_duration_seconds",
		Help:    "OData request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "d365_retries_total",
		Help: "Total number of retry attempts by reason",
	}, []string{"reason"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "d365_retry_exhausted_total",
		Help: "Total number of times the retry budget was exhausted by reason",
	}, []string{"reason"})
)

// executeWithRetry performs one authenticated GET with the bounded
// retry policy: 429 waits Retry-After (or the current backoff delay,
// whole seconds), 5xx waits the current backoff delay, both doubling
// per retry up to maxRetryDelay. 404 and other non-success statuses
// terminate immediately.
func (c *Client) executeWithRetry(ctx context.Context, rawURL, token string) (*http.Response, error) {
	attempt := 0
	delay := c.retryDelay

	for {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-MaxVersion", "4.0")
		req.Header.Set("OData-Version", "4.0")
		req.Header.Set("Prefer", "odata.include-annotations=*")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues("transport_error").Inc()
			return nil, fmt.Errorf("request: %w", err)
		}
		requestDuration.Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusOK ||
			resp.StatusCode == http.StatusCreated ||
			resp.StatusCode == http.StatusNoContent:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := retryAfterDelay(resp.Header, delay)
			discardBody(resp)

			if attempt >= c.maxRetries {
				retryExhaustedTotal.WithLabelValues("rate_limit").Inc()
				return nil, &RateLimitError{RetryAfter: retryAfter}
			}

			c.logger.Warn().
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Dur("retry_after", retryAfter).
				Msg("Rate limited (429), retrying")

			retriesTotal.WithLabelValues("rate_limit").Inc()
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return nil, err
			}
			delay = c.nextDelay(delay)

		case resp.StatusCode == http.StatusNotFound:
			return nil, &NotFoundError{Body: readBody(resp)}

		case resp.StatusCode >= 500:
			if attempt >= c.maxRetries {
				retryExhaustedTotal.WithLabelValues("server").Inc()
				return nil, &ServerError{
					StatusCode: resp.StatusCode,
					Body:       readBody(resp),
				}
			}
			discardBody(resp)

			c.logger.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Dur("delay", delay).
				Msg("Server error, retrying")

			retriesTotal.WithLabelValues("server").Inc()
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			delay = c.nextDelay(delay)

		default:
			return nil, &ServerError{
				StatusCode: resp.StatusCode,
				Body:       readBody(resp),
			}
		}
	}
}

// nextDelay doubles the backoff delay, capped at maxRetryDelay when a
// cap is configured.
func (c *Client) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if c.maxRetryDelay > 0 && delay > c.maxRetryDelay {
		delay = c.maxRetryDelay
	}
	return delay
}

// retryAfterDelay reads the Retry-After header (seconds). Without one
// it falls back to the current backoff delay, truncated to whole
// seconds.
func retryAfterDelay(header http.Header, delay time.Duration) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return delay.Truncate(time.Second)
}

// sleepCtx waits for the given duration with context cancellation
// support.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// readBody drains and closes the response body, returning it as a
// string. Read failures yield an empty string.
func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(body)
}

// discardBody closes the response body before a retry.
func discardBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
