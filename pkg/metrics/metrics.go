// Package metrics provides the centralized Prometheus metrics registry
// for the OData client. All metrics are defined in their respective
// packages (auth, odata) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Token Metrics (pkg/auth):
//   - d365_token_requests_total{outcome} (Counter): Token endpoint round trips
//     by outcome (success, error, parse_error, transport_error)
//   - d365_token_cache_hits_total (Counter): Token served from cache without
//     a network call
//
// Request Metrics (pkg/odata):
//   - d365_requests_total{status} (Counter): Total requests by HTTP status
//     (or transport_error)
//   - d365_request_duration_seconds (Histogram): Request duration
//
// Retry Metrics (pkg/odata):
//   - d365_retries_total{reason} (Counter): Retry attempts by reason
//     (rate_limit, server)
//   - d365_retry_exhausted_total{reason} (Counter): Requests that exhausted
//     the retry budget
//
// Example Prometheus Queries:
//
//   # Token cache hit rate
//   rate(d365_token_cache_hits_total[5m]) /
//   (rate(d365_token_cache_hits_total[5m]) + rate(d365_token_requests_total[5m]))
//
//   # Retry pressure by reason
//   rate(d365_retries_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(d365_request_duration_seconds_bucket[5m]))
//
//   # Requests failing after all retries
//   rate(d365_retry_exhausted_total[5m])
