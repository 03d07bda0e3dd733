// Package odata provides the HTTP client for Microsoft Dynamics 365
// OData APIs with token-based authentication, continuation-link paging,
// and bounded retries. Both Dataverse and Finance & Operations
// endpoints are supported.
package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/d365kit/odata-client/pkg/auth"
)

// Config holds the client configuration.
type Config struct {
	// Auth supplies bearer tokens for outbound calls (REQUIRED).
	Auth *auth.TokenSource

	// Endpoint is the service root URL
	// (e.g. "https://org.crm.dynamics.com/api/data/v9.2/").
	Endpoint string

	// Product selects the query-parameter dialect.
	Product ProductType

	// Retry
	MaxRetries    int           // Attempts for 429/5xx responses
	RetryDelay    time.Duration // Initial backoff delay
	MaxRetryDelay time.Duration // Backoff ceiling, 0 disables the cap

	// MaxPages aborts a page walk after this many pages, guarding
	// against a server that never stops supplying continuation
	// links. 0 means unbounded.
	MaxPages int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(tokenSource *auth.TokenSource, endpoint string, product ProductType) Config {
	return Config{
		Auth:          tokenSource,
		Endpoint:      endpoint,
		Product:       product,
		MaxRetries:    3,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 60 * time.Second,
	}
}

// Client is the Dynamics 365 OData client. Long-lived and safe for
// concurrent use; callers share it by reference.
type Client struct {
	auth          *auth.TokenSource
	endpoint      string
	product       ProductType
	resource      string
	httpClient    *http.Client
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	maxPages      int
	logger        zerolog.Logger
}

// New creates a new OData client.
func New(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	endpoint := cfg.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	product := cfg.Product
	if product == "" {
		product = ProductDataverse
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 1 * time.Second
	}

	return &Client{
		auth:     cfg.Auth,
		endpoint: endpoint,
		product:  product,
		// The audience for token acquisition is derived once from
		// the service root.
		resource: auth.ResourceFromEndpoint(endpoint),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		maxPages:      cfg.MaxPages,
		logger:        log.With().Str("component", "odata-client").Logger(),
	}, nil
}

// Endpoint returns the normalized service root URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Product returns the configured product dialect.
func (c *Client) Product() ProductType {
	return c.product
}

// FetchMetadata retrieves the service's $metadata document as raw XML.
// Not retried; any non-success status is a server error.
func (c *Client) FetchMetadata(ctx context.Context) (string, error) {
	token, err := c.auth.Token(ctx, c.resource)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"$metadata", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ServerError{
			StatusCode: resp.StatusCode,
			Body:       readBody(resp),
		}
	}

	return readBody(resp), nil
}

// FetchEntityPage fetches a single page of an entity set. When
// nextLink is non-empty it is used verbatim and options are ignored,
// since the server-returned link already encodes the applied filters.
func (c *Client) FetchEntityPage(ctx context.Context, entity, nextLink string, options *QueryOptions) (*PageResult, error) {
	url := nextLink
	if url == "" {
		url = c.endpoint + entity + options.QueryString(c.product)
	}

	c.logger.Debug().Str("url", url).Msg("Fetching page")

	token, err := c.auth.Token(ctx, c.resource)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	resp, err := c.executeWithRetry(ctx, url, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page PageResult
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode page: %v", ErrParse, err)
	}

	c.logger.Debug().
		Str("entity", entity).
		Int("records", len(page.Records)).
		Bool("has_next", page.NextLink != "").
		Msg("Page fetched")

	return &page, nil
}

// FetchAllPages walks the entity set following continuation links
// until exhausted and returns all records in arrival order.
func (c *Client) FetchAllPages(ctx context.Context, entity string, options *QueryOptions) ([]json.RawMessage, error) {
	var records []json.RawMessage
	nextLink := ""
	page := 0

	for {
		page++
		if c.maxPages > 0 && page > c.maxPages {
			return nil, fmt.Errorf("%w: server kept supplying continuation links after %d pages", ErrPageLimitExceeded, c.maxPages)
		}

		result, err := c.FetchEntityPage(ctx, entity, nextLink, options)
		if err != nil {
			return nil, err
		}

		c.logger.Info().
			Str("entity", entity).
			Int("page", page).
			Int("records", len(result.Records)).
			Msg("Page fetched")

		records = append(records, result.Records...)

		if result.NextLink == "" {
			break
		}
		nextLink = result.NextLink
	}

	c.logger.Info().
		Str("entity", entity).
		Int("total_records", len(records)).
		Msg("Fetch complete")

	return records, nil
}

// GetEntity fetches a single entity by key, using the same retry
// policy as page fetches.
func (c *Client) GetEntity(ctx context.Context, entity, key string) (json.RawMessage, error) {
	url := c.endpoint + entity + "(" + key + ")"

	token, err := c.auth.Token(ctx, c.resource)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	resp, err := c.executeWithRetry(ctx, url, token)
	if err != nil {
		return nil, err
	}

	body := readBody(resp)

	var record json.RawMessage
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, fmt.Errorf("%w: decode entity: %v", ErrParse, err)
	}

	return record, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
