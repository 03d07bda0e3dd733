// Package auth implements the OAuth2 client credentials flow for
// Dynamics 365: Azure AD (Entra ID) for cloud tenants and ADFS for
// on-premises deployments. Acquired tokens are cached per resource and
// refreshed ahead of expiry.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for token operations.
var (
	tokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "d365_token_requests_total",
		Help: "Total OAuth2 token requests by outcome",
	}, []string{"outcome"})

	tokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "d365_token_cache_hits_total",
		Help: "Total number of token cache hits",
	})
)

// ExpiryMargin is subtracted from a token's lifetime when checking
// validity. It covers clock skew and in-flight request latency.
const ExpiryMargin = 60 * time.Second

// AuthType selects the OAuth2 token endpoint dialect.
type AuthType string

const (
	// AuthTypeAzureAD is the cloud multitenant variant (Entra ID).
	AuthTypeAzureAD AuthType = "azuread"

	// AuthTypeADFS is the on-premises variant.
	AuthTypeADFS AuthType = "adfs"
)

// ParseAuthType parses a configuration string into an AuthType.
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToLower(s) {
	case "azure", "azuread", "azure_ad", "entra":
		return AuthTypeAzureAD, nil
	case "adfs", "on-premise", "onpremise":
		return AuthTypeADFS, nil
	default:
		return "", fmt.Errorf("unknown auth type %q (use 'azure' or 'adfs')", s)
	}
}

// Config holds the authentication configuration. Immutable after
// construction.
type Config struct {
	Type         AuthType
	TenantID     string
	ClientID     string
	ClientSecret string

	// TokenURL overrides the constructed ADFS token endpoint.
	TokenURL string

	// Resource overrides the resource/audience sent to ADFS.
	Resource string
}

// CachedToken is a bearer token with its absolute expiry instant.
// Replaced wholesale on each acquisition, never partially mutated.
type CachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is still usable. The boundary is
// strict: a token expiring exactly ExpiryMargin from now is not valid.
func (t *CachedToken) Valid() bool {
	return time.Now().Add(ExpiryMargin).Before(t.ExpiresAt)
}

// tokenResponse is the OAuth2 token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExtExpiresIn int64  `json:"ext_expires_in"`
}

// tokenFlow resolves the endpoint and request shape for one AuthType.
// Selected once at construction so no variant checks leak into the
// request path.
type tokenFlow interface {
	tokenEndpoint() string
	tokenForm(resource string) url.Values
}

// azureFlow implements the Azure AD (Entra ID) v2.0 dialect.
type azureFlow struct {
	cfg Config
}

func (f azureFlow) tokenEndpoint() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", f.cfg.TenantID)
}

func (f azureFlow) tokenForm(resource string) url.Values {
	// Azure AD wants a scope with the /.default suffix.
	scope := resource + "/.default"
	if strings.HasSuffix(resource, "/") {
		scope = resource + ".default"
	}

	return url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {f.cfg.ClientID},
		"client_secret": {f.cfg.ClientSecret},
		"scope":         {scope},
	}
}

// adfsFlow implements the ADFS dialect used by on-premises deployments.
type adfsFlow struct {
	cfg Config
}

func (f adfsFlow) tokenEndpoint() string {
	if f.cfg.TokenURL != "" {
		return f.cfg.TokenURL
	}
	return fmt.Sprintf("https://%s/adfs/oauth2/token", f.cfg.TenantID)
}

func (f adfsFlow) tokenForm(resource string) url.Values {
	// ADFS uses a resource parameter instead of scope.
	if f.cfg.Resource != "" {
		resource = f.cfg.Resource
	}

	return url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {f.cfg.ClientID},
		"client_secret": {f.cfg.ClientSecret},
		"resource":      {resource},
	}
}

// TokenSource acquires and caches bearer tokens for outbound calls.
// Safe for concurrent use; concurrent callers requesting the same
// resource share one in-flight acquisition.
type TokenSource struct {
	cfg        Config
	flow       tokenFlow
	httpClient *http.Client
	store      TokenStore
	group      singleflight.Group
	logger     zerolog.Logger
}

// NewTokenSource creates a token source backed by an in-memory store.
// Use SetStore to share tokens across processes via Redis.
func NewTokenSource(cfg Config) (*TokenSource, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingCredentials)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id", ErrMissingCredentials)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client_secret", ErrMissingCredentials)
	}

	var flow tokenFlow
	switch cfg.Type {
	case AuthTypeADFS:
		flow = adfsFlow{cfg: cfg}
	case AuthTypeAzureAD, "":
		flow = azureFlow{cfg: cfg}
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	return &TokenSource{
		cfg:  cfg,
		flow: flow,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  NewMemoryStore(),
		logger: log.With().Str("component", "auth").Logger(),
	}, nil
}

// TokenEndpoint returns the resolved token endpoint URL for the
// configured variant.
func (s *TokenSource) TokenEndpoint() string {
	return s.flow.tokenEndpoint()
}

// Token returns a valid bearer token for the given resource, acquiring
// a new one only when the cached token is absent or about to expire.
func (s *TokenSource) Token(ctx context.Context, resource string) (string, error) {
	if tok, err := s.store.Get(ctx, resource); err == nil && tok.Valid() {
		tokenCacheHitsTotal.Inc()
		s.logger.Debug().Str("resource", resource).Msg("Using cached token")
		return tok.AccessToken, nil
	} else if err != nil && err != ErrTokenCacheMiss {
		s.logger.Warn().Err(err).Str("resource", resource).Msg("Token cache read failed")
	}

	// Single flight per resource: concurrent callers share one
	// outstanding acquisition instead of issuing duplicates.
	v, err, _ := s.group.Do(resource, func() (interface{}, error) {
		// A waiter queued behind the winning call may arrive here
		// after the store was refreshed.
		if tok, err := s.store.Get(ctx, resource); err == nil && tok.Valid() {
			return tok.AccessToken, nil
		}
		return s.acquire(ctx, resource)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// acquire performs the token endpoint round trip and caches the result.
func (s *TokenSource) acquire(ctx context.Context, resource string) (string, error) {
	endpoint := s.flow.tokenEndpoint()
	form := s.flow.tokenForm(resource)

	s.logger.Info().
		Str("endpoint", endpoint).
		Str("auth_type", string(s.cfg.Type)).
		Msg("Acquiring new access token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		tokenRequestsTotal.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tokenRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Token request failed")
		return "", &TokenRequestError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		tokenRequestsTotal.WithLabelValues("parse_error").Inc()
		return "", fmt.Errorf("%w: %v", ErrTokenParse, err)
	}

	tok := &CachedToken{
		AccessToken: tr.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if err := s.store.Set(ctx, resource, tok); err != nil {
		s.logger.Warn().Err(err).Str("resource", resource).Msg("Token cache write failed")
	}

	tokenRequestsTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Int64("expires_in", tr.ExpiresIn).
		Str("resource", resource).
		Msg("Token acquired")

	return tr.AccessToken, nil
}

// Clear empties the token cache so the next call re-acquires.
func (s *TokenSource) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// SetStore replaces the token store. Call before first use.
func (s *TokenSource) SetStore(store TokenStore) {
	s.store = store
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *TokenSource) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// ResourceFromEndpoint derives the resource/audience string
// (scheme://host) from a service root URL.
func ResourceFromEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}

	// Not a parseable URL: keep everything up to the third slash.
	parts := strings.SplitN(endpoint, "/", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "/")
}
