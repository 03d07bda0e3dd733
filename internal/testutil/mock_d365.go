// Package testutil provides testing utilities for the D365 OData client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// TokenPath is the path the mock token endpoint listens on. Point an
// ADFS-configured TokenSource at URL()+TokenPath to route token
// requests here.
const TokenPath = "/token"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockD365 is a configurable mock Dynamics 365 server for testing. It
// serves a token endpoint at TokenPath and OData-shaped responses
// everywhere else.
type MockD365 struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	TokenRequestCount int
	LastRequestHeader http.Header
	LastRequestURI    string
	LastTokenForm     map[string]string
}

// NewMockD365 creates a new mock server.
func NewMockD365() *MockD365 {
	mock := &MockD365{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		if r.URL.Path == TokenPath {
			mock.TokenRequestCount++
			r.ParseForm()
			form := make(map[string]string, len(r.PostForm))
			for key := range r.PostForm {
				form[key] = r.PostForm.Get(key)
			}
			mock.LastTokenForm = form
		} else {
			mock.RequestCount++
			mock.LastRequestHeader = r.Header.Clone()
			mock.LastRequestURI = r.URL.RequestURI()
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		if r.URL.Path == TokenPath {
			mock.defaultTokenHandler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockD365) URL() string {
	return m.server.URL
}

// TokenURL returns the mock token endpoint URL.
func (m *MockD365) TokenURL() string {
	return m.server.URL + TokenPath
}

// Close shuts down the mock server.
func (m *MockD365) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockD365) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequestCount = 0
	m.LastRequestHeader = nil
	m.LastRequestURI = ""
	m.LastTokenForm = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockD365) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockD365) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetResponseSequence configures a path to serve the given responses
// in order, repeating the last one once the sequence is exhausted.
func (m *MockD365) SetResponseSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	index := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[index]
		if index < len(responses)-1 {
			index++
		}
		mu.Unlock()
		writeResponse(w, resp)
	})
}

// GetRequestCount returns the number of data requests made to the
// server (token requests excluded).
func (m *MockD365) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequestCount returns the number of token endpoint requests.
func (m *MockD365) GetTokenRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequestCount
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// defaultTokenHandler issues a one-hour token.
func (m *MockD365) defaultTokenHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, NewTokenResponse("test-token", 3600))
}

// defaultHandler serves an empty collection page.
func (m *MockD365) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"value": []}`))
}

// NewTokenResponse creates a successful token endpoint response.
func NewTokenResponse(accessToken string, expiresIn int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: fmt.Sprintf(`{"access_token": %q, "token_type": "Bearer", "expires_in": %d}`,
			accessToken, expiresIn),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewPageResponse creates an OData collection page. An empty nextLink
// marks the final page.
func NewPageResponse(nextLink string, records ...string) MockResponse {
	var b strings.Builder
	b.WriteString(`{"@odata.context": "https://mock/$metadata#entities"`)
	if nextLink != "" {
		fmt.Fprintf(&b, `, "@odata.nextLink": %q`, nextLink)
	}
	b.WriteString(`, "value": [`)
	b.WriteString(strings.Join(records, ", "))
	b.WriteString(`]}`)

	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       b.String(),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
// retryAfter is the Retry-After header value in seconds; empty omits
// the header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"code": "0x80072322", "message": "Rate limit exceeded"}}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": {"message": "Service unavailable"}}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": {"message": "Resource not found"}}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
