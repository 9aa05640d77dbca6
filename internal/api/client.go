package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout is used when Config.Timeout is zero.
	DefaultTimeout = 60 * time.Second

	headerTenant = "x-okapi-tenant"
	headerToken  = "x-okapi-token"
)

// Config configures a gateway Client.
type Config struct {
	BaseURL  string
	Tenant   string
	Username string
	Password string
	Timeout  time.Duration

	// HTTPClient overrides the transport. Its Timeout is replaced by Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is an HTTP client for the library services platform gateway.
// It is safe for concurrent use; the auth token is shared by every copy
// returned from WithTimeout.
type Client struct {
	baseURL    string
	tenant     string
	username   string
	password   string
	httpClient *http.Client
	auth       *authState
	logger     *slog.Logger
}

type authState struct {
	mu    sync.RWMutex
	token string
}

// NewClient creates a new gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := &http.Client{Timeout: timeout}
	if cfg.HTTPClient != nil {
		hc.Transport = cfg.HTTPClient.Transport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tenant:     cfg.Tenant,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: hc,
		auth:       &authState{},
		logger:     logger.With("component", "api"),
	}
}

// WithTimeout returns a client that shares connection and auth state with c
// but applies a different request timeout. The receiver is not modified.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout <= 0 || timeout == c.httpClient.Timeout {
		return c
	}
	clone := *c
	clone.httpClient = &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   timeout,
	}
	return &clone
}

// Timeout returns the request timeout of this client.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// Tenant returns the tenant every request is addressed to.
func (c *Client) Tenant() string {
	return c.tenant
}

// Get performs a GET request and decodes the JSON response.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request with JSON body and decodes the response.
func (c *Client) Post(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Put performs a PUT request with JSON body and decodes the response.
func (c *Client) Put(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/plain")
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.username != "" {
		// Token expired mid-run. Refresh it so the caller's retry succeeds.
		if err := c.Login(ctx); err != nil {
			c.logger.Warn("token refresh failed", "error", err)
		}
	}

	return c.handleResponse(req, resp, result)
}

func (c *Client) handleResponse(req *http.Request, resp *http.Response, result any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.tenant != "" {
		req.Header.Set(headerTenant, c.tenant)
	}
	c.auth.mu.RLock()
	token := c.auth.token
	c.auth.mu.RUnlock()
	if token != "" {
		req.Header.Set(headerToken, token)
	}
}
