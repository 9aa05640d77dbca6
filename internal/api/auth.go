package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoToken is returned when a login succeeds without issuing a token.
var ErrNoToken = errors.New("login response carried no token")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates with the configured credentials and stores the token
// for subsequent requests.
func (c *Client) Login(ctx context.Context) error {
	payload, err := json.Marshal(loginRequest{Username: c.username, Password: c.password})
	if err != nil {
		return fmt.Errorf("failed to marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authn/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tenant != "" {
		req.Header.Set(headerTenant, c.tenant)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	token := resp.Header.Get(headerToken)
	if token == "" {
		return ErrNoToken
	}

	c.auth.mu.Lock()
	c.auth.token = token
	c.auth.mu.Unlock()

	c.logger.Debug("authenticated", "username", c.username, "tenant", c.tenant)
	return nil
}

// SetToken installs a token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	c.auth.token = token
}
