package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_Get(t *testing.T) {
	t.Run("sends tenant and token headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("x-okapi-tenant"); got != "diku" {
				t.Errorf("tenant header = %q, want diku", got)
			}
			if got := r.Header.Get("x-okapi-token"); got != "tok" {
				t.Errorf("token header = %q, want tok", got)
			}
			json.NewEncoder(w).Encode(map[string]string{"name": "ok"})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Tenant: "diku"})
		client.SetToken("tok")

		var result struct {
			Name string `json:"name"`
		}
		if err := client.Get(context.Background(), "/thing", &result); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if result.Name != "ok" {
			t.Errorf("Name = %q, want ok", result.Name)
		}
	})

	t.Run("returns HTTPError for error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte("bad record"))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL})
		err := client.Get(context.Background(), "/thing", nil)

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected HTTPError, got %v", err)
		}
		if httpErr.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("StatusCode = %d", httpErr.StatusCode)
		}
		if httpErr.Body != "bad record" {
			t.Errorf("Body = %q", httpErr.Body)
		}
		if StatusCode(err) != 422 {
			t.Errorf("StatusCode(err) = %d", StatusCode(err))
		}
	})

	t.Run("empty body with result is not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL})
		var result map[string]any
		if err := client.Post(context.Background(), "/x", map[string]int{"a": 1}, &result); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	})
}

func TestClient_Login(t *testing.T) {
	t.Run("stores token from header", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/authn/login":
				var req loginRequest
				json.NewDecoder(r.Body).Decode(&req)
				if req.Username != "admin" || req.Password != "secret" {
					t.Errorf("unexpected credentials: %+v", req)
				}
				w.Header().Set("x-okapi-token", "fresh")
				w.WriteHeader(http.StatusCreated)
			default:
				calls.Add(1)
				if r.Header.Get("x-okapi-token") != "fresh" {
					t.Errorf("token not sent on %s", r.URL.Path)
				}
			}
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Tenant: "diku", Username: "admin", Password: "secret"})
		if err := client.Login(context.Background()); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if err := client.Delete(context.Background(), "/x"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})

	t.Run("missing token is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Username: "a", Password: "b"})
		if err := client.Login(context.Background()); !errors.Is(err, ErrNoToken) {
			t.Errorf("Login() error = %v, want ErrNoToken", err)
		}
	})

	t.Run("refreshes token after 401", func(t *testing.T) {
		var logins atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/authn/login" {
				n := logins.Add(1)
				w.Header().Set("x-okapi-token", fmt.Sprintf("tok-%d", n))
				w.WriteHeader(http.StatusCreated)
				return
			}
			if r.Header.Get("x-okapi-token") != "tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Username: "a", Password: "b"})
		if err := client.Login(context.Background()); err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		err := client.Get(context.Background(), "/jobs", nil)
		if StatusCode(err) != http.StatusUnauthorized {
			t.Fatalf("first call error = %v, want 401", err)
		}
		if err := client.Get(context.Background(), "/jobs", nil); err != nil {
			t.Fatalf("second call error = %v", err)
		}
	})
}

func TestClient_WithTimeout(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://example.invalid", Timeout: 5 * time.Second})
	client.SetToken("shared")

	slow := client.WithTimeout(7500 * time.Millisecond)
	if slow == client {
		t.Fatal("expected a new client")
	}
	if client.Timeout() != 5*time.Second {
		t.Errorf("original timeout changed to %s", client.Timeout())
	}
	if slow.Timeout() != 7500*time.Millisecond {
		t.Errorf("Timeout() = %s", slow.Timeout())
	}
	if slow.auth != client.auth {
		t.Error("auth state should be shared")
	}
	if same := client.WithTimeout(5 * time.Second); same != client {
		t.Error("same timeout should return the receiver")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		allow401  bool
		transient bool
	}{
		{"nil", nil, false, false},
		{"bad gateway", &HTTPError{StatusCode: 502}, false, true},
		{"gateway timeout", &HTTPError{StatusCode: 504}, false, true},
		{"unauthorized allowed", &HTTPError{StatusCode: 401}, true, true},
		{"unauthorized not allowed", &HTTPError{StatusCode: 401}, false, false},
		{"server error", &HTTPError{StatusCode: 500}, true, false},
		{"net timeout", fmt.Errorf("wrapped: %w", timeoutErr{}), false, true},
		{"deadline", context.DeadlineExceeded, false, true},
		{"canceled", context.Canceled, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err, tt.allow401); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
		})
	}
}
