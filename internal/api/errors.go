package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// HTTPError is returned for any response with status >= 400.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error (%d) on %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("server error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an
// HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsTimeout reports whether err is a connect or read timeout. Cancellation of
// the caller's context is not a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient reports whether err is worth retrying: timeouts, 502 and 504.
// allowUnauthorized adds 401, which the job-status endpoints return while a
// token is being refreshed.
func IsTransient(err error, allowUnauthorized bool) bool {
	if IsTimeout(err) {
		return true
	}
	switch StatusCode(err) {
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	case http.StatusUnauthorized:
		return allowUnauthorized
	}
	return false
}
