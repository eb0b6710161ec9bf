package proxycheap

import (
	"errors"
	"fmt"
)

// AuthError means the vendor rejected our credentials (HTTP 401/403).
// It is never retried; the user has to re-enter credentials.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("proxy-cheap auth error (HTTP %d): %s", e.StatusCode, e.Body)
}

// ConnectionError means the request never produced an HTTP response:
// timeout, DNS failure, refused connection. Transient; the next poll
// cycle retries.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("proxy-cheap connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// APIError means the vendor answered with a non-auth error status, or
// with a 2xx body that is not valid JSON. Body holds the first 512
// bytes of the response.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy-cheap API error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("proxy-cheap API error (HTTP %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// ErrorKind labels an error from this package for metrics and API
// responses: "auth", "connection", "api", or "" for anything else.
func ErrorKind(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "auth"
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return "connection"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "api"
	}
	return ""
}
