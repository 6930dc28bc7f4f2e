package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors. Errors returned by Client wrap exactly one of them where
// the cause is known.
var (
	// ErrUnauthorized means the API key or access token was rejected.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrUnavailable means the remote store could not be reached or failed
	// on its side (transport errors, 5xx).
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("remote: not found")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, body)
}

// Unwrap maps the status code to a sentinel.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return ErrUnauthorized
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// IsAuthError reports whether err is an authorization failure that will not
// heal without a new session. Servers that report token problems with a
// non-401 status are recognized by the message.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		msg := strings.ToLower(se.Body)
		return strings.Contains(msg, "jwt") || strings.Contains(msg, "auth")
	}
	return false
}

// IsConnectivityError reports whether err means the remote store could not
// be reached.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
