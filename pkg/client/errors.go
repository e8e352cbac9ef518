package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when the object store answers 404.
var ErrNotFound = errors.New("object not found")

// HTTPError is a non-2xx response other than 404.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Endpoint, e.StatusCode, truncate(e.Body, 200))
}

// Retryable reports whether the status is transient.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
