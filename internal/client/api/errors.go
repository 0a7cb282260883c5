package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches any HTTPError carrying status 401.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	// Body is the (truncated) response body.
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Is reports ErrUnauthorized for 401 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// MalformedResponseError is returned when a 2xx body does not match the
// endpoint's contract.
type MalformedResponseError struct {
	Endpoint string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
