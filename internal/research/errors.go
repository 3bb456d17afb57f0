package research

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderAuthExhausted signals that a provider has no credentials configured.
	ErrProviderAuthExhausted = errors.New("provider credentials exhausted")
	// ErrMalformedResponse signals a provider payload that could not be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrCaptureUnavailable signals that the headless engine could not start.
	ErrCaptureUnavailable = errors.New("headless capture unavailable")
)

// StatusError wraps a non-2xx HTTP response from a provider or fetched page.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// NewStatusError builds a StatusError for op.
func NewStatusError(op string, code int) error {
	return &StatusError{Op: op, StatusCode: code}
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
