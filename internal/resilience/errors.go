package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// UpstreamStatusError is a non-2xx answer from an external source.
type UpstreamStatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.StatusCode, body)
}

// Transient reports whether the status is a server-side or throttling failure.
func (e *UpstreamStatusError) Transient() bool {
	return IsTransientHTTPStatus(e.StatusCode)
}

// NewUpstreamStatusError builds an UpstreamStatusError.
func NewUpstreamStatusError(source string, status int, body []byte) *UpstreamStatusError {
	return &UpstreamStatusError{Source: source, StatusCode: status, Body: strings.TrimSpace(string(body))}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient reports whether err looks like a temporary upstream failure:
// a transient HTTP status, a timeout, or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *UpstreamStatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true for 408, 429 and 5xx gateway statuses.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Describe returns a short, log-friendly reason for a source failure.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return "circuit open"
	case IsTimeout(err):
		return "timeout"
	}
	var se *UpstreamStatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("status %d", se.StatusCode)
	}
	return "error"
}
