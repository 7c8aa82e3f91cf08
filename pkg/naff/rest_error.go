package naff

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// HTTPError is the base REST failure: any non-2xx response that was not
// retried away. It carries the route context and whatever the platform's
// error body contained. The concrete subtypes below add the status-class
// meaning; all of them unwrap to their embedded HTTPError so callers can
// match either level with errors.As.
type HTTPError struct {
	// Status is the HTTP status code.
	Status int
	// Method and Path identify the route (raw template, not resolved IDs).
	Method string
	Path   string
	// Code is the platform's JSON error code when the body carried one.
	Code int64
	// Message is the platform's top-level error message when present.
	Message string
	// FieldErrors flattens the platform's nested per-field error tree into
	// "path: CODE message" lines.
	FieldErrors []string
}

// Error returns an operator-readable failure summary.
func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "http %d %s %s", e.Status, e.Method, e.Path)
	if e.Code != 0 {
		fmt.Fprintf(&b, ": code %d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, fieldErr := range e.FieldErrors {
		b.WriteString("\n  " + fieldErr)
	}
	return b.String()
}

// Forbidden is a 403: the token lacks access to the resource.
type Forbidden struct {
	*HTTPError
}

// Unwrap exposes the base HTTPError to errors.As.
func (e *Forbidden) Unwrap() error { return e.HTTPError }

// NotFound is a 404: the resource does not exist (or is hidden, which the
// platform reports identically for some resources).
type NotFound struct {
	*HTTPError
}

// Unwrap exposes the base HTTPError to errors.As.
func (e *NotFound) Unwrap() error { return e.HTTPError }

// DiscordError is a 5xx that survived the transient-retry budget.
type DiscordError struct {
	*HTTPError
}

// Unwrap exposes the base HTTPError to errors.As.
func (e *DiscordError) Unwrap() error { return e.HTTPError }

// RateLimited is a 429. The request layer normally absorbs these by waiting
// out RetryAfter; one escaping to a caller means the retry budget ran out
// while rate limited.
type RateLimited struct {
	*HTTPError
	// RetryAfter is the server-specified wait before the bucket resets.
	RetryAfter time.Duration
	// Global reports whether the account-wide limit, not the route bucket,
	// was exhausted.
	Global bool
}

// Unwrap exposes the base HTTPError to errors.As.
func (e *RateLimited) Unwrap() error { return e.HTTPError }

// AsHTTPError extracts the base HTTPError from a wrapped error chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

var (
	_ error = (*HTTPError)(nil)
	_ error = (*Forbidden)(nil)
	_ error = (*NotFound)(nil)
	_ error = (*DiscordError)(nil)
	_ error = (*RateLimited)(nil)
)
