package naff

import (
	"context"
	"encoding/json"
	"net/url"
)

// RequestOptions carries the per-call extras of a REST request. A nil
// options value is valid and means a bare request.
type RequestOptions struct {
	// Body is JSON-encoded into the request body when non-nil.
	Body any
	// Reason, when set, is sent as the audit-log reason header on mutating
	// endpoints (URI-escaped, as the platform requires).
	Reason string
	// Query is appended to the resolved URL.
	Query url.Values
}

// Requester issues authenticated REST calls with per-route rate-limit
// coordination. It is the escape hatch for endpoints the library does not
// wrap: build a Route, get the raw response body back.
//
// Transient failures (5xx, connection resets, 429 cooldowns) are retried
// internally within a fixed budget and are invisible to callers unless the
// budget runs out. Other non-2xx responses surface as the typed errors in
// this package (Forbidden, NotFound, DiscordError, RateLimited).
type Requester interface {
	Request(ctx context.Context, route *Route, opts *RequestOptions) (json.RawMessage, error)
}
