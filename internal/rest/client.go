// Package rest executes authenticated API calls with per-route rate-limit
// buckets. Requests on the same bucket run strictly one at a time; a
// response that reports the bucket exhausted keeps it locked until the
// server-stated reset, and transient failures retry with a linear backoff.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const (
	defaultBaseURL        = "https://discord.com/api/v9"
	defaultRequestTimeout = 60 * time.Second

	// maxAttempts bounds the retry loop for transient failures: server
	// errors, connection drops, and rate-limit waits.
	maxAttempts = 5

	// globalRequestsPerSecond is the account-wide request budget enforced
	// client-side on top of the per-route buckets.
	globalRequestsPerSecond = 45
)

// Option mutates client configuration.
type Option func(*Client)

// WithLogger configures structured logging for request handling.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at a different API origin.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// withSleep replaces the retry sleeper in tests.
func withSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client issues API requests on behalf of one bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	global     *rate.Limiter
	sleep      func(ctx context.Context, delay time.Duration) error

	bucketsMu sync.Mutex
	buckets   map[string]*bucket
}

var _ naff.Requester = (*Client)(nil)

// New creates a REST client for the given bot token.
func New(token string, options ...Option) *Client {
	c := &Client{
		token:      strings.TrimSpace(token),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     slog.Default(),
		global:     rate.NewLimiter(globalRequestsPerSecond, globalRequestsPerSecond),
		sleep:      sleepContext,
		buckets:    make(map[string]*bucket),
	}
	for _, option := range options {
		option(c)
	}

	return c
}

// Request executes one API call. The route's bucket serializes it against
// other in-flight calls on the same scope; 429 responses and transient
// server or transport failures are retried up to the attempt budget, and
// any other non-success status maps to a typed error.
func (c *Client) Request(
	ctx context.Context,
	route *naff.Route,
	opts *naff.RequestOptions,
) (json.RawMessage, error) {
	if route == nil {
		return nil, fmt.Errorf("rest request: nil route")
	}

	var body []byte
	var reason string
	requestURL := route.URL(c.baseURL)
	if opts != nil {
		if opts.Body != nil {
			encoded, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = encoded
		}
		reason = opts.Reason
		if len(opts.Query) > 0 {
			requestURL += "?" + opts.Query.Encode()
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		payload, retry, err := c.do(ctx, route, requestURL, body, reason, attempt)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, lastErr
}

// do runs a single attempt. It acquires the route's bucket, waits for the
// global limiter, executes the request, and applies the header protocol.
// The retry result tells the caller whether the failure is worth another
// attempt; any retry wait has already been slept here, while the bucket
// was still held.
func (c *Client) do(
	ctx context.Context,
	route *naff.Route,
	requestURL string,
	body []byte,
	reason string,
	attempt int,
) (json.RawMessage, bool, error) {
	l := c.acquire(route.BucketKey())

	// Sleep out the retry wait before releasing so that followers on the
	// same bucket queue up behind the failure instead of repeating it.
	sleepAndRetry := func(failure error, delay time.Duration) (json.RawMessage, bool, error) {
		sleepErr := c.sleep(ctx, delay)
		l.Release()
		if sleepErr != nil {
			return nil, false, failure
		}
		return nil, true, failure
	}

	if err := c.global.Wait(ctx); err != nil {
		l.Release()
		return nil, false, fmt.Errorf("global rate limit wait: %w", err)
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, route.Method, requestURL, reqBody)
	if err != nil {
		l.Release()
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", naff.UserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", escapeReason(reason))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		failure := fmt.Errorf("%s %s: %w", route.Method, route.Path, err)
		if ctx.Err() != nil {
			l.Release()
			return nil, false, failure
		}
		delay := retryDelay(attempt)
		c.logger.WarnContext(ctx, "transport error, retrying",
			"method", route.Method,
			"path", route.Path,
			"backoff", delay,
			"error", err,
		)
		return sleepAndRetry(failure, delay)
	}

	payload, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		failure := fmt.Errorf("read response %s %s: %w", route.Method, route.Path, readErr)
		if ctx.Err() != nil {
			l.Release()
			return nil, false, failure
		}
		delay := retryDelay(attempt)
		c.logger.WarnContext(ctx, "response read failed, retrying",
			"method", route.Method,
			"path", route.Path,
			"backoff", delay,
			"error", readErr,
		)
		return sleepAndRetry(failure, delay)
	}

	remaining := resp.Header.Get("X-RateLimit-Remaining")
	resetAfter := headerSeconds(resp, "X-RateLimit-Reset-After")

	if resp.StatusCode == http.StatusTooManyRequests {
		rateErr := rateLimitedFromResponse(route, payload, resetAfter)
		c.logger.WarnContext(ctx, "rate limit exceeded",
			"bucket", route.BucketKey(),
			"retry_after", rateErr.RetryAfter,
			"global", rateErr.Global,
		)
		return sleepAndRetry(rateErr, rateErr.RetryAfter)
	}

	if transientStatus(resp.StatusCode) {
		serverErr := errorFromResponse(resp.StatusCode, route, payload)
		delay := retryDelay(attempt)
		c.logger.WarnContext(ctx, "server error, retrying",
			"method", route.Method,
			"path", route.Path,
			"status", resp.StatusCode,
			"backoff", delay,
		)
		return sleepAndRetry(serverErr, delay)
	}

	if remaining == "0" {
		c.logger.DebugContext(ctx, "bucket exhausted, deferring release",
			"bucket", route.BucketKey(),
			"server_bucket", resp.Header.Get("X-RateLimit-Bucket"),
			"reset_after", resetAfter,
		)
		l.ReleaseAfter(resetAfter)
	} else {
		l.Release()
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.DebugContext(ctx, "request completed",
			"method", route.Method,
			"path", route.Path,
			"status", resp.StatusCode,
		)
		return payload, false, nil
	}

	return nil, false, errorFromResponse(resp.StatusCode, route, payload)
}

// retryDelay is the linear backoff between attempts: 1s, 3s, 5s, ...
func retryDelay(attempt int) time.Duration {
	return time.Duration(1+attempt*2) * time.Second
}

// transientStatus reports whether a status is a server-side hiccup worth
// retrying on the same bucket.
func transientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// headerSeconds parses a fractional-seconds header value into a duration.
func headerSeconds(resp *http.Response, name string) time.Duration {
	value := resp.Header.Get(name)
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}

	return secondsToDuration(seconds)
}

// escapeReason percent-encodes an audit log reason for header transport,
// keeping spaces and slashes readable.
func escapeReason(reason string) string {
	escaped := url.PathEscape(reason)
	escaped = strings.ReplaceAll(escaped, "%2F", "/")

	return strings.ReplaceAll(escaped, "%20", " ")
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
