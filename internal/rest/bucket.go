package rest

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucket serializes requests that share one rate-limit scope. Buckets are
// created lazily on first use and never removed; their cardinality is
// bounded by route shapes, not by request volume.
type bucket struct {
	mu sync.Mutex
}

// lease is one acquisition of a bucket. It releases exactly once whichever
// path runs first: an immediate Release, or a ReleaseAfter timer armed when
// the server reports the bucket exhausted. Calling either on a spent lease
// is a no-op.
type lease struct {
	bucket   *bucket
	released atomic.Bool
}

// acquire blocks until the route's bucket is free: while another request on
// the same bucket is in flight, or while a deferred release from a
// remaining=0 response has not fired yet.
func (c *Client) acquire(bucketKey string) *lease {
	c.bucketsMu.Lock()
	b, exists := c.buckets[bucketKey]
	if !exists {
		b = &bucket{}
		c.buckets[bucketKey] = b
	}
	c.bucketsMu.Unlock()

	b.mu.Lock()
	return &lease{bucket: b}
}

// Release unlocks the bucket now.
func (l *lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.bucket.mu.Unlock()
	}
}

// ReleaseAfter keeps the bucket locked for the server-specified delay and
// unlocks it from a timer. Subsequent acquirers wait out the rate-limit
// window without inspecting any headers themselves.
func (l *lease) ReleaseAfter(delay time.Duration) {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	if delay <= 0 {
		l.bucket.mu.Unlock()
		return
	}
	time.AfterFunc(delay, l.bucket.mu.Unlock)
}
