// Package ttl provides the bounded key-value store backing every entity
// table in the cache layer: sliding time-to-live expiry, least-recently
// touched eviction order, and a soft/hard size bound pair.
package ttl

import (
	"container/list"
	"sync"
	"time"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// Option mutates cache configuration.
type Option func(*config)

type config struct {
	ttl       time.Duration
	softLimit int
	hardLimit int
	clock     func() time.Time
}

// WithTTL sets how long an untouched entry stays eligible for reads before
// the eviction pass may remove it. Zero or negative means entries never
// expire.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithSoftLimit sets the size threshold below which eviction passes return
// without scanning anything.
func WithSoftLimit(limit int) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.softLimit = limit
		}
	}
}

// WithHardLimit sets the absolute entry cap, enforced before TTL expiry and
// regardless of it. Zero or negative means unbounded.
func WithHardLimit(limit int) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.hardLimit = limit
		}
	}
}

// withClock overrides the time source in tests.
func withClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Cache is a key-value store bounded in time and size. Reads and writes
// refresh an entry's expiry and move it to the most-recently-touched
// position; the eviction pass runs on writes and removes, from the least
// recently touched end, first whatever the hard cap demands and then the
// contiguous run of expired entries. Expiry is enforced only by that pass:
// a read can return an entry whose TTL lapsed but which no write has swept
// yet.
//
// With no TTL and no hard limit the cache degrades to a plain map and the
// eviction pass is skipped entirely.
//
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	cfg config

	mu        sync.Mutex
	lru       *list.List
	index     map[K]*list.Element
	hits      uint64
	misses    uint64
	evictions uint64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Item is one key-value pair returned by Items.
type Item[K comparable, V any] struct {
	Key   K
	Value V
}

// New creates a cache. Without options it is unbounded.
func New[K comparable, V any](options ...Option) *Cache[K, V] {
	cfg := config{
		clock: time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.hardLimit > 0 && cfg.softLimit > cfg.hardLimit {
		cfg.softLimit = cfg.hardLimit
	}

	return &Cache[K, V]{
		cfg:   cfg,
		lru:   list.New(),
		index: make(map[K]*list.Element),
	}
}

// Set inserts or replaces the value for key, refreshes its expiry, marks it
// most recently touched, and runs the eviction pass.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.clock()
	if element, exists := c.index[key]; exists {
		record := element.Value.(*entry[K, V])
		record.value = value
		record.expiresAt = c.expiryFrom(now)
		c.lru.MoveToFront(element)
	} else {
		element := c.lru.PushFront(&entry[K, V]{
			key:       key,
			value:     value,
			expiresAt: c.expiryFrom(now),
		})
		c.index[key] = element
	}

	c.evictLocked(now)
}

// Get returns the value for key and counts as a touch: the entry's expiry
// is refreshed and it becomes the most recently touched.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[key]
	if !exists {
		c.misses++
		var zero V
		return zero, false
	}
	record := element.Value.(*entry[K, V])
	record.expiresAt = c.expiryFrom(c.cfg.clock())
	c.lru.MoveToFront(element)
	c.hits++

	return record.value, true
}

// Peek returns the value for key without touching it: expiry and position
// are left alone. Inspection paths use this so that debugging a cache does
// not keep its entries alive.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[key]
	if !exists {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++

	return element.Value.(*entry[K, V]).value, true
}

// Pop removes and returns the value for key.
func (c *Cache[K, V]) Pop(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[key]
	if !exists {
		var zero V
		return zero, false
	}
	record := element.Value.(*entry[K, V])
	c.deleteLocked(key, element)

	return record.value, true
}

// Contains reports membership without touching the entry or the counters.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.index[key]
	return exists
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Values snapshots all values in touch order, least recently touched first,
// without touching anything.
func (c *Cache[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make([]V, 0, c.lru.Len())
	for element := c.lru.Back(); element != nil; element = element.Prev() {
		values = append(values, element.Value.(*entry[K, V]).value)
	}

	return values
}

// Items snapshots all entries in touch order, least recently touched first,
// without touching anything.
func (c *Cache[K, V]) Items() []Item[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item[K, V], 0, c.lru.Len())
	for element := c.lru.Back(); element != nil; element = element.Prev() {
		record := element.Value.(*entry[K, V])
		items = append(items, Item[K, V]{Key: record.key, Value: record.value})
	}

	return items
}

// Stats snapshots the table size, configured bounds, and counters.
func (c *Cache[K, V]) Stats() naff.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return naff.CacheStats{
		Size:      c.lru.Len(),
		TTL:       c.cfg.ttl,
		SoftLimit: c.cfg.softLimit,
		HardLimit: c.cfg.hardLimit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictLocked enforces the size and TTL bounds. Entries sit in the LRU list
// most recently touched first, and every touch refreshes expiry, so expired
// entries form a contiguous run at the back; the TTL scan stops at the
// first live entry.
func (c *Cache[K, V]) evictLocked(now time.Time) {
	if c.lru.Len() <= c.cfg.softLimit {
		return
	}

	if c.cfg.hardLimit > 0 {
		for c.lru.Len() > c.cfg.hardLimit {
			c.evictBackLocked()
		}
	}

	if c.cfg.ttl > 0 {
		for {
			back := c.lru.Back()
			if back == nil {
				break
			}
			record := back.Value.(*entry[K, V])
			if now.Before(record.expiresAt) {
				break
			}
			c.evictBackLocked()
		}
	}
}

func (c *Cache[K, V]) evictBackLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	record := back.Value.(*entry[K, V])
	c.deleteLocked(record.key, back)
	c.evictions++
}

func (c *Cache[K, V]) deleteLocked(key K, element *list.Element) {
	c.lru.Remove(element)
	delete(c.index, key)
}

func (c *Cache[K, V]) expiryFrom(now time.Time) time.Time {
	if c.cfg.ttl <= 0 {
		return time.Time{}
	}

	return now.Add(c.cfg.ttl)
}
