// Package cache provides the time-bounded in-memory cache used for
// expensive backend reads.
//
// Keys are built with Key and have the form "op:path:param...". Entries
// expire lazily on read and eagerly through Sweep, which Run calls on a
// ticker. Invalidation by repository goes through PathPattern, which
// escapes the path so that regex metacharacters in real filesystem paths
// (Windows separators, parentheses, dots) match literally.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL applies to Set when no other TTL is configured
	DefaultTTL = 60 * time.Second

	// DefaultSweepInterval is how often Run evicts expired entries
	DefaultSweepInterval = 5 * time.Minute
)

type entry[V any] struct {
	value    V
	inserted time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.inserted) > e.ttl
}

// Stats reports cache usage counters
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a TTL map safe for concurrent use.
type Cache[V any] struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
	stats   Stats
}

// Option configures a Cache
type Option func(*options)

type options struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// WithTTL sets the default time-to-live
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithMaxEntries bounds the cache size. When full, the oldest insertion is
// evicted. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock replaces time.Now, for simulated clocks in tests
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty cache
func New[V any](opts ...Option) *Cache[V] {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		ttl:        o.ttl,
		maxEntries: o.maxEntries,
		now:        o.now,
		entries:    make(map[string]entry[V]),
	}
}

// Get returns the value for key if present and not expired.
// An expired entry is removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && e.expired(c.now()) {
		delete(c.entries, key)
		c.stats.Evictions++
		ok = false
	}
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	c.stats.Hits++
	return e.value, true
}

// Has reports whether Get would return a value
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value with the default TTL, replacing any existing entry
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value with an explicit TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 {
		for len(c.entries) >= c.maxEntries {
			if !c.evictOldest() {
				break
			}
		}
	}

	c.entries[key] = entry[V]{value: value, inserted: c.now(), ttl: ttl}
}

// evictOldest removes the entry inserted first.
// Must be called with lock held.
func (c *Cache[V]) evictOldest() bool {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.inserted.Before(oldest) {
			oldestKey, oldest, found = k, e.inserted, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
	return found
}

// Invalidate removes key. Removing a missing key is a no-op.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePattern removes every key matched by re and returns how many
// were removed. Build re with PathPattern when it embeds a path.
func (c *Cache[V]) InvalidatePattern(re *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if re.MatchString(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes all entries
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the usage counters
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Sweep removes expired entries and returns how many were removed
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	c.stats.Evictions += int64(n)
	return n
}

// Run sweeps every interval until ctx is done
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// ===================
// Keys
// ===================

const keySep = ":"

// pathEscaper keeps separators inside a path from ending its key segment
var pathEscaper = strings.NewReplacer("%", "%25", keySep, "%3A")

// Key builds a cache key from an operation name, a repository path and
// the operation parameters: Key("commits", "/r", 50, 0) = "commits:/r:50:0".
// A ':' in the path is written as %3A.
func Key(op, path string, params ...any) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteString(keySep)
	b.WriteString(pathEscaper.Replace(path))
	for _, p := range params {
		b.WriteString(keySep)
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// PathPattern matches every key built by Key for exactly path. The path is
// escaped, and anchored between the operation segment and the next
// separator, so /tmp/r1 matches neither /tmp/r10 nor /tmp/r1-backup.
func PathPattern(path string) *regexp.Regexp {
	return regexp.MustCompile("^[^" + keySep + "]*" + keySep + regexp.QuoteMeta(pathEscaper.Replace(path)) + "(" + keySep + "|$)")
}
