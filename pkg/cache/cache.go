// Package cache implements the content-addressed response cache that
// sits in front of the upstream inference provider.
//
// Entries are keyed by a fingerprint of the request content (see Key)
// and bounded both by TTL and by a maximum entry count. Maintenance is
// opportunistic: every Fetch/Store bumps an operation counter and may
// trigger a sweep that first drops expired entries and then, only if the
// store is still over capacity, evicts in insertion order.
package cache

import (
	"sync"
	"time"

	"github.com/factgate/factgate/pkg/observability/logging"
	"github.com/factgate/factgate/pkg/observability/metrics"
)

const (
	// DefaultTTL bounds entry lifetime when the caller does not override it.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries bounds the number of stored entries.
	DefaultMaxEntries = 1000

	// DefaultCleanupThreshold is the capacity fraction at which every
	// operation triggers a maintenance sweep.
	DefaultCleanupThreshold = 0.8

	// opSweepInterval forces a sweep every N operations regardless of
	// occupancy, so a quiet cache still sheds expired entries.
	opSweepInterval = 100
)

// CacheEntry is a stored response plus the bookkeeping the eviction
// policies need.
type CacheEntry struct {
	Key          string
	Value        []byte
	CreatedAt    time.Time
	TTL          time.Duration
	LastAccessAt time.Time
	HitCount     int
}

// expired reports whether the entry is past its TTL at the given time.
func (e *CacheEntry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

// Options configures a ContentCache. Zero values fall back to the
// package defaults.
type Options struct {
	DefaultTTL       time.Duration
	MaxEntries       int
	CleanupThreshold float64
	Policy           EvictionPolicy
}

// ContentCache is a TTL-bounded, capacity-bounded in-memory cache.
// All methods are safe for concurrent use. The cache never returns
// errors: expired or missing entries degrade to a miss.
type ContentCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry

	defaultTTL time.Duration
	maxEntries int
	threshold  float64
	policy     EvictionPolicy

	hits   int64
	misses int64
	ops    uint64

	now func() time.Time // swapped in tests
}

// NewContentCache creates a cache with the given options.
func NewContentCache(opts Options) *ContentCache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.CleanupThreshold <= 0 || opts.CleanupThreshold > 1 {
		opts.CleanupThreshold = DefaultCleanupThreshold
	}
	if opts.Policy == nil {
		opts.Policy = &FIFOPolicy{}
	}
	return &ContentCache{
		entries:    make(map[string]*CacheEntry),
		defaultTTL: opts.DefaultTTL,
		maxEntries: opts.MaxEntries,
		threshold:  opts.CleanupThreshold,
		policy:     opts.Policy,
		now:        time.Now,
	}
}

// Fetch looks up the cached value for the given content. Expired entries
// are removed and reported as a miss. The returned slice is a copy; the
// caller cannot alias the stored value.
func (c *ContentCache) Fetch(primaryText string, attachments ...Attachment) ([]byte, bool) {
	key := Key(primaryText, attachments...)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	entry, ok := c.entries[key]
	if !ok || entry.expired(now) {
		if ok {
			delete(c.entries, key)
			metrics.RecordEviction("expired", 1)
		}
		c.misses++
		metrics.RecordCacheMiss()
		c.maybeSweep(now)
		return nil, false
	}

	entry.LastAccessAt = now
	entry.HitCount++
	c.hits++
	metrics.RecordCacheHit()
	c.maybeSweep(now)

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return value, true
}

// Store inserts or overwrites the entry for the given content using the
// default TTL.
func (c *ContentCache) Store(primaryText string, value []byte, attachments ...Attachment) {
	c.StoreWithTTL(primaryText, value, c.defaultTTL, attachments...)
}

// StoreWithTTL inserts or overwrites the entry with an explicit TTL.
func (c *ContentCache) StoreWithTTL(primaryText string, value []byte, ttl time.Duration, attachments ...Attachment) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(primaryText, attachments...)

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	c.entries[key] = &CacheEntry{
		Key:          key,
		Value:        stored,
		CreatedAt:    now,
		TTL:          ttl,
		LastAccessAt: now,
	}
	metrics.RecordCacheStore()
	c.maybeSweep(now)
	metrics.CacheSize.Set(float64(len(c.entries)))
}

// Stats returns a snapshot of cache counters.
func (c *ContentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:          len(c.entries),
		MaxSize:       c.maxEntries,
		Hits:          c.hits,
		Misses:        c.misses,
		TotalRequests: total,
		HitRate:       rate,
	}
}

// Clear empties the store and resets all counters.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CacheEntry)
	c.hits = 0
	c.misses = 0
	c.ops = 0
	metrics.CacheSize.Set(0)
}

// ResetStats resets hit/miss counters without touching stored entries.
func (c *ContentCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
}

// maybeSweep runs maintenance when either trigger fires: occupancy at or
// above the cleanup threshold, or every opSweepInterval operations.
// Caller must hold c.mu.
func (c *ContentCache) maybeSweep(now time.Time) {
	c.ops++
	thresholdSize := int(float64(c.maxEntries) * c.threshold)
	if len(c.entries) >= thresholdSize || c.ops%opSweepInterval == 0 {
		c.sweep(now)
	}
}

// sweep removes expired entries first, then enforces capacity by
// evicting in policy order (insertion order for the default FIFO
// policy). Expiry runs before capacity enforcement so stale data is
// never retained in preference to fresh data. Caller must hold c.mu.
func (c *ContentCache) sweep(now time.Time) {
	expired := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			expired++
		}
	}
	if expired > 0 {
		metrics.RecordEviction("expired", expired)
		logging.Debugf("Cache sweep removed %d expired entries", expired)
	}

	over := len(c.entries) - c.maxEntries
	if over <= 0 {
		metrics.CacheSize.Set(float64(len(c.entries)))
		return
	}

	remaining := make([]CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		remaining = append(remaining, *entry)
	}
	for i := 0; i < over; i++ {
		victim := c.policy.SelectVictim(remaining)
		if victim < 0 {
			break
		}
		delete(c.entries, remaining[victim].Key)
		remaining[victim] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]
	}
	metrics.RecordEviction("capacity", over)
	metrics.CacheSize.Set(float64(len(c.entries)))
	logging.Debugf("Cache sweep evicted %d entries over capacity (max=%d)", over, c.maxEntries)
}
