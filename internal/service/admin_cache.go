package service

import (
	"sync"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/util"
)

// DefaultAdminCacheTTL is used when Set is called without a ttl.
const DefaultAdminCacheTTL = 5 * time.Minute

// AdminCacheOptions groups dependencies for AdminCache.
type AdminCacheOptions struct {
	DefaultTTL time.Duration        // Optional: defaults to 5m
	Clock      util.Clock           // Optional: defaults to system time
	Metrics    *metrics.AuthMetrics // Optional: hit/miss counters
}

// AdminCache memoises admin verifications per principal id.
// Expired entries are never returned; Get deletes them lazily and Cleanup sweeps the rest.
type AdminCache struct {
	mu         sync.RWMutex
	entries    map[string]domainauth.CacheEntry
	defaultTTL time.Duration
	clock      util.Clock
	metrics    *metrics.AuthMetrics
}

// NewAdminCache constructs an empty cache.
func NewAdminCache(opts AdminCacheOptions) *AdminCache {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultAdminCacheTTL
	}
	return &AdminCache{
		entries:    make(map[string]domainauth.CacheEntry),
		defaultTTL: ttl,
		clock:      util.OrSystem(opts.Clock),
		metrics:    opts.Metrics,
	}
}

// Get returns the live entry for principalID. An expired entry is deleted and reported as a miss.
func (c *AdminCache) Get(principalID string) (domainauth.CacheEntry, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[principalID]
	c.mu.RUnlock()

	if ok && !e.Expired(now) {
		c.metrics.CacheLookup(true)
		return e, true
	}
	if ok {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		if cur, still := c.entries[principalID]; still && cur.Expired(now) {
			delete(c.entries, principalID)
		}
		c.mu.Unlock()
	}
	c.metrics.CacheLookup(false)
	return domainauth.CacheEntry{}, false
}

// Set stores a verification, overwriting any existing entry. A non-positive ttl uses the default.
func (c *AdminCache) Set(principalID string, isAdmin bool, profile *domainauth.Profile, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	e := domainauth.CacheEntry{
		IsAdmin:   isAdmin,
		Profile:   profile,
		Timestamp: c.clock.Now(),
		TTL:       ttl,
	}
	c.mu.Lock()
	c.entries[principalID] = e
	c.mu.Unlock()
}

// Clear removes the given principals, or every entry when called without arguments.
func (c *AdminCache) Clear(principalIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(principalIDs) == 0 {
		clear(c.entries)
		return
	}
	for _, id := range principalIDs {
		delete(c.entries, id)
	}
}

// Cleanup evicts every expired entry and returns how many were removed.
func (c *AdminCache) Cleanup() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *AdminCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
