package claims

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// DefaultSessionTTL is how long a cached claims context is trusted
const DefaultSessionTTL = time.Hour

// Cache is a process-local, size-bounded cache of validated claims contexts
// keyed by uid. Entries expire after the TTL and are replaced, never merged.
// Losing the cache is always safe; callers fall back to the claims store.
type Cache struct {
	cache   *lru.LRU[string, *auth.ClaimsContext]
	ttl     time.Duration
	metrics *observability.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// NewCache creates a cache holding at most size entries for ttl each
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Cache{
		cache: lru.NewLRU[string, *auth.ClaimsContext](size, nil, ttl),
		ttl:   ttl,
	}
}

// WithMetrics records hits and misses in Prometheus
func (c *Cache) WithMetrics(m *observability.Metrics) *Cache {
	c.metrics = m
	return c
}

// TTL returns the configured entry lifetime
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the cached context for uid
func (c *Cache) Get(uid string) (*auth.ClaimsContext, bool) {
	cc, ok := c.cache.Get(uid)
	if !ok {
		c.misses.Add(1)
		c.metrics.ObserveCacheLookup(false)
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveCacheLookup(true)
	return cc.Clone(), true
}

// Put stores a copy of cc, replacing any previous entry for the same uid
func (c *Cache) Put(cc *auth.ClaimsContext) {
	if cc == nil || cc.UID == "" {
		return
	}
	c.cache.Add(cc.UID, cc.Clone())
}

// Invalidate drops the entry for uid
func (c *Cache) Invalidate(uid string) {
	c.cache.Remove(uid)
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.cache.Purge()
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
