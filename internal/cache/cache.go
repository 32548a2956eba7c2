// Package cache implements the process-local resolution cache. It maps
// (system, externalIdentifier, entityType) keys to resolved entity ids with
// a TTL, and supports negative caching: a confirmed not-found is remembered
// for a much shorter window so a mapping registered moments after a miss is
// picked up promptly.
//
// The cache is a latency optimization, not a correctness boundary: every
// value is reproducible by re-running resolution against the mapping store,
// so it may be cleared at any time with no semantic impact. It is safe for
// concurrent use within one process; no cross-process sharing is assumed.
package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kamdental/dental-sync/internal/domain"
)

var (
	// cacheHits counts lookups served from the cache, split by entry kind.
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolution_cache_hits_total",
			Help: "Total resolution cache hits, by entry kind (positive/negative).",
		},
		[]string{"kind"},
	)

	// cacheMisses counts lookups that fell through to the mapping store.
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolution_cache_misses_total",
			Help: "Total resolution cache misses (absent or expired entries).",
		},
	)

	// cacheEntries gauges the number of live (unexpired) entries.
	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resolution_cache_entries",
			Help: "Current number of live resolution cache entries.",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEntries)
}

// Result classifies the outcome of a cache lookup.
type Result int

const (
	// Miss means the key is absent or its entry has expired.
	Miss Result = iota
	// Hit means a live positive entry was found; the entity id is returned.
	Hit
	// NegativeHit means a live "known unresolved" entry was found; callers
	// should treat the identifier as not found without querying the store.
	NegativeHit
)

type entry struct {
	entityID  string
	negative  bool
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache telemetry.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Cache is a TTL-bound map keyed by the canonical mapping key.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]entry
	positiveTTL time.Duration
	negativeTTL time.Duration
	hits        uint64
	misses      uint64

	// now is a test seam for clock control.
	now func() time.Time
}

// New returns a Cache with the given TTLs. Positive entries should live for
// hours (the sync cadence); negative entries for minutes.
func New(positiveTTL, negativeTTL time.Duration) *Cache {
	return &Cache{
		entries:     make(map[string]entry),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}
}

// Get looks up the key. Expired entries are treated as absent and removed.
func (c *Cache) Get(key domain.MappingKey) (string, Result) {
	k := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			delete(c.entries, k)
			cacheEntries.Set(float64(len(c.entries)))
		}
		c.misses++
		cacheMisses.Inc()
		return "", Miss
	}
	c.hits++
	if e.negative {
		cacheHits.WithLabelValues("negative").Inc()
		return "", NegativeHit
	}
	cacheHits.WithLabelValues("positive").Inc()
	return e.entityID, Hit
}

// Put stores a positive resolution with the positive TTL.
func (c *Cache) Put(key domain.MappingKey, entityID string) {
	c.set(key, entry{entityID: entityID, expiresAt: c.now().Add(c.positiveTTL)})
}

// PutNegative stores a confirmed not-found with the (shorter) negative TTL.
func (c *Cache) PutNegative(key domain.MappingKey) {
	c.set(key, entry{negative: true, expiresAt: c.now().Add(c.negativeTTL)})
}

func (c *Cache) set(key domain.MappingKey, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = e
	cacheEntries.Set(float64(len(c.entries)))
}

// Invalidate removes one key, if present.
func (c *Cache) Invalidate(key domain.MappingKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
	cacheEntries.Set(float64(len(c.entries)))
}

// Clear drops every entry. Hit/miss counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	cacheEntries.Set(0)
}

// Stats returns hit/miss counters and the live entry count. Expired entries
// are pruned so Size reflects only entries that could still serve a hit.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	cacheEntries.Set(float64(len(c.entries)))
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}
