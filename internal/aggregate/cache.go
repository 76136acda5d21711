package aggregate

import (
	"sync"

	"github.com/tinytelemetry/tally/internal/model"
)

type cacheKey struct {
	metric string
	window model.Window
}

// Cache holds the latest snapshot per (metric, window). Published results
// are shared with readers and never mutated.
type Cache struct {
	mu      sync.RWMutex
	results map[cacheKey]*model.AggregateResult
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{results: make(map[cacheKey]*model.AggregateResult)}
}

// Put replaces the snapshot for r's (metric, window).
func (c *Cache) Put(r *model.AggregateResult) {
	c.mu.Lock()
	c.results[cacheKey{r.MetricID, r.Window}] = r
	c.mu.Unlock()
}

// Get returns the latest snapshot, if any.
func (c *Cache) Get(metricID string, w model.Window) (*model.AggregateResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[cacheKey{metricID, w}]
	return r, ok
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Window returns every metric's snapshot for w, keyed by metric id.
func (c *Cache) Window(w model.Window) map[string]*model.AggregateResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*model.AggregateResult)
	for k, r := range c.results {
		if k.window == w {
			out[k.metric] = r
		}
	}
	return out
}
