package providers

import (
	"sync"
	"time"
)

// lookupCache is a small TTL cache for lookups that change slowly (WHOIS,
// geolocation). When full, an arbitrary entry is evicted.
type lookupCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	maxN  int
	now   func() time.Time
	items map[string]cacheEntry
}

type cacheEntry struct {
	data   map[string]interface{}
	expiry time.Time
}

func newLookupCache(ttl time.Duration, maxN int) *lookupCache {
	if maxN <= 0 {
		maxN = 500
	}
	return &lookupCache{ttl: ttl, maxN: maxN, now: time.Now, items: make(map[string]cacheEntry)}
}

func (c *lookupCache) get(key string) (map[string]interface{}, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(ent.expiry) {
		delete(c.items, key)
		return nil, false
	}
	return copyData(ent.data), true
}

func (c *lookupCache) set(key string, data map[string]interface{}) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxN {
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[key] = cacheEntry{data: copyData(data), expiry: c.now().Add(c.ttl)}
}

// copyData is shallow; payload values are never mutated after encoding.
func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
