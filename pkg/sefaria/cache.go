package sefaria

import (
	"container/list"
	"net/url"
	"sync"
	"time"
)

// Cache holds thinned responses keyed by endpoint path plus sorted query
// parameters. It combines a freshness TTL with LRU capacity eviction; the two
// mechanisms are independent. An expired entry is not purged on read — it
// stays resident (and keeps its capacity slot) until the next write to the
// same key or until it ages out of the LRU order. Bounded staleness of one
// TTL period is acceptable for a read-mostly reference library.
//
// Construct one Cache at process start and hand it to the gateway; there is
// no package-level instance.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	value     ThinPayload
	expiresAt time.Time
}

// NewCache creates a cache with the given entry capacity and freshness TTL.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// CacheKey builds a deterministic key from a path and its parameters.
// url.Values.Encode sorts by key, so parameter order never causes a miss.
func CacheKey(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// Get returns the cached payload if present and fresh. A fresh hit is moved
// to the most-recently-used position. An expired entry reports a miss and is
// left in place.
func (c *Cache) Get(key string) (ThinPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Put writes or overwrites the entry for key with a fresh TTL, then evicts
// from the least-recently-used end until within capacity.
func (c *Cache) Put(key string, value ThinPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of resident entries, fresh or expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
