// Package cache provides a small in-process cache with per-entry TTL and
// LRU eviction.
//
// It backs two hot paths: the first level of the duplicate store (so repeat
// picks within a polling burst never touch Redis) and the message builder's
// static-fragment cache. Both care about bounded memory more than hit rate,
// so eviction is inline on insert rather than via a background sweeper.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// TTLCache is a bounded key/value cache. Entries expire after their
// individual TTL and the least recently used entry is evicted when the
// cache is full. Safe for concurrent use.
type TTLCache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	now        func() time.Time // overridable in tests
}

// NewTTLCache creates a cache holding at most maxEntries entries.
// maxEntries must be positive.
func NewTTLCache(maxEntries int) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &TTLCache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element, maxEntries),
		now:        time.Now,
	}
}

// Get returns the value for key if present and not expired. Expired entries
// are removed on access. A hit refreshes recency.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Contains reports whether key is present and fresh without refreshing
// recency.
func (c *TTLCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if c.now().After(el.Value.(*entry).expiresAt) {
		c.removeElement(el)
		return false
	}
	return true
}

// Set inserts or replaces the value for key with the given TTL.
// Non-positive TTLs are treated as immediate expiry and the key is dropped.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
		return
	}

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxEntries {
		c.evictOldest()
	}
	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})
	c.items[key] = el
}

// Delete removes key if present.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of entries currently held, including any that
// have expired but not yet been touched.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *TTLCache) evictOldest() {
	if el := c.order.Back(); el != nil {
		c.removeElement(el)
	}
}

func (c *TTLCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
