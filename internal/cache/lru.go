// Package cache provides the caching layers for version resolution and
// decision reads: an in-process LRU, Redis, and a two-phase combination.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LRUCache is a thread-safe LRU with per-entry TTLs. It serves the Community
// tier alone and acts as L1 in the two-phase setup. Expired entries are
// reaped lazily on access, so resolved rule versions that fall out of use
// simply age out of the tail.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates an LRU holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached value, or nil, nil on a miss. An expired entry
// counts as a miss and is removed.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.remove(elem)
		c.misses.Add(1)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, nil
}

// Set stores a value with the given TTL, evicting from the cold end when
// over capacity.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
	return nil
}

// Ping always succeeds; the in-process cache has no transport to fail.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

// HitRate reports hits and misses since startup.
func (c *LRUCache) HitRate() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRUCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}
