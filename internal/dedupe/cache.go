// ABOUTME: Thread-safe TTL cache mapping delivery keys to the result they produced
// ABOUTME: Used by the email webhook to answer provider retries without reprocessing

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Pending is the value held for a key that has been claimed but not yet
// resolved.
const Pending = ""

type cacheEntry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited map from delivery key to result.
// Insertion order is kept in a linked list for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine removes expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim marks key as in flight. It returns the stored value and true when
// key is already known, or Pending and false when the caller now owns it.
// A true result with value Pending means another request is still working.
func (c *Cache) Claim(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.liveLocked(key); ok {
		return e.value, true
	}
	c.storeLocked(key, Pending)
	return Pending, false
}

// Resolve records the result for a claimed key.
func (c *Cache) Resolve(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value)
}

// Release forgets a claim whose processing failed so a retry can run.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Lookup returns the value for key if it is present and not expired.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveLocked(key)
	if !ok {
		return "", false
	}
	return e.value, true
}

// Len reports the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// liveLocked returns the unexpired entry for key. Must be called with mu held.
func (c *Cache) liveLocked(key string) (*cacheEntry, bool) {
	e, ok := c.seen[key]
	if !ok || c.now().Sub(e.timestamp) >= c.ttl {
		return nil, false
	}
	return e, true
}

// storeLocked sets key to value, refreshing its position. Must be called
// with mu held.
func (c *Cache) storeLocked(key, value string) {
	now := c.now()
	if e, ok := c.seen[key]; ok {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry{
		value:     value,
		timestamp: now,
		element:   c.order.PushBack(key),
	}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.seen {
		if now.Sub(e.timestamp) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
