// ABOUTME: Tests for the delivery dedupe cache
// ABOUTME: Validates claims, resolution, TTL expiry, eviction order and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clk.now
	t.Cleanup(c.Close)
	return c, clk
}

func TestCache_ClaimThenResolve(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	value, seen := c.Claim("<abc@mail>")
	assert.False(t, seen)
	assert.Equal(t, Pending, value)

	// A retry while the first delivery is still running sees it in flight.
	value, seen = c.Claim("<abc@mail>")
	assert.True(t, seen)
	assert.Equal(t, Pending, value)

	c.Resolve("<abc@mail>", "msg-1")
	value, seen = c.Claim("<abc@mail>")
	assert.True(t, seen)
	assert.Equal(t, "msg-1", value)
}

func TestCache_ReleaseAllowsRetry(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	_, seen := c.Claim("k")
	require.False(t, seen)
	c.Release("k")

	_, seen = c.Claim("k")
	assert.False(t, seen)
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Resolve("k", "v")
	_, ok := c.Lookup("k")
	assert.True(t, ok)

	clk.advance(time.Minute)
	_, ok = c.Lookup("k")
	assert.False(t, ok)

	_, seen := c.Claim("k")
	assert.False(t, seen, "expired key can be claimed again")
}

func TestCache_ResolveRefreshesTimestamp(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Claim("k")
	clk.advance(50 * time.Second)
	c.Resolve("k", "v")
	clk.advance(50 * time.Second)

	v, ok := c.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	c.Resolve("a", "1")
	c.Resolve("b", "2")
	c.Resolve("c", "3")
	c.Resolve("a", "1") // refresh a; b is now oldest
	c.Resolve("d", "4")

	_, ok := c.Lookup("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Lookup(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Resolve("old", "1")
	clk.advance(2 * time.Minute)
	c.Resolve("new", "2")

	c.sweep()
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup("new")
	assert.True(t, ok)
}

func TestCache_ConcurrentClaimsHaveOneOwner(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var owners atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if _, seen := c.Claim("same"); !seen {
				owners.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), owners.Load())
}

func TestCache_ConcurrentMixedAccess(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 50)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 50 {
				key := fmt.Sprintf("k-%d-%d", i, j)
				c.Claim(key)
				c.Resolve(key, "v")
				c.Lookup(key)
			}
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
