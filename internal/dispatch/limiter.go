// ABOUTME: Keyed token-bucket limiters and per-session advisory locks
// ABOUTME: Limiters live in an expiring LRU so idle keys do not accumulate

package dispatch

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 30 * time.Minute
)

// keyedLimiter hands out one token bucket per key.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newKeyedLimiter allows perMinute events per key with the given burst.
// A non-positive perMinute disables limiting and returns nil.
func newKeyedLimiter(perMinute float64, burst int) *keyedLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

// allow reports whether an event for key may happen now. A nil limiter
// always allows.
func (k *keyedLimiter) allow(key string) bool {
	if k == nil {
		return true
	}
	k.mu.Lock()
	l, ok := k.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
	}
	// Re-adding refreshes the idle TTL.
	k.limiters.Add(key, l)
	k.mu.Unlock()
	return l.Allow()
}

// sessionLocks is a set of mutexes keyed by session, created on demand and
// dropped when no one holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock blocks until key is held and returns its unlock function.
func (s *sessionLocks) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sessionLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *sessionLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
