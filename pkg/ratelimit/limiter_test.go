package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := newClock()
	tb := newTokenBucket(5, 1.0, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, tb.Allow(), "6th request should be denied")

	clock.Advance(2 * time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_RefillCapped(t *testing.T) {
	clock := newClock()
	tb := newTokenBucket(3, 1.0, clock.Now)
	clock.Advance(time.Hour)
	tb.Allow()
	assert.Equal(t, 2.0, tb.Tokens())
}

func TestTokenBucket_Reset(t *testing.T) {
	tb := NewTokenBucket(3, 0.001)
	for i := 0; i < 3; i++ {
		tb.Allow()
	}
	assert.False(t, tb.Allow())

	tb.Reset()
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d should be allowed after reset", i+1)
	}
}

func TestRateLimiter_AllowPerKey(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(2, 1.0, 0, WithClock(clock.Now))

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "keys are limited independently")

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiter_ResetAndRemove(t *testing.T) {
	rl := NewRateLimiter(1, 0.001, 0)
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	rl.Reset("k")
	assert.True(t, rl.Allow("k"))

	rl.Remove("k")
	assert.Equal(t, 0, rl.GetStats().ActiveBuckets)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiter_Stats(t *testing.T) {
	rl := NewRateLimiter(10, 5.0, 0)
	rl.Allow("a")
	rl.Allow("b")

	stats := rl.GetStats()
	assert.Equal(t, 2, stats.ActiveBuckets)
	assert.Equal(t, 10, stats.TotalCapacity)
	assert.Equal(t, 5.0, stats.RefillRate)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(5, 1.0, time.Hour, WithClock(clock.Now))
	defer rl.Close()

	rl.Allow("idle")
	clock.Advance(30 * time.Minute)
	rl.Allow("busy")
	clock.Advance(31 * time.Minute)

	rl.cleanup()
	assert.Equal(t, 1, rl.GetStats().ActiveBuckets)
	rl.Close()
	rl.Close()
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 0.001, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if rl.Allow("concurrent") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, 1, rl.GetStats().ActiveBuckets)
}

func TestMiddleware(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPEnabled:    true,
		PerIPCapacity:   2,
		PerIPRefillRate: 0.001,
		IncludeHeaders:  true,
	})
	defer m.Close()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mfa/validate", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do("192.0.2.1")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit-IP"))
	assert.Equal(t, http.StatusNoContent, do("192.0.2.1").Code)

	rec = do("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2").Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Real-IP", " 203.0.113.9 ")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}

func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(1000000, 1000000.0, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow("benchmark-key")
	}
}
