package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = c.Now
	return limiter, c
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter, c := newTestLimiter(config)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Allow(ctx, "subject")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	c.Advance(500 * time.Millisecond)
	d, err := limiter.Allow(ctx, "subject")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)

	d, err = limiter.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 11, d.Remaining)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, c := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second})

	for _, key := range []string{"a", "b", "c"} {
		_, err := limiter.Allow(context.Background(), key)
		require.NoError(t, err)
	}
	assert.Len(t, limiter.buckets, 3)

	c.Advance(3 * time.Second)
	limiter.Cleanup()
	assert.Empty(t, limiter.buckets)
}

func TestRateLimiter_Concurrency(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Hour, BurstSize: 10}
	limiter := NewRateLimiter(config)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d, _ := limiter.Allow(context.Background(), "shared")
				if d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 110, allowed)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		now = start.Add(time.Duration(i) * 10 * time.Second)
		d, err := limiter.Allow(ctx, "subject")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	now = start.Add(30 * time.Second)
	d, err := limiter.Allow(ctx, "subject")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 30*time.Second, d.Reset, "the oldest request leaves the window at 60s")

	ttl, err := limiter.TTL(ctx, "subject")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// only the request made at 0s has left the window
	now = start.Add(61 * time.Second)
	d, err = limiter.Allow(ctx, "subject")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = limiter.Allow(ctx, "subject")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 9*time.Second, d.Reset)

	require.NoError(t, limiter.Reset(ctx, "subject"))
	assert.False(t, mr.Exists("test:subject"))

	mr.Close()
	_, err = limiter.Allow(ctx, "subject")
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	subjects := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	anonymous := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	m := NewRateLimitMiddleware(subjects, anonymous)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(subject rbac.Subject, remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/items", nil)
		req.RemoteAddr = remoteAddr
		if subject != nil {
			req = req.WithContext(rbac.WithSubject(req.Context(), subject))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := serve(nil, "10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	w = serve(nil, "10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusOK, serve(nil, "10.0.0.2:1234").Code)

	// one user has a separate budget per guard
	user := &users.User{ID: uuid.New()}
	web := users.NewActor(user, rbac.GuardWeb)
	api := users.NewActor(user, rbac.GuardAPI)
	assert.Equal(t, http.StatusOK, serve(web, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(web, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(web, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(api, "10.0.0.1:1").Code)
}

func TestRateLimitMiddleware_LimiterError(t *testing.T) {
	m := NewRateLimitMiddleware(failingLimiter{}, failingLimiter{})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	m.SetFailOpen(false)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.9"}, "10.0.0.1:12345", "192.168.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "192.168.1.2"}, "10.0.0.1:12345", "192.168.1.2"},
		{"remote addr", nil, "10.0.0.1:12345", "10.0.0.1"},
		{"remote addr without port", nil, "10.0.0.1", "10.0.0.1"},
		{"forwarded for wins", map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-IP": "192.168.1.2"}, "10.0.0.1:12345", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
