package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAdmitsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(5, 60)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("client-a"), "request %d should be admitted", i+1)
	}
	assert.False(t, rl.Allow("client-a"))
}

func TestAllowIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 60)

	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-b"))
}

func TestAllowRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(60, 60) // one token per second

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, rl.Allow("client-a"))
	}
	require.False(t, rl.Allow("client-a"))

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))
}

func TestRefillCapsAtCapacity(t *testing.T) {
	rl := NewRateLimiter(10, 60)

	now := time.Now()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("client-a"))

	// A long idle period refills to capacity, not beyond.
	now = now.Add(time.Hour)
	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("client-a"))
	}
	assert.False(t, rl.Allow("client-a"))
}

func TestRetryAfter(t *testing.T) {
	rl := NewRateLimiter(60, 60)

	assert.Equal(t, 0, rl.RetryAfter("unknown-client"))

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, rl.Allow("client-a"))
	}
	require.False(t, rl.Allow("client-a"))

	// One token per second, bucket empty: next token in one second.
	retryAfter := rl.RetryAfter("client-a")
	assert.Equal(t, 1, retryAfter)
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 100.0, rl.capacity)
}

func TestClientIDPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/predict", nil)
	r.RemoteAddr = "10.0.0.1:4242"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "203.0.113.7", ClientID(r))
}

func TestClientIDFallsBackToPeerAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/predict", nil)
	r.RemoteAddr = "10.0.0.1:4242"

	assert.Equal(t, "10.0.0.1", ClientID(r))
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	m := NewRateLimitMiddleware(&RateLimitConfig{
		Enabled:           true,
		RequestsPerWindow: 1,
		WindowSeconds:     60,
	}, nil)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newClientRequest("/predict"))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newClientRequest("/predict"))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestMiddlewareExemptsProbes(t *testing.T) {
	m := NewRateLimitMiddleware(&RateLimitConfig{
		Enabled:           true,
		RequestsPerWindow: 1,
		WindowSeconds:     60,
	}, nil)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/ready", "/live"} {
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newClientRequest(path))
			assert.Equal(t, http.StatusOK, rec.Code, "probe %s should never be limited", path)
		}
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	m := NewRateLimitMiddleware(&RateLimitConfig{
		Enabled:           false,
		RequestsPerWindow: 1,
		WindowSeconds:     60,
	}, nil)

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newClientRequest("/predict"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func newClientRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "10.0.0.1:4242"
	return r
}
