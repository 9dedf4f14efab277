package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/observability/metrics"
)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RequestsPerWindow int  `json:"requests_per_window" yaml:"requests_per_window"`
	WindowSeconds     int  `json:"window_seconds" yaml:"window_seconds"`
}

// tokenBucket tracks one client's admission credits.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	rate       float64
	capacity   float64
}

// RateLimiter is a per-client token-bucket limiter. The bucket map has its
// own lock, independent of the registry's, so admission control never waits
// on a slow serving path. Buckets are never evicted; the map is bounded by
// the client population over the process lifetime.
type RateLimiter struct {
	rate     float64
	capacity float64
	buckets  map[string]*tokenBucket
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimiter creates a limiter admitting requestsPerWindow requests per
// windowSeconds per client, with burst capacity of a full window.
func NewRateLimiter(requestsPerWindow, windowSeconds int) *RateLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 100
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &RateLimiter{
		rate:     float64(requestsPerWindow) / float64(windowSeconds),
		capacity: float64(requestsPerWindow),
		buckets:  make(map[string]*tokenBucket),
		now:      time.Now,
	}
}

// Allow reports whether a request from the client is admitted. Refill,
// check and deduction happen as one step under the lock, so concurrent
// requests from the same client cannot lose updates.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[clientID]
	if !ok {
		bucket = &tokenBucket{
			tokens:     rl.capacity,
			lastRefill: now,
			rate:       rl.rate,
			capacity:   rl.capacity,
		}
		rl.buckets[clientID] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens = math.Min(bucket.capacity, bucket.tokens+elapsed*bucket.rate)
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// RetryAfter returns the whole seconds until the client's bucket holds a
// token again; 0 when a token is already available or the client is
// unknown.
func (rl *RateLimiter) RetryAfter(clientID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[clientID]
	if !ok || bucket.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - bucket.tokens) / bucket.rate))
}

// RateLimitMiddleware enforces per-client admission control on the HTTP
// surface.
type RateLimitMiddleware struct {
	config  *RateLimitConfig
	limiter *RateLimiter
	logger  *logrus.Logger
}

// NewRateLimitMiddleware creates the middleware.
func NewRateLimitMiddleware(config *RateLimitConfig, logger *logrus.Logger) *RateLimitMiddleware {
	if config == nil {
		config = &RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 100,
			WindowSeconds:     60,
		}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &RateLimitMiddleware{
		config:  config,
		limiter: NewRateLimiter(config.RequestsPerWindow, config.WindowSeconds),
		logger:  logger,
	}
}

// Limiter exposes the underlying limiter, mainly for tests.
func (m *RateLimitMiddleware) Limiter() *RateLimiter {
	return m.limiter
}

// Middleware returns the HTTP middleware function.
func (m *RateLimitMiddleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.config.Enabled || isProbePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			clientID := ClientID(r)
			if !m.limiter.Allow(clientID) {
				retryAfter := m.limiter.RetryAfter(clientID)
				metrics.IncRateLimitRejection()
				m.logger.WithFields(logrus.Fields{
					"client_id":   clientID,
					"path":        r.URL.Path,
					"retry_after": retryAfter,
				}).Warn("Rate limit exceeded")

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Rate limit exceeded",
					},
					"retry_after": retryAfter,
					"timestamp":   time.Now().UTC().Format(time.RFC3339),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientID identifies the caller: the forwarded address when present,
// otherwise the transport-level peer address.
func ClientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Health probes are exempt from rate limiting.
func isProbePath(path string) bool {
	switch path {
	case "/health", "/ready", "/live":
		return true
	}
	return false
}
