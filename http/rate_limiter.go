package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/telemetry"
)

// APIKeyHeader is the shared-secret header used as the default limit key.
const APIKeyHeader = "authorization-key"

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size (bucket capacity).
	BurstSize int
	// KeyFunc extracts the rate limit key from the request.
	KeyFunc func(r *http.Request) string
	// ExcludeFunc determines if a request should be excluded from rate limiting.
	ExcludeFunc func(r *http.Request) bool
	// OnLimitExceeded is called when the rate limit is exceeded.
	OnLimitExceeded func(r *http.Request, key string)
	// CleanupInterval is how often idle keys are evicted.
	CleanupInterval time.Duration
	// IdleTTL is how long a key may go unused before eviction.
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig returns sensible production defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		KeyFunc:           APIKeyFunc,
		CleanupInterval:   time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

// IPKeyFunc extracts the client IP address.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// APIKeyFunc keys requests by their authorization-key header, falling back
// to the client IP for requests that carry none.
func APIKeyFunc(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "key:" + key
	}
	return IPKeyFunc(r)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per key.
type RateLimiter struct {
	config RateLimiterConfig
	audit  *logging.AuditLogger

	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a new rate limiter. A positive CleanupInterval
// starts a background eviction loop that runs until Close.
func NewRateLimiter(config RateLimiterConfig, audit *logging.AuditLogger) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = APIKeyFunc
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}

	rl := &RateLimiter{
		config:  config,
		audit:   audit,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.entries[key] = e
	}
	e.lastSeen = rl.now()
	return e.limiter
}

// Allow reports whether the request may proceed and consumes a token if so.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	allowed, _ := rl.allow(r)
	return allowed
}

func (rl *RateLimiter) allow(r *http.Request) (bool, *rate.Limiter) {
	if rl.config.ExcludeFunc != nil && rl.config.ExcludeFunc(r) {
		return true, nil
	}

	key := rl.config.KeyFunc(r)
	limiter := rl.limiterFor(key)
	if limiter.AllowN(rl.now(), 1) {
		return true, limiter
	}

	if rl.config.OnLimitExceeded != nil {
		rl.config.OnLimitExceeded(r, key)
	}
	return false, limiter
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup evicts keys idle for longer than IdleTTL.
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.IdleTTL
	if ttl <= 0 {
		ttl = rl.config.CleanupInterval
	}
	cutoff := rl.now().Add(-ttl)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, key)
		}
	}
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware returns an HTTP middleware that applies rate limiting.
// Rejected requests get 429 RATE_LIMITED and are audited.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, limiter := rl.allow(r)
		if limiter != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.BurstSize))
			remaining := math.Max(0, math.Floor(limiter.TokensAt(rl.now())))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatFloat(remaining, 'f', 0, 64))
		}

		if !allowed {
			rl.audit.LogFromRequest(r, logging.AuditEventRateLimitExceeded, nil, nil, logging.AuditOutcomeDenied, nil)
			w.Header().Set("Retry-After", "1")
			errors.WriteError(w, errors.RateLimited("Too many requests. Please slow down."), telemetry.TraceID(r.Context()))
			return
		}

		next.ServeHTTP(w, r)
	})
}
