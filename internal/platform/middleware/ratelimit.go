package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// PublicRequestsPerSecond applies to PublicPrefix when > 0.
	PublicRequestsPerSecond float64
	PublicBurstSize         int
	PublicPrefix            string
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:       20,
		BurstSize:               40,
		PublicRequestsPerSecond: 2,
		PublicBurstSize:         10,
		PublicPrefix:            "/api/v1/public/",
		IdleTTL:                 10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one limiter per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
}

func newLimiterStore(rps float64, burst int, idleTTL time.Duration) *limiterStore {
	if burst < 1 {
		burst = 1
	}
	return &limiterStore{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.idleTTL > 0 && now.Sub(s.lastGC) > s.idleTTL {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > s.idleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastGC = now
	}

	cl, ok := s.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimit returns per-client rate limiting middleware. Clients are keyed by
// IP; public booking routes get their own, stricter budget.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	staff := newLimiterStore(cfg.RequestsPerSecond, cfg.BurstSize, cfg.IdleTTL)
	var public *limiterStore
	if cfg.PublicRequestsPerSecond > 0 && cfg.PublicPrefix != "" {
		public = newLimiterStore(cfg.PublicRequestsPerSecond, cfg.PublicBurstSize, cfg.IdleTTL)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.RequestsPerSecond <= 0 {
				return next(c)
			}

			store, limit := staff, cfg.RequestsPerSecond
			if public != nil && strings.HasPrefix(c.Request().URL.Path, cfg.PublicPrefix) {
				store, limit = public, cfg.PublicRequestsPerSecond
			}

			limitHeader := strconv.FormatFloat(limit, 'f', -1, 64)
			limiter := store.get(c.RealIP())
			r := limiter.Reserve()
			if !r.OK() {
				return tooManyRequests(c, limitHeader, 1)
			}
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				return tooManyRequests(c, limitHeader, int(math.Ceil(delay.Seconds())))
			}

			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, limit string, retryAfter int) error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	h := c.Response().Header()
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	h.Set("X-RateLimit-Limit", limit)
	h.Set("X-RateLimit-Remaining", "0")
	return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
}
