package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// RateLimiter keeps one token bucket per user.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu         sync.RWMutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	now        func() time.Time
}

// NewRateLimiter allows requestsPerMinute per user with the given burst.
// A non-positive requestsPerMinute disables limiting.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:      limit,
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (r *RateLimiter) get(userID string) *rate.Limiter {
	now := r.now()

	r.mu.RLock()
	limiter, ok := r.limiters[userID]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		r.lastAccess[userID] = now
		r.mu.Unlock()
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// another request may have created it meanwhile
	if limiter, ok = r.limiters[userID]; !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[userID] = limiter
	}
	r.lastAccess[userID] = now
	return limiter
}

// Cleanup drops limiters idle for longer than the idle TTL and returns how
// many were removed.
func (r *RateLimiter) Cleanup() int {
	cutoff := r.now().Add(-limiterIdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for userID, last := range r.lastAccess {
		if last.Before(cutoff) {
			delete(r.limiters, userID)
			delete(r.lastAccess, userID)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until stop is closed.
func (r *RateLimiter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Cleanup()
		case <-stop:
			return
		}
	}
}

// Middleware rejects requests over the caller's budget with 429. It must run
// after AuthMiddleware.
func (r *RateLimiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := GetUserID(c)
		if key == "" {
			key = c.RealIP()
		}

		now := r.now()
		reservation := r.get(key).ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			retry := int(math.Ceil(delay.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		}
		return next(c)
	}
}
