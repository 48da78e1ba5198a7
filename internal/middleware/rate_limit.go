package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	// visitorIdle is how long a client may go quiet before its bucket is dropped.
	visitorIdle = 10 * time.Minute
	// evictEvery bounds how often the idle scan runs.
	evictEvery = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Buckets of clients idle
// longer than visitorIdle are evicted.
type RateLimiter struct {
	ips       map[string]*visitor
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	now       func() time.Time
	lastEvict time.Time
}

// NewRateLimiter allows perMinute requests per client with bursts of half that.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{ips: make(map[string]*visitor), rate: rate.Inf, burst: 1, now: time.Now}
	if perMinute > 0 {
		rl.rate = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = max(perMinute/2, 1)
	}
	return rl
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastEvict) >= evictEvery {
		rl.evictLocked(now)
	}

	if v, ok := rl.ips[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.ips[ip] = &visitor{limiter: l, lastSeen: now}
	return l
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for ip, v := range rl.ips {
		if now.Sub(v.lastSeen) > visitorIdle {
			delete(rl.ips, ip)
		}
	}
	rl.lastEvict = now
}

// Len reports how many clients are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.ips)
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.limiter(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}
