package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/univote/backend/pkg/response"
)

const (
	// limiterIdle is how long an unused per-user limiter is kept.
	limiterIdle = 10 * time.Minute
	// sweepEvery bounds how often a large visitor map is scanned.
	sweepEvery    = time.Minute
	sweepMinCount = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per authenticated user.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	limit     rate.Limit
	burst     int
	now       func() time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	if len(rl.visitors) > sweepMinCount && now.Sub(rl.lastSweep) >= sweepEvery {
		rl.sweep(now)
	}
	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.lastSweep = now
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > limiterIdle {
			delete(rl.visitors, k)
		}
	}
}

// RateLimit returns a middleware keyed by the JWT user ID. It must run after JWT.
// A nil limiter disables limiting.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		key := c.ClientIP()
		if id, ok := c.Get(ContextUserID); ok {
			if uid, ok := id.(uuid.UUID); ok {
				key = uid.String()
			}
		}
		if !rl.Allow(key) {
			c.Header("Retry-After", "60")
			response.TooManyRequests(c, "too many requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}
