package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"nexopos/internal/apierror"

	"github.com/gin-gonic/gin"
)

// rateEntry tracks request counts per key within a fixed window.
type rateEntry struct {
	count     int
	windowEnd time.Time
}

// rateLimiter keys requests by tenant when authenticated, by IP otherwise.
type rateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*rateEntry
	limit     int
	window    time.Duration
	lastPurge time.Time
	now       func() time.Time
}

// RateLimiter returns a fixed-window limiter of limit requests per window.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	rl := &rateLimiter{entries: map[string]*rateEntry{}, limit: limit, window: window, now: time.Now}
	return rl.handle
}

func (rl *rateLimiter) handle(c *gin.Context) {
	key := "ip:" + c.ClientIP()
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*JWTClaims); ok {
			key = "tenant:" + claims.TenantID
		}
	}

	allowed, retryAfter := rl.take(key)
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("too many requests, retry shortly"))
		return
	}
	c.Next()
}

func (rl *rateLimiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	// Expired entries are dropped lazily so idle keys do not accumulate.
	if now.Sub(rl.lastPurge) > 5*rl.window {
		for k, e := range rl.entries {
			if now.After(e.windowEnd) {
				delete(rl.entries, k)
			}
		}
		rl.lastPurge = now
	}

	e, ok := rl.entries[key]
	if !ok || now.After(e.windowEnd) {
		e = &rateEntry{windowEnd: now.Add(rl.window)}
		rl.entries[key] = e
	}
	e.count++
	if e.count > rl.limit {
		return false, e.windowEnd.Sub(now)
	}
	return true, 0
}
