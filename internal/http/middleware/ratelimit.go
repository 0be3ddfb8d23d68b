// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a fixed-window, per-IP submission limiter. Every
// client IP gets a counter that resets when its window expires; requests
// beyond the limit are rejected with 429 and a Retry-After pointing at the
// end of the current window. Denials are reported to a callback so the abuse
// tracker can flag repeat offenders.
//
// Notes:
//   - The limiter is process-local. For horizontally scaled deployments the
//     Redis-backed abuse tracker enforces the longer-term history; this
//     limiter only guards the hot path of a single process.
//   - Fixed windows are deliberate: a sender is allowed N submissions per
//     window, not a smoothed rate, matching how the form is used by humans.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// window tracks one IP's submissions within the current fixed window.
type window struct {
	start time.Time
	count int
}

// FixedWindowLimiter counts submissions per IP in fixed windows.
//
// Windows are created on demand and stored in an internal map guarded by a
// mutex. Expired windows are evicted opportunistically during lookups to keep
// memory usage bounded. Safe for concurrent use.
type FixedWindowLimiter struct {
	limit  int
	length time.Duration

	// OnDeny, when set, is called with the client IP each time a request is
	// rejected. Used to flag the IP in the abuse tracker.
	OnDeny func(c *gin.Context, ip string)

	mu       sync.Mutex
	visitors map[string]*window
	cleanupN uint64

	now func() time.Time
}

// NewFixedWindowLimiter constructs a limiter allowing limit requests per
// length. limit <= 0 is coerced to 1.
func NewFixedWindowLimiter(limit int, length time.Duration) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		length = time.Hour
	}
	return &FixedWindowLimiter{
		limit:    limit,
		length:   length,
		visitors: make(map[string]*window),
		now:      time.Now,
	}
}

// allow records one request for ip and reports whether it fits in the current
// window, along with the time the window resets.
func (fl *FixedWindowLimiter) allow(ip string) (ok bool, reset time.Time) {
	now := fl.now()

	fl.mu.Lock()
	defer fl.mu.Unlock()

	// Opportunistic cleanup after a threshold of lookups. Evict before
	// touching the requested entry so a stale window for this IP also gets
	// replaced rather than refreshed.
	fl.cleanupN++
	if fl.cleanupN >= 5000 {
		for k, w := range fl.visitors {
			if now.Sub(w.start) >= fl.length {
				delete(fl.visitors, k)
			}
		}
		fl.cleanupN = 0
	}

	w, found := fl.visitors[ip]
	if !found || now.Sub(w.start) >= fl.length {
		fl.visitors[ip] = &window{start: now, count: 1}
		return true, now.Add(fl.length)
	}

	reset = w.start.Add(fl.length)
	if w.count >= fl.limit {
		return false, reset
	}
	w.count++
	return true, reset
}

// Handler returns a Gin middleware enforcing the fixed-window limit per
// client IP. Rejections emit:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds until window reset>
//	{
//	  "request_id": "<uuid>",
//	  "code":       "too_many_requests",
//	  "message":    "submission limit reached, try again later"
//	}
func (fl *FixedWindowLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, reset := fl.allow(ip)
		if ok {
			c.Next()
			return
		}

		if fl.OnDeny != nil {
			fl.OnDeny(c, ip)
		}

		retry := int(reset.Sub(fl.now()).Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "submission limit reached, try again later",
		})
	}
}
