// Package middleware provides HTTP middleware for Landio.
// ratelimit.go implements a per-IP token-bucket limiter for the credential
// endpoints (login, setup, second-factor verify).
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// ipLimiter is one client's bucket and when it was last touched.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out per-IP limiters and forgets idle ones.
type limiterSet struct {
	mu      sync.Mutex
	entries map[string]*ipLimiter
	every   rate.Limit
	burst   int
	idle    time.Duration
}

func newLimiterSet(maxRequests int, window time.Duration) *limiterSet {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &limiterSet{
		entries: make(map[string]*ipLimiter),
		every:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		idle:    window * 2,
	}
}

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(s.every, s.burst)}
		s.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep drops limiters unused for longer than the idle period. A dropped
// limiter would have refilled to a full bucket anyway.
func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, e := range s.entries {
		if now.Sub(e.lastSeen) > s.idle {
			delete(s.entries, ip)
		}
	}
}

// RateLimit returns middleware that allows maxRequests per IP per window,
// refilling steadily. Returns 429 with Retry-After when exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	set := newLimiterSet(maxRequests, window)

	// Background cleanup of idle limiters every minute.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for now := range ticker.C {
			set.sweep(now)
		}
	}()

	return rateLimit(set)
}

func rateLimit(set *limiterSet) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			limiter := set.get(c.RealIP(), now)

			r := limiter.ReserveN(now, 1)
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "Too Many Requests",
					"type":    "rate_limited",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}
