package internal

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter admits at most limit deliveries per client within a fixed
// window that starts at the client's first delivery.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string]*clientWindow
	nextSweep time.Time
	now       func() time.Time
}

type clientWindow struct {
	start time.Time
	hits  int
}

// NewRateLimiter allows limit requests per window for each client IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow counts a delivery from key. When the client is over its limit it
// returns false and the time until its window reopens.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if !now.Before(rl.nextSweep) {
		rl.sweep(now)
		rl.nextSweep = now.Add(rl.window)
	}

	cw, ok := rl.clients[key]
	if !ok || rl.expired(cw, now) {
		rl.clients[key] = &clientWindow{start: now, hits: 1}
		return true, 0
	}
	if cw.hits >= rl.limit {
		return false, cw.start.Add(rl.window).Sub(now)
	}
	cw.hits++
	return true, 0
}

// Cleanup drops clients whose window has closed.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(rl.now())
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) expired(cw *clientWindow, now time.Time) bool {
	return now.Sub(cw.start) >= rl.window
}

func (rl *RateLimiter) sweep(now time.Time) {
	for key, cw := range rl.clients {
		if rl.expired(cw, now) {
			delete(rl.clients, key)
		}
	}
}

// Middleware rejects requests over the limit with a 429 JSON body and a
// Retry-After header in whole seconds.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(GetClientIP(r))
		if !ok {
			SetSecurityHeaders(w)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			_ = WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success": false,
				"message": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// GetClientIP returns the first X-Forwarded-For address, or the RemoteAddr host.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
