package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by client IP. Stale windows
// are pruned lazily so the map does not grow without bound.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int           // requests per window
	per     time.Duration // window size
	sweep   time.Time     // next prune
}

type window struct {
	start time.Time
	count int
}

// New creates a limiter allowing max requests per window per IP.
func New(max int, per time.Duration) *Limiter {
	return &Limiter{windows: map[string]*window{}, max: max, per: per, sweep: time.Now().Add(per)}
}

// Allow records one request for key and reports whether it fits in the
// current window.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweep) {
		for k, w := range l.windows {
			if now.Sub(w.start) > l.per {
				delete(l.windows, k)
			}
		}
		l.sweep = now.Add(l.per)
	}

	w := l.windows[key]
	if w == nil || now.Sub(w.start) > l.per {
		w = &window{start: now}
		l.windows[key] = w
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Middleware enforces the limit before calling the next handler.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			ip = req.RemoteAddr
		}
		if !l.Allow(ip) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
