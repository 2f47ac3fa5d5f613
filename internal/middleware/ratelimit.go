package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

// RateLimiter counts requests per client IP in fixed windows. One limiter
// may back several routes so they share a budget.
type RateLimiter struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextPrune time.Time
}

// NewRateLimiter allows limit requests per client IP in each window of
// length per. A non-positive limit disables the check.
func NewRateLimiter(limit int, per time.Duration) *RateLimiter {
	return newRateLimiter(limit, per, time.Now)
}

func newRateLimiter(limit int, per time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{limit: limit, per: per, now: now, buckets: make(map[string]*bucket)}
}

// RateLimit is NewRateLimiter(limit, per).Limit(nil).
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return NewRateLimiter(limit, per).Limit(nil)
}

// Limit charges each request to the caller's bucket. Requests over the limit
// get a Retry-After header and are handed to reject, or answered with a bare
// 429 when reject is nil.
func (l *RateLimiter) Limit(reject http.Handler) func(http.Handler) http.Handler {
	if reject == nil {
		reject = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		})
	}
	return func(next http.Handler) http.Handler {
		if l.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if retry, ok := l.take(clientIPForRateLimit(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				reject.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// take consumes one request for ip. When the bucket is full it returns the
// whole seconds until the window resets.
func (l *RateLimiter) take(ip string) (int, bool) {
	t := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.nextPrune) {
		for key, b := range l.buckets {
			if t.After(b.until) {
				delete(l.buckets, key)
			}
		}
		l.nextPrune = t.Add(l.per)
	}
	b, ok := l.buckets[ip]
	if !ok || t.After(b.until) {
		b = &bucket{until: t.Add(l.per)}
		l.buckets[ip] = b
	}
	if b.count >= l.limit {
		return int(b.until.Sub(t).Seconds()) + 1, false
	}
	b.count++
	return 0, true
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
