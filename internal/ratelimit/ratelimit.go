// Package ratelimit enforces the per-endpoint, per-source-IP request
// budgets from the server's rate-limit table using token-bucket limiters,
// one bucket per (endpoint, IP) pair. A stale bucket is evicted the next
// time its endpoint's map is swept, so memory stays bounded under churn
// from transient or spoofed source IPs.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Budget describes one endpoint's allowance: N requests per window, with
// burst equal to N (a caller may spend the whole window's budget at once,
// then must wait for refill).
type Budget struct {
	N      int
	Window time.Duration
}

// PerMinute is a convenience constructor for an N-per-minute budget.
func PerMinute(n int) Budget { return Budget{N: n, Window: time.Minute} }

// PerHour is a convenience constructor for an N-per-hour budget.
func PerHour(n int) Budget { return Budget{N: n, Window: time.Hour} }

// PerWeek is a convenience constructor for an N-per-week budget.
func PerWeek(n int) Budget { return Budget{N: n, Window: 7 * 24 * time.Hour} }

func (b Budget) limit() rate.Limit {
	return rate.Every(b.Window / time.Duration(b.N))
}

// Limiter buckets requests to a single endpoint by source IP.
type Limiter struct {
	budget   Budget
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	sweepAt  time.Time
}

// New returns a Limiter enforcing budget, one bucket per source IP.
func New(budget Budget) *Limiter {
	return &Limiter{
		budget:   budget,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		sweepAt:  time.Now().Add(10 * time.Minute),
	}
}

// Allow reports whether the caller at addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.sweepAt) {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[addr]
	if !ok {
		b = rate.NewLimiter(l.budget.limit(), l.budget.N)
		l.buckets[addr] = b
	}
	l.lastSeen[addr] = now
	return b.Allow()
}

// sweepLocked drops buckets idle for more than twice the budget window.
// Callers hold l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	stale := 2 * l.budget.Window
	for addr, seen := range l.lastSeen {
		if now.Sub(seen) > stale {
			delete(l.buckets, addr)
			delete(l.lastSeen, addr)
		}
	}
	l.sweepAt = now.Add(10 * time.Minute)
}

// Middleware wraps next, rejecting callers who exceed the budget with
// HTTP 429. The source IP is taken from RemoteAddr; a reverse proxy
// deployment is expected to set RemoteAddr from X-Forwarded-For upstream
// of this middleware.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(sourceIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
