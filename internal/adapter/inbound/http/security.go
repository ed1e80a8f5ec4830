package http

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the failed-authentication throttle: a client may fail ten
// times in a burst, then once every six seconds.
const (
	defaultAuthFailureBurst = 10
	defaultAuthFailureEvery = 6 * time.Second
	authFailureIdleTTL      = 10 * time.Minute
)

// securityHeaders sets response headers for a JSON-only API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authFailureLimiter throttles clients that keep presenting bad API keys.
// Only failures consume tokens; successful requests are never limited here.
type authFailureLimiter struct {
	mu      sync.Mutex
	entries map[string]*authFailureEntry
	every   time.Duration
	burst   int
	now     func() time.Time
}

type authFailureEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAuthFailureLimiter(burst int, every time.Duration) *authFailureLimiter {
	return &authFailureLimiter{
		entries: make(map[string]*authFailureEntry),
		every:   every,
		burst:   burst,
		now:     time.Now,
	}
}

// blocked reports whether ip has exhausted its failure budget and, if so,
// how long until it may try again.
func (l *authFailureLimiter) blocked(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		return false, 0
	}
	now := l.now()
	if e.limiter.TokensAt(now) >= 1 {
		return false, 0
	}
	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return true, delay
}

// fail records one failed attempt from ip.
func (l *authFailureLimiter) fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	// Lazy cleanup of idle clients.
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > authFailureIdleTTL {
			delete(l.entries, k)
		}
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &authFailureEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	e.limiter.AllowN(now, 1)
}

// clientIP is the TCP peer address. Forwarding headers are ignored here so
// a client cannot reset its budget by rotating them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(d.Seconds()) + 1
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondError(w, http.StatusTooManyRequests, "too many failed authentication attempts")
}
