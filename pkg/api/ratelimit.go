package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/laitest/pkg/config"
	"golang.org/x/time/rate"
)

const (
	rateLimitSweepInterval = 5 * time.Minute
	rateLimitEntryTTL      = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client IP. Idle buckets are
// swept inline on lookup, at most once per rateLimitSweepInterval.
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newClientLimiters(requestsPerMinute int) *clientLimiters {
	return &clientLimiters{
		clients:   make(map[string]*clientLimiter, 64),
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     requestsPerMinute,
		lastSweep: time.Now(),
	}
}

func (c *clientLimiters) allow(ip string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > rateLimitSweepInterval {
		for key, entry := range c.clients {
			if now.Sub(entry.lastSeen) > rateLimitEntryTTL {
				delete(c.clients, key)
			}
		}

		c.lastSweep = now
	}

	entry, ok := c.clients[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[ip] = entry
	}

	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// rateLimitMiddleware returns a per-IP rate limiting middleware.
func (s *server) rateLimitMiddleware(
	cfg config.RateLimitConfig,
) func(http.Handler) http.Handler {
	limiters := newClientLimiters(cfg.RequestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(extractIP(r)) {
				s.log.WithField("remote", r.RemoteAddr).Debug("Rate limit exceeded")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP prefers the first X-Forwarded-For hop over RemoteAddr.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
