// Package ratelimit guards the replication-pull and asset-retrieval HTTP
// endpoints against a single noisy peer.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Config configures a per-peer Limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns sensible defaults for cross-site replication and
// asset-retrieval traffic.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 50, Burst: 100}
}

// Limiter rate-limits per remote peer (keyed by site id or remote address),
// backed by golang.org/x/time/rate.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
}

// New creates a Limiter using cfg. A RequestsPerSecond of zero or less
// becomes 50, and a Burst of zero or less becomes twice the rate.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{cfg: cfg, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether a request from key (a peer identity) is permitted
// right now, creating a fresh bucket for previously unseen peers.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects requests from a peer (identified by peerKey) exceeding
// the configured rate with 429 Too Many Requests.
func (l *Limiter) Middleware(peerKey func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(peerKey(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
