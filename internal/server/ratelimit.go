package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/KixPanganiban/jiraiya-go/internal/logging"
)

// Each /api/ask request fans out to an embedding call and an LLM completion,
// so the limiter is less about protecting this process and more about
// keeping one chatty client from draining the provider quota. Defaults:
// 10 requests/second sustained with a burst of 20 per client IP.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20

	// evictInterval is how often stale client entries are swept.
	evictInterval = time.Minute
	// staleAfter is how long a client may be idle before its entry is dropped.
	staleAfter = 5 * time.Minute
)

// clientEntry pairs a client IP's token bucket with its last activity time.
type clientEntry struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token bucket on the ask endpoint. Entries
// for idle clients are swept periodically so the map stays bounded.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	rps     rate.Limit
	burst   int
}

// newRateLimiter constructs a rateLimiter and starts its sweep goroutine.
// The goroutine exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	return rl, func() { close(stopCh) }
}

// allow reports whether the given client IP may proceed, creating its
// bucket on first sight.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.clients[ip]
	if !ok {
		entry = &clientEntry{bucket: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.bucket.Allow()
}

// sweep drops entries for clients idle longer than staleAfter.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for ip, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// middleware rejects over-limit requests with 429 and a Retry-After hint
// before they reach the handler.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. X-Forwarded-For is deliberately
// ignored: the server binds to localhost and a spoofable header must not
// grant a fresh bucket.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
