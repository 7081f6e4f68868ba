package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultRateLimitClients = 65536

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// Clients bounds the number of tracked keys; the least recently seen key
	// is forgotten first. Defaults to 65536.
	Clients int
	// KeyFunc extracts the rate limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Exempt requests bypass the limiter and get no rate limit headers.
	Exempt func(*http.Request) bool
}

// window counts requests in the current and previous fixed windows; the
// sliding count weights the previous one by its overlap.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type rateLimiter struct {
	max    int
	length time.Duration

	mu      sync.Mutex
	clients *expirable.LRU[string, *window]
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	size := cfg.Clients
	if size <= 0 {
		size = defaultRateLimitClients
	}
	return &rateLimiter{
		max:    cfg.Max,
		length: cfg.Window,
		// A key idle for two windows has no influence on the sliding count.
		clients: expirable.NewLRU[string, *window](size, nil, 2*cfg.Window),
	}
}

// allow records a request for key at now. It returns the requests left in
// the window, when the current window ends, and whether the request fits.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, found := rl.clients.Get(key)
	if !found {
		w = &window{currStart: now.Truncate(rl.length)}
	}
	if elapsed := now.Sub(w.currStart); elapsed >= rl.length {
		w.prev = w.curr
		if elapsed >= 2*rl.length {
			w.prev = 0
		}
		w.curr = 0
		w.currStart = now.Truncate(rl.length)
	}
	// Re-adding refreshes the TTL of active keys.
	rl.clients.Add(key, w)

	overlap := 1 - now.Sub(w.currStart).Seconds()/rl.length.Seconds()
	count := w.prev*max(overlap, 0) + w.curr
	resetAt = w.currStart.Add(rl.length)
	if count >= float64(rl.max) {
		return 0, resetAt, false
	}

	w.curr++
	return max(int(float64(rl.max)-count-1), 0), resetAt, true
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Limited requests get 429 with Retry-After and the JSON error envelope.
// Every other response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset.
func RateLimit(cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientIP
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Exempt != nil && cfg.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			remaining, resetAt, ok := rl.allow(keyOf(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				retry := max(resetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExemptPaths exempts requests whose path is one of paths, such as probes.
func ExemptPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// PrincipalKey limits verified callers per principal, so an integration
// behind a shared NAT gets its own budget. Everyone else, including callers
// whose credentials failed verification, is limited per ClientIP. principal
// must only report callers whose credentials were checked.
func PrincipalKey(principal func(*http.Request) (string, bool)) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := principal(r); ok {
			return "principal:" + id
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the client address from X-Forwarded-For (first hop),
// X-Real-IP or RemoteAddr, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
