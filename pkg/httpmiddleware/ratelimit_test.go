package httpmiddleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// verifiedAs stands in for an authentication layer that already checked the
// caller and recorded the result in X-Verified.
func verifiedAs(r *http.Request) (string, bool) {
	id := r.Header.Get("X-Verified")
	return id, id != ""
}

func serve(h http.Handler, prepare func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if prepare != nil {
		prepare(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := serve(h, nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_RemainingCountsDown(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for _, want := range []string{"2", "1", "0"} {
		w := serve(h, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, nil).Code)
	}
	w := serve(h, nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate_limited", body["kind"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_Exempt(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Exempt: ExemptPaths("/livez", "/readyz"),
	})(okHandler())

	readyz := func(r *http.Request) { r.URL.Path = "/readyz" }
	for range 3 {
		w := serve(h, readyz)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusOK, serve(h, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, nil).Code)
}

func TestRateLimit_EvictsLeastRecentClient(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, Clients: 1})(okHandler())

	first := func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" }
	second := func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" }

	require.Equal(t, http.StatusOK, serve(h, first).Code)
	require.Equal(t, http.StatusOK, serve(h, second).Code)
	// The first client was pushed out by the second and starts over.
	assert.Equal(t, http.StatusOK, serve(h, first).Code)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name    string
		keyFunc func(*http.Request) string
		a, b    func(*http.Request)
		shared  bool
	}{
		{
			name: "DifferentIPs",
			a:    func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			b:    func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" },
		},
		{
			name:   "SameIPDifferentPorts",
			a:      func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			b:      func(r *http.Request) { r.RemoteAddr = "10.0.0.1:2" },
			shared: true,
		},
		{
			name: "ForwardedForFirstHop",
			a: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.1:1"
				r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			},
			b: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.2:1"
				r.Header.Set("X-Forwarded-For", "203.0.113.50")
			},
			shared: true,
		},
		{
			name:    "PrincipalsBehindOneIP",
			keyFunc: PrincipalKey(verifiedAs),
			a:       func(r *http.Request) { r.Header.Set("X-Verified", "seller-1") },
			b:       func(r *http.Request) { r.Header.Set("X-Verified", "seller-2") },
		},
		{
			name:    "PrincipalAcrossIPs",
			keyFunc: PrincipalKey(verifiedAs),
			a: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.1:1"
				r.Header.Set("X-Verified", "seller-1")
			},
			b: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.9:1"
				r.Header.Set("X-Verified", "seller-1")
			},
			shared: true,
		},
		{
			name:    "UnverifiedCredentialsShareIP",
			keyFunc: PrincipalKey(verifiedAs),
			a:       func(r *http.Request) { r.Header.Set("Authorization", "Bearer forged-1") },
			b:       func(r *http.Request) { r.Header.Set("Authorization", "Bearer forged-2") },
			shared:  true,
		},
		{
			name:    "AnonymousFallsBackToIP",
			keyFunc: PrincipalKey(verifiedAs),
			a:       func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			b:       func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())

			require.Equal(t, http.StatusOK, serve(h, tt.a).Code)
			want := http.StatusOK
			if tt.shared {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, serve(h, tt.b).Code)
		})
	}
}

func TestRateLimit_RotatingCredentialsLimited(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute, KeyFunc: PrincipalKey(verifiedAs)})(okHandler())

	limited := 0
	for i := range 50 {
		w := serve(h, func(r *http.Request) {
			r.Header.Set("Authorization", fmt.Sprintf("Bearer forged-%d", i))
			r.Header.Set("api_key", fmt.Sprintf("key-%d", i))
		})
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 48, limited)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		_, _, ok := rl.allow("k", start)
		require.True(t, ok)
	}
	_, _, ok := rl.allow("k", start.Add(30*time.Second))
	assert.False(t, ok)

	// Halfway into the next window half of the previous count still applies.
	remaining, _, ok := rl.allow("k", start.Add(90*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	remaining, _, ok = rl.allow("k", start.Add(90*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)
	_, _, ok = rl.allow("k", start.Add(90*time.Second))
	assert.False(t, ok)

	// Two windows later the history is gone.
	remaining, _, ok = rl.allow("k", start.Add(3*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}
