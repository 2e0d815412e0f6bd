package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "clients are tracked separately")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("1.1.1.1"), "window resets after a minute")
}

func TestLimiterRetriesDoNotExtendWindow(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))

	// A client retrying every 10s is still let back in a minute after its
	// window opened.
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		assert.False(t, rl.Allow("1.1.1.1"), "retry %d", i)
	}
	now = now.Add(10 * time.Second)
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
}

func TestCleanupStaleEntries(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 5})
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("1.1.1.1")

	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	assert.Equal(t, 0, rl.ActiveClients())
}

func TestMiddlewareOnlyLimitsConfiguredMethods(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1, Methods: []string{http.MethodPost}})
	defer rl.Stop()

	limited := 0
	h := rl.Middleware(
		func(*http.Request) string { return "9.9.9.9" },
		func(w http.ResponseWriter, r *http.Request) {
			limited++
			w.WriteHeader(http.StatusTooManyRequests)
		},
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/expenses", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/expenses", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1, limited)
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}
