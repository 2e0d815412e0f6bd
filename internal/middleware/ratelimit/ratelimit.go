package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Limiter provides per-client fixed window rate limiting
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	now          func() time.Time

	// Configuration
	requestsPerMinute int
	cleanupInterval   time.Duration
	methods           map[string]bool
}

type clientInfo struct {
	windowStart time.Time
	lastRequest time.Time
	requests    int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	// Methods limits only these HTTP methods; empty limits every request.
	Methods []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		Methods:           []string{http.MethodPost, http.MethodDelete},
	}
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &Limiter{
		clients:           make(map[string]*clientInfo),
		stopCleanup:       make(chan struct{}),
		now:               time.Now,
		requestsPerMinute: config.RequestsPerMinute,
		cleanupInterval:   config.CleanupInterval,
		methods:           make(map[string]bool),
	}
	for _, m := range config.Methods {
		rl.methods[m] = true
	}
	go rl.startCleanup()
	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			windowStart: now,
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	client.lastRequest = now

	// Windows are fixed from their first request; rejected retries do not
	// extend them.
	if now.Sub(client.windowStart) >= time.Minute {
		client.windowStart = now
		client.requests = 1
		return true
	}

	if client.requests >= rl.requestsPerMinute {
		return false
	}
	client.requests++
	return true
}

func (rl *Limiter) applies(method string) bool {
	return len(rl.methods) == 0 || rl.methods[method]
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Middleware creates HTTP middleware for rate limiting
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.applies(r.Method) || rl.Allow(extractIP(r)) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", "60")
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
