package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter limits requests per client over a sliding window.
type RateLimiter struct {
	requests map[string][]time.Time // client -> request times inside the window
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	onReject func(client string)
}

// NewRateLimiter allows limit requests per client within window. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// OnReject registers a callback invoked for every rejected request.
func (m *RateLimiter) OnReject(fn func(client string)) *RateLimiter {
	m.onReject = fn
	return m
}

// Allow records a request from client and reports whether it is within the limit.
func (m *RateLimiter) Allow(client string) bool {
	if m.limit <= 0 {
		return true
	}
	now := m.now()
	windowStart := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	valid := m.requests[client][:0]
	for _, ts := range m.requests[client] {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= m.limit {
		m.requests[client] = valid
		return false
	}
	m.requests[client] = append(valid, now)
	return true
}

// Prune drops clients with no requests inside the window.
func (m *RateLimiter) Prune() {
	windowStart := m.now().Add(-m.window)
	m.mu.Lock()
	defer m.mu.Unlock()
	for client, times := range m.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(m.requests, client)
		}
	}
}

// Clients returns the number of tracked clients.
func (m *RateLimiter) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Middleware rejects requests over the limit with 429.
func (m *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientIP(r)
		if !m.Allow(client) {
			if m.onReject != nil {
				m.onReject(client)
			}
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP from the request
func ClientIP(r *http.Request) string {
	// Check for forwarded headers first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// Fall back to remote address
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
