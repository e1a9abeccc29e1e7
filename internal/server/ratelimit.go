package server

import (
	"fmt"
	"sync"
	"time"
)

// maxTrackedClients bounds the client map; expired windows are pruned
// once it is exceeded.
const maxTrackedClients = 4096

// RateLimiter allows each client a fixed number of requests per minute.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	now       func() time.Time
	clients   map[string]*window
}

type window struct {
	start time.Time
	count int
}

// RateLimitError is returned when a client exhausted its window.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded, retry after %v",
		e.Limit, e.RetryAfter.Round(time.Second))
}

// NewRateLimiter creates a limiter. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{perMinute: perMinute, now: time.Now, clients: make(map[string]*window)}
}

// Allow records one request from client, or returns *RateLimitError.
func (rl *RateLimiter) Allow(client string) error {
	if rl == nil || rl.perMinute <= 0 {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= time.Minute {
		if !ok && len(rl.clients) >= maxTrackedClients {
			rl.pruneLocked(now)
		}
		w = &window{start: now}
		rl.clients[client] = w
	}
	if w.count >= rl.perMinute {
		return &RateLimitError{Limit: rl.perMinute, RetryAfter: time.Minute - now.Sub(w.start)}
	}
	w.count++
	return nil
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	for k, w := range rl.clients {
		if now.Sub(w.start) >= time.Minute {
			delete(rl.clients, k)
		}
	}
}

// Tracked returns the number of clients with a live window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
