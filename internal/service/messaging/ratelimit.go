package messaging

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateLimiter counts sends per user in fixed windows.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter allows limit sends per window. A non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		windows: make(map[string]*rateWindow),
	}
}

// Allow records one send for userID. When over the limit it returns false
// and the time left until the window resets.
func (r *RateLimiter) Allow(userID string) (bool, time.Duration) {
	if r == nil || r.limit <= 0 {
		return true, 0
	}

	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[userID]
	if !ok || now.Sub(w.start) >= r.window {
		w = &rateWindow{start: now}
		r.windows[userID] = w
	}
	w.count++
	if w.count <= r.limit {
		return true, 0
	}
	return false, w.start.Add(r.window).Sub(now)
}
