package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// RateLimiter is a per-process sliding window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow records a request for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.events[key][:0]
	for _, ts := range rl.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.events[key] = kept
		return false, nil
	}
	rl.events[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
