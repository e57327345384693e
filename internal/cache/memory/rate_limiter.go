package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

// bucket returns the limiter for key, replacing it when the configured rate
// has changed.
func (rl *RateLimiter) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	every := rate.Every(window / time.Duration(max(limit, 1)))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.buckets[key]
	if !ok || l.Limit() != every || l.Burst() != limit {
		l = rate.NewLimiter(every, limit)
		rl.buckets[key] = l
	}
	return l
}

// Allow reports whether one more request for key fits within limit requests
// per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("memory: rate limit %s: limit and window must be positive", key)
	}
	return rl.bucket(key, limit, window).Allow(), nil
}

// Wait blocks until a request for key is allowed at one request per second.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := rl.bucket(key, 1, time.Second).Wait(ctx); err != nil {
		return fmt.Errorf("memory: rate limit wait %s: %w", key, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
