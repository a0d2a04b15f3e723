package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// The remote allows 120 outbound frames per minute per connection.
	// We keep headroom for control frames we do not schedule ourselves.
	defaultSendCapacity = 110
	defaultSendWindow   = time.Minute
)

// RateLimitBucket is a fixed-window limiter guarding outbound frames on
// one physical connection. The window refill is a hard reset to capacity
// once the whole window has elapsed, not a smooth trickle.
type RateLimitBucket struct {
	mu          sync.Mutex
	capacity    int
	remaining   int
	window      time.Duration
	windowStart time.Time

	now func() time.Time
}

func NewRateLimitBucket(capacity int, window time.Duration) *RateLimitBucket {
	return &RateLimitBucket{
		capacity:  capacity,
		remaining: capacity,
		window:    window,
		now:       time.Now,
	}
}

// unlocked, callers hold mu.
func (b *RateLimitBucket) refill(now time.Time) {
	if now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.remaining = b.capacity
	}
}

// TryAcquire consumes a slot if one is available in the current window.
func (b *RateLimitBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	if b.remaining == 0 {
		return false
	}
	b.remaining--
	return true
}

// Acquire blocks until a slot is available or ctx is done, then consumes
// it. It returns the wait actually incurred, zero when a slot was free.
func (b *RateLimitBucket) Acquire(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		b.mu.Lock()
		now := b.now()
		b.refill(now)
		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return waited, nil
		}
		wait := b.window - now.Sub(b.windowStart)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// NewDialLimiter throttles new gateway connections; the remote rejects
// dial storms well before the per-connection frame budget applies.
func NewDialLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 1)
}

// NewIdentifyLimiter throttles identify requests, which share a stricter
// global budget than ordinary frames.
func NewIdentifyLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 1)
}
