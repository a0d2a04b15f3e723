package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitBucketFixedWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewRateLimitBucket(1, 60*time.Second)
	b.now = func() time.Time { return now }

	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())

	// The window is a hard reset, nothing trickles back early.
	now = now.Add(59 * time.Second)
	require.False(t, b.TryAcquire())

	now = now.Add(time.Second)
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())
}

func TestRateLimitBucketNeverExceedsCapacity(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewRateLimitBucket(5, time.Minute)
	b.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 20; i++ {
		if b.TryAcquire() {
			allowed++
		}
		now = now.Add(time.Second)
	}
	require.Equal(t, 5, allowed)

	now = now.Add(time.Minute)
	allowed = 0
	for i := 0; i < 20; i++ {
		if b.TryAcquire() {
			allowed++
		}
	}
	require.Equal(t, 5, allowed)
}

func TestAcquireWithoutWait(t *testing.T) {
	b := NewRateLimitBucket(2, time.Minute)
	waited, err := b.Acquire(context.Background())
	require.NoError(t, err)
	require.Zero(t, waited)
}

func TestAcquireBlocksUntilWindowReset(t *testing.T) {
	b := NewRateLimitBucket(1, 50*time.Millisecond)
	require.True(t, b.TryAcquire())

	start := time.Now()
	waited, err := b.Acquire(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Greater(t, waited, time.Duration(0))
	require.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}

func TestAcquireHonorsContext(t *testing.T) {
	b := NewRateLimitBucket(1, time.Hour)
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := b.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
