package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatStateStartsAcknowledged(t *testing.T) {
	hb := NewHeartbeatState(41250 * time.Millisecond)
	require.True(t, hb.Acknowledged())
	require.Equal(t, 41250*time.Millisecond, hb.Interval())
}

func TestHeartbeatStateAckCycle(t *testing.T) {
	hb := NewHeartbeatState(time.Second)

	sentAt := time.Now()
	hb.MarkSent(sentAt)
	require.False(t, hb.Acknowledged(), "a send clears the flag until the matching ack")

	hb.Ack()
	require.True(t, hb.Acknowledged())

	lastSent, lastAck, acked := hb.Liveness()
	require.Equal(t, sentAt, lastSent)
	require.False(t, lastAck.IsZero())
	require.True(t, acked)
}

func TestHeartbeatFirstIntervalIsJittered(t *testing.T) {
	interval := 41250 * time.Millisecond
	hb := NewHeartbeatState(interval)
	for i := 0; i < 200; i++ {
		first := hb.FirstInterval()
		require.Greater(t, first, time.Duration(0))
		require.Less(t, first, interval)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	ceiling := time.Second

	prevMax := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(base, ceiling, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, ceiling)
		// the jitter range upper bound doubles until the ceiling
		stepMax := base << (attempt - 1)
		if stepMax > ceiling {
			stepMax = ceiling
		}
		require.LessOrEqual(t, d, stepMax)
		if stepMax > prevMax {
			prevMax = stepMax
		}
	}
}
