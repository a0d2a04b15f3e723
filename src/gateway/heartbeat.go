package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// HeartbeatState tracks the liveness contract of one physical connection:
// the interval ordered by the remote at hello, the last send, and whether
// that send has been acknowledged. The read loop acknowledges, the
// heartbeat loop sends; both go through the small lock here.
type HeartbeatState struct {
	mu       sync.Mutex
	interval time.Duration
	lastSent time.Time
	lastAck  time.Time
	acked    bool
}

func NewHeartbeatState(interval time.Duration) *HeartbeatState {
	return &HeartbeatState{
		interval: interval,
		// nothing in flight yet, the first send is allowed immediately
		acked: true,
	}
}

func (h *HeartbeatState) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

// FirstInterval returns a random fraction of the full interval. Sending
// the first heartbeat after a full interval would synchronize every
// client that connected at the same moment.
func (h *HeartbeatState) FirstInterval() time.Duration {
	d := time.Duration(rand.Float64() * float64(h.Interval()))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// MarkSent records a send and clears the acknowledgment flag. At most one
// heartbeat may be unacknowledged; a second tick without an ack means the
// connection is zombied.
func (h *HeartbeatState) MarkSent(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSent = now
	h.acked = false
}

// Ack is called by the read loop when a heartbeat-ack frame is decoded.
func (h *HeartbeatState) Ack() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastAck = time.Now()
	h.acked = true
}

func (h *HeartbeatState) Acknowledged() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acked
}

// Liveness returns the raw send/ack timestamps for telemetry.
func (h *HeartbeatState) Liveness() (lastSent, lastAck time.Time, acked bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSent, h.lastAck, h.acked
}

// heartbeating is the per-connection heartbeat loop. It is tied to the
// connection context and generation: a superseded loop can never fire
// against a socket it no longer owns.
func (g *Gateway) heartbeating(ctx context.Context, hb *HeartbeatState, gen uint64) {
	defer g.log.Debug("gateway heartbeating stopped", "generation", gen)

	first := time.NewTimer(hb.FirstInterval())
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
	}

	ticker := time.NewTicker(hb.Interval())
	defer ticker.Stop()
	for {
		if !hb.Acknowledged() {
			// Missed ack is fatal to this connection. Surface it once and
			// terminate; retrying locally would mask a dead socket forever.
			go g.reconnect(gen, ErrZombiedConnection, true)
			return
		}
		hb.MarkSent(time.Now())
		if err := g.sendHeartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Error("failed to send heartbeat event", "error", err.Error())
		} else {
			g.log.Debug("gateway heartbeat event sent")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sendHeartbeat emits a heartbeat frame carrying the last seen dispatch
// sequence, or null before the first dispatch. It goes through the same
// send gate as every other outbound frame.
func (g *Gateway) sendHeartbeat(ctx context.Context) error {
	var d interface{}
	if seq, ok := g.session.Sequence(); ok {
		d = seq
	}
	return g.sendEvent(ctx, OpcodeHeartbeat, d)
}
