package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/klaxonbot/klaxon/src/structs"
)

// Session is the resumable identity of a gateway connection. It survives
// physical reconnects and is only replaced by a fresh identify.
//
// The read loop is the only writer of the sequence counter; the heartbeat
// loop reads it concurrently, hence the atomics. The identity fields are
// guarded by their own lock so the heartbeat loop never waits on the read
// loop mid-decode.
type Session struct {
	mu               sync.RWMutex
	id               string
	resumeGatewayURL string
	resumable        bool

	sequence    atomic.Uint64
	hasSequence atomic.Bool
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Establish records the identity issued by the remote on a successful
// identify.
func (s *Session) Establish(id string, resumeGatewayURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.resumeGatewayURL = resumeGatewayURL
	s.resumable = true
}

// ResumeGatewayURL returns the endpoint to dial for resume attempts.
// Empty when the remote never supplied one; callers fall back to the
// original endpoint.
func (s *Session) ResumeGatewayURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeGatewayURL
}

// RecordSequence advances the dispatch sequence counter. Only dispatch
// frames carry a sequence; control frames pass 0 and are ignored. The
// counter never moves backwards.
func (s *Session) RecordSequence(n uint64) {
	if n == 0 {
		return
	}
	for {
		cur := s.sequence.Load()
		if n <= cur && s.hasSequence.Load() {
			return
		}
		if s.sequence.CompareAndSwap(cur, n) {
			s.hasSequence.Store(true)
			return
		}
	}
}

// Sequence returns the last recorded dispatch sequence. ok is false until
// the first dispatch frame has been seen.
func (s *Session) Sequence() (uint64, bool) {
	return s.sequence.Load(), s.hasSequence.Load()
}

// CanResume is true iff the remote issued a session id, at least one
// dispatch sequence was recorded, and the last disconnect did not forbid
// resuming.
func (s *Session) CanResume() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id != "" && s.resumable && s.hasSequence.Load()
}

// Invalidate marks the session after the remote signalled it is invalid.
// A non-resumable invalidation clears the identity entirely so the next
// attempt is a fresh identify.
func (s *Session) Invalidate(resumable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumable = resumable
	if !resumable {
		s.id = ""
		s.resumeGatewayURL = ""
	}
}

// Identity carries the client configuration fields an identify needs.
type Identity struct {
	Token      string
	Intents    uint64
	Shard      []uint
	Properties structs.IdentifyEventProperties
}

// IdentifyPayload builds a fresh identify request.
func (s *Session) IdentifyPayload(id Identity) structs.Event {
	return structs.Event{
		Op: OpcodeIdentify,
		D: structs.IdentifyEvent{
			Token:      id.Token,
			Intents:    id.Intents,
			Shard:      id.Shard,
			Properties: id.Properties,
		},
	}
}

// ResumePayload builds a resume request from the current identity. The
// sequence is sent back verbatim as last recorded.
func (s *Session) ResumePayload(token string) structs.Event {
	seq, _ := s.Sequence()
	return structs.Event{
		Op: OpcodeResume,
		D: structs.ResumeEvent{
			Token:     token,
			SessionID: s.ID(),
			Seq:       seq,
		},
	}
}
