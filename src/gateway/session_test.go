package gateway

import (
	"testing"

	"github.com/klaxonbot/klaxon/src/structs"
	"github.com/stretchr/testify/require"
)

func TestSessionSequenceMonotonic(t *testing.T) {
	s := NewSession()

	_, ok := s.Sequence()
	require.False(t, ok, "no sequence before the first dispatch")

	s.RecordSequence(0)
	_, ok = s.Sequence()
	require.False(t, ok, "control frames must not advance the sequence")

	s.RecordSequence(3)
	seq, ok := s.Sequence()
	require.True(t, ok)
	require.Equal(t, uint64(3), seq)

	// Out-of-order frames never move the counter backwards.
	s.RecordSequence(2)
	seq, _ = s.Sequence()
	require.Equal(t, uint64(3), seq)

	s.RecordSequence(4)
	seq, _ = s.Sequence()
	require.Equal(t, uint64(4), seq)
}

func TestSessionCanResume(t *testing.T) {
	s := NewSession()
	require.False(t, s.CanResume(), "empty session cannot resume")

	s.Establish("sess-abc", "wss://resume.example")
	require.False(t, s.CanResume(), "no dispatch sequence seen yet")

	s.RecordSequence(1)
	require.True(t, s.CanResume())

	s.Invalidate(true)
	require.True(t, s.CanResume(), "resumable invalidation keeps the identity")
	require.Equal(t, "sess-abc", s.ID())

	s.Invalidate(false)
	require.False(t, s.CanResume())
	require.Empty(t, s.ID())
	require.Empty(t, s.ResumeGatewayURL())
}

func TestSessionResumePayload(t *testing.T) {
	s := NewSession()
	s.Establish("sess-abc", "wss://resume.example")
	s.RecordSequence(2)

	e := s.ResumePayload("bot-token")
	require.Equal(t, OpcodeResume, e.Op)
	d, ok := e.D.(structs.ResumeEvent)
	require.True(t, ok)
	require.Equal(t, "bot-token", d.Token)
	require.Equal(t, "sess-abc", d.SessionID)
	require.Equal(t, uint64(2), d.Seq)
}

func TestSessionIdentifyPayload(t *testing.T) {
	s := NewSession()
	e := s.IdentifyPayload(Identity{
		Token:   "bot-token",
		Intents: GuildsIntent | GuildMessagesIntent,
		Shard:   []uint{0, 1},
	})
	require.Equal(t, OpcodeIdentify, e.Op)
	d, ok := e.D.(structs.IdentifyEvent)
	require.True(t, ok)
	require.Equal(t, "bot-token", d.Token)
	require.Equal(t, GuildsIntent|GuildMessagesIntent, d.Intents)
	require.Equal(t, []uint{0, 1}, d.Shard)
}
