package structs

import (
	"encoding/json"
	"log/slog"
)

type EventName = string
type EventOpcode = int

const (
	EventNameReady         EventName = "READY"
	EventNameResumed       EventName = "RESUMED"
	EventNameMessageCreate EventName = "MESSAGE_CREATE"
)

// RawEvent is the inbound envelope. D is kept raw to delay decoding
// until the opcode and event name are known.
type RawEvent struct {
	Op EventOpcode     `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  uint64          `json:"s,omitempty"`
	T  EventName       `json:"t,omitempty"`
}

func (re *RawEvent) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("op_code", re.Op),
		slog.Any("event_data", re.D),
		slog.Uint64("sequence", re.S),
		slog.String("event_name", re.T))
}

// Event is the outbound envelope. D carries no omitempty on purpose:
// a heartbeat with no sequence yet must send an explicit null.
type Event struct {
	Op EventOpcode `json:"op"`
	D  interface{} `json:"d"`
	S  uint64      `json:"s,omitempty"`
	T  EventName   `json:"t,omitempty"`
}

func (e *Event) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("op_code", e.Op),
		slog.Any("event_data", e.D),
		slog.Uint64("sequence", e.S),
		slog.String("event_name", e.T))
}

type HelloEvent struct {
	HeartbeatInterval uint64 `json:"heartbeat_interval"`
}

type ReadyEvent struct {
	V                int         `json:"v"`
	User             User        `json:"user"`
	Guilds           interface{} `json:"guilds"`
	SessionID        string      `json:"session_id"`
	ResumeGatewayURL string      `json:"resume_gateway_url"`
	Shard            []uint      `json:"shard,omitempty"`
	Application      interface{} `json:"application"`
}

type IdentifyEvent struct {
	Token          string                  `json:"token"`
	Properties     IdentifyEventProperties `json:"properties"`
	Intents        uint64                  `json:"intents"`
	Compress       bool                    `json:"compress,omitempty"`
	LargeThreshold uint8                   `json:"large_threshold,omitempty"`
	Shard          []uint                  `json:"shard,omitempty"`
	Presence       *PresenceUpdate         `json:"presence,omitempty"`
}

type IdentifyEventProperties struct {
	Os      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type ResumeEvent struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}

type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}
