package gateway

import "errors"

// https://discord.com/developers/docs/events/gateway#gateway-intents
type GatewayIntent = uint64

const (
	GuildsIntent                      GatewayIntent = 1 << 0
	GuildMembersIntent                GatewayIntent = 1 << 1
	GuildModerationIntent             GatewayIntent = 1 << 2
	GuildExpressionIntent             GatewayIntent = 1 << 3
	GuildIntegrationsIntent           GatewayIntent = 1 << 4
	GuildWebhooksIntent               GatewayIntent = 1 << 5
	GuildInvitesIntent                GatewayIntent = 1 << 6
	GuildVoiceStatesIntent            GatewayIntent = 1 << 7
	GuildPresencesIntent              GatewayIntent = 1 << 8
	GuildMessagesIntent               GatewayIntent = 1 << 9
	GuildMessageReactionIntent        GatewayIntent = 1 << 10
	GuildMessageTypingIntent          GatewayIntent = 1 << 11
	DirectMessageIntent               GatewayIntent = 1 << 12
	DirectMessageReactionIntent       GatewayIntent = 1 << 13
	DirectMessageTypingIntent         GatewayIntent = 1 << 14
	MessageContentIntent              GatewayIntent = 1 << 15
	GuildScheduledEventsIntent        GatewayIntent = 1 << 16
	AutoModerationConfigurationIntent GatewayIntent = 1 << 20
	AutoModerationExecutionIntent     GatewayIntent = 1 << 21
	GuildMessagePollsIntent           GatewayIntent = 1 << 24
	DirectMessagePollsIntent          GatewayIntent = 1 << 25
)

type GatewayOpcode = int

const (
	OpcodeDispatch           GatewayOpcode = 0
	OpcodeHeartbeat          GatewayOpcode = 1
	OpcodeIdentify           GatewayOpcode = 2
	OpcodePresenceUpdate     GatewayOpcode = 3
	OpcodeVoiceStateUpdate   GatewayOpcode = 4
	OpcodeResume             GatewayOpcode = 6
	OpcodeReconnect          GatewayOpcode = 7
	OpcodeRequestGuildMember GatewayOpcode = 8
	OpcodeInvalidSession     GatewayOpcode = 9
	OpcodeHello              GatewayOpcode = 10
	OpcodeHeartbeatAck       GatewayOpcode = 11
)

type GatewayCloseEventCode = int

const (
	CloseUnknownError         GatewayCloseEventCode = 4000
	CloseUnknownOpcode        GatewayCloseEventCode = 4001
	CloseDecodeError          GatewayCloseEventCode = 4002
	CloseNotAuthenticated     GatewayCloseEventCode = 4003
	CloseAuthenticationFailed GatewayCloseEventCode = 4004
	CloseAlreadyAuthenticated GatewayCloseEventCode = 4005
	CloseInvalidSeq           GatewayCloseEventCode = 4007
	CloseRateLimited          GatewayCloseEventCode = 4008
	CloseSessionTimedOut      GatewayCloseEventCode = 4009
	CloseInvalidShard         GatewayCloseEventCode = 4010
	CloseShardingRequired     GatewayCloseEventCode = 4011
	CloseInvalidAPIVersion    GatewayCloseEventCode = 4012
	CloseInvalidIntents       GatewayCloseEventCode = 4013
	CloseDisallowedIntents    GatewayCloseEventCode = 4014
)

// fatalCloseCode reports close codes that must not be retried at all:
// reconnecting with the same credentials or intents would fail the same way.
func fatalCloseCode(code GatewayCloseEventCode) bool {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// resumableCloseCode reports whether the session survives a close with the
// given code. Non-resumable codes force a fresh identify on reconnect.
func resumableCloseCode(code GatewayCloseEventCode) bool {
	switch code {
	case CloseInvalidSeq, CloseSessionTimedOut:
		return false
	}
	return !fatalCloseCode(code)
}

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrDecode               = errors.New("invalid payload")
	ErrGatewayIsAlreadyOpen = errors.New("gateway is already open")
	ErrGatewayNotConnected  = errors.New("gateway is not connected")
	ErrDisallowedIntents    = errors.New("disallowed intent. you may have tried to specify an intent that you have not enabled")
	ErrZombiedConnection    = errors.New("zombied connection: heartbeat was never acknowledged")
	ErrReconnectRequested   = errors.New("remote requested reconnect")
	ErrInvalidSession       = errors.New("session invalidated by remote")
	ErrHandshakeTimeout     = errors.New("timed out waiting for session handshake")
	ErrReconnectExhausted   = errors.New("gave up reconnecting")
	ErrUnknown              = errors.New("unknown error")
)

// closeCodeError maps a protocol close code to a sentinel error.
func closeCodeError(code GatewayCloseEventCode) error {
	switch code {
	case CloseAuthenticationFailed:
		return ErrAuthenticationFailed
	case CloseNotAuthenticated:
		return ErrNotAuthenticated
	case CloseDecodeError:
		return ErrDecode
	case CloseDisallowedIntents:
		return ErrDisallowedIntents
	default:
		return ErrUnknown
	}
}
