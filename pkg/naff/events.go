package naff

import (
	"encoding/json"
	"strings"
)

// Event is implemented by every value published on the dispatcher. The
// event type string is the subscription key.
type Event interface {
	EventType() string
}

// Lifecycle and raw event type strings. Entity events use the lowercased
// wire dispatch names ("message_create" and friends) via their EventType
// methods below.
const (
	// EventTypeConnect fires when the websocket handshake completes, before
	// hello/identify.
	EventTypeConnect = "connect"
	// EventTypeDisconnect fires when a gateway connection ends, resumable or
	// not.
	EventTypeDisconnect = "disconnect"
	// EventTypeWebSocketReady fires when the gateway acknowledges the session
	// (READY dispatch).
	EventTypeWebSocketReady = "websocket_ready"
	// rawPrefix prefixes lowercased dispatch names for raw pass-through
	// events.
	rawPrefix = "raw_"
)

// Connect is published after the websocket handshake completes.
type Connect struct{}

// EventType implements Event.
func (Connect) EventType() string { return EventTypeConnect }

// Disconnect is published when a gateway connection ends. Err carries the
// terminating condition when the disconnect was not requested.
type Disconnect struct {
	Err error
}

// EventType implements Event.
func (Disconnect) EventType() string { return EventTypeDisconnect }

// Ready is published when the gateway acknowledges a fresh session.
type Ready struct {
	// SessionID is the resume token for this session.
	SessionID string
	// User is the bot account the session authenticated as.
	User *User
	// GuildIDs lists the (initially unavailable) guilds the account is in.
	GuildIDs []Snowflake
}

// EventType implements Event.
func (Ready) EventType() string { return EventTypeWebSocketReady }

// Raw is published for every dispatch frame with its undecoded payload,
// before any entity processing. Type holds the lowercased wire name.
type Raw struct {
	Type string
	Data json.RawMessage
}

// EventType implements Event.
func (e Raw) EventType() string { return rawPrefix + e.Type }

// RawEventType returns the subscription key for the raw form of a wire
// dispatch name, e.g. RawEventType("MESSAGE_CREATE") == "raw_message_create".
func RawEventType(wireName string) string {
	return rawPrefix + strings.ToLower(wireName)
}

// MessageCreate carries a newly cached message.
type MessageCreate struct {
	Message *Message
}

// EventType implements Event.
func (MessageCreate) EventType() string { return "message_create" }

// MessageUpdate carries the canonical message after an in-place update.
type MessageUpdate struct {
	Message *Message
}

// EventType implements Event.
func (MessageUpdate) EventType() string { return "message_update" }

// MessageDelete identifies a deleted message. Message holds the last cached
// copy when one existed, else nil.
type MessageDelete struct {
	ID        Snowflake
	ChannelID Snowflake
	GuildID   Snowflake
	Message   *Message
}

// EventType implements Event.
func (MessageDelete) EventType() string { return "message_delete" }

// GuildCreate carries a guild that became available or was joined.
type GuildCreate struct {
	Guild *Guild
}

// EventType implements Event.
func (GuildCreate) EventType() string { return "guild_create" }

// GuildUpdate carries the canonical guild after an in-place update.
type GuildUpdate struct {
	Guild *Guild
}

// EventType implements Event.
func (GuildUpdate) EventType() string { return "guild_update" }

// GuildDelete fires when a guild becomes unavailable or the account leaves.
// Guild holds the last cached copy when one existed.
type GuildDelete struct {
	ID          Snowflake
	Unavailable bool
	Guild       *Guild
}

// EventType implements Event.
func (GuildDelete) EventType() string { return "guild_delete" }

// ChannelCreate carries a newly cached channel.
type ChannelCreate struct {
	Channel *Channel
}

// EventType implements Event.
func (ChannelCreate) EventType() string { return "channel_create" }

// ChannelUpdate carries the canonical channel after an in-place update.
type ChannelUpdate struct {
	Channel *Channel
}

// EventType implements Event.
func (ChannelUpdate) EventType() string { return "channel_update" }

// ChannelDelete carries the deleted channel as last cached.
type ChannelDelete struct {
	ID      Snowflake
	GuildID Snowflake
	Channel *Channel
}

// EventType implements Event.
func (ChannelDelete) EventType() string { return "channel_delete" }

// MemberAdd fires when a member joins a guild.
type MemberAdd struct {
	Member *Member
}

// EventType implements Event.
func (MemberAdd) EventType() string { return "guild_member_add" }

// MemberUpdate carries the canonical member after an in-place update.
type MemberUpdate struct {
	Member *Member
}

// EventType implements Event.
func (MemberUpdate) EventType() string { return "guild_member_update" }

// MemberRemove fires when a member leaves. Member holds the last cached
// copy when one existed.
type MemberRemove struct {
	GuildID Snowflake
	User    *User
	Member  *Member
}

// EventType implements Event.
func (MemberRemove) EventType() string { return "guild_member_remove" }

// RoleCreate carries a newly cached role.
type RoleCreate struct {
	Role *Role
}

// EventType implements Event.
func (RoleCreate) EventType() string { return "guild_role_create" }

// RoleUpdate carries the canonical role after an in-place update.
type RoleUpdate struct {
	Role *Role
}

// EventType implements Event.
func (RoleUpdate) EventType() string { return "guild_role_update" }

// RoleDelete identifies a deleted role, with the last cached copy when one
// existed.
type RoleDelete struct {
	GuildID Snowflake
	RoleID  Snowflake
	Role    *Role
}

// EventType implements Event.
func (RoleDelete) EventType() string { return "guild_role_delete" }

// VoiceStateUpdate carries the canonical voice state after placement. State
// is nil when the update was a disconnect; Old holds the prior cached state
// when one existed.
type VoiceStateUpdate struct {
	State *VoiceState
	Old   *VoiceState
}

// EventType implements Event.
func (VoiceStateUpdate) EventType() string { return "voice_state_update" }

// UserUpdate carries the canonical user after an in-place update.
type UserUpdate struct {
	User *User
}

// EventType implements Event.
func (UserUpdate) EventType() string { return "user_update" }
