package naff

import (
	"encoding/json"
	"fmt"
	"time"
)

// The entity DTOs below mirror the platform's wire objects with explicit
// typed fields; unknown wire fields are ignored by the JSON decoder rather
// than captured through reflection. Each type pairs a XFromWire constructor
// with an UpdateFromWire method: the constructor builds a fresh instance,
// the updater overlays a partial payload onto an existing instance without
// replacing it, so references held elsewhere stay valid. Entities reference
// each other by ID only and are resolved through the cache facade.

// User is a platform account.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    string    `json:"global_name"`
	Avatar        string    `json:"avatar"`
	Bot           bool      `json:"bot"`
	System        bool      `json:"system"`
}

// UserFromWire decodes a user payload.
func UserFromWire(raw []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("decode user: %w: missing id", ErrInvalidSnowflake)
	}
	return &u, nil
}

// UpdateFromWire overlays a partial payload onto the existing user.
func (u *User) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, u); err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

// SnowflakeID implements IDer.
func (u *User) SnowflakeID() Snowflake { return u.ID }

// Tag renders the classic username#discriminator handle, falling back to the
// plain username for accounts migrated off discriminators.
func (u *User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// Member is a user's per-guild profile. The wire payload nests the user
// object; GuildID is injected by the ingest path when the payload omits it
// (guild-create member lists carry no guild_id per element).
type Member struct {
	GuildID  Snowflake   `json:"guild_id"`
	User     *User       `json:"user"`
	Nick     string      `json:"nick"`
	RoleIDs  []Snowflake `json:"roles"`
	JoinedAt time.Time   `json:"joined_at"`
	Pending  bool        `json:"pending"`
	Deaf     bool        `json:"deaf"`
	Mute     bool        `json:"mute"`
}

// MemberFromWire decodes a member payload.
func MemberFromWire(raw []byte) (*Member, error) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode member: %w", err)
	}
	if m.User == nil || m.User.ID == 0 {
		return nil, fmt.Errorf("decode member: %w: missing user id", ErrInvalidSnowflake)
	}
	return &m, nil
}

// UpdateFromWire overlays a partial payload onto the existing member.
func (m *Member) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return nil
}

// Key returns the composite cache key for this member.
func (m *Member) Key() MemberKey {
	var userID Snowflake
	if m.User != nil {
		userID = m.User.ID
	}
	return MemberKey{GuildID: m.GuildID, UserID: userID}
}

// DisplayName returns the nickname when set, else the user's display handle.
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName
		}
		return m.User.Username
	}
	return ""
}

// Guild is a server. MemberIDs, ChannelIDs and RoleIDs are not wire fields:
// the cache facade maintains them as the membership indices of this guild
// and they must only be touched through it.
type Guild struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	OwnerID     Snowflake `json:"owner_id"`
	Unavailable bool      `json:"unavailable"`
	MemberCount int       `json:"member_count"`

	MemberIDs  map[Snowflake]struct{} `json:"-"`
	ChannelIDs map[Snowflake]struct{} `json:"-"`
	RoleIDs    map[Snowflake]struct{} `json:"-"`
}

// GuildFromWire decodes a guild payload.
func GuildFromWire(raw []byte) (*Guild, error) {
	g := Guild{
		MemberIDs:  make(map[Snowflake]struct{}),
		ChannelIDs: make(map[Snowflake]struct{}),
		RoleIDs:    make(map[Snowflake]struct{}),
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode guild: %w", err)
	}
	if g.ID == 0 {
		return nil, fmt.Errorf("decode guild: %w: missing id", ErrInvalidSnowflake)
	}
	return &g, nil
}

// UpdateFromWire overlays a partial payload onto the existing guild. The
// facade-maintained index sets are untouched.
func (g *Guild) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, g); err != nil {
		return fmt.Errorf("update guild %s: %w", g.ID, err)
	}
	return nil
}

// SnowflakeID implements IDer.
func (g *Guild) SnowflakeID() Snowflake { return g.ID }

// ChannelType discriminates the channel payload shape.
type ChannelType int

// Channel types observed on the wire.
const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypeDM            ChannelType = 1
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGroupDM       ChannelType = 3
	ChannelTypeGuildCategory ChannelType = 4
	ChannelTypeGuildNews     ChannelType = 5
	ChannelTypeThread        ChannelType = 11
)

// Channel is any messageable or organizational channel, including DMs.
type Channel struct {
	ID            Snowflake   `json:"id"`
	Type          ChannelType `json:"type"`
	GuildID       Snowflake   `json:"guild_id"`
	Position      int         `json:"position"`
	Name          string      `json:"name"`
	Topic         string      `json:"topic"`
	NSFW          bool        `json:"nsfw"`
	LastMessageID Snowflake   `json:"last_message_id"`
	ParentID      Snowflake   `json:"parent_id"`
	Recipients    []User      `json:"recipients"`
}

// ChannelFromWire decodes a channel payload.
func ChannelFromWire(raw []byte) (*Channel, error) {
	var c Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	if c.ID == 0 {
		return nil, fmt.Errorf("decode channel: %w: missing id", ErrInvalidSnowflake)
	}
	return &c, nil
}

// UpdateFromWire overlays a partial payload onto the existing channel.
func (c *Channel) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("update channel %s: %w", c.ID, err)
	}
	return nil
}

// SnowflakeID implements IDer.
func (c *Channel) SnowflakeID() Snowflake { return c.ID }

// IsDM reports whether the channel is a direct or group direct channel.
func (c *Channel) IsDM() bool {
	return c.Type == ChannelTypeDM || c.Type == ChannelTypeGroupDM
}

// Role is a guild role. GuildID is injected by the ingest path: role
// payloads never carry their owning guild.
type Role struct {
	ID          Snowflake `json:"id"`
	GuildID     Snowflake `json:"-"`
	Name        string    `json:"name"`
	Color       int       `json:"color"`
	Hoist       bool      `json:"hoist"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"`
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`
}

// RoleFromWire decodes a role payload and stamps the owning guild.
func RoleFromWire(raw []byte, guildID Snowflake) (*Role, error) {
	var r Role
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode role: %w", err)
	}
	if r.ID == 0 {
		return nil, fmt.Errorf("decode role: %w: missing id", ErrInvalidSnowflake)
	}
	r.GuildID = guildID
	return &r, nil
}

// UpdateFromWire overlays a partial payload onto the existing role.
func (r *Role) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, r); err != nil {
		return fmt.Errorf("update role %s: %w", r.ID, err)
	}
	return nil
}

// SnowflakeID implements IDer.
func (r *Role) SnowflakeID() Snowflake { return r.ID }

// Message is a channel message.
type Message struct {
	ID              Snowflake  `json:"id"`
	ChannelID       Snowflake  `json:"channel_id"`
	GuildID         Snowflake  `json:"guild_id"`
	Author          *User      `json:"author"`
	Content         string     `json:"content"`
	Timestamp       time.Time  `json:"timestamp"`
	EditedTimestamp *time.Time `json:"edited_timestamp"`
	TTS             bool       `json:"tts"`
	MentionEveryone bool       `json:"mention_everyone"`
	Mentions        []User     `json:"mentions"`
	Pinned          bool       `json:"pinned"`
	Type            int        `json:"type"`
}

// MessageFromWire decodes a message payload.
func MessageFromWire(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == 0 || m.ChannelID == 0 {
		return nil, fmt.Errorf("decode message: %w: missing id", ErrInvalidSnowflake)
	}
	return &m, nil
}

// UpdateFromWire overlays a partial payload onto the existing message.
// Message-update frames routinely omit most fields.
func (m *Message) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	return nil
}

// Key returns the composite cache key for this message.
func (m *Message) Key() MessageKey {
	return MessageKey{ChannelID: m.ChannelID, MessageID: m.ID}
}

// SnowflakeID implements IDer.
func (m *Message) SnowflakeID() Snowflake { return m.ID }

// VoiceState is a user's live voice presence. A nil ChannelID means the user
// disconnected from voice entirely; the cache facade deletes the entry
// rather than storing a tombstone.
type VoiceState struct {
	GuildID   Snowflake  `json:"guild_id"`
	ChannelID *Snowflake `json:"channel_id"`
	UserID    Snowflake  `json:"user_id"`
	SessionID string     `json:"session_id"`
	Deaf      bool       `json:"deaf"`
	Mute      bool       `json:"mute"`
	SelfDeaf  bool       `json:"self_deaf"`
	SelfMute  bool       `json:"self_mute"`
	SelfVideo bool       `json:"self_video"`
	Suppress  bool       `json:"suppress"`
}

// VoiceStateFromWire decodes a voice-state payload.
func VoiceStateFromWire(raw []byte) (*VoiceState, error) {
	var v VoiceState
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode voice state: %w", err)
	}
	if v.UserID == 0 {
		return nil, fmt.Errorf("decode voice state: %w: missing user id", ErrInvalidSnowflake)
	}
	return &v, nil
}

// UpdateFromWire overlays a partial payload onto the existing voice state.
func (v *VoiceState) UpdateFromWire(raw []byte) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("update voice state for %s: %w", v.UserID, err)
	}
	return nil
}

// Connected reports whether the state describes a live voice connection.
func (v *VoiceState) Connected() bool {
	return v.ChannelID != nil && *v.ChannelID != 0
}

var (
	_ IDer = (*User)(nil)
	_ IDer = (*Guild)(nil)
	_ IDer = (*Channel)(nil)
	_ IDer = (*Role)(nil)
	_ IDer = (*Message)(nil)
)
