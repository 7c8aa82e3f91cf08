package naff

import (
	"context"
	"time"
)

// Cache is the entity cache facade: the single point of truth for every
// entity the library materializes, fed by both the gateway event stream and
// REST responses.
//
// Get methods return the canonical cached instance. With fallback true a
// miss turns into the corresponding REST fetch (placing the result before
// returning it), so errors from the HTTP layer propagate as-is; with
// fallback false a miss returns ErrNotCached and never touches the network.
// Place methods deduplicate: data for an already-cached entity updates the
// existing instance in place and returns it, preserving identity for every
// other holder of the pointer.
//
// Implementations are concurrency-safe; the gateway ingest path and REST
// callers write concurrently.
type Cache interface {
	GetUser(ctx context.Context, id Snowflake, fallback bool) (*User, error)
	PlaceUserData(raw []byte) (*User, error)

	GetGuild(ctx context.Context, id Snowflake, fallback bool) (*Guild, error)
	PlaceGuildData(raw []byte) (*Guild, error)

	GetChannel(ctx context.Context, id Snowflake, fallback bool) (*Channel, error)
	PlaceChannelData(raw []byte) (*Channel, error)

	GetMember(ctx context.Context, guildID, userID Snowflake, fallback bool) (*Member, error)
	// PlaceMemberData stamps guildID onto payloads that omit it (member
	// lists nested in guild payloads) and also places the nested user.
	PlaceMemberData(guildID Snowflake, raw []byte) (*Member, error)

	// GetRole resolves a role through its guild: the platform only exposes
	// roles as a per-guild list, so a fallback fetch places the whole list.
	GetRole(ctx context.Context, guildID, roleID Snowflake, fallback bool) (*Role, error)
	PlaceRoleData(guildID Snowflake, raw []byte) (*Role, error)

	GetMessage(ctx context.Context, channelID, messageID Snowflake, fallback bool) (*Message, error)
	PlaceMessageData(raw []byte) (*Message, error)

	// GetVoiceState is cache-only; the platform has no endpoint to fetch a
	// single voice state, so there is no fallback form.
	GetVoiceState(userID Snowflake) (*VoiceState, error)
	// PlaceVoiceStateData deletes the cached state instead of updating it
	// when the payload's channel reference is null (a voice disconnect),
	// returning nil.
	PlaceVoiceStateData(raw []byte) (*VoiceState, error)

	// GetDMChannelID and PlaceDMChannelID maintain the user to DM-channel
	// mapping so reopening a conversation does not re-create the channel.
	GetDMChannelID(userID Snowflake) (Snowflake, bool)
	PlaceDMChannelID(userID, channelID Snowflake)

	// GuildIDsForUser reads the user to guild membership index.
	GuildIDsForUser(userID Snowflake) []Snowflake

	// TableStats exposes per-table sizes and configured bounds for
	// diagnostics tooling.
	TableStats() map[string]CacheStats
}

// CacheStats is a read-only snapshot of one cache table, for operator
// diagnostics.
type CacheStats struct {
	// Size is the current entry count.
	Size int
	// TTL, SoftLimit and HardLimit echo the table's configured bounds; zero
	// means the bound is disabled.
	TTL       time.Duration
	SoftLimit int
	HardLimit int
	// Hits, Misses and Evictions count lookups that found an entry, lookups
	// that did not, and entries removed by the eviction pass.
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
