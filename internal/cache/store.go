// Package cache materializes wire payloads into canonical entity instances
// and answers lookups for them. Every entity type lives in its own bounded
// table; placement deduplicates against the table so that one entity is
// represented by exactly one instance, and updates mutate that instance in
// place rather than replacing it. Lookups can optionally fall back to a
// REST fetch on miss, with concurrent fetches for the same entity collapsed
// into one request.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NAFTeam/NAFF-sub001/internal/ttl"
	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// Bounds applied to the expiring tables. Entities untouched for the TTL
// window become eligible for eviction; the soft limit is the size below
// which no eviction scan runs and the hard limit is the absolute cap.
const (
	defaultTTL       = 10 * time.Minute
	defaultSoftLimit = 50
	defaultHardLimit = 250
)

// Fetcher is the REST surface the facade needs for fallback lookups.
// *rest.Client implements it.
type Fetcher interface {
	FetchUser(ctx context.Context, userID naff.Snowflake) (json.RawMessage, error)
	FetchGuild(ctx context.Context, guildID naff.Snowflake) (json.RawMessage, error)
	FetchChannel(ctx context.Context, channelID naff.Snowflake) (json.RawMessage, error)
	FetchMember(ctx context.Context, guildID, userID naff.Snowflake) (json.RawMessage, error)
	FetchGuildRoles(ctx context.Context, guildID naff.Snowflake) (json.RawMessage, error)
	FetchMessage(ctx context.Context, channelID, messageID naff.Snowflake) (json.RawMessage, error)
}

// TablePolicy bounds one entity table. Zero values disable the bound: a
// policy of all zeros degrades the table to an unbounded plain map.
type TablePolicy struct {
	TTL       time.Duration
	SoftLimit int
	HardLimit int
}

func (p TablePolicy) options() []ttl.Option {
	return []ttl.Option{
		ttl.WithTTL(p.TTL),
		ttl.WithSoftLimit(p.SoftLimit),
		ttl.WithHardLimit(p.HardLimit),
	}
}

// defaultPolicies bounds the expiring tables. Messages carry all three
// limits; roles, voice states and the DM channel map age out on TTL alone.
// Users, guilds, channels and members are absent on purpose: nested payloads
// and the membership index hold references into them, so they default to
// unbounded plain maps.
var defaultPolicies = map[string]TablePolicy{
	"messages":     {TTL: defaultTTL, SoftLimit: defaultSoftLimit, HardLimit: defaultHardLimit},
	"roles":        {TTL: defaultTTL},
	"voice_states": {TTL: defaultTTL},
	"dm_channels":  {TTL: defaultTTL},
}

// Option mutates store configuration.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	fetcher  Fetcher
	policies map[string]TablePolicy
}

// WithLogger configures structured logging for cache operations.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithFetcher wires the REST client used for fallback lookups. Without one,
// every fallback miss degrades to a plain ErrNotCached.
func WithFetcher(fetcher Fetcher) Option {
	return func(cfg *config) {
		if fetcher != nil {
			cfg.fetcher = fetcher
		}
	}
}

// WithTablePolicy overrides the bounds of one table. Known table names are
// "users", "guilds", "channels", "members", "roles", "messages",
// "voice_states" and "dm_channels"; unknown names are ignored.
func WithTablePolicy(table string, policy TablePolicy) Option {
	return func(cfg *config) {
		cfg.policies[table] = policy
	}
}

// Store is the entity cache. It implements naff.Cache.
type Store struct {
	logger  *slog.Logger
	fetcher Fetcher
	flight  singleflight.Group

	// mu serializes placement and index maintenance. Single-table reads go
	// straight to the table's own lock.
	mu         sync.Mutex
	users      *ttl.Cache[naff.Snowflake, *naff.User]
	guilds     *ttl.Cache[naff.Snowflake, *naff.Guild]
	channels   *ttl.Cache[naff.Snowflake, *naff.Channel]
	members    *ttl.Cache[naff.MemberKey, *naff.Member]
	roles      *ttl.Cache[naff.Snowflake, *naff.Role]
	messages   *ttl.Cache[naff.MessageKey, *naff.Message]
	voice      *ttl.Cache[naff.Snowflake, *naff.VoiceState]
	dms        *ttl.Cache[naff.Snowflake, naff.Snowflake]
	userGuilds map[naff.Snowflake]map[naff.Snowflake]struct{}
}

var _ naff.Cache = (*Store)(nil)

// New creates a store. Expiring tables take the defaultPolicies bounds;
// users, guilds, channels and members start unbounded.
func New(options ...Option) *Store {
	cfg := config{
		logger:   slog.Default(),
		policies: make(map[string]TablePolicy),
	}
	for _, option := range options {
		option(&cfg)
	}

	policy := func(table string) []ttl.Option {
		if p, ok := cfg.policies[table]; ok {
			return p.options()
		}
		return defaultPolicies[table].options()
	}

	return &Store{
		logger:     cfg.logger,
		fetcher:    cfg.fetcher,
		users:      ttl.New[naff.Snowflake, *naff.User](policy("users")...),
		guilds:     ttl.New[naff.Snowflake, *naff.Guild](policy("guilds")...),
		channels:   ttl.New[naff.Snowflake, *naff.Channel](policy("channels")...),
		members:    ttl.New[naff.MemberKey, *naff.Member](policy("members")...),
		roles:      ttl.New[naff.Snowflake, *naff.Role](policy("roles")...),
		messages:   ttl.New[naff.MessageKey, *naff.Message](policy("messages")...),
		voice:      ttl.New[naff.Snowflake, *naff.VoiceState](policy("voice_states")...),
		dms:        ttl.New[naff.Snowflake, naff.Snowflake](policy("dm_channels")...),
		userGuilds: make(map[naff.Snowflake]map[naff.Snowflake]struct{}),
	}
}

// TableStats reports per-table sizes and configured bounds.
func (s *Store) TableStats() map[string]naff.CacheStats {
	return map[string]naff.CacheStats{
		"users":        s.users.Stats(),
		"guilds":       s.guilds.Stats(),
		"channels":     s.channels.Stats(),
		"members":      s.members.Stats(),
		"roles":        s.roles.Stats(),
		"messages":     s.messages.Stats(),
		"voice_states": s.voice.Stats(),
		"dm_channels":  s.dms.Stats(),
	}
}

// GetDMChannelID returns the cached DM channel for a user.
func (s *Store) GetDMChannelID(userID naff.Snowflake) (naff.Snowflake, bool) {
	return s.dms.Get(userID)
}

// PlaceDMChannelID records the DM channel belonging to a user.
func (s *Store) PlaceDMChannelID(userID, channelID naff.Snowflake) {
	s.dms.Set(userID, channelID)
}

// GuildIDsForUser returns the guilds a user is known to be a member of,
// in ascending ID order.
func (s *Store) GuildIDsForUser(userID naff.Snowflake) []naff.Snowflake {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.userGuilds[userID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]naff.Snowflake, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// fetchOne runs a fallback fetch, collapsing concurrent fetches for the
// same key into a single request whose result every waiter shares.
func (s *Store) fetchOne(
	ctx context.Context,
	key string,
	fetch func(context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("fetch %s: no fetcher wired: %w", key, naff.ErrNotCached)
	}
	result, err, _ := s.flight.Do(key, func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, err
	}

	return result.(json.RawMessage), nil
}
