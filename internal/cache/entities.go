package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// GetUser implements naff.Cache.
func (s *Store) GetUser(ctx context.Context, id naff.Snowflake, fallback bool) (*naff.User, error) {
	if user, ok := s.users.Get(id); ok {
		return user, nil
	}
	if !fallback {
		return nil, fmt.Errorf("user %s: %w", id, naff.ErrNotCached)
	}
	raw, err := s.fetchOne(ctx, "user:"+id.String(), func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchUser(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	return s.PlaceUserData(raw)
}

// PlaceUserData implements naff.Cache.
func (s *Store) PlaceUserData(raw []byte) (*naff.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.placeUserLocked(raw)
}

func (s *Store) placeUserLocked(raw []byte) (*naff.User, error) {
	id, err := naff.ParseSnowflake(gjson.GetBytes(raw, "id").String())
	if err != nil {
		return nil, fmt.Errorf("place user: %w", err)
	}
	if existing, ok := s.users.Get(id); ok {
		if err := existing.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place user: %w", err)
		}
		return existing, nil
	}
	user, err := naff.UserFromWire(raw)
	if err != nil {
		return nil, fmt.Errorf("place user: %w", err)
	}
	s.users.Set(id, user)

	return user, nil
}

// GetGuild implements naff.Cache.
func (s *Store) GetGuild(ctx context.Context, id naff.Snowflake, fallback bool) (*naff.Guild, error) {
	if guild, ok := s.guilds.Get(id); ok {
		return guild, nil
	}
	if !fallback {
		return nil, fmt.Errorf("guild %s: %w", id, naff.ErrNotCached)
	}
	raw, err := s.fetchOne(ctx, "guild:"+id.String(), func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchGuild(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	return s.PlaceGuildData(raw)
}

// PlaceGuildData implements naff.Cache. Collections nested in the payload
// (roles always, plus channels, members, voice states and threads on the
// gateway's guild-create form) are placed and indexed alongside the guild.
func (s *Store) PlaceGuildData(raw []byte) (*naff.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := naff.ParseSnowflake(gjson.GetBytes(raw, "id").String())
	if err != nil {
		return nil, fmt.Errorf("place guild: %w", err)
	}

	guild, ok := s.guilds.Get(id)
	if ok {
		if err := guild.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place guild: %w", err)
		}
	} else {
		guild, err = naff.GuildFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("place guild: %w", err)
		}
		s.guilds.Set(id, guild)
	}

	doc := gjson.ParseBytes(raw)
	for _, roleRaw := range doc.Get("roles").Array() {
		if _, err := s.placeRoleLocked(id, []byte(roleRaw.Raw)); err != nil {
			s.logger.Warn("skipping malformed nested role", "guild_id", id, "error", err)
		}
	}
	for _, field := range []string{"channels", "threads"} {
		for _, channelRaw := range doc.Get(field).Array() {
			if _, err := s.placeChannelLocked([]byte(channelRaw.Raw), id); err != nil {
				s.logger.Warn("skipping malformed nested channel", "guild_id", id, "error", err)
			}
		}
	}
	for _, memberRaw := range doc.Get("members").Array() {
		if _, err := s.placeMemberLocked(id, []byte(memberRaw.Raw)); err != nil {
			s.logger.Warn("skipping malformed nested member", "guild_id", id, "error", err)
		}
	}
	for _, stateRaw := range doc.Get("voice_states").Array() {
		if _, err := s.placeVoiceStateLocked([]byte(stateRaw.Raw), id); err != nil {
			s.logger.Warn("skipping malformed nested voice state", "guild_id", id, "error", err)
		}
	}

	return guild, nil
}

// GetChannel implements naff.Cache.
func (s *Store) GetChannel(ctx context.Context, id naff.Snowflake, fallback bool) (*naff.Channel, error) {
	if channel, ok := s.channels.Get(id); ok {
		return channel, nil
	}
	if !fallback {
		return nil, fmt.Errorf("channel %s: %w", id, naff.ErrNotCached)
	}
	raw, err := s.fetchOne(ctx, "channel:"+id.String(), func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchChannel(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	return s.PlaceChannelData(raw)
}

// PlaceChannelData implements naff.Cache.
func (s *Store) PlaceChannelData(raw []byte) (*naff.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.placeChannelLocked(raw, 0)
}

// placeChannelLocked upserts a channel. Guild-create payloads nest channels
// without a guild_id field, so the owning guild is passed alongside.
func (s *Store) placeChannelLocked(raw []byte, guildID naff.Snowflake) (*naff.Channel, error) {
	id, err := naff.ParseSnowflake(gjson.GetBytes(raw, "id").String())
	if err != nil {
		return nil, fmt.Errorf("place channel: %w", err)
	}

	channel, ok := s.channels.Get(id)
	if ok {
		if err := channel.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place channel: %w", err)
		}
	} else {
		channel, err = naff.ChannelFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("place channel: %w", err)
		}
		s.channels.Set(id, channel)
	}
	if channel.GuildID == 0 {
		channel.GuildID = guildID
	}

	if guild, ok := s.guilds.Peek(channel.GuildID); ok {
		guild.ChannelIDs[id] = struct{}{}
	}
	if channel.IsDM() {
		for i := range channel.Recipients {
			recipient := &channel.Recipients[i]
			if recipient.ID == 0 {
				continue
			}
			s.dms.Set(recipient.ID, id)
		}
	}

	return channel, nil
}

// GetMember implements naff.Cache.
func (s *Store) GetMember(
	ctx context.Context,
	guildID, userID naff.Snowflake,
	fallback bool,
) (*naff.Member, error) {
	if member, ok := s.members.Get(naff.MemberKey{GuildID: guildID, UserID: userID}); ok {
		return member, nil
	}
	if !fallback {
		return nil, fmt.Errorf("member %s in guild %s: %w", userID, guildID, naff.ErrNotCached)
	}
	key := "member:" + guildID.String() + ":" + userID.String()
	raw, err := s.fetchOne(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchMember(ctx, guildID, userID)
	})
	if err != nil {
		return nil, err
	}

	return s.PlaceMemberData(guildID, raw)
}

// PlaceMemberData implements naff.Cache.
func (s *Store) PlaceMemberData(guildID naff.Snowflake, raw []byte) (*naff.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if guildID == 0 {
		if id, err := naff.ParseSnowflake(gjson.GetBytes(raw, "guild_id").String()); err == nil {
			guildID = id
		}
	}
	if guildID == 0 {
		return nil, fmt.Errorf("place member: %w: missing guild id", naff.ErrInvalidSnowflake)
	}

	return s.placeMemberLocked(guildID, raw)
}

func (s *Store) placeMemberLocked(guildID naff.Snowflake, raw []byte) (*naff.Member, error) {
	userRaw := gjson.GetBytes(raw, "user")
	if !userRaw.Exists() {
		return nil, fmt.Errorf("place member: %w: missing user", naff.ErrInvalidSnowflake)
	}
	user, err := s.placeUserLocked([]byte(userRaw.Raw))
	if err != nil {
		return nil, fmt.Errorf("place member: %w", err)
	}

	key := naff.MemberKey{GuildID: guildID, UserID: user.ID}
	member, ok := s.members.Get(key)
	if ok {
		if err := member.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place member: %w", err)
		}
	} else {
		member, err = naff.MemberFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("place member: %w", err)
		}
		s.members.Set(key, member)
	}
	member.GuildID = guildID
	member.User = user
	s.indexMemberLocked(guildID, user.ID)

	return member, nil
}

// placeMessageMemberLocked absorbs the partial member object riding on
// guild message payloads. The partial carries no nested user, so the
// canonical author is attached instead. A malformed partial leaves the
// member cache untouched rather than failing the message placement.
func (s *Store) placeMessageMemberLocked(guildID naff.Snowflake, author *naff.User, raw []byte) {
	key := naff.MemberKey{GuildID: guildID, UserID: author.ID}
	member, ok := s.members.Get(key)
	if ok {
		if err := member.UpdateFromWire(raw); err == nil {
			member.GuildID = guildID
			member.User = author
		}
	} else {
		member = &naff.Member{}
		if err := json.Unmarshal(raw, member); err == nil {
			member.GuildID = guildID
			member.User = author
			s.members.Set(key, member)
		}
	}
	s.indexMemberLocked(guildID, author.ID)
}

func (s *Store) indexMemberLocked(guildID, userID naff.Snowflake) {
	if guild, ok := s.guilds.Peek(guildID); ok {
		guild.MemberIDs[userID] = struct{}{}
	}
	set := s.userGuilds[userID]
	if set == nil {
		set = make(map[naff.Snowflake]struct{})
		s.userGuilds[userID] = set
	}
	set[guildID] = struct{}{}
}

// GetRole implements naff.Cache. A fallback miss fetches the guild's whole
// role list, since roles are only addressable that way.
func (s *Store) GetRole(
	ctx context.Context,
	guildID, roleID naff.Snowflake,
	fallback bool,
) (*naff.Role, error) {
	if role, ok := s.roles.Get(roleID); ok {
		return role, nil
	}
	if !fallback {
		return nil, fmt.Errorf("role %s: %w", roleID, naff.ErrNotCached)
	}
	raw, err := s.fetchOne(ctx, "roles:"+guildID.String(), func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchGuildRoles(ctx, guildID)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, roleRaw := range gjson.ParseBytes(raw).Array() {
		if _, err := s.placeRoleLocked(guildID, []byte(roleRaw.Raw)); err != nil {
			s.logger.Warn("skipping malformed role", "guild_id", guildID, "error", err)
		}
	}
	s.mu.Unlock()

	if role, ok := s.roles.Get(roleID); ok {
		return role, nil
	}

	return nil, fmt.Errorf("role %s: %w", roleID, naff.ErrNotCached)
}

// PlaceRoleData implements naff.Cache.
func (s *Store) PlaceRoleData(guildID naff.Snowflake, raw []byte) (*naff.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.placeRoleLocked(guildID, raw)
}

func (s *Store) placeRoleLocked(guildID naff.Snowflake, raw []byte) (*naff.Role, error) {
	id, err := naff.ParseSnowflake(gjson.GetBytes(raw, "id").String())
	if err != nil {
		return nil, fmt.Errorf("place role: %w", err)
	}

	role, ok := s.roles.Get(id)
	if ok {
		if err := role.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place role: %w", err)
		}
		role.GuildID = guildID
	} else {
		role, err = naff.RoleFromWire(raw, guildID)
		if err != nil {
			return nil, fmt.Errorf("place role: %w", err)
		}
		s.roles.Set(id, role)
	}

	if guild, ok := s.guilds.Peek(guildID); ok {
		guild.RoleIDs[id] = struct{}{}
	}

	return role, nil
}

// GetMessage implements naff.Cache.
func (s *Store) GetMessage(
	ctx context.Context,
	channelID, messageID naff.Snowflake,
	fallback bool,
) (*naff.Message, error) {
	if message, ok := s.messages.Get(naff.MessageKey{ChannelID: channelID, MessageID: messageID}); ok {
		return message, nil
	}
	if !fallback {
		return nil, fmt.Errorf("message %s in channel %s: %w", messageID, channelID, naff.ErrNotCached)
	}
	key := "message:" + channelID.String() + ":" + messageID.String()
	raw, err := s.fetchOne(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return s.fetcher.FetchMessage(ctx, channelID, messageID)
	})
	if err != nil {
		return nil, err
	}

	return s.PlaceMessageData(raw)
}

// PlaceMessageData implements naff.Cache. The nested author (and the
// partial member object on guild messages) is placed as well, and the
// message's author field is rewired to the canonical cached user.
func (s *Store) PlaceMessageData(raw []byte) (*naff.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := gjson.ParseBytes(raw)
	id, err := naff.ParseSnowflake(doc.Get("id").String())
	if err != nil {
		return nil, fmt.Errorf("place message: %w", err)
	}
	channelID, err := naff.ParseSnowflake(doc.Get("channel_id").String())
	if err != nil {
		return nil, fmt.Errorf("place message: %w: missing channel id", naff.ErrInvalidSnowflake)
	}

	var author *naff.User
	if authorRaw := doc.Get("author"); authorRaw.Exists() {
		author, err = s.placeUserLocked([]byte(authorRaw.Raw))
		if err != nil {
			return nil, fmt.Errorf("place message author: %w", err)
		}
	}

	key := naff.MessageKey{ChannelID: channelID, MessageID: id}
	message, ok := s.messages.Get(key)
	if ok {
		if err := message.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place message: %w", err)
		}
	} else {
		message, err = naff.MessageFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("place message: %w", err)
		}
		s.messages.Set(key, message)
	}
	if author != nil {
		message.Author = author
	}

	if memberRaw := doc.Get("member"); memberRaw.Exists() && author != nil && message.GuildID != 0 {
		s.placeMessageMemberLocked(message.GuildID, author, []byte(memberRaw.Raw))
	}

	return message, nil
}

// GetVoiceState implements naff.Cache.
func (s *Store) GetVoiceState(userID naff.Snowflake) (*naff.VoiceState, error) {
	if state, ok := s.voice.Get(userID); ok {
		return state, nil
	}

	return nil, fmt.Errorf("voice state for %s: %w", userID, naff.ErrNotCached)
}

// PlaceVoiceStateData implements naff.Cache.
func (s *Store) PlaceVoiceStateData(raw []byte) (*naff.VoiceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.placeVoiceStateLocked(raw, 0)
}

// placeVoiceStateLocked upserts a voice state, deleting instead when the
// payload's channel reference is an explicit null. Guild-create payloads
// nest states without guild_id, so the owning guild is passed alongside.
func (s *Store) placeVoiceStateLocked(raw []byte, guildID naff.Snowflake) (*naff.VoiceState, error) {
	doc := gjson.ParseBytes(raw)
	userID, err := naff.ParseSnowflake(doc.Get("user_id").String())
	if err != nil {
		return nil, fmt.Errorf("place voice state: %w", err)
	}

	channelRef := doc.Get("channel_id")
	if channelRef.Exists() && channelRef.Type == gjson.Null {
		s.voice.Pop(userID)
		return nil, nil
	}

	if guildID == 0 {
		if id, parseErr := naff.ParseSnowflake(doc.Get("guild_id").String()); parseErr == nil {
			guildID = id
		}
	}
	if memberRaw := doc.Get("member"); memberRaw.Exists() && guildID != 0 {
		if _, err := s.placeMemberLocked(guildID, []byte(memberRaw.Raw)); err != nil {
			s.logger.Warn("skipping malformed voice member", "guild_id", guildID, "error", err)
		}
	}

	state, ok := s.voice.Get(userID)
	if ok {
		if err := state.UpdateFromWire(raw); err != nil {
			return nil, fmt.Errorf("place voice state: %w", err)
		}
	} else {
		state, err = naff.VoiceStateFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("place voice state: %w", err)
		}
		s.voice.Set(userID, state)
	}
	if state.GuildID == 0 {
		state.GuildID = guildID
	}

	return state, nil
}
