package cache

import "github.com/NAFTeam/NAFF-sub001/pkg/naff"

// The delete methods below serve the gateway ingest path: destructive
// events (message delete, channel delete, guild leave, role delete, member
// remove) drop the entity and unlink every index that points at it.

// DeleteMessage drops one cached message.
func (s *Store) DeleteMessage(channelID, messageID naff.Snowflake) {
	s.messages.Pop(naff.MessageKey{ChannelID: channelID, MessageID: messageID})
}

// DeleteChannel drops a channel and unlinks it from its guild.
func (s *Store) DeleteChannel(channelID naff.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, ok := s.channels.Pop(channelID)
	if !ok {
		return
	}
	if guild, ok := s.guilds.Peek(channel.GuildID); ok {
		delete(guild.ChannelIDs, channelID)
	}
}

// DeleteRole drops a role and unlinks it from its guild.
func (s *Store) DeleteRole(roleID naff.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles.Pop(roleID)
	if !ok {
		return
	}
	if guild, ok := s.guilds.Peek(role.GuildID); ok {
		delete(guild.RoleIDs, roleID)
	}
}

// DeleteMember drops one guild membership. The user entry stays; it may be
// shared with other guilds.
func (s *Store) DeleteMember(guildID, userID naff.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteMemberLocked(guildID, userID)
}

func (s *Store) deleteMemberLocked(guildID, userID naff.Snowflake) {
	s.members.Pop(naff.MemberKey{GuildID: guildID, UserID: userID})
	if guild, ok := s.guilds.Peek(guildID); ok {
		delete(guild.MemberIDs, userID)
	}
	if set := s.userGuilds[userID]; set != nil {
		delete(set, guildID)
		if len(set) == 0 {
			delete(s.userGuilds, userID)
		}
	}
}

// DeleteGuild drops a guild and cascades to every member, channel, role and
// voice state indexed under it.
func (s *Store) DeleteGuild(guildID naff.Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guild, ok := s.guilds.Pop(guildID)
	if !ok {
		return
	}
	for userID := range guild.MemberIDs {
		s.deleteMemberLocked(guildID, userID)
	}
	for channelID := range guild.ChannelIDs {
		s.channels.Pop(channelID)
	}
	for roleID := range guild.RoleIDs {
		s.roles.Pop(roleID)
	}
	for _, item := range s.voice.Items() {
		if item.Value.GuildID == guildID {
			s.voice.Pop(item.Key)
		}
	}
}
