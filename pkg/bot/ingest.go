package bot

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// registerIngest wires the dispatch-frame processors. Each processor
// decodes one raw gateway event, keeps the cache in step, and republishes
// the typed form carrying canonical cached instances. Processors run
// synchronously on the gateway read loop, so typed events preserve the
// wire's arrival order.
func (c *Client) registerIngest() {
	c.onIngest("GUILD_CREATE", c.ingestGuildCreate)
	c.onIngest("GUILD_UPDATE", c.ingestGuildUpdate)
	c.onIngest("GUILD_DELETE", c.ingestGuildDelete)
	c.onIngest("CHANNEL_CREATE", c.ingestChannelCreate)
	c.onIngest("CHANNEL_UPDATE", c.ingestChannelUpdate)
	c.onIngest("CHANNEL_DELETE", c.ingestChannelDelete)
	c.onIngest("GUILD_MEMBER_ADD", c.ingestMemberAdd)
	c.onIngest("GUILD_MEMBER_UPDATE", c.ingestMemberUpdate)
	c.onIngest("GUILD_MEMBER_REMOVE", c.ingestMemberRemove)
	c.onIngest("GUILD_ROLE_CREATE", c.ingestRoleCreate)
	c.onIngest("GUILD_ROLE_UPDATE", c.ingestRoleUpdate)
	c.onIngest("GUILD_ROLE_DELETE", c.ingestRoleDelete)
	c.onIngest("MESSAGE_CREATE", c.ingestMessageCreate)
	c.onIngest("MESSAGE_UPDATE", c.ingestMessageUpdate)
	c.onIngest("MESSAGE_DELETE", c.ingestMessageDelete)
	c.onIngest("MESSAGE_DELETE_BULK", c.ingestMessageDeleteBulk)
	c.onIngest("VOICE_STATE_UPDATE", c.ingestVoiceStateUpdate)
	c.onIngest("USER_UPDATE", c.ingestUserUpdate)
}

func (c *Client) onIngest(wireName string, processor func(ctx context.Context, data []byte)) {
	c.bus.Subscribe(naff.RawEventType(wireName), func(ctx context.Context, event naff.Event) {
		raw, ok := event.(naff.Raw)
		if !ok {
			return
		}
		processor(ctx, []byte(raw.Data))
	})
}

// ingestError logs a payload the cache refused and drops it; one bad frame
// must not stall the event stream.
func (c *Client) ingestError(wireName string, err error) {
	c.logger.Error("dropping undecodable gateway event", "event", wireName, "error", err)
}

func (c *Client) ingestGuildCreate(ctx context.Context, data []byte) {
	guild, err := c.store.PlaceGuildData(data)
	if err != nil {
		c.ingestError("GUILD_CREATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.GuildCreate{Guild: guild})
}

func (c *Client) ingestGuildUpdate(ctx context.Context, data []byte) {
	guild, err := c.store.PlaceGuildData(data)
	if err != nil {
		c.ingestError("GUILD_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.GuildUpdate{Guild: guild})
}

// ingestGuildDelete handles both meanings of the frame: with the
// unavailable flag the guild went down with an outage and stays cached,
// without it the account left and the guild cascades out of the cache.
func (c *Client) ingestGuildDelete(ctx context.Context, data []byte) {
	id, err := naff.ParseSnowflake(gjson.GetBytes(data, "id").String())
	if err != nil {
		c.ingestError("GUILD_DELETE", err)
		return
	}
	prior, _ := c.store.GetGuild(ctx, id, false)
	unavailable := gjson.GetBytes(data, "unavailable").Bool()
	if !unavailable {
		c.store.DeleteGuild(id)
	}
	c.bus.Dispatch(ctx, naff.GuildDelete{ID: id, Unavailable: unavailable, Guild: prior})
}

func (c *Client) ingestChannelCreate(ctx context.Context, data []byte) {
	channel, err := c.store.PlaceChannelData(data)
	if err != nil {
		c.ingestError("CHANNEL_CREATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.ChannelCreate{Channel: channel})
}

func (c *Client) ingestChannelUpdate(ctx context.Context, data []byte) {
	channel, err := c.store.PlaceChannelData(data)
	if err != nil {
		c.ingestError("CHANNEL_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.ChannelUpdate{Channel: channel})
}

// ingestChannelDelete places the payload before deleting: the delete frame
// carries the full channel object, so subscribers get a complete instance
// even when the channel was never cached.
func (c *Client) ingestChannelDelete(ctx context.Context, data []byte) {
	channel, err := c.store.PlaceChannelData(data)
	if err != nil {
		c.ingestError("CHANNEL_DELETE", err)
		return
	}
	c.store.DeleteChannel(channel.ID)
	c.bus.Dispatch(ctx, naff.ChannelDelete{ID: channel.ID, GuildID: channel.GuildID, Channel: channel})
}

func (c *Client) ingestMemberAdd(ctx context.Context, data []byte) {
	member, err := c.store.PlaceMemberData(0, data)
	if err != nil {
		c.ingestError("GUILD_MEMBER_ADD", err)
		return
	}
	c.bus.Dispatch(ctx, naff.MemberAdd{Member: member})
}

func (c *Client) ingestMemberUpdate(ctx context.Context, data []byte) {
	member, err := c.store.PlaceMemberData(0, data)
	if err != nil {
		c.ingestError("GUILD_MEMBER_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.MemberUpdate{Member: member})
}

func (c *Client) ingestMemberRemove(ctx context.Context, data []byte) {
	doc := gjson.ParseBytes(data)
	guildID, err := naff.ParseSnowflake(doc.Get("guild_id").String())
	if err != nil {
		c.ingestError("GUILD_MEMBER_REMOVE", err)
		return
	}
	user, err := c.store.PlaceUserData([]byte(doc.Get("user").Raw))
	if err != nil {
		c.ingestError("GUILD_MEMBER_REMOVE", err)
		return
	}
	member, _ := c.store.GetMember(ctx, guildID, user.ID, false)
	c.store.DeleteMember(guildID, user.ID)
	c.bus.Dispatch(ctx, naff.MemberRemove{GuildID: guildID, User: user, Member: member})
}

func (c *Client) ingestRoleCreate(ctx context.Context, data []byte) {
	role, ok := c.placeEventRole("GUILD_ROLE_CREATE", data)
	if !ok {
		return
	}
	c.bus.Dispatch(ctx, naff.RoleCreate{Role: role})
}

func (c *Client) ingestRoleUpdate(ctx context.Context, data []byte) {
	role, ok := c.placeEventRole("GUILD_ROLE_UPDATE", data)
	if !ok {
		return
	}
	c.bus.Dispatch(ctx, naff.RoleUpdate{Role: role})
}

// placeEventRole unwraps the role event envelope, which nests the role
// object beside the owning guild id.
func (c *Client) placeEventRole(wireName string, data []byte) (*naff.Role, bool) {
	doc := gjson.ParseBytes(data)
	guildID, err := naff.ParseSnowflake(doc.Get("guild_id").String())
	if err != nil {
		c.ingestError(wireName, err)
		return nil, false
	}
	role, err := c.store.PlaceRoleData(guildID, []byte(doc.Get("role").Raw))
	if err != nil {
		c.ingestError(wireName, err)
		return nil, false
	}

	return role, true
}

func (c *Client) ingestRoleDelete(ctx context.Context, data []byte) {
	doc := gjson.ParseBytes(data)
	guildID, err := naff.ParseSnowflake(doc.Get("guild_id").String())
	if err != nil {
		c.ingestError("GUILD_ROLE_DELETE", err)
		return
	}
	roleID, err := naff.ParseSnowflake(doc.Get("role_id").String())
	if err != nil {
		c.ingestError("GUILD_ROLE_DELETE", err)
		return
	}
	prior, _ := c.store.GetRole(ctx, guildID, roleID, false)
	c.store.DeleteRole(roleID)
	c.bus.Dispatch(ctx, naff.RoleDelete{GuildID: guildID, RoleID: roleID, Role: prior})
}

func (c *Client) ingestMessageCreate(ctx context.Context, data []byte) {
	message, err := c.store.PlaceMessageData(data)
	if err != nil {
		c.ingestError("MESSAGE_CREATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.MessageCreate{Message: message})
}

func (c *Client) ingestMessageUpdate(ctx context.Context, data []byte) {
	message, err := c.store.PlaceMessageData(data)
	if err != nil {
		c.ingestError("MESSAGE_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.MessageUpdate{Message: message})
}

func (c *Client) ingestMessageDelete(ctx context.Context, data []byte) {
	doc := gjson.ParseBytes(data)
	messageID, err := naff.ParseSnowflake(doc.Get("id").String())
	if err != nil {
		c.ingestError("MESSAGE_DELETE", err)
		return
	}
	channelID, err := naff.ParseSnowflake(doc.Get("channel_id").String())
	if err != nil {
		c.ingestError("MESSAGE_DELETE", err)
		return
	}
	c.deleteMessage(ctx, doc, channelID, messageID)
}

func (c *Client) ingestMessageDeleteBulk(ctx context.Context, data []byte) {
	doc := gjson.ParseBytes(data)
	channelID, err := naff.ParseSnowflake(doc.Get("channel_id").String())
	if err != nil {
		c.ingestError("MESSAGE_DELETE_BULK", err)
		return
	}
	for _, idRaw := range doc.Get("ids").Array() {
		messageID, err := naff.ParseSnowflake(idRaw.String())
		if err != nil {
			c.ingestError("MESSAGE_DELETE_BULK", err)
			continue
		}
		c.deleteMessage(ctx, doc, channelID, messageID)
	}
}

// deleteMessage pops one message and publishes the deletion with the last
// cached copy, shared by the single and bulk frames.
func (c *Client) deleteMessage(ctx context.Context, doc gjson.Result, channelID, messageID naff.Snowflake) {
	var guildID naff.Snowflake
	if id, err := naff.ParseSnowflake(doc.Get("guild_id").String()); err == nil {
		guildID = id
	}
	prior, _ := c.store.GetMessage(ctx, channelID, messageID, false)
	c.store.DeleteMessage(channelID, messageID)
	c.bus.Dispatch(ctx, naff.MessageDelete{
		ID:        messageID,
		ChannelID: channelID,
		GuildID:   guildID,
		Message:   prior,
	})
}

func (c *Client) ingestVoiceStateUpdate(ctx context.Context, data []byte) {
	userID, err := naff.ParseSnowflake(gjson.GetBytes(data, "user_id").String())
	if err != nil {
		c.ingestError("VOICE_STATE_UPDATE", err)
		return
	}

	// Placement mutates the cached state in place, so snapshot the prior
	// state first. The channel reference needs its own copy: updates write
	// through the existing pointer.
	var old *naff.VoiceState
	if prior, err := c.store.GetVoiceState(userID); err == nil {
		copied := *prior
		if prior.ChannelID != nil {
			channelID := *prior.ChannelID
			copied.ChannelID = &channelID
		}
		old = &copied
	}

	state, err := c.store.PlaceVoiceStateData(data)
	if err != nil {
		c.ingestError("VOICE_STATE_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.VoiceStateUpdate{State: state, Old: old})
}

func (c *Client) ingestUserUpdate(ctx context.Context, data []byte) {
	user, err := c.store.PlaceUserData(data)
	if err != nil {
		c.ingestError("USER_UPDATE", err)
		return
	}
	c.bus.Dispatch(ctx, naff.UserUpdate{User: user})
}
