package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// gatewayQuery selects the wire format negotiated on the websocket:
// JSON envelopes over a zlib-stream compressed transport.
const gatewayQuery = "?encoding=json&v=9&compress=zlib-stream"

// Login verifies the configured token by fetching the bot's own user. A
// 401 response maps to ErrInvalidToken.
func (c *Client) Login(ctx context.Context) (json.RawMessage, error) {
	payload, err := c.Request(ctx, naff.NewRoute(http.MethodGet, "/users/@me", nil), nil)
	if err != nil {
		if httpErr, ok := naff.AsHTTPError(err); ok && httpErr.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("login: %w", naff.ErrInvalidToken)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	return payload, nil
}

// GetGateway discovers the websocket URL to connect to, with the transport
// parameters already applied. Any failure maps to ErrGatewayNotFound.
func (c *Client) GetGateway(ctx context.Context) (string, error) {
	payload, err := c.Request(ctx, naff.NewRoute(http.MethodGet, "/gateway", nil), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", naff.ErrGatewayNotFound, err)
	}
	gatewayURL := gjson.GetBytes(payload, "url").String()
	if gatewayURL == "" {
		return "", naff.ErrGatewayNotFound
	}

	return gatewayURL + gatewayQuery, nil
}

// FetchUser retrieves a user by ID.
func (c *Client) FetchUser(ctx context.Context, userID naff.Snowflake) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/users/{user_id}", map[string]any{
		"user_id": userID,
	}), nil)
}

// FetchGuild retrieves a guild by ID.
func (c *Client) FetchGuild(ctx context.Context, guildID naff.Snowflake) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/guilds/{guild_id}", map[string]any{
		"guild_id": guildID,
	}), nil)
}

// FetchChannel retrieves a channel by ID.
func (c *Client) FetchChannel(ctx context.Context, channelID naff.Snowflake) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/channels/{channel_id}", map[string]any{
		"channel_id": channelID,
	}), nil)
}

// FetchMember retrieves one guild membership.
func (c *Client) FetchMember(
	ctx context.Context,
	guildID naff.Snowflake,
	userID naff.Snowflake,
) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/guilds/{guild_id}/members/{user_id}", map[string]any{
		"guild_id": guildID,
		"user_id":  userID,
	}), nil)
}

// FetchGuildRoles retrieves the full role list of a guild.
func (c *Client) FetchGuildRoles(ctx context.Context, guildID naff.Snowflake) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/guilds/{guild_id}/roles", map[string]any{
		"guild_id": guildID,
	}), nil)
}

// FetchMessage retrieves one message from a channel.
func (c *Client) FetchMessage(
	ctx context.Context,
	channelID naff.Snowflake,
	messageID naff.Snowflake,
) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/channels/{channel_id}/messages/{message_id}", map[string]any{
		"channel_id": channelID,
		"message_id": messageID,
	}), nil)
}

// CreateDM opens (or reuses) the direct message channel with a user.
func (c *Client) CreateDM(ctx context.Context, recipientID naff.Snowflake) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodPost, "/users/@me/channels", nil), &naff.RequestOptions{
		Body: map[string]any{"recipient_id": recipientID},
	})
}

// GetChannelMessages pages through a channel's history, newest first.
// A zero before reads from the latest message; limit is capped server-side
// at 100.
func (c *Client) GetChannelMessages(
	ctx context.Context,
	channelID naff.Snowflake,
	limit int,
	before naff.Snowflake,
) (json.RawMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if before != 0 {
		query.Set("before", before.String())
	}

	return c.Request(ctx, naff.NewRoute(http.MethodGet, "/channels/{channel_id}/messages", map[string]any{
		"channel_id": channelID,
	}), &naff.RequestOptions{Query: query})
}

// CreateMessage posts a message to a channel. The body is any value that
// marshals to the message-create payload.
func (c *Client) CreateMessage(
	ctx context.Context,
	channelID naff.Snowflake,
	body any,
) (json.RawMessage, error) {
	return c.Request(ctx, naff.NewRoute(http.MethodPost, "/channels/{channel_id}/messages", map[string]any{
		"channel_id": channelID,
	}), &naff.RequestOptions{Body: body})
}

// DeleteMessage removes one message.
func (c *Client) DeleteMessage(
	ctx context.Context,
	channelID naff.Snowflake,
	messageID naff.Snowflake,
	reason string,
) error {
	_, err := c.Request(ctx, naff.NewRoute(http.MethodDelete, "/channels/{channel_id}/messages/{message_id}", map[string]any{
		"channel_id": channelID,
		"message_id": messageID,
	}), &naff.RequestOptions{Reason: reason})

	return err
}

// BulkDeleteMessages removes up to 100 messages in one call. Messages
// older than the bulk-delete horizon are rejected by the server.
func (c *Client) BulkDeleteMessages(
	ctx context.Context,
	channelID naff.Snowflake,
	messageIDs []naff.Snowflake,
	reason string,
) error {
	_, err := c.Request(ctx, naff.NewRoute(http.MethodPost, "/channels/{channel_id}/messages/bulk-delete", map[string]any{
		"channel_id": channelID,
	}), &naff.RequestOptions{
		Body:   map[string]any{"messages": messageIDs},
		Reason: reason,
	})

	return err
}

// FetchAsset downloads bytes from a CDN URL. Asset URLs live outside the
// API surface, so no bucket or authorization applies.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build asset request: %w", err)
	}
	req.Header.Set("User-Agent", naff.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, &naff.Route{Method: http.MethodGet, Path: assetURL}, payload)
	}

	return payload, nil
}
