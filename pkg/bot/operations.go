package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const (
	// bulkDeleteHorizon is the platform's age cutoff for bulk deletion.
	// Requests naming older messages are rejected wholesale, so Purge
	// filters them out and reports them instead.
	bulkDeleteHorizon = 14 * 24 * time.Hour

	// bulkDeleteChunk is the per-request ID cap on the bulk endpoint.
	bulkDeleteChunk = 100
)

// ChangePresence updates the bot presence on the live connection and on
// future identifies.
func (c *Client) ChangePresence(ctx context.Context, presence *naff.Presence) error {
	return c.gw.ChangePresence(ctx, presence)
}

// SendMessage posts plain text to a channel and returns the canonical
// cached message.
func (c *Client) SendMessage(
	ctx context.Context,
	channelID naff.Snowflake,
	content string,
) (*naff.Message, error) {
	payload, err := c.rest.CreateMessage(ctx, channelID, map[string]any{"content": content})
	if err != nil {
		return nil, err
	}
	message, err := c.store.PlaceMessageData(payload)
	if err != nil {
		return nil, fmt.Errorf("place sent message: %w", err)
	}

	return message, nil
}

// SendDM delivers plain text to a user's direct message channel, opening
// the channel on first use. The user to channel mapping is cached so later
// sends skip the extra round trip.
func (c *Client) SendDM(
	ctx context.Context,
	userID naff.Snowflake,
	content string,
) (*naff.Message, error) {
	channelID, ok := c.store.GetDMChannelID(userID)
	if !ok {
		payload, err := c.rest.CreateDM(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("open dm channel: %w", err)
		}
		channel, err := c.store.PlaceChannelData(payload)
		if err != nil {
			return nil, fmt.Errorf("place dm channel: %w", err)
		}
		channelID = channel.ID
		c.store.PlaceDMChannelID(userID, channelID)
	}

	return c.SendMessage(ctx, channelID, content)
}

// Purge deletes the given messages from a channel. IDs older than the
// bulk-delete horizon are skipped and counted rather than failing the
// whole call, eligible IDs go out in bulk chunks, and a chunk of one falls
// back to a single delete. Deleted messages are dropped from the cache.
func (c *Client) Purge(
	ctx context.Context,
	channelID naff.Snowflake,
	messageIDs []naff.Snowflake,
) (deleted, skipped int, err error) {
	cutoff := time.Now().Add(-bulkDeleteHorizon)
	eligible := make([]naff.Snowflake, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id.Time().Before(cutoff) {
			skipped++
			continue
		}
		eligible = append(eligible, id)
	}
	if skipped > 0 {
		c.logger.Warn("purge skipping messages past the bulk-delete horizon",
			"channel_id", channelID,
			"skipped", skipped,
		)
	}

	for start := 0; start < len(eligible); start += bulkDeleteChunk {
		end := start + bulkDeleteChunk
		if end > len(eligible) {
			end = len(eligible)
		}
		chunk := eligible[start:end]
		if len(chunk) == 1 {
			err = c.rest.DeleteMessage(ctx, channelID, chunk[0], "")
		} else {
			err = c.rest.BulkDeleteMessages(ctx, channelID, chunk, "")
		}
		if err != nil {
			return deleted, skipped, fmt.Errorf("purge channel %s: %w", channelID, err)
		}
		for _, id := range chunk {
			c.store.DeleteMessage(channelID, id)
		}
		deleted += len(chunk)
	}

	return deleted, skipped, nil
}
