package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NAFTeam/NAFF-sub001/pkg/bot"
	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const (
	envConfigFile           = "NAFF_BOT_CONFIG"
	defaultConfigFilePath   = "config/bot.json"
	alternateConfigFilePath = "bin/config/bot.json"
)

// intentNames maps config file intent strings to their bits. "default" and
// "all" select the usual groupings.
var intentNames = map[string]naff.Intents{
	"guilds":                    naff.IntentGuilds,
	"guild_members":             naff.IntentGuildMembers,
	"guild_moderation":          naff.IntentGuildModeration,
	"guild_emojis_and_stickers": naff.IntentGuildEmojisAndStickers,
	"guild_integrations":        naff.IntentGuildIntegrations,
	"guild_webhooks":            naff.IntentGuildWebhooks,
	"guild_invites":             naff.IntentGuildInvites,
	"guild_voice_states":        naff.IntentGuildVoiceStates,
	"guild_presences":           naff.IntentGuildPresences,
	"guild_messages":            naff.IntentGuildMessages,
	"guild_message_reactions":   naff.IntentGuildMessageReactions,
	"guild_message_typing":      naff.IntentGuildMessageTyping,
	"direct_messages":           naff.IntentDirectMessages,
	"direct_message_reactions":  naff.IntentDirectMessageReactions,
	"direct_message_typing":     naff.IntentDirectMessageTyping,
	"message_content":           naff.IntentMessageContent,
	"guild_scheduled_events":    naff.IntentGuildScheduledEvents,
	"default":                   naff.IntentsDefault,
	"all":                       naff.IntentsAll,
}

var cacheTableNames = map[string]struct{}{
	"users":        {},
	"guilds":       {},
	"channels":     {},
	"members":      {},
	"roles":        {},
	"messages":     {},
	"voice_states": {},
	"dm_channels":  {},
}

type appConfig struct {
	logLevel slog.Level
	token    string
	intents  naff.Intents
	presence *naff.Presence
	cache    map[string]bot.CachePolicy
}

type fileConfig struct {
	LogLevel string                     `json:"log_level"`
	Token    string                     `json:"token"`
	Intents  []string                   `json:"intents"`
	Presence *filePresence              `json:"presence"`
	Cache    map[string]fileCachePolicy `json:"cache"`
}

type filePresence struct {
	Status   string `json:"status"`
	Activity string `json:"activity"`
}

type fileCachePolicy struct {
	TTL       string `json:"ttl"`
	SoftLimit *int   `json:"soft_limit"`
	HardLimit *int   `json:"hard_limit"`
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	options := []bot.Option{
		bot.WithLogger(logger),
		bot.WithIntents(cfg.intents),
	}
	if cfg.presence != nil {
		options = append(options, bot.WithPresence(cfg.presence))
	}
	if len(cfg.cache) > 0 {
		options = append(options, bot.WithCacheConfig(cfg.cache))
	}

	client, err := bot.New(cfg.token, options...)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	registerHandlers(logger, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run client: %w", err)
	}

	return nil
}

// registerHandlers wires the demo behavior: session logging and a ping
// command answered with pong.
func registerHandlers(logger *slog.Logger, client *bot.Client) {
	bot.On(client, func(ctx context.Context, event naff.Ready) {
		logger.Info("session ready",
			"session_id", event.SessionID,
			"guild_count", len(event.GuildIDs),
		)
	})
	bot.On(client, func(ctx context.Context, event naff.GuildCreate) {
		logger.Info("guild available",
			"guild_id", event.Guild.ID,
			"guild_name", event.Guild.Name,
			"member_count", event.Guild.MemberCount,
		)
	})
	bot.On(client, func(ctx context.Context, event naff.MessageCreate) {
		message := event.Message
		if message.Author != nil && message.Author.Bot {
			return
		}
		if strings.TrimSpace(message.Content) != "ping" {
			return
		}
		if _, err := client.SendMessage(ctx, message.ChannelID, "pong!"); err != nil {
			logger.Error("answering ping failed",
				"channel_id", message.ChannelID,
				"error", err,
			)
		}
	})
}

func loadConfig() (appConfig, error) {
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return appConfig{}, fmt.Errorf("read config file %s: %w", configFile, err)
	}
	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return appConfig{}, fmt.Errorf("parse config file %s: %w", configFile, err)
	}

	cfg, err := buildAppConfig(parsed)
	if err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	for _, candidate := range []string{defaultConfigFilePath, alternateConfigFilePath} {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func buildAppConfig(parsed fileConfig) (appConfig, error) {
	cfg := appConfig{
		logLevel: slog.LevelInfo,
		intents:  naff.IntentsDefault,
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	cfg.token = strings.TrimSpace(parsed.Token)
	if cfg.token == "" {
		return appConfig{}, fmt.Errorf("token is required")
	}

	if len(parsed.Intents) > 0 {
		intents, err := parseIntents(parsed.Intents)
		if err != nil {
			return appConfig{}, err
		}
		cfg.intents = intents
	}

	if parsed.Presence != nil {
		presence, err := parsePresence(*parsed.Presence)
		if err != nil {
			return appConfig{}, err
		}
		cfg.presence = presence
	}

	if len(parsed.Cache) > 0 {
		cfg.cache = make(map[string]bot.CachePolicy, len(parsed.Cache))
		for table, rawPolicy := range parsed.Cache {
			policy, err := parseCachePolicy(table, rawPolicy)
			if err != nil {
				return appConfig{}, err
			}
			cfg.cache[table] = policy
		}
	}

	return cfg, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func parseIntents(names []string) (naff.Intents, error) {
	var intents naff.Intents
	for index, name := range names {
		bit, known := intentNames[strings.ToLower(strings.TrimSpace(name))]
		if !known {
			return 0, fmt.Errorf("parse intents[%d]: unknown intent %q", index, name)
		}
		intents |= bit
	}

	return intents, nil
}

func parsePresence(raw filePresence) (*naff.Presence, error) {
	presence := naff.PresenceOnline()
	if rawStatus := strings.TrimSpace(raw.Status); rawStatus != "" {
		status, err := parseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		presence.Status = status
	}
	if activity := strings.TrimSpace(raw.Activity); activity != "" {
		presence.Activities = []naff.Activity{{Name: activity, Type: naff.ActivityGame}}
	}

	return presence, nil
}

func parseStatus(raw string) (naff.Status, error) {
	switch strings.ToLower(raw) {
	case "online":
		return naff.StatusOnline, nil
	case "idle":
		return naff.StatusIdle, nil
	case "dnd":
		return naff.StatusDND, nil
	case "invisible":
		return naff.StatusInvisible, nil
	case "offline":
		return naff.StatusOffline, nil
	default:
		return "", fmt.Errorf("parse presence.status: unsupported status %q", raw)
	}
}

func parseCachePolicy(table string, raw fileCachePolicy) (bot.CachePolicy, error) {
	if _, known := cacheTableNames[table]; !known {
		return bot.CachePolicy{}, fmt.Errorf("parse cache.%s: unknown table", table)
	}

	var policy bot.CachePolicy
	if rawTTL := strings.TrimSpace(raw.TTL); rawTTL != "" {
		ttl, err := time.ParseDuration(rawTTL)
		if err != nil {
			return bot.CachePolicy{}, fmt.Errorf("parse cache.%s.ttl: %w", table, err)
		}
		if ttl < 0 {
			return bot.CachePolicy{}, fmt.Errorf("parse cache.%s.ttl: must be >= 0", table)
		}
		policy.TTL = ttl
	}
	if raw.SoftLimit != nil {
		if *raw.SoftLimit < 0 {
			return bot.CachePolicy{}, fmt.Errorf("parse cache.%s.soft_limit: must be >= 0", table)
		}
		policy.SoftLimit = *raw.SoftLimit
	}
	if raw.HardLimit != nil {
		if *raw.HardLimit < 0 {
			return bot.CachePolicy{}, fmt.Errorf("parse cache.%s.hard_limit: must be >= 0", table)
		}
		policy.HardLimit = *raw.HardLimit
	}

	return policy, nil
}
