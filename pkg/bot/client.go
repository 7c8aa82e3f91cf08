// Package bot assembles the library into a runnable client: a REST client
// with per-route rate limiting, an entity cache fed by the gateway event
// stream, and typed event subscriptions delivered in wire arrival order.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NAFTeam/NAFF-sub001/internal/cache"
	"github.com/NAFTeam/NAFF-sub001/internal/dispatch"
	"github.com/NAFTeam/NAFF-sub001/internal/gateway"
	"github.com/NAFTeam/NAFF-sub001/internal/rest"
	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// CachePolicy bounds one cache table. Zero values disable the bound; see
// WithCacheConfig for the table names.
type CachePolicy struct {
	TTL       time.Duration
	SoftLimit int
	HardLimit int
}

// Option mutates client configuration.
type Option func(*config)

type config struct {
	logger        *slog.Logger
	intents       naff.Intents
	presence      *naff.Presence
	httpClient    *http.Client
	gatewayURL    string
	restBaseURL   string
	cachePolicies map[string]CachePolicy
}

// WithLogger configures structured logging for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithIntents declares the event groups the gateway should deliver.
// Defaults to the non-privileged set.
func WithIntents(intents naff.Intents) Option {
	return func(cfg *config) {
		cfg.intents = intents
	}
}

// WithPresence sets the presence announced when identifying.
func WithPresence(presence *naff.Presence) Option {
	return func(cfg *config) {
		if presence != nil {
			cfg.presence = presence
		}
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(cfg *config) {
		if httpClient != nil {
			cfg.httpClient = httpClient
		}
	}
}

// WithCacheConfig overrides cache table bounds by table name. Known names
// are "users", "guilds", "channels", "members", "roles", "messages",
// "voice_states" and "dm_channels".
func WithCacheConfig(policies map[string]CachePolicy) Option {
	return func(cfg *config) {
		for table, policy := range policies {
			cfg.cachePolicies[table] = policy
		}
	}
}

// WithGatewayURL pins the websocket URL instead of discovering it through
// the API, for tests and gateway proxies.
func WithGatewayURL(gatewayURL string) Option {
	return func(cfg *config) {
		if gatewayURL != "" {
			cfg.gatewayURL = gatewayURL
		}
	}
}

// withRESTBaseURL points API calls at a different origin in tests.
func withRESTBaseURL(baseURL string) Option {
	return func(cfg *config) {
		if baseURL != "" {
			cfg.restBaseURL = baseURL
		}
	}
}

// Client is the assembled bot: one token, one gateway session, one entity
// cache. Event handlers registered through On run on the gateway read
// loop, so they observe events in exactly the order the platform sent
// them.
type Client struct {
	logger *slog.Logger
	rest   *rest.Client
	store  *cache.Store
	bus    *dispatch.Dispatcher
	gw     *gateway.Client

	mu   sync.Mutex
	self *naff.User
}

// New creates a client for the given bot token.
func New(token string, options ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("new client: %w: empty token", naff.ErrInvalidToken)
	}

	cfg := config{
		logger:        slog.Default(),
		intents:       naff.IntentsDefault,
		cachePolicies: make(map[string]CachePolicy),
	}
	for _, option := range options {
		option(&cfg)
	}

	restOptions := []rest.Option{rest.WithLogger(cfg.logger)}
	if cfg.httpClient != nil {
		restOptions = append(restOptions, rest.WithHTTPClient(cfg.httpClient))
	}
	if cfg.restBaseURL != "" {
		restOptions = append(restOptions, rest.WithBaseURL(cfg.restBaseURL))
	}
	restClient := rest.New(token, restOptions...)

	cacheOptions := []cache.Option{
		cache.WithLogger(cfg.logger),
		cache.WithFetcher(restClient),
	}
	for table, policy := range cfg.cachePolicies {
		cacheOptions = append(cacheOptions, cache.WithTablePolicy(table, cache.TablePolicy{
			TTL:       policy.TTL,
			SoftLimit: policy.SoftLimit,
			HardLimit: policy.HardLimit,
		}))
	}
	store := cache.New(cacheOptions...)

	bus := dispatch.New(cfg.logger)

	resolveURL := gateway.URLFunc(restClient.GetGateway)
	if cfg.gatewayURL != "" {
		pinned := cfg.gatewayURL
		resolveURL = func(ctx context.Context) (string, error) {
			return pinned, nil
		}
	}

	gatewayOptions := []gateway.Option{
		gateway.WithLogger(cfg.logger),
		gateway.WithIntents(cfg.intents),
	}
	if cfg.presence != nil {
		gatewayOptions = append(gatewayOptions, gateway.WithPresence(cfg.presence))
	}
	gw, err := gateway.New(token, resolveURL, bus.Dispatch, gatewayOptions...)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	c := &Client{
		logger: cfg.logger,
		rest:   restClient,
		store:  store,
		bus:    bus,
		gw:     gw,
	}
	c.registerIngest()

	return c, nil
}

// Run validates the token, records the bot account, and drives the
// gateway supervisor until ctx ends, Close is called, or the platform
// rejects the session configuration with a fatal close code.
func (c *Client) Run(ctx context.Context) error {
	payload, err := c.rest.Login(ctx)
	if err != nil {
		return err
	}
	self, err := c.store.PlaceUserData(payload)
	if err != nil {
		return fmt.Errorf("place bot user: %w", err)
	}
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()
	c.logger.Info("logged in", "user", self.Tag(), "user_id", self.ID)

	return c.gw.Run(ctx)
}

// Close stops the gateway supervisor and makes Run return. Safe to call
// more than once, and before Run.
func (c *Client) Close() error {
	return c.gw.Close()
}

// Cache exposes the entity cache facade.
func (c *Client) Cache() naff.Cache {
	return c.store
}

// REST exposes the API client for routes without a convenience wrapper.
func (c *Client) REST() *rest.Client {
	return c.rest
}

// Self returns the bot account recorded during Run, nil before login. The
// instance is the cached canonical user, so gateway user updates are
// visible through it.
func (c *Client) Self() *naff.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Latency reports the gateway heartbeat round trip, zero when
// disconnected.
func (c *Client) Latency() time.Duration {
	return c.gw.Latency()
}

// On registers a handler for one typed event and returns its cancel
// function. The subscription key is the event type's own string, so
// subscribing naff.Raw this way is not meaningful; use OnRaw for raw
// frames.
//
//	cancel := bot.On(client, func(ctx context.Context, event naff.MessageCreate) {
//		...
//	})
func On[T naff.Event](c *Client, handler func(ctx context.Context, event T)) (cancel func()) {
	if handler == nil {
		return func() {}
	}
	var zero T
	return c.bus.Subscribe(zero.EventType(), func(ctx context.Context, event naff.Event) {
		if typed, ok := event.(T); ok {
			handler(ctx, typed)
		}
	})
}

// OnRaw registers a handler for the undecoded form of one wire dispatch
// name, e.g. OnRaw(c, "TYPING_START", ...). Raw events fire for every
// dispatch frame, including the ones the ingest pipeline also decodes.
func OnRaw(c *Client, wireName string, handler func(ctx context.Context, event naff.Raw)) (cancel func()) {
	if handler == nil {
		return func() {}
	}
	return c.bus.Subscribe(naff.RawEventType(wireName), func(ctx context.Context, event naff.Event) {
		if raw, ok := event.(naff.Raw); ok {
			handler(ctx, raw)
		}
	})
}
