// Package gateway maintains the persistent event connection to the
// platform: one compressed websocket session at a time, heartbeats on a
// dedicated goroutine, identify/resume handshakes, and a supervisor that
// redials through transient failures. Decoded dispatch frames are handed
// to an injected callback in strict arrival order.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// DispatchFunc receives every event the gateway publishes. Calls are made
// sequentially from the connection's read loop; a slow handler delays
// ingestion but never reorders it.
type DispatchFunc func(ctx context.Context, event naff.Event)

// URLFunc resolves the websocket URL to dial. It is consulted before every
// connection attempt.
type URLFunc func(ctx context.Context) (string, error)

// Option mutates client configuration.
type Option func(*Client)

// WithLogger configures structured logging for connection handling.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIntents declares the event groups the gateway should deliver.
func WithIntents(intents naff.Intents) Option {
	return func(c *Client) {
		c.intents = intents
	}
}

// WithPresence sets the presence sent inside the identify payload.
func WithPresence(presence *naff.Presence) Option {
	return func(c *Client) {
		if presence != nil {
			c.presence = presence
		}
	}
}

// withBackoff replaces the redial backoff in tests.
func withBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *Client) {
		if newBackoff != nil {
			c.newBackoff = newBackoff
		}
	}
}

// session is the resume state carried across connection attempts. A zero
// sequence means no event has been observed yet and heartbeats report null.
type session struct {
	mu  sync.Mutex
	id  string
	seq int64
}

func (s *session) observe(seq int64) {
	s.mu.Lock()
	s.seq = seq
	s.mu.Unlock()
}

func (s *session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *session) snapshot() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.seq
}

func (s *session) clear() {
	s.mu.Lock()
	s.id = ""
	s.seq = 0
	s.mu.Unlock()
}

// Client supervises the gateway connection for one bot token: it dials,
// runs the session to completion, and decides between resuming, fresh
// identification, and giving up based on how the session ended. Fatal
// close codes (bad token, missing sharding, disallowed intents) stop the
// supervisor; everything else redials with exponential backoff.
type Client struct {
	logger     *slog.Logger
	token      string
	gatewayURL URLFunc
	dispatch   DispatchFunc
	newBackoff func() backoff.BackOff
	sess       *session

	mu       sync.Mutex
	intents  naff.Intents
	presence *naff.Presence
	current  *conn

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New creates a gateway client. The URL resolver and dispatch callback are
// required; intents default to the non-privileged set.
func New(token string, gatewayURL URLFunc, dispatch DispatchFunc, options ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("new gateway client: empty token")
	}
	if gatewayURL == nil {
		return nil, fmt.Errorf("new gateway client: nil gateway url resolver")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("new gateway client: nil dispatch callback")
	}

	c := &Client{
		logger:     slog.Default(),
		token:      token,
		gatewayURL: gatewayURL,
		dispatch:   dispatch,
		newBackoff: defaultBackoff,
		sess:       &session{},
		intents:    naff.IntentsDefault,
		closeCh:    make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}

	return c, nil
}

// Run connects and keeps the gateway connected until ctx is canceled,
// Close is called, or a fatal condition ends the supervision. Server
// instructed restarts redial immediately; failures redial with backoff,
// reset once a session is accepted again.
func (c *Client) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watch sync.WaitGroup
	watch.Add(1)
	go func() {
		defer watch.Done()
		select {
		case <-c.closeCh:
			cancel()
		case <-runCtx.Done():
		}
	}()
	defer watch.Wait()

	bo := c.newBackoff()
	for {
		if runCtx.Err() != nil {
			return nil
		}

		gatewayURL, err := c.gatewayURL(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("resolve gateway url: %w", err)
		}

		connID := uuid.NewString()
		c.logger.Info("connecting to gateway", "conn_id", connID, "url", gatewayURL)

		conn := newConn(connConfig{
			id:       connID,
			token:    c.token,
			intents:  c.currentIntents(),
			presence: c.currentPresence,
			session:  c.sess,
			dispatch: c.dispatch,
			logger:   c.logger,
		})
		c.setCurrent(conn)
		runErr := conn.run(runCtx, gatewayURL)
		c.setCurrent(nil)

		if conn.establishedSession() {
			bo.Reset()
		}
		c.dispatch(runCtx, naff.Disconnect{Err: runErr})

		if runCtx.Err() != nil {
			return nil
		}

		var restart *restartError
		if errors.As(runErr, &restart) {
			if restart.resume {
				c.logger.Info("reconnecting to resume session", "conn_id", connID)
			} else {
				c.logger.Info("reconnecting with a fresh session", "conn_id", connID)
			}
			continue
		}

		if closed, ok := naff.AsWebSocketClosed(runErr); ok && closed.Fatal() {
			c.logger.Error("gateway refused the configuration",
				"conn_id", connID,
				"code", closed.Code,
				"reason", naff.CloseReason(closed.Code),
			)
			return runErr
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return runErr
		}
		c.logger.Warn("gateway connection lost, reconnecting",
			"conn_id", connID,
			"backoff", delay,
			"error", runErr,
		)
		if err := sleepContext(runCtx, delay); err != nil {
			return nil
		}
	}
}

// Close stops the supervisor and the active connection. It is safe to call
// more than once and before Run.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}

// ChangePresence updates the bot presence on the active connection. The
// presence is also remembered for the identify payload of future
// connections.
func (c *Client) ChangePresence(ctx context.Context, presence *naff.Presence) error {
	if presence == nil {
		return fmt.Errorf("change presence: nil presence")
	}

	c.mu.Lock()
	c.presence = presence
	conn := c.current
	c.mu.Unlock()

	if conn == nil {
		return naff.ErrNotConnected
	}

	return conn.send(ctx, frame{Op: opPresenceUpdate, D: presence})
}

// Session reports the current resume state: the session id issued at the
// last READY and the last observed sequence.
func (c *Client) Session() (string, int64) {
	return c.sess.snapshot()
}

// Latency reports the delay between the last heartbeat send and its ack on
// the active connection, zero when disconnected or not yet acknowledged.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()

	if conn == nil {
		return 0
	}
	return conn.currentLatency()
}

func (c *Client) setCurrent(conn *conn) {
	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
}

func (c *Client) currentIntents() naff.Intents {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intents
}

func (c *Client) currentPresence() *naff.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

func defaultBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return bo
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
