package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const (
	// writeTimeout bounds every frame write on the socket.
	writeTimeout = 10 * time.Second

	// closeGraceTimeout bounds the close handshake when tearing down.
	closeGraceTimeout = time.Second

	// heartbeatSendTimeout and heartbeatSendAttempts bound one heartbeat
	// tick. A tick that cannot complete within the budget stops the
	// connection instead of retrying forever.
	heartbeatSendTimeout  = 10 * time.Second
	heartbeatSendAttempts = 3

	// latencyWarnThreshold is the ack latency past which the connection is
	// considered to be falling behind.
	latencyWarnThreshold = 10 * time.Second

	sendBufferSize = 16
)

var errHeartbeatStalled = errors.New("heartbeat send stalled")

// restartError asks the supervisor to drop and redial the connection.
// resume selects whether the next connection resumes the current session
// or identifies fresh.
type restartError struct {
	resume bool
}

func (e *restartError) Error() string {
	if e.resume {
		return "gateway restart requested (resumable)"
	}
	return "gateway restart requested (fresh session)"
}

type connConfig struct {
	id       string
	token    string
	intents  naff.Intents
	presence func() *naff.Presence
	session  *session
	dispatch DispatchFunc
	logger   *slog.Logger
}

// conn is one websocket session: dial, hello, identify or resume, then the
// steady-state read loop. The read loop is the only frame consumer; writes
// flow through the pump goroutine, and heartbeating runs on its own
// goroutine so downstream event handling can never delay it.
type conn struct {
	id       string
	token    string
	intents  naff.Intents
	presence func() *naff.Presence
	session  *session
	dispatch DispatchFunc
	logger   *slog.Logger

	ws       *websocket.Conn
	inflator *inflator
	chunks   []byte
	sendCh   chan []byte
	wg       sync.WaitGroup

	mu          sync.Mutex
	failErr     error
	beating     bool
	established bool
	lastSend    time.Time
	lastAck     time.Time
	latency     time.Duration
}

func newConn(cfg connConfig) *conn {
	return &conn{
		id:       cfg.id,
		token:    cfg.token,
		intents:  cfg.intents,
		presence: cfg.presence,
		session:  cfg.session,
		dispatch: cfg.dispatch,
		logger:   cfg.logger,
		inflator: newInflator(),
		sendCh:   make(chan []byte, sendBufferSize),
	}
}

// run drives the connection until it ends. A nil return means the session
// ended because ctx was canceled; a restartError asks for a redial; any
// other error is the terminating failure.
func (c *conn) run(ctx context.Context, gatewayURL string) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.ws = ws

	runCtx, cancel := context.WithCancel(ctx)
	c.wg.Add(1)
	go c.writePump(runCtx)

	c.logger.Info("gateway connected", "conn_id", c.id)
	c.dispatch(runCtx, naff.Connect{})

	runErr := c.readLoop(runCtx)

	cancel()
	c.wg.Wait()
	_ = ws.Close()

	if failErr := c.failure(); failErr != nil {
		runErr = failErr
	}
	if ctx.Err() != nil {
		return nil
	}

	return runErr
}

// readLoop consumes frames until the socket or a handler ends the
// connection. Compressed chunks are buffered until the sync-flush marker
// arrives, then decoded as one unit; partial decompression is never
// attempted.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Warn("gateway closed by server",
					"conn_id", c.id,
					"code", closeErr.Code,
					"reason", naff.CloseReason(closeErr.Code),
				)
				return &naff.WebSocketClosed{Code: closeErr.Code}
			}
			return fmt.Errorf("gateway read: %w", err)
		}

		var payload []byte
		switch messageType {
		case websocket.BinaryMessage:
			c.chunks = append(c.chunks, message...)
			if !bytes.HasSuffix(c.chunks, zlibFlushSuffix) {
				continue
			}
			payload, err = c.inflator.inflate(c.chunks)
			c.chunks = c.chunks[:0]
			if err != nil {
				return err
			}
		case websocket.TextMessage:
			payload = message
		default:
			continue
		}

		if err := c.handle(ctx, payload); err != nil {
			return err
		}
	}
}

func (c *conn) handle(ctx context.Context, payload []byte) error {
	msg, err := parseInbound(payload)
	if err != nil {
		return err
	}
	if msg.hasSeq {
		c.session.observe(msg.seq)
	}

	switch msg.op {
	case opDispatch:
		return c.handleDispatch(ctx, msg)
	case opHeartbeat:
		c.logger.Debug("server requested heartbeat", "conn_id", c.id)
		return c.sendHeartbeat(ctx)
	case opHello:
		return c.handleHello(ctx, msg)
	case opHeartbeatACK:
		c.ackHeartbeat()
		return nil
	case opInvalidSession:
		if msg.data.Bool() {
			c.logger.Warn("session invalidated, resume allowed", "conn_id", c.id)
			return &restartError{resume: true}
		}
		c.session.clear()
		c.logger.Warn("session has been invalidated", "conn_id", c.id)
		return &restartError{resume: false}
	case opReconnect:
		c.logger.Info("gateway requested reconnect", "conn_id", c.id)
		return &restartError{resume: true}
	default:
		c.logger.Debug("unhandled gateway opcode", "conn_id", c.id, "op", int(msg.op))
		return nil
	}
}

// handleHello starts the heartbeat keeper, then authenticates: resume when
// a prior session is on record, identify otherwise.
func (c *conn) handleHello(ctx context.Context, msg inbound) error {
	interval, err := helloInterval(msg.data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.beating {
		c.mu.Unlock()
		c.logger.Warn("duplicate hello frame ignored", "conn_id", c.id)
		return nil
	}
	c.beating = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.heartbeat(ctx, interval)

	sessionID, seq := c.session.snapshot()
	if sessionID != "" {
		c.logger.Info("gateway hello, resuming session",
			"conn_id", c.id,
			"heartbeat_interval", interval,
			"session_id", sessionID,
			"seq", seq,
		)
		return c.send(ctx, frame{Op: opResume, D: resumeData{
			Token:     c.token,
			Seq:       seq,
			SessionID: sessionID,
		}})
	}

	c.logger.Info("gateway hello, identifying",
		"conn_id", c.id,
		"heartbeat_interval", interval,
	)
	return c.send(ctx, frame{Op: opIdentify, D: identifyData{
		Token:          c.token,
		Intents:        c.intents,
		LargeThreshold: defaultLargeThreshold,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: libraryName,
			Device:  libraryName,
		},
		Presence: c.presence(),
		Compress: true,
	}})
}

func (c *conn) handleDispatch(ctx context.Context, msg inbound) error {
	if msg.event == "" {
		return fmt.Errorf("dispatch frame missing event type")
	}
	c.markEstablished()

	switch msg.event {
	case "READY":
		sessionID := msg.data.Get("session_id").String()
		c.session.setID(sessionID)

		ready := naff.Ready{SessionID: sessionID}
		if userRef := msg.data.Get("user"); userRef.Exists() {
			user, err := naff.UserFromWire([]byte(userRef.Raw))
			if err != nil {
				c.logger.Warn("ready frame carries malformed user", "conn_id", c.id, "error", err)
			} else {
				ready.User = user
			}
		}
		for _, guildRef := range msg.data.Get("guilds.#.id").Array() {
			guildID, err := naff.ParseSnowflake(guildRef.String())
			if err != nil {
				continue
			}
			ready.GuildIDs = append(ready.GuildIDs, guildID)
		}

		c.logger.Info("websocket ready", "conn_id", c.id, "session_id", sessionID)
		c.dispatch(ctx, ready)
	case "RESUMED":
		c.logger.Info("websocket resumed", "conn_id", c.id)
		c.dispatch(ctx, naff.Raw{Type: "resumed", Data: json.RawMessage(msg.data.Raw)})
	default:
		c.dispatch(ctx, naff.Raw{
			Type: strings.ToLower(msg.event),
			Data: json.RawMessage(msg.data.Raw),
		})
	}

	return nil
}

// heartbeat beats every interval until the connection ends. The first beat
// fires one full interval after hello. Out-of-band beats requested by the
// server go through sendHeartbeat directly and do not reset the schedule.
func (c *conn) heartbeat(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(ctx); err != nil {
				if ctx.Err() == nil {
					c.fail(fmt.Errorf("heartbeat: %w", err))
				}
				return
			}
		}
	}
}

// sendHeartbeat sends one heartbeat carrying the last observed sequence,
// retrying within a bounded budget when the send cannot complete in time.
func (c *conn) sendHeartbeat(ctx context.Context) error {
	_, seq := c.session.snapshot()
	var d *int64
	if seq > 0 {
		d = &seq
	}
	payload := frame{Op: opHeartbeat, D: d}

	for attempt := 0; attempt < heartbeatSendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, heartbeatSendTimeout)
		err := c.send(sendCtx, payload)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.lastSend = time.Now()
			c.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("heartbeat send blocked",
			"conn_id", c.id,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return errHeartbeatStalled
}

func (c *conn) ackHeartbeat() {
	c.mu.Lock()
	c.lastAck = time.Now()
	c.latency = c.lastAck.Sub(c.lastSend)
	latency := c.latency
	c.mu.Unlock()

	if latency > latencyWarnThreshold {
		c.logger.Warn("websocket falling behind", "conn_id", c.id, "latency", latency)
		return
	}
	c.logger.Debug("heartbeat acknowledged", "conn_id", c.id, "latency", latency)
}

// send marshals a frame and queues it for the write pump.
func (c *conn) send(ctx context.Context, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode gateway frame: %w", err)
	}

	select {
	case c.sendCh <- encoded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePump owns all socket writes. On shutdown it performs the close
// handshake and closes the socket, which unblocks the read loop.
func (c *conn) writePump(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case message := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				if ctx.Err() == nil {
					c.fail(fmt.Errorf("gateway write: %w", err))
				}
				return
			}
		case <-ctx.Done():
			closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(closeGraceTimeout))
			_ = c.ws.Close()
			return
		}
	}
}

// fail records the first terminating failure and closes the socket so the
// read loop observes it.
func (c *conn) fail(err error) {
	c.mu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *conn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

// markEstablished records that the server accepted the session. The
// supervisor resets its redial backoff on this signal.
func (c *conn) markEstablished() {
	c.mu.Lock()
	c.established = true
	c.mu.Unlock()
}

func (c *conn) establishedSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established
}

func (c *conn) currentLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}
