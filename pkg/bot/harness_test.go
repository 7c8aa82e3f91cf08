package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/internal/dispatch"
	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const (
	testToken = "token123"

	testBotUserID = "700000000000000009"
	testGuildID   = "800000000000000001"
	testChannelID = "800000000000000002"
	testUserID    = "800000000000000003"
	testRoleID    = "800000000000000004"
)

const testBotUserDoc = `{"id":"` + testBotUserID + `","username":"naff","discriminator":"0007","bot":true}`

// testGuildCreateDoc is a gateway guild-create payload with one nested
// role, channel and member, the way the platform delivers guilds.
const testGuildCreateDoc = `{` +
	`"id":"` + testGuildID + `",` +
	`"name":"testing grounds",` +
	`"owner_id":"` + testUserID + `",` +
	`"member_count":1,` +
	`"roles":[{"id":"` + testRoleID + `","name":"mods","position":1,"permissions":"104324161"}],` +
	`"channels":[{"id":"` + testChannelID + `","type":0,"name":"general","position":0}],` +
	`"members":[{"user":{"id":"` + testUserID + `","username":"ayla"},"nick":"ays","roles":["` + testRoleID + `"]}],` +
	`"voice_states":[]` +
	`}`

const testMessageID = "800000000000000005"

const testMessageCreateDoc = `{` +
	`"id":"` + testMessageID + `",` +
	`"channel_id":"` + testChannelID + `",` +
	`"guild_id":"` + testGuildID + `",` +
	`"author":{"id":"` + testUserID + `","username":"ayla"},` +
	`"member":{"nick":"ays","roles":["` + testRoleID + `"]},` +
	`"content":"ping",` +
	`"timestamp":"2026-05-01T10:00:00Z"` +
	`}`

// snowflake parses an ID literal, failing the test on bad input.
func snowflake(t *testing.T, value string) naff.Snowflake {
	t.Helper()

	id, err := naff.ParseSnowflake(value)
	if err != nil {
		t.Fatalf("ParseSnowflake(%q) error = %v", value, err)
	}

	return id
}

// snowflakeAt fabricates an ID whose embedded timestamp is the given time.
func snowflakeAt(at time.Time, low uint64) naff.Snowflake {
	const epochMS = 1420070400000
	return naff.Snowflake(uint64(at.UnixMilli()-epochMS)<<22 | low)
}

// apiCall is one request the fake API observed.
type apiCall struct {
	method string
	path   string
	body   []byte
}

// fakeAPI serves the HTTP side of the platform: login, gateway discovery,
// message posting and deletion. Every request is recorded for assertions.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	loginStatus atomic.Int32
	nextID      atomic.Int64

	mu           sync.Mutex
	gatewayWSURL string
	calls        []apiCall
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	f := &fakeAPI{t: t}
	f.loginStatus.Store(http.StatusOK)
	f.nextID.Store(810000000000000000)
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeAPI) setGatewayURL(wsURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gatewayWSURL = wsURL
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: r.Method, path: r.URL.Path, body: body})
	wsURL := f.gatewayWSURL
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users/@me":
		if status := int(f.loginStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			io.WriteString(w, `{"message":"401: Unauthorized","code":0}`)
			return
		}
		io.WriteString(w, testBotUserDoc)
	case r.Method == http.MethodGet && r.URL.Path == "/gateway":
		if wsURL == "" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"404: Not Found","code":0}`)
			return
		}
		payload, _ := json.Marshal(map[string]string{"url": wsURL})
		w.Write(payload)
	case r.Method == http.MethodPost && r.URL.Path == "/users/@me/channels":
		recipient := gjson.GetBytes(body, "recipient_id").String()
		io.WriteString(w, `{"id":"820000000000000001","type":1,"recipients":[{"id":"`+
			recipient+`","username":"pen-pal"}]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages/bulk-delete"):
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		document := map[string]any{
			"id":         strconv.FormatInt(f.nextID.Add(1), 10),
			"channel_id": parts[1],
			"author":     json.RawMessage(testBotUserDoc),
			"content":    gjson.GetBytes(body, "content").String(),
		}
		payload, _ := json.Marshal(document)
		w.Write(payload)
	default:
		f.t.Errorf("unexpected API request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"404: Not Found","code":0}`)
	}
}

func (f *fakeAPI) snapshotCalls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]apiCall(nil), f.calls...)
}

// wsScript is the server-side conversation for the test's one gateway
// connection.
type wsScript func(t *testing.T, s *wsSession)

// fakeGateway serves the websocket side of the platform. Bot tests drive a
// single connection; any redial fails the test.
type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	script   wsScript

	mu       sync.Mutex
	accepted int
}

func newFakeGateway(t *testing.T, script wsScript) *fakeGateway {
	t.Helper()

	f := &fakeGateway{t: t, script: script}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeGateway) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.accepted
}

func (f *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.accepted++
	index := f.accepted
	f.mu.Unlock()

	if f.script == nil || index > 1 {
		f.t.Errorf("unexpected gateway connection %d", index)
		http.Error(w, "no script for connection", http.StatusServiceUnavailable)
		return
	}

	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade gateway connection: %v", err)
		return
	}
	defer ws.Close()

	f.script(f.t, newWSSession(f.t, ws))
}

// wsSession is the server side of the accepted connection. Frames go out
// as slices of a connection-long deflate stream ending at a sync flush,
// the way the platform transports them.
type wsSession struct {
	t        *testing.T
	ws       *websocket.Conn
	buf      *bytes.Buffer
	compress *zlib.Writer
}

func newWSSession(t *testing.T, ws *websocket.Conn) *wsSession {
	buf := &bytes.Buffer{}
	return &wsSession{t: t, ws: ws, buf: buf, compress: zlib.NewWriter(buf)}
}

func (s *wsSession) sendJSON(v any) {
	s.t.Helper()

	encoded, err := json.Marshal(v)
	if err != nil {
		s.t.Errorf("marshal server frame: %v", err)
		return
	}
	if _, err := s.compress.Write(encoded); err != nil {
		s.t.Errorf("compress server frame: %v", err)
		return
	}
	if err := s.compress.Flush(); err != nil {
		s.t.Errorf("flush server frame: %v", err)
		return
	}
	chunk := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	if err := s.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		s.t.Errorf("write server frame: %v", err)
	}
}

func (s *wsSession) sendHello(interval time.Duration) {
	s.sendJSON(map[string]any{
		"op": 10,
		"d":  map[string]any{"heartbeat_interval": interval.Milliseconds()},
	})
}

func (s *wsSession) sendReady(sessionID string, guildIDs ...string) {
	guilds := make([]map[string]any, 0, len(guildIDs))
	for _, id := range guildIDs {
		guilds = append(guilds, map[string]any{"id": id, "unavailable": true})
	}
	s.sendJSON(map[string]any{
		"op": 0,
		"s":  1,
		"t":  "READY",
		"d": map[string]any{
			"session_id": sessionID,
			"user":       json.RawMessage(testBotUserDoc),
			"guilds":     guilds,
		},
	})
}

func (s *wsSession) sendDispatch(name string, seq int64, document string) {
	s.sendJSON(map[string]any{
		"op": 0,
		"s":  seq,
		"t":  name,
		"d":  json.RawMessage(document),
	})
}

// expectOp reads the next client frame and asserts its opcode, returning
// the frame's d node.
func (s *wsSession) expectOp(op int64, timeout time.Duration) (gjson.Result, bool) {
	s.t.Helper()

	_ = s.ws.SetReadDeadline(time.Now().Add(timeout))
	_, message, err := s.ws.ReadMessage()
	if err != nil {
		s.t.Errorf("read client frame: %v", err)
		return gjson.Result{}, false
	}
	frame := gjson.ParseBytes(message)
	if got := frame.Get("op").Int(); got != op {
		s.t.Errorf("frame op = %d, want %d (frame %s)", got, op, frame.Raw)
		return gjson.Result{}, false
	}

	return frame.Get("d"), true
}

// handshake performs the hello, identify and ready exchange with a 30s
// heartbeat interval so no beat interferes with the test.
func (s *wsSession) handshake(sessionID string, guildIDs ...string) {
	s.t.Helper()

	s.sendHello(30 * time.Second)
	if _, ok := s.expectOp(2, 2*time.Second); !ok {
		return
	}
	s.sendReady(sessionID, guildIDs...)
}

// awaitClose drains the connection until the client closes it.
func (s *wsSession) awaitClose(timeout time.Duration) {
	_ = s.ws.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// eventRecorder observes every event the client's dispatcher publishes and
// lets tests await specific types in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []naff.Event
	ch     chan naff.Event
}

func recordEvents(client *Client) *eventRecorder {
	r := &eventRecorder{ch: make(chan naff.Event, 64)}
	client.bus.Subscribe(dispatch.Wildcard, func(ctx context.Context, event naff.Event) {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()

		select {
		case r.ch <- event:
		default:
		}
	})

	return r
}

// await consumes events until one of the wanted type arrives.
func (r *eventRecorder) await(t *testing.T, eventType string, timeout time.Duration) naff.Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-r.ch:
			if event.EventType() == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
			return nil
		}
	}
}

// typedEventOrder returns the types of recorded events, raw pass-through
// forms excluded.
func (r *eventRecorder) typedEventOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var order []string
	for _, event := range r.events {
		if strings.HasPrefix(event.EventType(), "raw_") {
			continue
		}
		order = append(order, event.EventType())
	}

	return order
}

// clientRunner drives Client.Run on a background goroutine and guarantees
// it has stopped by the end of the test.
type clientRunner struct {
	client *Client
	cancel context.CancelFunc
	errCh  chan error

	mu       sync.Mutex
	finished bool
	result   error
}

func startClient(t *testing.T, client *Client) *clientRunner {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := &clientRunner{client: client, cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		r.errCh <- client.Run(ctx)
	}()

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.finished {
			return
		}
		select {
		case r.result = <-r.errCh:
			r.finished = true
		case <-time.After(5 * time.Second):
			t.Errorf("client Run did not stop")
		}
	})

	return r
}

// wait blocks until Run returns and reports its error.
func (r *clientRunner) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return r.result
	}
	select {
	case r.result = <-r.errCh:
		r.finished = true
		return r.result
	case <-time.After(timeout):
		t.Fatalf("client Run did not return within %v", timeout)
		return nil
	}
}

func newTestClient(t *testing.T, api *fakeAPI, gw *fakeGateway, options ...Option) *Client {
	t.Helper()

	base := []Option{withRESTBaseURL(api.server.URL)}
	if gw != nil {
		base = append(base, WithGatewayURL(gw.url()))
	}
	client, err := New(testToken, append(base, options...)...)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	return client
}

// runReadyClient assembles the full fixture: fake API, fake gateway whose
// script runs after the handshake, a recording client, and a running
// supervisor that has already seen READY.
func runReadyClient(t *testing.T, script wsScript) (*Client, *eventRecorder, *clientRunner) {
	t.Helper()

	api := newFakeAPI(t)
	gw := newFakeGateway(t, func(t *testing.T, s *wsSession) {
		s.handshake("sess-1")
		if script != nil {
			script(t, s)
		}
		s.awaitClose(5 * time.Second)
	})
	client := newTestClient(t, api, gw)
	rec := recordEvents(client)
	runner := startClient(t, client)
	rec.await(t, naff.EventTypeWebSocketReady, 5*time.Second)

	return client, rec, runner
}
