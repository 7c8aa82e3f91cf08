package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/tidwall/gjson"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

const testToken = "token123"

// script is one server-side connection conversation. Connection n runs the
// nth script; extra connections fail the test.
type script func(t *testing.T, s *wsSession)

type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	scripts  []script
	accepted int
}

func newFakeGateway(t *testing.T, scripts ...script) *fakeGateway {
	t.Helper()

	f := &fakeGateway{t: t, scripts: scripts}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeGateway) urlFunc() URLFunc {
	return func(ctx context.Context) (string, error) {
		return f.url(), nil
	}
}

func (f *fakeGateway) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	index := f.accepted
	f.accepted++
	var sc script
	if index < len(f.scripts) {
		sc = f.scripts[index]
	}
	f.mu.Unlock()

	if sc == nil {
		f.t.Errorf("unexpected gateway connection %d", index+1)
		http.Error(w, "no script for connection", http.StatusServiceUnavailable)
		return
	}

	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade connection %d: %v", index+1, err)
		return
	}
	s := newWSSession(f.t, ws)
	defer s.shutdown()

	sc(f.t, s)
}

// wsSession is the server side of one accepted connection. Frames sent to
// the client are slices of a connection-long deflate stream ending at a
// sync flush, the way the platform transports them.
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

func (s *wsSession) shutdown() {
	s.ws.Close()
}

// compressFrame appends one payload to the stream and returns the chunk
// emitted since the previous flush.
func (s *wsSession) compressFrame(payload []byte) []byte {
	s.t.Helper()

	if _, err := s.compress.Write(payload); err != nil {
		s.t.Errorf("compress frame: %v", err)
		return nil
	}
	if err := s.compress.Flush(); err != nil {
		s.t.Errorf("flush frame: %v", err)
		return nil
	}
	chunk := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()

	return chunk
}

func (s *wsSession) sendJSON(v any) {
	s.t.Helper()

	encoded, err := json.Marshal(v)
	if err != nil {
		s.t.Errorf("marshal server frame: %v", err)
		return
	}
	chunk := s.compressFrame(encoded)
	if chunk == nil {
		return
	}
	if err := s.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		s.t.Errorf("write server frame: %v", err)
	}
}

// sendJSONSplit transports one frame as two websocket messages, the second
// carrying the flush marker.
func (s *wsSession) sendJSONSplit(v any) {
	s.t.Helper()

	encoded, err := json.Marshal(v)
	if err != nil {
		s.t.Errorf("marshal server frame: %v", err)
		return
	}
	chunk := s.compressFrame(encoded)
	if len(chunk) < 8 {
		s.t.Errorf("chunk too small to split: %d bytes", len(chunk))
		return
	}
	half := len(chunk) / 2
	if err := s.ws.WriteMessage(websocket.BinaryMessage, chunk[:half]); err != nil {
		s.t.Errorf("write first fragment: %v", err)
		return
	}
	if err := s.ws.WriteMessage(websocket.BinaryMessage, chunk[half:]); err != nil {
		s.t.Errorf("write second fragment: %v", err)
	}
}

// sendRaw compresses arbitrary bytes onto the stream, valid JSON or not.
func (s *wsSession) sendRaw(payload []byte) {
	s.t.Helper()

	chunk := s.compressFrame(payload)
	if chunk == nil {
		return
	}
	if err := s.ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		s.t.Errorf("write raw frame: %v", err)
	}
}

func (s *wsSession) sendHello(interval time.Duration) {
	s.sendJSON(map[string]any{
		"op": 10,
		"d":  map[string]any{"heartbeat_interval": interval.Milliseconds()},
	})
}

func (s *wsSession) sendReady(sessionID string, seq int64) {
	s.sendJSON(map[string]any{
		"op": 0,
		"s":  seq,
		"t":  "READY",
		"d": map[string]any{
			"session_id": sessionID,
			"user":       map[string]any{"id": "700000000000000002", "username": "naff-bot"},
			"guilds":     []map[string]any{{"id": "700000000000000001", "unavailable": true}},
		},
	})
}

// expectFrame reads the next client frame within the timeout.
func (s *wsSession) expectFrame(timeout time.Duration) (gjson.Result, bool) {
	s.t.Helper()

	_ = s.ws.SetReadDeadline(time.Now().Add(timeout))
	_, message, err := s.ws.ReadMessage()
	if err != nil {
		s.t.Errorf("read client frame: %v", err)
		return gjson.Result{}, false
	}

	return gjson.ParseBytes(message), true
}

// expectOp reads the next client frame and asserts its opcode, returning
// the frame's d node.
func (s *wsSession) expectOp(op opcode, timeout time.Duration) (gjson.Result, bool) {
	s.t.Helper()

	frame, ok := s.expectFrame(timeout)
	if !ok {
		return gjson.Result{}, false
	}
	if got := opcode(frame.Get("op").Int()); got != op {
		s.t.Errorf("frame op = %d, want %d (frame %s)", got, op, frame.Raw)
		return gjson.Result{}, false
	}

	return frame.Get("d"), true
}

func (s *wsSession) closeWithCode(code int) {
	s.t.Helper()

	message := websocket.FormatCloseMessage(code, "")
	if err := s.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); err != nil {
		s.t.Errorf("write close frame: %v", err)
	}
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

// eventRecorder collects dispatched events and lets tests await specific
// types in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []naff.Event
	ch     chan naff.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan naff.Event, 64)}
}

func (r *eventRecorder) dispatch(ctx context.Context, event naff.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.ch <- event:
	default:
	}
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

func (r *eventRecorder) snapshot() []naff.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]naff.Event(nil), r.events...)
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
		case err := <-r.errCh:
			r.finished = true
			r.result = err
		case <-time.After(5 * time.Second):
			t.Errorf("gateway client did not stop")
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
	case err := <-r.errCh:
		r.finished = true
		r.result = err
		return err
	case <-time.After(timeout):
		t.Fatalf("gateway client did not stop within %v", timeout)
		return nil
	}
}

func newTestClient(t *testing.T, f *fakeGateway, rec *eventRecorder, options ...Option) *Client {
	t.Helper()

	base := []Option{
		withBackoff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		}),
	}
	client, err := New(testToken, f.urlFunc(), rec.dispatch, append(base, options...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return client
}
