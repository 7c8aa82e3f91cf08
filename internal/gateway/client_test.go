package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	urlFn := func(ctx context.Context) (string, error) { return "ws://unused", nil }
	dispatch := func(ctx context.Context, event naff.Event) {}

	testCases := []struct {
		name     string
		token    string
		urlFn    URLFunc
		dispatch DispatchFunc
	}{
		{name: "empty token", token: "", urlFn: urlFn, dispatch: dispatch},
		{name: "nil url resolver", token: testToken, urlFn: nil, dispatch: dispatch},
		{name: "nil dispatch", token: testToken, urlFn: urlFn, dispatch: nil},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(testCase.token, testCase.urlFn, testCase.dispatch); err == nil {
				t.Fatalf("New() error = nil, want error")
			}
		})
	}
}

func TestInvalidateSessionResumeFlow(t *testing.T) {
	t.Parallel()

	first := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.sendJSON(map[string]any{"op": 9, "d": true})
		s.awaitClose(5 * time.Second)
	}
	second := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		d, ok := s.expectOp(opResume, 2*time.Second)
		if !ok {
			return
		}
		if got := d.Get("token").String(); got != testToken {
			t.Errorf("resume token = %q, want %q", got, testToken)
		}
		if got := d.Get("session_id").String(); got != "abc" {
			t.Errorf("resume session_id = %q, want %q", got, "abc")
		}
		if got := d.Get("seq").Int(); got != 1 {
			t.Errorf("resume seq = %d, want 1", got)
		}
		s.sendJSON(map[string]any{"op": 0, "s": 2, "t": "RESUMED", "d": map[string]any{}})
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, first, second)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	runner := startClient(t, client)

	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)
	rec.await(t, "raw_resumed", 3*time.Second)
	if got := f.connections(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}

	_ = client.Close()
	if err := runner.wait(t, 5*time.Second); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

func TestInvalidateSessionFreshFlow(t *testing.T) {
	t.Parallel()

	first := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.sendJSON(map[string]any{"op": 9, "d": false})
		s.awaitClose(5 * time.Second)
	}
	second := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		d, ok := s.expectOp(opIdentify, 2*time.Second)
		if !ok {
			return
		}
		if got := d.Get("token").String(); got != testToken {
			t.Errorf("identify token = %q, want %q", got, testToken)
		}
		s.sendReady("xyz", 1)
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, first, second)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	startClient(t, client)

	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)
	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)

	if sessionID, _ := client.Session(); sessionID != "xyz" {
		t.Fatalf("session id after fresh identify = %q, want %q", sessionID, "xyz")
	}
	if got := f.connections(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
}

func TestReconnectOpcodeResumes(t *testing.T) {
	t.Parallel()

	first := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.sendJSON(map[string]any{"op": 7})
		s.awaitClose(5 * time.Second)
	}
	second := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		d, ok := s.expectOp(opResume, 2*time.Second)
		if !ok {
			return
		}
		if got := d.Get("session_id").String(); got != "abc" {
			t.Errorf("resume session_id = %q, want %q", got, "abc")
		}
		s.sendJSON(map[string]any{"op": 0, "s": 2, "t": "RESUMED", "d": map[string]any{}})
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, first, second)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	startClient(t, client)

	rec.await(t, "raw_resumed", 3*time.Second)
	if got := f.connections(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
}

func TestTransientCloseCodeReconnects(t *testing.T) {
	t.Parallel()

	first := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.closeWithCode(naff.CloseUnknownError)
		s.awaitClose(2 * time.Second)
	}
	second := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opResume, 2*time.Second); !ok {
			return
		}
		s.sendJSON(map[string]any{"op": 0, "s": 2, "t": "RESUMED", "d": map[string]any{}})
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, first, second)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	startClient(t, client)

	disconnect, ok := rec.await(t, naff.EventTypeDisconnect, 3*time.Second).(naff.Disconnect)
	if !ok {
		t.Fatalf("disconnect event is not a naff.Disconnect")
	}
	closed, ok := naff.AsWebSocketClosed(disconnect.Err)
	if !ok || closed.Code != naff.CloseUnknownError {
		t.Fatalf("disconnect err = %v, want websocket closed with code %d", disconnect.Err, naff.CloseUnknownError)
	}

	rec.await(t, "raw_resumed", 3*time.Second)
	if got := f.connections(); got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
}

func TestFatalCloseCodeStopsSupervisor(t *testing.T) {
	t.Parallel()

	sc := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.closeWithCode(naff.CloseDisallowedIntents)
		s.awaitClose(2 * time.Second)
	}

	f := newFakeGateway(t, sc)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	runner := startClient(t, client)

	err := runner.wait(t, 5*time.Second)
	closed, ok := naff.AsWebSocketClosed(err)
	if !ok {
		t.Fatalf("Run() error = %v, want *naff.WebSocketClosed", err)
	}
	if closed.Code != naff.CloseDisallowedIntents || !closed.Fatal() {
		t.Fatalf("closed = code %d fatal %v, want code %d fatal true",
			closed.Code, closed.Fatal(), naff.CloseDisallowedIntents)
	}
	if got := f.connections(); got != 1 {
		t.Fatalf("connections = %d, want 1 (no redial on fatal code)", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sc := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, sc)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	runner := startClient(t, client)

	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)
	_ = client.Close()
	_ = client.Close()

	if err := runner.wait(t, 5*time.Second); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if got := f.connections(); got != 1 {
		t.Fatalf("connections = %d, want 1", got)
	}
}

func TestChangePresence(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	sc := func(t *testing.T, s *wsSession) {
		defer close(done)

		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		d, ok := s.expectOp(opPresenceUpdate, 3*time.Second)
		if !ok {
			return
		}
		if got := d.Get("status").String(); got != string(naff.StatusIdle) {
			t.Errorf("presence status = %q, want %q", got, naff.StatusIdle)
		}
		if got := d.Get("activities.0.name").String(); got != "naptime" {
			t.Errorf("presence activity = %q, want %q", got, "naptime")
		}
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, sc)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)

	presence := &naff.Presence{
		Status:     naff.StatusIdle,
		Activities: []naff.Activity{{Name: "naptime", Type: naff.ActivityGame}},
	}
	if err := client.ChangePresence(context.Background(), presence); !errors.Is(err, naff.ErrNotConnected) {
		t.Fatalf("ChangePresence() before run error = %v, want %v", err, naff.ErrNotConnected)
	}

	startClient(t, client)
	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)

	if err := client.ChangePresence(context.Background(), presence); err != nil {
		t.Fatalf("ChangePresence() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("server script did not finish")
	}
}

func TestGatewayURLFailureStopsRun(t *testing.T) {
	t.Parallel()

	urlErr := errors.New("discovery broke")
	urlFn := func(ctx context.Context) (string, error) { return "", urlErr }
	rec := newEventRecorder()
	client, err := New(testToken, urlFn, rec.dispatch)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	runner := startClient(t, client)

	if err := runner.wait(t, 5*time.Second); !errors.Is(err, urlErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, urlErr)
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	t.Parallel()

	sc := func(t *testing.T, s *wsSession) {
		s.sendHello(5 * time.Second)
		if _, ok := s.expectOp(opIdentify, 2*time.Second); !ok {
			return
		}
		s.sendReady("abc", 1)
		s.awaitClose(5 * time.Second)
	}

	f := newFakeGateway(t, sc)
	rec := newEventRecorder()
	client := newTestClient(t, f, rec)
	runner := startClient(t, client)

	rec.await(t, naff.EventTypeWebSocketReady, 3*time.Second)
	runner.cancel()

	if err := runner.wait(t, 5*time.Second); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}
