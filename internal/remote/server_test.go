package remote

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epoq/desktop/internal/bus"
	apperrors "github.com/epoq/desktop/internal/errors"
	"github.com/epoq/desktop/internal/pairing"
)

// newTestServer builds a server with a fresh secret store and bus, serving
// over httptest. The broadcaster goroutine is started manually since tests
// bypass StartAsync.
func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()

	if opts.Secrets == nil {
		opts.Secrets = pairing.NewSecretStore()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	s := NewServer(opts)
	go s.runBroadcaster()

	ts := httptest.NewServer(s.createMux())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads one text frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return data
}

// readStatus reads one frame and decodes it as a status ack.
func readStatus(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	data := readFrame(t, conn)
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("frame %q is not a status ack: %v", data, err)
	}
	return msg.Status
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// authenticate generates a fresh code and completes the auth handshake.
func authenticate(t *testing.T, s *Server, conn *websocket.Conn) {
	t.Helper()
	code, err := s.secrets.Generate()
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	sendJSON(t, conn, map[string]string{"action": "authenticate", "token": code})
	if status := readStatus(t, conn); status != StatusAuthenticated {
		t.Fatalf("expected %s, got %s", StatusAuthenticated, status)
	}
}

// waitFor polls until cond is true or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAuthenticateSuccess(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)
	authenticate(t, s, conn)
}

func TestAuthAliasAccepted(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)

	code, err := s.secrets.Generate()
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	sendJSON(t, conn, map[string]string{"action": "auth", "token": code})
	if status := readStatus(t, conn); status != StatusAuthenticated {
		t.Fatalf("expected %s, got %s", StatusAuthenticated, status)
	}
}

func TestAuthenticateFailureClosesConnection(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	if _, err := s.secrets.Generate(); err != nil {
		t.Fatalf("generate code: %v", err)
	}

	conn := dial(t, ts)
	sendJSON(t, conn, map[string]string{"action": "authenticate", "token": "000000"})

	if status := readStatus(t, conn); status != StatusAuthFailed {
		t.Fatalf("expected %s, got %s", StatusAuthFailed, status)
	}

	// The server terminates the session after the failure ack. The next read
	// must observe the close.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after auth failure")
	}
}

// TestAuthFailedAckAlwaysPrecedesClose repeats the failed handshake to
// catch teardown races: the failure ack must reach the peer before the
// server closes the connection, every time, not just when scheduling
// happens to favor the write pump.
func TestAuthFailedAckAlwaysPrecedesClose(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	if _, err := s.secrets.Generate(); err != nil {
		t.Fatalf("generate code: %v", err)
	}

	for i := 0; i < 25; i++ {
		conn := dial(t, ts)
		sendJSON(t, conn, map[string]string{"action": "authenticate", "token": "000000"})
		if status := readStatus(t, conn); status != StatusAuthFailed {
			t.Fatalf("attempt %d: expected %s, got %s", i, StatusAuthFailed, status)
		}
		conn.Close()
	}
}

func TestRegenerationInvalidatesOldSecret(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	old, err := s.secrets.Generate()
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	// Replace the secret, guaranteeing the old one differs.
	for {
		fresh, err := s.secrets.Generate()
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		if fresh != old {
			break
		}
	}

	conn := dial(t, ts)
	sendJSON(t, conn, map[string]string{"action": "authenticate", "token": old})
	if status := readStatus(t, conn); status != StatusAuthFailed {
		t.Fatalf("expected %s with stale code, got %s", StatusAuthFailed, status)
	}
}

func TestBroadcastDeliveredInOrder(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	connA := dial(t, ts)
	authenticate(t, s, connA)
	connB := dial(t, ts)
	authenticate(t, s, connB)

	const lines = 20
	for i := 0; i < lines; i++ {
		s.Broadcast(fmt.Sprintf("epoch %d done", i))
	}

	for _, conn := range []*websocket.Conn{connA, connB} {
		for i := 0; i < lines; i++ {
			got := string(readFrame(t, conn))
			want := fmt.Sprintf("epoch %d done", i)
			if got != want {
				t.Fatalf("line %d = %q, want %q", i, got, want)
			}
		}
	}
}

// TestBroadcastReachesUnauthenticatedClient pins the documented pre-auth
// broadcast behavior: handles are registered before authentication, so a
// client that never authenticates still receives broadcast lines.
func TestBroadcastReachesUnauthenticatedClient(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)

	waitFor(t, 2*time.Second, func() bool { return s.ClientCount() == 1 },
		"client never registered")

	s.Broadcast("epoch 1 done")
	if got := string(readFrame(t, conn)); got != "epoch 1 done" {
		t.Fatalf("got %q, want %q", got, "epoch 1 done")
	}
}

func TestDeadClientAbsentFromRegistry(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	conn := dial(t, ts)
	authenticate(t, s, conn)
	if s.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", s.ClientCount())
	}

	conn.Close()

	// After the socket dies, the handle must be gone from the registry by
	// the time the next broadcast pass completes.
	waitFor(t, 2*time.Second, func() bool {
		s.Broadcast("ping")
		return s.ClientCount() == 0
	}, "dead client still in registry")
}

func TestStopCommandEmitsBusEvent(t *testing.T) {
	b := bus.New()
	s, ts := newTestServer(t, Options{Bus: b})

	got := make(chan string, 1)
	b.Subscribe(bus.EventMobileCommand, func(payload string) {
		got <- payload
	})

	conn := dial(t, ts)
	authenticate(t, s, conn)
	sendJSON(t, conn, map[string]string{"action": "stop_training"})

	select {
	case payload := <-got:
		if payload != "stop_training" {
			t.Errorf("payload = %q, want %q", payload, "stop_training")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus never received the command")
	}
}

// TestStopBeforeAuthIgnored verifies command gating: a session that has not
// authenticated cannot inject commands, and because its first recognized
// frame was spent on the command, it can never authenticate either.
func TestStopBeforeAuthIgnored(t *testing.T) {
	b := bus.New()
	s, ts := newTestServer(t, Options{Bus: b})

	got := make(chan string, 1)
	b.Subscribe(bus.EventMobileCommand, func(payload string) {
		got <- payload
	})

	code, err := s.secrets.Generate()
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	conn := dial(t, ts)
	sendJSON(t, conn, map[string]string{"action": "stop_training"})

	select {
	case payload := <-got:
		t.Fatalf("unauthenticated command reached the bus: %q", payload)
	case <-time.After(200 * time.Millisecond):
	}

	// A later authenticate is ignored: only the first recognized frame can
	// authenticate, and this session spent it.
	sendJSON(t, conn, map[string]string{"action": "authenticate", "token": code})
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no response to late authenticate, got %q", data)
	}
}

// TestMalformedFramesIgnored verifies that unparseable frames draw no
// response, don't terminate the session, and don't consume the
// authentication opportunity.
func TestMalformedFramesIgnored(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts)

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	sendJSON(t, conn, map[string]int{"foo": 1}) // valid JSON, no action

	// The session is still in its pre-auth state; authentication still works.
	authenticate(t, s, conn)
}

func TestBroadcastAfterStop(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	ts.Close()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	// Must not panic or block.
	s.Broadcast("after stop")

	if err := s.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestStartAsyncBindFailure(t *testing.T) {
	// Occupy a port, then ask the server to bind the same one.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	s := NewServer(Options{
		Addr:    ln.Addr().String(),
		Secrets: pairing.NewSecretStore(),
		Bus:     bus.New(),
	})

	err = <-s.StartAsync()
	if err == nil {
		t.Fatal("expected bind failure")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeRemoteBindFailed {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeRemoteBindFailed)
	}
}

// TestEndToEnd walks the full scenario: pair, authenticate, receive a
// broadcast line verbatim, send the stop command, observe the bus event.
func TestEndToEnd(t *testing.T) {
	b := bus.New()
	s, ts := newTestServer(t, Options{Bus: b})

	got := make(chan string, 1)
	b.Subscribe(bus.EventMobileCommand, func(payload string) {
		got <- payload
	})

	code, err := s.secrets.Generate()
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	conn := dial(t, ts)
	sendJSON(t, conn, map[string]string{"action": "authenticate", "token": code})
	if status := readStatus(t, conn); status != StatusAuthenticated {
		t.Fatalf("expected %s, got %s", StatusAuthenticated, status)
	}

	s.Broadcast("epoch 1 done")
	if line := string(readFrame(t, conn)); line != "epoch 1 done" {
		t.Fatalf("broadcast line = %q, want %q", line, "epoch 1 done")
	}

	sendJSON(t, conn, map[string]string{"action": "stop_training"})
	select {
	case payload := <-got:
		if payload != "stop_training" {
			t.Errorf("payload = %q, want %q", payload, "stop_training")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus never received the command")
	}
}
