package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/status"
)

// recorder is a Dispatcher that keeps every forwarded frame.
type recorder struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (r *recorder) Dispatch(f frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.frames {
		out = append(out, f.FrameType())
	}
	return out
}

// testServer accepts websocket connections and hands each one to serve.
type testServer struct {
	*httptest.Server
	accepted atomic.Int32
	tokens   chan string
}

func newTestServer(t *testing.T, serve func(ctx context.Context, n int, c *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{tokens: make(chan string, 16)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		n := int(ts.accepted.Add(1))
		select {
		case ts.tokens <- r.URL.Query().Get("token"):
		default:
		}
		serve(r.Context(), n, c)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// holdOpen keeps the server side reading until the client goes away.
func holdOpen(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newTestManager(url string, tokens TokenSource, b *bus.Bus) *Manager {
	return New(Options{
		URL:       url,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  80 * time.Millisecond,
	}, tokens, nil, b, nil)
}

func TestSendWhileDisconnected(t *testing.T) {
	m := newTestManager("ws://127.0.0.1:1/ws", nil, nil)
	err := m.Send(context.Background(), frame.NewTyping(1, true))
	if !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestPingAnsweredAndNotForwarded(t *testing.T) {
	pongs := make(chan string, 4)
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"connection_established"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		pongs <- string(data)
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"notification","message":"hello"}`))
		holdOpen(ctx, c)
	})

	rec := &recorder{}
	m := newTestManager(ts.wsURL(), func() string { return "tok" }, nil)
	m.RegisterDispatcher(rec)
	m.Open(context.Background())
	defer m.Close()

	select {
	case got := <-pongs:
		if got != `{"type":"pong"}` {
			t.Errorf("reply = %s, want {\"type\":\"pong\"}", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for pong")
	}

	waitFor(t, "notification dispatch", func() bool { return len(rec.types()) == 1 })
	if got := rec.types(); got[0] != frame.TypeNotification {
		t.Errorf("forwarded = %v, want only notification", got)
	}
	select {
	case extra := <-pongs:
		t.Errorf("unexpected second reply %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedFrameKeepsLinkOpen(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{{{`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"shiny_new_thing"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"user_typing","chat_id":1,"user_id":2}`))
		holdOpen(ctx, c)
	})

	rec := &recorder{}
	m := newTestManager(ts.wsURL(), nil, nil)
	m.RegisterDispatcher(rec)
	m.Open(context.Background())
	defer m.Close()

	waitFor(t, "two forwarded frames", func() bool { return len(rec.types()) == 2 })
	got := rec.types()
	if got[0] != "shiny_new_thing" || got[1] != frame.TypeUserTyping {
		t.Errorf("forwarded = %v, want [shiny_new_thing user_typing]", got)
	}
	if m.State() != status.Open {
		t.Errorf("state = %s, want open", m.State())
	}
	if ts.accepted.Load() != 1 {
		t.Errorf("accepted = %d, want 1 (no reconnect)", ts.accepted.Load())
	}
}

func TestOversizedFrameIsDroppedAlone(t *testing.T) {
	big := `{"type":"notification","message":"` + strings.Repeat("x", 4096) + `"}`
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) {
		_ = c.Write(ctx, websocket.MessageText, []byte(big))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"user_typing","chat_id":1,"user_id":2}`))
		holdOpen(ctx, c)
	})

	b := bus.New()
	drops, unsub := b.Subscribe(bus.ConnDisconnected, 4)
	defer unsub()

	rec := &recorder{}
	m := New(Options{
		URL:           ts.wsURL(),
		BaseDelay:     20 * time.Millisecond,
		MaxDelay:      80 * time.Millisecond,
		MaxFrameBytes: 1024,
	}, nil, nil, b, nil)
	m.RegisterDispatcher(rec)
	m.Open(context.Background())
	defer m.Close()

	waitFor(t, "frame after the oversized one", func() bool { return len(rec.types()) == 1 })
	if got := rec.types(); got[0] != frame.TypeUserTyping {
		t.Errorf("forwarded = %v, want [user_typing]", got)
	}
	if m.State() != status.Open {
		t.Errorf("state = %s, want open", m.State())
	}
	if ts.accepted.Load() != 1 {
		t.Errorf("accepted = %d, want 1 (no reconnect)", ts.accepted.Load())
	}
	select {
	case evt := <-drops:
		t.Errorf("unexpected %s: %v", evt.Kind, evt.Payload)
	default:
	}
}

func TestSendWhenOpen(t *testing.T) {
	received := make(chan string, 1)
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) {
		_, data, err := c.Read(ctx)
		if err == nil {
			received <- string(data)
		}
		holdOpen(ctx, c)
	})

	m := newTestManager(ts.wsURL(), nil, nil)
	m.Open(context.Background())
	defer m.Close()

	waitFor(t, "open", func() bool { return m.State() == status.Open })
	if err := m.Send(context.Background(), frame.NewReadReceipt(42)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-received:
		if got != `{"type":"read_receipt","message_id":42}` {
			t.Errorf("server got %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, n int, c *websocket.Conn) {
		if n == 1 {
			_ = c.Close(websocket.StatusGoingAway, "restarting")
			return
		}
		holdOpen(ctx, c)
	})

	b := bus.New()
	events, unsub := b.Subscribe("conn.", 64)
	defer unsub()

	m := newTestManager(ts.wsURL(), nil, b)
	m.Open(context.Background())
	defer m.Close()

	sawReconnecting := false
	deadline := time.After(3 * time.Second)
	for ts.accepted.Load() < 2 || m.State() != status.Open {
		select {
		case evt := <-events:
			if evt.Kind == bus.ConnReconnecting {
				sawReconnecting = true
				r := evt.Payload.(bus.Reconnecting)
				if r.Delay != 20*time.Millisecond {
					t.Errorf("first retry delay = %v, want 20ms", r.Delay)
				}
				if !errors.Is(r.Err, errs.ErrTransientDisconnect) {
					t.Errorf("retry cause = %v, want ErrTransientDisconnect", r.Err)
				}
			}
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timeout: accepted=%d state=%s", ts.accepted.Load(), m.State())
		}
	}
	if !sawReconnecting {
		t.Error("no reconnecting event published")
	}

	m.mu.Lock()
	attempt := m.backoff.Attempt()
	m.mu.Unlock()
	if attempt != 0 {
		t.Errorf("backoff attempt = %d after successful open, want 0", attempt)
	}
}

func TestDialFailureEntersReconnecting(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) { holdOpen(ctx, c) })
	target := ts.wsURL()
	ts.Close()

	m := newTestManager(target, nil, nil)
	m.Open(context.Background())
	defer m.Close()

	waitFor(t, "reconnecting", func() bool { return m.State() == status.Reconnecting })
}

func TestAuthRejectedStopsRetrying(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) {
		_ = c.Close(websocket.StatusPolicyViolation, "bad token")
	})

	b := bus.New()
	events, unsub := b.Subscribe(bus.ConnAuthRejected, 4)
	defer unsub()

	m := newTestManager(ts.wsURL(), func() string { return "expired" }, b)
	m.Open(context.Background())
	defer m.Close()

	select {
	case evt := <-events:
		err, _ := evt.Payload.(error)
		if !errors.Is(err, errs.ErrAuthRejected) {
			t.Errorf("payload = %v, want ErrAuthRejected", evt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for auth rejection")
	}

	waitFor(t, "disconnected", func() bool { return m.State() == status.Disconnected })
	time.Sleep(150 * time.Millisecond)
	if n := ts.accepted.Load(); n != 1 {
		t.Errorf("accepted = %d, want 1 (no retry after auth rejection)", n)
	}
}

func TestReconnectUsesLatestToken(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, n int, c *websocket.Conn) {
		if n == 1 {
			_ = c.Close(websocket.StatusGoingAway, "bye")
			return
		}
		holdOpen(ctx, c)
	})

	var token atomic.Value
	token.Store("first")
	m := New(Options{URL: ts.wsURL(), BaseDelay: 200 * time.Millisecond},
		func() string { return token.Load().(string) }, nil, nil, nil)

	m.Open(context.Background())
	defer m.Close()

	if got := <-ts.tokens; got != "first" {
		t.Errorf("first token = %q, want first", got)
	}
	token.Store("refreshed")

	select {
	case got := <-ts.tokens:
		if got != "refreshed" {
			t.Errorf("reconnect token = %q, want refreshed", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reconnect")
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) { holdOpen(ctx, c) })

	m := newTestManager(ts.wsURL(), nil, nil)
	m.Open(context.Background())
	waitFor(t, "open", func() bool { return m.State() == status.Open })

	m.Close()
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if err := m.Send(context.Background(), frame.NewPong()); !errors.Is(err, errs.ErrNotConnected) {
		t.Errorf("Send() after Close error = %v, want ErrNotConnected", err)
	}

	time.Sleep(150 * time.Millisecond)
	if n := ts.accepted.Load(); n != 1 {
		t.Errorf("accepted = %d, want 1 (no reconnect after Close)", n)
	}
	m.Close()
}

func TestReopenReplacesLink(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, _ int, c *websocket.Conn) { holdOpen(ctx, c) })

	m := newTestManager(ts.wsURL(), nil, nil)
	m.Open(context.Background())
	waitFor(t, "first open", func() bool { return m.State() == status.Open })

	m.Open(context.Background())
	defer m.Close()
	waitFor(t, "second open", func() bool { return ts.accepted.Load() == 2 && m.State() == status.Open })
}
