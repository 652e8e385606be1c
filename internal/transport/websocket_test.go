package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tavern-games/tablesync/internal/wire"
)

// captureCollector records reconnect attempts for assertions.
type captureCollector struct {
	reconnects chan int
}

func newCaptureCollector() *captureCollector {
	return &captureCollector{reconnects: make(chan int, 8)}
}

func (c *captureCollector) RecordConnectAttempt(success bool, duration time.Duration) {}
func (c *captureCollector) RecordReconnect(attempt int) {
	select {
	case c.reconnects <- attempt:
	default:
	}
}
func (c *captureCollector) RecordActionSent()                         {}
func (c *captureCollector) RecordRoundTrip(duration time.Duration)    {}
func (c *captureCollector) RecordSnapshotApplied(blendRestarted bool) {}
func (c *captureCollector) RecordCorrelationEvicted(count int)        {}

func startEchoServer(t *testing.T, onMessage func(conn *websocket.Conn, data []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("credential") == "" {
			t.Error("expected credential query parameter")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, data)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialSendReceive(t *testing.T) {
	received := make(chan wire.Message, 1)

	srv := startEchoServer(t, func(conn *websocket.Conn, data []byte) {
		// Confirm whatever arrives with a canned snapshot.
		reply, err := wire.Encode(wire.TableUpdatePayload{State: wire.State{"pot": 7.0}})
		if err != nil {
			t.Errorf("encode reply: %v", err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, reply)
	})

	cfg := DefaultWebSocketConfig()
	cfg.URL = wsURL(srv)
	dialer := NewWebSocketDialer(cfg, nil, nil)

	tr, err := dialer.Dial(context.Background(), "user-42", Handlers{
		OnMessage: func(msg wire.Message) {
			select {
			case received <- msg:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.Close()

	if !tr.Connected() {
		t.Fatal("expected connected transport")
	}
	if err := tr.Send(wire.JoinTablePayload{TableID: "table-1"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case msg := <-received:
		update, ok := msg.(wire.TableUpdatePayload)
		if !ok {
			t.Fatalf("expected table update, got %T", msg)
		}
		if update.State["pot"] != 7.0 {
			t.Fatalf("unexpected state %v", update.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
	}
}

func TestWebSocketFramePushedAtConnectIsNotDropped(t *testing.T) {
	received := make(chan wire.Message, 1)
	upgrader := websocket.Upgrader{}

	// The server fires a snapshot the instant the handshake completes,
	// before the client has done anything else. The dial-time handler
	// must already be in place to catch it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		greeting, _ := wire.Encode(wire.TableUpdatePayload{State: wire.State{"pot": 1.0}})
		conn.WriteMessage(websocket.TextMessage, greeting)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultWebSocketConfig()
	cfg.URL = wsURL(srv)
	dialer := NewWebSocketDialer(cfg, nil, nil)

	tr, err := dialer.Dial(context.Background(), "user-42", Handlers{
		OnMessage: func(msg wire.Message) {
			select {
			case received <- msg:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.Close()

	select {
	case msg := <-received:
		if _, ok := msg.(wire.TableUpdatePayload); !ok {
			t.Fatalf("expected table update, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame pushed at connect was dropped")
	}
}

func TestWebSocketReconnectIsRecorded(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	// First connection is cut immediately to force recovery; the second
	// stays open.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	collector := newCaptureCollector()
	cfg := DefaultWebSocketConfig()
	cfg.URL = wsURL(srv)
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.BackoffCeiling = 20 * time.Millisecond
	dialer := NewWebSocketDialer(cfg, nil, collector)

	tr, err := dialer.Dial(context.Background(), "user-42", Handlers{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.Close()

	select {
	case attempt := <-collector.reconnects:
		if attempt < 1 {
			t.Fatalf("expected attempt >= 1, got %d", attempt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect was never recorded")
	}

	if conns.Load() < 2 {
		t.Fatalf("expected a second server connection, got %d", conns.Load())
	}
}

func TestWebSocketDialFailsWithinAttemptBudget(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	cfg.URL = "ws://127.0.0.1:1/ws" // nothing listens here
	cfg.MaxReconnects = 1
	cfg.InitialBackoff = time.Millisecond
	cfg.BackoffCeiling = 2 * time.Millisecond
	dialer := NewWebSocketDialer(cfg, nil, nil)

	tr, err := dialer.Dial(context.Background(), "user-42", Handlers{})
	if err == nil {
		tr.Close()
		t.Fatal("expected dial failure")
	}
	if tr != nil {
		t.Fatal("expected no transport handle on failure")
	}
}

func TestWebSocketSendAfterCloseReturnsErrClosed(t *testing.T) {
	srv := startEchoServer(t, nil)

	cfg := DefaultWebSocketConfig()
	cfg.URL = wsURL(srv)
	dialer := NewWebSocketDialer(cfg, nil, nil)

	tr, err := dialer.Dial(context.Background(), "user-42", Handlers{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := tr.Send(wire.JoinTablePayload{TableID: "t"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
