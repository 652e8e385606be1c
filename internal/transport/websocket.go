package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/wire"
)

// WebSocketConfig holds configuration for the WebSocket transport.
type WebSocketConfig struct {
	URL             string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int

	// Reconnection policy. MaxReconnects bounds both the initial dial
	// retries and post-connect recovery; backoff doubles per failure up
	// to BackoffCeiling.
	MaxReconnects  int
	InitialBackoff time.Duration
	BackoffCeiling time.Duration
}

// DefaultWebSocketConfig returns default WebSocket transport configuration.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:             "ws://localhost:8080/ws",
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxReconnects:   5,
		InitialBackoff:  500 * time.Millisecond,
		BackoffCeiling:  10 * time.Second,
	}
}

// WebSocketDialer dials WebSocket transports with bounded retry.
type WebSocketDialer struct {
	config  WebSocketConfig
	clock   clockwork.Clock
	metrics metrics.Collector
}

// NewWebSocketDialer creates a dialer for the given configuration. The
// clock and collector may be nil for real-clock, no-metrics operation.
func NewWebSocketDialer(config WebSocketConfig, clock clockwork.Clock, collector metrics.Collector) *WebSocketDialer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &WebSocketDialer{config: config, clock: clock, metrics: collector}
}

// Dial establishes a WebSocket transport, retrying with exponential
// backoff up to the configured attempt budget before giving up.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string, h Handlers) (Transport, error) {
	endpoint, err := url.Parse(d.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	query := endpoint.Query()
	query.Set("credential", credential)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		ReadBufferSize:  d.config.ReadBufferSize,
		WriteBufferSize: d.config.WriteBufferSize,
	}

	backoff := d.config.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= d.config.MaxReconnects; attempt++ {
		if attempt > 0 {
			timer := d.clock.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.Chan():
			}
			backoff *= 2
			if backoff > d.config.BackoffCeiling {
				backoff = d.config.BackoffCeiling
			}
		}

		conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
		if err != nil {
			lastErr = err
			log.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Msg("websocket dial failed")
			continue
		}

		t := newWebSocketTransport(conn, endpoint.String(), d.config, d.clock, d.metrics)
		t.onMessage = h.OnMessage
		t.onDisconnect = h.OnDisconnect
		t.start()
		return t, nil
	}

	return nil, fmt.Errorf("dial %s after %d attempts: %w", d.config.URL, d.config.MaxReconnects+1, lastErr)
}

// webSocketTransport is a Transport over a gorilla/websocket connection
// with automatic bounded reconnection after the link was established.
type webSocketTransport struct {
	config   WebSocketConfig
	endpoint string
	clock    clockwork.Clock
	metrics  metrics.Collector

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	send chan []byte
	done chan struct{}

	handlerMu    sync.RWMutex
	onMessage    func(wire.Message)
	onDisconnect func(err error)
}

func newWebSocketTransport(conn *websocket.Conn, endpoint string, config WebSocketConfig, clock clockwork.Clock, collector metrics.Collector) *webSocketTransport {
	return &webSocketTransport{
		config:    config,
		endpoint:  endpoint,
		clock:     clock,
		metrics:   collector,
		conn:      conn,
		connected: true,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

func (t *webSocketTransport) start() {
	go t.writePump()
	go t.readPump()
}

func (t *webSocketTransport) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case t.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for %s", msg.Kind())
	}
}

func (t *webSocketTransport) SetMessageHandler(fn func(wire.Message)) {
	t.handlerMu.Lock()
	t.onMessage = fn
	t.handlerMu.Unlock()
}

func (t *webSocketTransport) SetDisconnectHandler(fn func(err error)) {
	t.handlerMu.Lock()
	t.onDisconnect = fn
	t.handlerMu.Unlock()
}

func (t *webSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

func (t *webSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	close(t.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// writePump drains the send channel and keeps the link alive with pings.
func (t *webSocketTransport) writePump() {
	ticker := t.clock.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return

		case data := <-t.send:
			conn := t.currentConn()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
			}

		case <-ticker.Chan():
			conn := t.currentConn()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("websocket ping failed")
			}
		}
	}
}

// readPump reads frames, decodes them once, and hands them to the message
// handler. On a read error it attempts bounded reconnection; exhaustion is
// terminal and fires the disconnect handler.
func (t *webSocketTransport) readPump() {
	for {
		conn := t.currentConn()
		if conn == nil {
			return
		}

		conn.SetReadLimit(t.config.MaxMessageSize)
		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
			return nil
		})

		err := t.readLoop(conn)
		if err == nil {
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.connected = false
		t.mu.Unlock()

		if !t.reconnect(err) {
			return
		}
	}
}

// readLoop reads until the connection errors. A nil return means the
// transport was deliberately closed.
func (t *webSocketTransport) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return err
		}

		msg, err := wire.DecodeMessage(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable message")
			continue
		}

		t.handlerMu.RLock()
		handler := t.onMessage
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(msg)
		}
		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	}
}

// reconnect re-dials the endpoint with exponential backoff. Returns false
// when the budget is exhausted or the transport was closed meanwhile.
func (t *webSocketTransport) reconnect(cause error) bool {
	dialer := websocket.Dialer{
		ReadBufferSize:  t.config.ReadBufferSize,
		WriteBufferSize: t.config.WriteBufferSize,
	}

	backoff := t.config.InitialBackoff
	for attempt := 1; attempt <= t.config.MaxReconnects; attempt++ {
		timer := t.clock.NewTimer(backoff)
		select {
		case <-t.done:
			timer.Stop()
			return false
		case <-timer.Chan():
		}
		backoff *= 2
		if backoff > t.config.BackoffCeiling {
			backoff = t.config.BackoffCeiling
		}

		conn, _, err := dialer.Dial(t.endpoint, nil)
		if err != nil {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Msg("websocket reconnect failed")
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return false
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()

		t.metrics.RecordReconnect(attempt)
		log.Info().Int("attempt", attempt).Msg("websocket reconnected")
		return true
	}

	log.Error().
		Err(cause).
		Int("attempts", t.config.MaxReconnects).
		Msg("websocket reconnection exhausted")

	t.handlerMu.RLock()
	handler := t.onDisconnect
	t.handlerMu.RUnlock()
	if handler != nil {
		handler(cause)
	}
	return false
}

func (t *webSocketTransport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.conn
}
