package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/wire"
)

// NATSConfig holds configuration for the NATS transport. Client and server
// exchange messages over a pair of subjects; the inbound subject is scoped
// to the credential so each client sees only its own traffic.
type NATSConfig struct {
	URL            string
	ServerSubject  string // client -> server
	ClientSubjects string // server -> client, credential appended
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultNATSConfig returns default NATS transport configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ServerSubject:  "tables.actions",
		ClientSubjects: "tables.clients",
		MaxReconnects:  5,
		ReconnectWait:  2 * time.Second,
	}
}

// NATSDialer dials NATS transports.
type NATSDialer struct {
	config  NATSConfig
	metrics metrics.Collector
}

// NewNATSDialer creates a dialer for the given configuration. The
// collector may be nil for no-metrics operation.
func NewNATSDialer(config NATSConfig, collector metrics.Collector) *NATSDialer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &NATSDialer{config: config, metrics: collector}
}

// Dial connects to the NATS server and subscribes to this client's inbound
// subject. Reconnection is delegated to the nats client itself; exhausting
// its bounded attempts closes the connection and fires the disconnect
// handler.
func (d *NATSDialer) Dial(ctx context.Context, credential string, h Handlers) (Transport, error) {
	t := &natsTransport{config: d.config}
	t.onMessage = h.OnMessage
	t.onDisconnect = h.OnDisconnect

	opts := []nats.Option{
		nats.MaxReconnects(d.config.MaxReconnects),
		nats.ReconnectWait(d.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected, reconnecting")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			d.metrics.RecordReconnect(int(nc.Stats().Reconnects))
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			t.handleClosed(nc.LastError())
		}),
	}

	nc, err := nats.Connect(d.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	inbound := fmt.Sprintf("%s.%s", d.config.ClientSubjects, credential)
	sub, err := nc.Subscribe(inbound, t.handleInbound)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", inbound, err)
	}

	t.nc = nc
	t.sub = sub
	return t, nil
}

type natsTransport struct {
	config NATSConfig
	nc     *nats.Conn
	sub    *nats.Subscription

	mu     sync.Mutex
	closed bool

	handlerMu    sync.RWMutex
	onMessage    func(wire.Message)
	onDisconnect func(err error)
}

func (t *natsTransport) Send(msg wire.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return t.nc.Publish(t.config.ServerSubject, data)
}

func (t *natsTransport) SetMessageHandler(fn func(wire.Message)) {
	t.handlerMu.Lock()
	t.onMessage = fn
	t.handlerMu.Unlock()
}

func (t *natsTransport) SetDisconnectHandler(fn func(err error)) {
	t.handlerMu.Lock()
	t.onDisconnect = fn
	t.handlerMu.Unlock()
}

func (t *natsTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.nc != nil && t.nc.IsConnected()
}

func (t *natsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.sub != nil {
		t.sub.Unsubscribe()
	}
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}

func (t *natsTransport) handleInbound(m *nats.Msg) {
	msg, err := wire.DecodeMessage(m.Data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable message")
		return
	}

	t.handlerMu.RLock()
	handler := t.onMessage
	t.handlerMu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// handleClosed fires when the nats client gives up for good. Deliberate
// Close also lands here; it is filtered out by the closed flag.
func (t *natsTransport) handleClosed(lastErr error) {
	t.mu.Lock()
	deliberate := t.closed
	t.closed = true
	t.mu.Unlock()
	if deliberate {
		return
	}

	log.Error().Err(lastErr).Msg("nats reconnection exhausted")

	t.handlerMu.RLock()
	handler := t.onDisconnect
	t.handlerMu.RUnlock()
	if handler != nil {
		handler(lastErr)
	}
}
