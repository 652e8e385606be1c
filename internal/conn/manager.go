// Package conn owns the single logical connection to the game server. The
// manager de-duplicates concurrent connect attempts, distinguishes
// deliberate cancellation from network failure, and fans inbound messages
// out to typed subscribers. It knows nothing about game semantics.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/transport"
	"github.com/tavern-games/tablesync/internal/wire"
)

var (
	// ErrConnectFailed means the transport never reached connected and
	// its attempt budget is exhausted.
	ErrConnectFailed = errors.New("conn: connect failed")

	// ErrDisconnectedBeforeConnect means Disconnect was called while a
	// connect attempt was still in flight. Distinct from
	// ErrConnectFailed so callers can tell deliberate cancellation from
	// network failure.
	ErrDisconnectedBeforeConnect = errors.New("conn: disconnected before connect completed")
)

// Config holds configuration for the connection manager.
type Config struct {
	// Backoff window applied by Health between failed connect attempts.
	HealthBackoffInitial time.Duration
	HealthBackoffCeiling time.Duration
}

// DefaultConfig returns default connection manager configuration.
func DefaultConfig() Config {
	return Config{
		HealthBackoffInitial: time.Second,
		HealthBackoffCeiling: 30 * time.Second,
	}
}

// attempt is one in-flight connect. At most one exists at a time; every
// concurrent Connect call waits on the same done channel, so the "resolve
// exactly once" rule is structural rather than flag-driven.
type attempt struct {
	done      chan struct{}
	err       error
	cancel    context.CancelFunc
	cancelled bool
}

// Manager owns the transport handle. No other component may close or
// reassign it.
type Manager struct {
	config  Config
	dialer  transport.Dialer
	clock   clockwork.Clock
	metrics metrics.Collector

	mu      sync.Mutex
	state   State
	handle  transport.Transport
	pending *attempt
	health  Health

	subMu sync.RWMutex
	subs  map[wire.EventType][]func(wire.Message)
}

// NewManager creates a connection manager using the given dialer.
func NewManager(config Config, dialer transport.Dialer, clock clockwork.Clock, collector metrics.Collector) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Manager{
		config:  config,
		dialer:  dialer,
		clock:   clock,
		metrics: collector,
		subs:    make(map[wire.EventType][]func(wire.Message)),
	}
}

// Connect establishes the connection, blocking until it is up or the
// attempt terminally fails. It is idempotent while an attempt is in
// flight: concurrent callers share the same attempt and unblock together
// with the same result, and only one transport is ever dialed. If already
// connected it returns immediately with no network call.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()

	if m.handle != nil && m.handle.Connected() {
		m.mu.Unlock()
		return nil
	}

	if m.pending != nil {
		a := m.pending
		m.mu.Unlock()
		return waitAttempt(ctx, a)
	}

	// Stale handle that never reconnected; tear it down before a fresh
	// dial.
	if m.handle != nil {
		m.teardownLocked()
	}

	if !m.health.ShouldAttempt(m.clock.Now()) {
		wait := m.health.NextAttemptAt.Sub(m.clock.Now())
		m.mu.Unlock()
		return fmt.Errorf("%w: offline, next attempt in %s", ErrConnectFailed, wait)
	}

	a := &attempt{done: make(chan struct{})}
	dialCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	m.pending = a
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial(dialCtx, a, credential)

	return waitAttempt(ctx, a)
}

func waitAttempt(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs the attempt. It is the only writer of a.err, and closes
// a.done exactly once.
func (m *Manager) dial(ctx context.Context, a *attempt, credential string) {
	started := m.clock.Now()
	t, err := m.dialer.Dial(ctx, credential, transport.Handlers{
		OnMessage:    m.dispatch,
		OnDisconnect: m.handleTerminalDisconnect,
	})
	elapsed := m.clock.Now().Sub(started)

	m.mu.Lock()
	defer func() {
		m.pending = nil
		m.mu.Unlock()
		close(a.done)
	}()

	if a.cancelled {
		if t != nil {
			t.Close()
		}
		a.err = ErrDisconnectedBeforeConnect
		m.state = StateIdle
		return
	}

	if err != nil {
		a.err = fmt.Errorf("%w: %v", ErrConnectFailed, err)
		m.state = StateIdle
		m.health.recordFailure(m.clock.Now(), m.config.HealthBackoffInitial, m.config.HealthBackoffCeiling)
		m.metrics.RecordConnectAttempt(false, elapsed)
		log.Warn().
			Err(err).
			Int("consecutive_failures", m.health.ConsecutiveFailures).
			Msg("connect failed")
		return
	}

	m.handle = t
	m.state = StateConnected
	m.health.recordSuccess()
	m.metrics.RecordConnectAttempt(true, elapsed)

	log.Info().Dur("elapsed", elapsed).Msg("connected")
}

// Disconnect tears the connection down. It cancels an in-flight connect
// attempt, removes all transport listeners, closes the transport, and
// clears the handle. Redundant calls are safe.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.pending.cancelled = true
		m.pending.cancel()
	}

	m.teardownLocked()
	m.state = StateIdle
}

func (m *Manager) teardownLocked() {
	if m.handle == nil {
		return
	}
	m.handle.SetMessageHandler(nil)
	m.handle.SetDisconnectHandler(nil)
	if err := m.handle.Close(); err != nil {
		log.Warn().Err(err).Msg("transport close failed")
	}
	m.handle = nil
}

// handleTerminalDisconnect fires when the transport exhausts its own
// reconnection budget after having been connected.
func (m *Manager) handleTerminalDisconnect(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	m.state = StateIdle
	m.health.recordFailure(m.clock.Now(), m.config.HealthBackoffInitial, m.config.HealthBackoffCeiling)

	log.Error().Err(cause).Msg("connection lost, reconnection exhausted")
}

// Handle returns the current transport, or nil when not connected.
func (m *Manager) Handle() transport.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// State returns the connection state. A handle that exists but reports
// not-connected is in transport-level recovery.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnected && m.handle != nil && !m.handle.Connected() {
		return StateReconnecting
	}
	return m.state
}

// Health returns a snapshot of the derived connection health.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Subscribe registers a handler for a message kind. Handlers run on the
// transport's read goroutine and must not block. Subscriptions survive
// reconnects and fresh connects.
func (m *Manager) Subscribe(kind wire.EventType, fn func(wire.Message)) {
	m.subMu.Lock()
	m.subs[kind] = append(m.subs[kind], fn)
	m.subMu.Unlock()
}

// Send transmits a message on the current handle. Send errors are logged
// and returned; they are never treated as connection failures.
func (m *Manager) Send(msg wire.Message) error {
	h := m.Handle()
	if h == nil {
		return fmt.Errorf("conn: no handle for %s", msg.Kind())
	}
	if err := h.Send(msg); err != nil {
		log.Warn().Err(err).Str("event", string(msg.Kind())).Msg("send failed")
		return err
	}
	return nil
}

func (m *Manager) dispatch(msg wire.Message) {
	m.subMu.RLock()
	handlers := m.subs[msg.Kind()]
	m.subMu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event", string(msg.Kind())).Msg("no subscriber for message")
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}
