// Package client composes the sync core: connection manager, optimistic
// action pipeline, and reconciliation engine, wired to the table wire
// protocol. Presentation adapters talk to this service and nothing below
// it.
package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/action"
	"github.com/tavern-games/tablesync/internal/conn"
	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/reconcile"
	"github.com/tavern-games/tablesync/internal/transport"
	"github.com/tavern-games/tablesync/internal/wire"
)

// Config holds configuration for the composed sync service.
type Config struct {
	Conn      conn.Config
	Action    action.Config
	Reconcile reconcile.Config
}

// DefaultConfig returns default configuration for the sync service.
func DefaultConfig() Config {
	return Config{
		Conn:      conn.DefaultConfig(),
		Action:    action.DefaultConfig(),
		Reconcile: reconcile.DefaultConfig(),
	}
}

// Service is the client-facing synchronization service.
type Service struct {
	conn     *conn.Manager
	pipeline *action.Pipeline
	engine   *reconcile.Engine

	cbMu        sync.RWMutex
	onGameOver  func(wire.GameOverPayload)
	onBetPlaced func(wire.BetPlacedPayload)
}

// NewService creates the sync service over the given dialer. The clock and
// collector may be nil for real-clock, no-metrics operation.
func NewService(config Config, dialer transport.Dialer, clock clockwork.Clock, collector metrics.Collector) *Service {
	manager := conn.NewManager(config.Conn, dialer, clock, collector)
	pipeline := action.NewPipeline(config.Action, manager, clock, collector)
	engine := reconcile.NewEngine(config.Reconcile, pipeline, clock, collector)

	s := &Service{
		conn:     manager,
		pipeline: pipeline,
		engine:   engine,
	}

	manager.Subscribe(wire.EventTypeTableUpdate, func(msg wire.Message) {
		update, ok := msg.(wire.TableUpdatePayload)
		if !ok {
			return
		}
		engine.OnSnapshot(update.State)
	})

	manager.Subscribe(wire.EventTypeRoomConfirm, func(msg wire.Message) {
		confirm, ok := msg.(wire.RoomConfirmPayload)
		if !ok {
			return
		}
		engine.OnConfirm(confirm.ActionID, confirm.Snapshot.State)
	})

	manager.Subscribe(wire.EventTypeGameOver, func(msg wire.Message) {
		over, ok := msg.(wire.GameOverPayload)
		if !ok {
			return
		}
		s.pipeline.SetTable("")
		s.cbMu.RLock()
		fn := s.onGameOver
		s.cbMu.RUnlock()
		if fn != nil {
			fn(over)
		}
	})

	manager.Subscribe(wire.EventTypeBetPlaced, func(msg wire.Message) {
		bet, ok := msg.(wire.BetPlacedPayload)
		if !ok {
			return
		}
		s.cbMu.RLock()
		fn := s.onBetPlaced
		s.cbMu.RUnlock()
		if fn != nil {
			fn(bet)
		}
	})

	return s
}

// OnGameOver registers the terminal-event callback. Safe to call at any
// time, including while connected; the callback runs on the transport's
// read goroutine and must not block.
func (s *Service) OnGameOver(fn func(wire.GameOverPayload)) {
	s.cbMu.Lock()
	s.onGameOver = fn
	s.cbMu.Unlock()
}

// OnBetPlaced registers the wager-announcement callback. Same rules as
// OnGameOver.
func (s *Service) OnBetPlaced(fn func(wire.BetPlacedPayload)) {
	s.cbMu.Lock()
	s.onBetPlaced = fn
	s.cbMu.Unlock()
}

// Connect establishes the server connection with the given credential.
func (s *Service) Connect(ctx context.Context, credential string) error {
	return s.conn.Connect(ctx, credential)
}

// Disconnect tears the connection down. Interpolation keeps running
// against its last target; the presentation layer owns stopping its
// render loop.
func (s *Service) Disconnect() {
	s.pipeline.SetTable("")
	s.conn.Disconnect()
}

// JoinTable seats the player at a table and activates the action session.
func (s *Service) JoinTable(tableID string) error {
	if err := s.conn.Send(wire.JoinTablePayload{TableID: tableID}); err != nil {
		return err
	}
	s.pipeline.SetTable(tableID)
	log.Info().Str("table_id", tableID).Msg("joined table")
	return nil
}

// SendMove dispatches an optimistic player action and returns its
// correlation id, or an empty id when sync state isn't ready.
func (s *Service) SendMove(move json.RawMessage) string {
	return s.pipeline.SendAction(move)
}

// View returns the interpolated render state as of now.
func (s *Service) View() wire.State {
	return s.engine.View()
}

// Feedback returns the round-trip feedback channel.
func (s *Service) Feedback() <-chan reconcile.Feedback {
	return s.engine.Feedback()
}

// State returns the connection state.
func (s *Service) State() conn.State {
	return s.conn.State()
}

// Health returns the derived connection health.
func (s *Service) Health() conn.Health {
	return s.conn.Health()
}

// Run drives the background loops (interpolation frames, correlation
// sweep) until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	go s.pipeline.Run(ctx)
	s.engine.Run(ctx)
}
