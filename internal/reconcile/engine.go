// Package reconcile turns sparse authoritative snapshots into smooth
// continuous state for rendering, and turns round-trip timing into
// feedback signals for the presentation layer.
package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/wire"
)

// Correlator resolves correlation ids back to their recorded send data.
// Both lookups are consume-once.
type Correlator interface {
	ConsumeTimestamp(id string) (time.Time, bool)
	ConsumePayload(id string) (json.RawMessage, bool)
}

// Feedback is the side-channel event emitted when a confirmation resolves
// a correlation id: how long the round trip took, and the original action
// payload for enrichment downstream.
type Feedback struct {
	ActionID string
	Elapsed  time.Duration
	Payload  json.RawMessage
}

// Config holds configuration for the reconciliation engine.
type Config struct {
	// Window is the fixed duration over which a snapshot blends in.
	Window time.Duration

	// FrameInterval drives the blend loop; display-refresh order.
	FrameInterval time.Duration

	// FeedbackBuffer sizes the feedback channel. Delivery is
	// fire-and-forget; events are dropped when the buffer is full.
	FeedbackBuffer int
}

// DefaultConfig returns default reconciliation configuration.
func DefaultConfig() Config {
	return Config{
		Window:         100 * time.Millisecond,
		FrameInterval:  16 * time.Millisecond,
		FeedbackBuffer: 64,
	}
}

// Engine blends authoritative snapshots into the rendered state over a
// fixed window. Snapshots are applied in arrival order; no sequence
// numbers are assumed, so out-of-order delivery is not reconciled.
type Engine struct {
	config     Config
	clock      clockwork.Clock
	correlator Correlator
	metrics    metrics.Collector

	mu         sync.Mutex
	current    wire.State
	target     wire.State
	blendStart time.Time
	active     bool

	feedbackCh chan Feedback
}

// NewEngine creates a reconciliation engine reading correlation data from
// the given correlator.
func NewEngine(config Config, correlator Correlator, clock clockwork.Clock, collector metrics.Collector) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Engine{
		config:     config,
		clock:      clock,
		correlator: correlator,
		metrics:    collector,
		feedbackCh: make(chan Feedback, config.FeedbackBuffer),
	}
}

// OnSnapshot applies a broadcast authoritative snapshot. If a blend is
// already running, the new window restarts from the currently interpolated
// value rather than the previous target, so back-to-back snapshots never
// cause a visible snap.
func (e *Engine) OnSnapshot(state wire.State) {
	e.mu.Lock()
	restarted := e.applyLocked(state)
	e.mu.Unlock()

	e.metrics.RecordSnapshotApplied(restarted)
}

// OnConfirm applies a per-action confirmation snapshot via the same blend
// path, then resolves the correlation id. A resolvable id emits exactly
// one feedback event carrying the elapsed round trip and the original
// payload; delivery never blocks reconciliation.
func (e *Engine) OnConfirm(actionID string, state wire.State) {
	e.mu.Lock()
	restarted := e.applyLocked(state)
	e.mu.Unlock()
	e.metrics.RecordSnapshotApplied(restarted)

	sentAt, ok := e.correlator.ConsumeTimestamp(actionID)
	if !ok {
		return
	}
	elapsed := e.clock.Now().Sub(sentAt)
	payload, _ := e.correlator.ConsumePayload(actionID)

	e.metrics.RecordRoundTrip(elapsed)

	select {
	case e.feedbackCh <- Feedback{ActionID: actionID, Elapsed: elapsed, Payload: payload}:
	default:
		log.Warn().Str("action_id", actionID).Msg("feedback buffer full, dropping event")
	}
}

// applyLocked installs a new blend target, reporting whether a run was
// already in flight.
func (e *Engine) applyLocked(state wire.State) bool {
	now := e.clock.Now()

	if e.current == nil {
		// First snapshot; nothing to blend from.
		e.current = cloneState(state)
		e.active = false
		return false
	}

	restarted := e.active
	if e.active {
		e.current = blendStates(e.current, e.target, e.progressLocked(now))
	}
	e.target = cloneState(state)
	e.blendStart = now
	e.active = true
	return restarted
}

// Feedback returns the side channel of round-trip feedback events.
func (e *Engine) Feedback() <-chan Feedback {
	return e.feedbackCh
}

// View returns the interpolated state as of now. Renderers call this once
// per drawn frame.
func (e *Engine) View() wire.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return cloneState(e.current)
	}
	return blendStates(e.current, e.target, e.progressLocked(e.clock.Now()))
}

// Run advances the blend on a frame ticker until the context is
// cancelled. Each finished window settles current to the target; the run
// then idles until the next snapshot arrives.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.config.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.step()
		}
	}
}

func (e *Engine) step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}
	if e.progressLocked(e.clock.Now()) >= 1 {
		e.current = cloneState(e.target)
		e.target = nil
		e.active = false
	}
}

// progressLocked returns blend progress clamped to [0, 1].
func (e *Engine) progressLocked(now time.Time) float64 {
	if e.config.Window <= 0 {
		return 1
	}
	t := float64(now.Sub(e.blendStart)) / float64(e.config.Window)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
