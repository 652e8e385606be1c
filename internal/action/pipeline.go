// Package action implements the optimistic action pipeline: dispatch a
// player action with zero perceived latency, and keep enough bookkeeping
// to correlate the server's eventual answer back to that exact action.
// The optimistic local mutation itself belongs to the caller, not here.
package action

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/transport"
	"github.com/tavern-games/tablesync/internal/wire"
)

// Conn is the slice of the connection manager the pipeline needs.
type Conn interface {
	Handle() transport.Transport
	Send(msg wire.Message) error
}

// Config holds configuration for the action pipeline.
type Config struct {
	// EntryTTL bounds how long an unconsumed correlation entry lives.
	// The server answering later than this loses its timing feedback;
	// the state itself still applies.
	EntryTTL time.Duration

	// MaxEntries caps the correlation maps; the oldest entries are
	// evicted first when the cap is exceeded.
	MaxEntries int

	// SweepInterval is how often expired entries are collected.
	SweepInterval time.Duration
}

// DefaultConfig returns default action pipeline configuration.
func DefaultConfig() Config {
	return Config{
		EntryTTL:      5 * time.Minute,
		MaxEntries:    4096,
		SweepInterval: 30 * time.Second,
	}
}

// Pipeline records in-flight optimistic actions keyed by correlation id.
// Timestamps and payloads live in independent maps so either can be
// consumed on its own; both are consume-once, delete-on-read.
type Pipeline struct {
	config  Config
	conn    Conn
	clock   clockwork.Clock
	metrics metrics.Collector

	mu         sync.Mutex
	tableID    string
	timestamps map[string]time.Time
	payloads   map[string]json.RawMessage
	order      []sentEntry
}

type sentEntry struct {
	id string
	at time.Time
}

// NewPipeline creates an action pipeline sending through the given
// connection.
func NewPipeline(config Config, conn Conn, clock clockwork.Clock, collector metrics.Collector) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Pipeline{
		config:     config,
		conn:       conn,
		clock:      clock,
		metrics:    collector,
		timestamps: make(map[string]time.Time),
		payloads:   make(map[string]json.RawMessage),
	}
}

// SetTable sets the active game-session identifier. An empty id clears it.
func (p *Pipeline) SetTable(tableID string) {
	p.mu.Lock()
	p.tableID = tableID
	p.mu.Unlock()
}

// SendAction dispatches a player action. Without a connection handle and
// an active table the call is a silent no-op returning an empty id; this
// happens routinely during screen transitions and must never error. On
// dispatch it records the correlation entries and returns the correlation
// id immediately; there is no wait for, and no retry toward, the server.
func (p *Pipeline) SendAction(move json.RawMessage) string {
	handle := p.conn.Handle()

	p.mu.Lock()
	tableID := p.tableID
	if handle == nil || tableID == "" {
		p.mu.Unlock()
		log.Debug().
			Bool("has_handle", handle != nil).
			Str("table_id", tableID).
			Msg("dropping action, sync not ready")
		return ""
	}

	id := uuid.New().String()
	now := p.clock.Now()
	p.timestamps[id] = now
	p.payloads[id] = move
	p.order = append(p.order, sentEntry{id: id, at: now})
	p.enforceCapLocked()
	p.mu.Unlock()

	msg := wire.PlayerMovePayload{
		TableID:  tableID,
		ActionID: id,
		SentAt:   now,
		Move:     move,
	}
	if err := p.conn.Send(msg); err != nil {
		// The entries stay; if the server never saw the action they
		// age out with the sweep.
		log.Debug().Err(err).Str("action_id", id).Msg("action send failed")
	}

	p.metrics.RecordActionSent()
	return id
}

// ConsumeTimestamp returns the recorded send time for a correlation id
// and removes it. A consumed or unknown id yields false, never an error.
func (p *Pipeline) ConsumeTimestamp(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.timestamps[id]
	if ok {
		delete(p.timestamps, id)
	}
	return at, ok
}

// ConsumePayload returns the recorded action payload for a correlation id
// and removes it, independently of ConsumeTimestamp.
func (p *Pipeline) ConsumePayload(id string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.payloads[id]
	if ok {
		delete(p.payloads, id)
	}
	return payload, ok
}

// Run sweeps expired correlation entries until the context is cancelled.
// Entries the server never answers would otherwise accumulate for the
// whole session.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.sweep()
		}
	}
}

func (p *Pipeline) sweep() {
	cutoff := p.clock.Now().Add(-p.config.EntryTTL)

	p.mu.Lock()
	evicted := 0
	kept := p.order[:0]
	for _, e := range p.order {
		if e.at.Before(cutoff) {
			if p.dropLocked(e.id) {
				evicted++
			}
			continue
		}
		kept = append(kept, e)
	}
	p.order = kept
	p.mu.Unlock()

	if evicted > 0 {
		p.metrics.RecordCorrelationEvicted(evicted)
		log.Debug().Int("evicted", evicted).Msg("expired correlation entries")
	}
}

func (p *Pipeline) enforceCapLocked() {
	evicted := 0
	for len(p.order) > p.config.MaxEntries {
		e := p.order[0]
		p.order = p.order[1:]
		if p.dropLocked(e.id) {
			evicted++
		}
	}
	if evicted > 0 {
		p.metrics.RecordCorrelationEvicted(evicted)
	}
}

// dropLocked removes an id from both maps, reporting whether anything was
// still unconsumed.
func (p *Pipeline) dropLocked(id string) bool {
	_, hadTS := p.timestamps[id]
	_, hadPayload := p.payloads[id]
	delete(p.timestamps, id)
	delete(p.payloads, id)
	return hadTS || hadPayload
}
