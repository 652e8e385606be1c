// Package transport provides the message-oriented duplex channels the sync
// core runs over. The connection manager owns exactly one Transport at a
// time; nothing else may close or reassign it.
package transport

import (
	"context"
	"errors"

	"github.com/tavern-games/tablesync/internal/wire"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a connected duplex channel to the game server. Messages are
// delivered in the order the underlying link produces them; the transport
// performs no reordering or deduplication.
type Transport interface {
	// Send transmits a message. Send errors are link-level, not
	// connection failures; callers log and move on.
	Send(msg wire.Message) error

	// SetMessageHandler replaces the inbound message callback. The
	// initial callback is supplied to Dial so no frame can arrive
	// unhandled; this exists so owners can detach listeners (nil) at
	// teardown. The handler runs on the transport's read goroutine.
	SetMessageHandler(fn func(wire.Message))

	// SetDisconnectHandler replaces the terminal-loss callback, same
	// rules as SetMessageHandler. It fires once when automatic
	// reconnection is exhausted, never on deliberate Close.
	SetDisconnectHandler(fn func(err error))

	// Connected reports whether the link is currently up. During an
	// automatic reconnection it reports false.
	Connected() bool

	// Close shuts the link down. Safe to call more than once.
	Close() error
}

// Handlers carries the callbacks a transport is born with. Installing
// them at dial time closes the window where an early server frame would
// find no handler and be dropped.
type Handlers struct {
	OnMessage    func(wire.Message)
	OnDisconnect func(err error)
}

// Dialer establishes transports. The credential is the opaque
// player/session identifier supplied at connect time; it is not validated
// or refreshed here.
type Dialer interface {
	Dial(ctx context.Context, credential string, h Handlers) (Transport, error)
}
