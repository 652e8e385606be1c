package conn

// State represents the current state of the managed connection.
type State int

const (
	// StateIdle means no connection exists and none is being attempted.
	StateIdle State = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateConnected means the link is up.
	StateConnected

	// StateReconnecting means the link dropped and the transport is
	// attempting automatic recovery.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
