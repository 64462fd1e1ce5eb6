package client

// State is one point in the connection lifecycle.
type State int

const (
	// StateDisconnected is the initial state, and the state after a
	// failed first connection attempt.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateHandshaking means the socket is up and the handshake
	// response is pending.
	StateHandshaking

	// StateReady means the link is established; display writes and
	// queries are accepted.
	StateReady

	// StateReconnecting means the link was lost and a retry is
	// scheduled.
	StateReconnecting

	// StateClosed is terminal; the connection was shut down by the
	// caller.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return "Invalid"
	}
}
