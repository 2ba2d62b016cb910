package client

// ConnectionState is the lifecycle state of the socket.
type ConnectionState int

const (
	// StateDisconnected means no socket has been opened yet.
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateReconnecting means the socket dropped and a retry is pending.
	StateReconnecting
	// StateError means reconnection gave up.
	StateError
	// StateClosed means the socket was closed by Close or Logout.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent describes a state transition.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error
}
