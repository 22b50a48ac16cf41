// Package session owns the chat connection: dialing, reconnecting with
// backoff, the authentication handshake and room membership.
package session

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	State         State
	Connected     bool
	Authenticated bool
	// Attempts is the number of reconnect attempts since the last successful dial.
	Attempts     int
	PendingJoins []string
	JoinedRooms  []string
	// GaveUp is set once the reconnect budget is spent. Only Connect clears it.
	GaveUp bool
}
