package session

// authGate tracks the handshake for the current connection. It is
// guarded by the Manager's mutex.
type authGate struct {
	token         string
	authenticated bool
	inFlight      bool
	userID        string
	username      string
}

// begin marks a handshake as sent. It returns false when one is already
// running or done.
func (g *authGate) begin() bool {
	if g.authenticated || g.inFlight || g.token == "" {
		return false
	}
	g.inFlight = true
	return true
}

func (g *authGate) succeed(userID, username string) {
	g.authenticated = true
	g.inFlight = false
	g.userID = userID
	g.username = username
}

func (g *authGate) fail() {
	g.authenticated = false
	g.inFlight = false
}

// reset forgets per-connection state. The token survives.
func (g *authGate) reset() {
	g.authenticated = false
	g.inFlight = false
}
