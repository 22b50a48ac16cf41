package relay

// Outbound is an event queued for one connection.
type Outbound struct {
	Event string
	Data  any
}

// Client is one authenticated connection as seen by the hub.
type Client struct {
	ID       string
	UserID   string
	Username string
	Events   chan Outbound

	rooms map[string]struct{} // guarded by Hub.mu
}

// NewClient constructs a client with an event buffer of the given size.
func NewClient(id, userID, username string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	if username == "" {
		username = userID
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Events:   make(chan Outbound, buffer),
		rooms:    make(map[string]struct{}),
	}
}

// deliver queues an event without blocking. Slow consumers lose events.
func (c *Client) deliver(out Outbound) bool {
	select {
	case c.Events <- out:
		return true
	default:
		return false
	}
}
