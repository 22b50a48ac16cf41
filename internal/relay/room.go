package relay

// Room groups clients subscribed to the same channel or conversation.
type Room struct {
	ID      string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to all clients in the room except one.
func (r *Room) Broadcast(out Outbound, except *Client) (dropped int) {
	for client := range r.clients {
		if client == except {
			continue
		}
		if !client.deliver(out) {
			dropped++
		}
	}
	return dropped
}

// UserCount returns the number of distinct users in the room.
func (r *Room) UserCount() int {
	users := make(map[string]struct{}, len(r.clients))
	for c := range r.clients {
		users[c.UserID] = struct{}{}
	}
	return len(users)
}

// HasUser reports whether any connection of userID is in the room.
func (r *Room) HasUser(userID string) bool {
	for c := range r.clients {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
