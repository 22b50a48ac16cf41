package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/proto"
)

// Hub tracks connected clients, their rooms and per-user presence.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	users map[string]map[*Client]struct{}
	log   *zerolog.Logger
}

// NewHub creates a new hub.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		rooms: make(map[string]*Room),
		users: make(map[string]map[*Client]struct{}),
		log:   logger,
	}
}

// Register adds an authenticated client. The user's first connection
// announces them online to everybody else.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[c.UserID] = conns
	}
	conns[c] = struct{}{}

	if !ok {
		h.broadcastLocked(Outbound{
			Event: proto.EvtUserOnline,
			Data:  proto.PresenceData{UserID: c.UserID, Username: c.Username},
		}, c.UserID)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client registered")
}

// Unregister removes a client from every room. The user's last connection
// announces them offline.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range c.rooms {
		h.leaveLocked(c, roomID)
	}

	conns, ok := h.users[c.UserID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.UserID)
		h.broadcastLocked(Outbound{
			Event: proto.EvtUserOffline,
			Data:  proto.PresenceData{UserID: c.UserID, Username: c.Username},
		}, c.UserID)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client unregistered")
}

// Join adds the client to a room and publishes the new user count to the
// room. Returns false if the client was already in it.
func (h *Hub) Join(c *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		h.rooms[roomID] = room
	}
	if !room.AddClient(c) {
		return false
	}
	c.rooms[roomID] = struct{}{}
	h.publishCountLocked(room)
	return true
}

// Leave removes the client from a room. Returns false if it was not in it.
func (h *Hub) Leave(c *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, roomID)
}

// RemoveUser takes every connection of userID out of a room.
func (h *Hub) RemoveUser(userID, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.users[userID] {
		if h.leaveLocked(c, roomID) {
			n++
		}
	}
	return n
}

func (h *Hub) leaveLocked(c *Client, roomID string) bool {
	room, ok := h.rooms[roomID]
	if !ok || !room.RemoveClient(c) {
		return false
	}
	delete(c.rooms, roomID)
	if room.Empty() {
		delete(h.rooms, roomID)
		return true
	}
	h.publishCountLocked(room)
	return true
}

func (h *Hub) publishCountLocked(room *Room) {
	room.Broadcast(Outbound{
		Event: proto.EvtRoomUserCount,
		Data:  proto.RoomUserCountData{RoomID: room.ID, Count: room.UserCount()},
	}, nil)
}

// InRoom reports whether the client is in the room.
func (h *Hub) InRoom(c *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// BroadcastRoom sends an event to every client in the room except one.
func (h *Hub) BroadcastRoom(roomID string, out Outbound, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if dropped := room.Broadcast(out, except); dropped > 0 {
		h.log.Warn().Str("room_id", roomID).Str("event", out.Event).Int("dropped", dropped).Msg("slow consumers dropped event")
	}
}

// SendUser sends an event to every connection of userID.
func (h *Hub) SendUser(userID string, out Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.users[userID] {
		if !c.deliver(out) {
			h.log.Warn().Str("user_id", userID).Str("event", out.Event).Msg("slow consumer dropped event")
		}
	}
}

// SendUserExcept is SendUser that skips one connection.
func (h *Hub) SendUserExcept(userID string, out Outbound, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.users[userID] {
		if c != except {
			c.deliver(out)
		}
	}
}

func (h *Hub) broadcastLocked(out Outbound, skipUser string) {
	for userID, conns := range h.users {
		if userID == skipUser {
			continue
		}
		for c := range conns {
			c.deliver(out)
		}
	}
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// RoomUserCount returns the number of distinct users in a room.
func (h *Hub) RoomUserCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[roomID]; ok {
		return room.UserCount()
	}
	return 0
}
