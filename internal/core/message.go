package core

import "time"

// MessageType tells which kind of room a message belongs to.
type MessageType string

const (
	MessageTypeDirect MessageType = "direct"
	MessageTypeGlobal MessageType = "global"
	MessageTypeSystem MessageType = "system"
)

// MessageStatus is the delivery status of a message.
type MessageStatus string

const (
	// StatusPending marks an optimistic placeholder that the server has not confirmed yet.
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusDeleted   MessageStatus = "deleted"
)

// Sender identifies the author of a message.
type Sender struct {
	ID          string
	DisplayName string
	Level       int
}

// Message is the domain model for a chat message.
type Message struct {
	ID             string
	TempID         string
	Content        string
	Sender         Sender
	Type           MessageType
	ConversationID string
	RoomID         string
	ReplyTo        string
	Status         MessageStatus
	Edited         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scope returns the list the message is displayed in.
func (m Message) Scope() Scope {
	if m.ConversationID != "" {
		return Scope{ConversationID: m.ConversationID}
	}
	return Scope{RoomID: m.RoomID}
}

// Pending reports whether the message is an unconfirmed placeholder.
func (m Message) Pending() bool {
	return m.Status == StatusPending
}

// Scope points at either a direct conversation or a channel room.
type Scope struct {
	RoomID         string
	ConversationID string
}

// Key returns a stable map key for the scope.
func (s Scope) Key() string {
	if s.ConversationID != "" {
		return "conversation:" + s.ConversationID
	}
	return "room:" + s.RoomID
}

// Direct reports whether the scope is a DM conversation.
func (s Scope) Direct() bool {
	return s.ConversationID != ""
}

// Empty reports whether neither id is set.
func (s Scope) Empty() bool {
	return s.RoomID == "" && s.ConversationID == ""
}

// MessageDeletion describes a removed message and the list it was removed from.
type MessageDeletion struct {
	MessageID      string
	RoomID         string
	ConversationID string
}

// Scope returns the deletion's scope hint.
func (d MessageDeletion) Scope() Scope {
	return Scope{RoomID: d.RoomID, ConversationID: d.ConversationID}
}
