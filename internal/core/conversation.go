package core

import "time"

// Participant is a user taking part in a conversation.
type Participant struct {
	ID          string
	Username    string
	DisplayName string
	Level       int
	Online      bool
}

// Conversation is a direct-message thread.
type Conversation struct {
	ID           string
	Participants []Participant
	LastMessage  *Message
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Other returns the first participant that is not selfID.
func (c Conversation) Other(selfID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

// Clone returns a copy that shares no mutable state with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

// Channel is a broadcast room such as the global chat.
type Channel struct {
	ID        string
	Name      string
	UserCount int
}

// ReadReceipt acknowledges that a user has read a conversation.
type ReadReceipt struct {
	ConversationID string
	UserID         string
	MessageID      string
	ReadAt         time.Time
}
