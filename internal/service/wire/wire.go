// Package wire converts stored records to protocol payloads.
package wire

import (
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/store"
)

// User converts a stored user.
func User(u *store.User, online bool) proto.UserData {
	if u == nil {
		return proto.UserData{}
	}
	return proto.UserData{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Level:       u.Level,
		Online:      online,
	}
}

// Message converts a stored message with its sender.
func Message(m *store.Message, sender *store.User) proto.MessageData {
	typ := "global"
	if m.ConversationID != "" {
		typ = "direct"
	}
	from := User(sender, false)
	if from.ID == "" {
		from.ID = m.SenderID
	}
	return proto.MessageData{
		ID:             m.ID,
		TempID:         m.TempID,
		Content:        m.Content,
		Sender:         from,
		Type:           typ,
		ConversationID: m.ConversationID,
		RoomID:         m.RoomID,
		ReplyTo:        m.ReplyTo,
		Status:         "sent",
		Edited:         m.Edited,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// Conversation converts a conversation summary. online reports presence
// for participants.
func Conversation(c *store.ConversationSummary, online func(string) bool) proto.ConversationData {
	out := proto.ConversationData{
		ID:          c.ID,
		UnreadCount: c.UnreadCount,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	senders := make(map[string]*store.User, len(c.Participants))
	for i := range c.Participants {
		p := &c.Participants[i]
		senders[p.ID] = p
		out.Participants = append(out.Participants, User(p, online != nil && online(p.ID)))
	}
	if c.LastMessage != nil {
		last := Message(c.LastMessage, senders[c.LastMessage.SenderID])
		out.LastMessage = &last
	}
	return out
}

// DMRequest converts a DM request with both parties.
func DMRequest(r *store.DMRequest, requester, recipient *store.User) proto.DMRequestData {
	from := User(requester, false)
	if from.ID == "" {
		from.ID = r.RequesterID
	}
	to := User(recipient, false)
	if to.ID == "" {
		to.ID = r.RecipientID
	}
	return proto.DMRequestData{
		ID:             r.ID,
		Requester:      from,
		Recipient:      to,
		Message:        r.Message,
		Status:         string(r.Status),
		ConversationID: r.ConversationID,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
