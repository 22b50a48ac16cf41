package proto

import "github.com/vovakirdan/citychat/internal/core"

// ToMessage converts a wire message to the domain model.
func ToMessage(d MessageData) core.Message {
	status := core.MessageStatus(d.Status)
	if status == "" {
		status = core.StatusSent
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = d.CreatedAt
	}
	return core.Message{
		ID:      d.ID,
		TempID:  d.TempID,
		Content: d.Content,
		Sender: core.Sender{
			ID:          d.Sender.ID,
			DisplayName: displayName(d.Sender),
			Level:       d.Sender.Level,
		},
		Type:           core.MessageType(d.Type),
		ConversationID: d.ConversationID,
		RoomID:         d.RoomID,
		ReplyTo:        d.ReplyTo,
		Status:         status,
		Edited:         d.Edited,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updated,
	}
}

// FromMessage converts a domain message to its wire form.
func FromMessage(m core.Message) MessageData {
	return MessageData{
		ID:      m.ID,
		TempID:  m.TempID,
		Content: m.Content,
		Sender: UserData{
			ID:          m.Sender.ID,
			DisplayName: m.Sender.DisplayName,
			Level:       m.Sender.Level,
		},
		Type:           string(m.Type),
		ConversationID: m.ConversationID,
		RoomID:         m.RoomID,
		ReplyTo:        m.ReplyTo,
		Status:         string(m.Status),
		Edited:         m.Edited,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ToMessages converts a slice of wire messages.
func ToMessages(in []MessageData) []core.Message {
	out := make([]core.Message, 0, len(in))
	for _, d := range in {
		out = append(out, ToMessage(d))
	}
	return out
}

func displayName(u UserData) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func ToParticipant(u UserData) core.Participant {
	return core.Participant{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: displayName(u),
		Level:       u.Level,
		Online:      u.Online,
	}
}

func FromParticipant(p core.Participant) UserData {
	return UserData{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Level:       p.Level,
		Online:      p.Online,
	}
}

// ToConversation converts a wire conversation.
func ToConversation(d ConversationData) core.Conversation {
	c := core.Conversation{
		ID:          d.ID,
		UnreadCount: d.UnreadCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, p := range d.Participants {
		c.Participants = append(c.Participants, ToParticipant(p))
	}
	if d.LastMessage != nil {
		last := ToMessage(*d.LastMessage)
		c.LastMessage = &last
	}
	return c
}

// FromConversation converts a domain conversation.
func FromConversation(c core.Conversation) ConversationData {
	d := ConversationData{
		ID:           c.ID,
		Participants: make([]UserData, 0, len(c.Participants)),
		UnreadCount:  c.UnreadCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for _, p := range c.Participants {
		d.Participants = append(d.Participants, FromParticipant(p))
	}
	if c.LastMessage != nil {
		last := FromMessage(*c.LastMessage)
		d.LastMessage = &last
	}
	return d
}

func ToDMRequest(d DMRequestData) core.DMRequest {
	status := core.DMRequestStatus(d.Status)
	if status == "" {
		status = core.DMRequestPending
	}
	return core.DMRequest{
		ID:             d.ID,
		Requester:      ToParticipant(d.Requester),
		Recipient:      ToParticipant(d.Recipient),
		Message:        d.Message,
		Status:         status,
		ConversationID: d.ConversationID,
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
	}
}

func FromDMRequest(r core.DMRequest) DMRequestData {
	return DMRequestData{
		ID:             r.ID,
		Requester:      FromParticipant(r.Requester),
		Recipient:      FromParticipant(r.Recipient),
		Message:        r.Message,
		Status:         string(r.Status),
		ConversationID: r.ConversationID,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func ToChannel(d ChannelData) core.Channel {
	return core.Channel{ID: d.ID, Name: d.Name, UserCount: d.UserCount}
}

// ToNotification converts a notification and its optional DM request.
func ToNotification(d NotificationData) core.Notification {
	n := core.Notification{
		Kind:    core.NotificationKind(d.Kind),
		Title:   d.Title,
		Message: d.Message,
	}
	if d.DMRequest != nil {
		req := ToDMRequest(*d.DMRequest)
		n.DMRequest = &req
	}
	return n
}

func ToTyping(d TypingData) core.TypingIndicator {
	return core.TypingIndicator{
		Scope:    core.Scope{RoomID: d.RoomID, ConversationID: d.ConversationID},
		UserID:   d.UserID,
		Username: d.Username,
	}
}

// ToError converts a protocol error into a coded domain error.
func ToError(e Error) *core.Error {
	kind := core.KindServer
	switch e.Code {
	case core.ErrCodeRateLimited:
		kind = core.KindRateLimit
	case core.ErrCodeModerated:
		kind = core.KindModeration
	case core.ErrCodeForbidden, core.ErrCodeMuted:
		kind = core.KindPermission
	case core.ErrCodeBadRequest:
		kind = core.KindValidation
	case core.ErrCodeNotFound:
		kind = core.KindNotFound
	case core.ErrCodeUnauthorized, core.ErrCodeNotAuthenticated:
		kind = core.KindUnauthorized
	}
	return core.NewError(kind, e.Code, e.Message)
}
