package events

import "time"

// Name identifies a stream of events on the bus.
type Name string

// Connection lifecycle events. Payloads are the structs below.
const (
	Connecting      Name = "connecting"       // ConnectingPayload
	Connected       Name = "connected"        // ConnectedPayload
	Disconnected    Name = "disconnected"     // DisconnectedPayload
	Reconnecting    Name = "reconnecting"     // ReconnectingPayload
	ConnectionError Name = "connection_error" // ConnectionErrorPayload
	Authenticated   Name = "authenticated"    // AuthenticatedPayload
	AuthError       Name = "auth_error"       // AuthErrorPayload
)

// Chat domain events. Payloads are core types.
const (
	MessageNew           Name = "message:new"            // core.Message
	GlobalMessageNew     Name = "global:message:new"     // core.Message
	DirectMessageNew     Name = "direct:message:new"     // core.Message
	MessageEdited        Name = "message:edited"         // core.Message
	GlobalMessageEdited  Name = "global:message:edited"  // core.Message
	DirectMessageEdited  Name = "direct:message:edited"  // core.Message
	MessageDeleted       Name = "message:deleted"        // core.MessageDeletion
	GlobalMessageDeleted Name = "global:message:deleted" // core.MessageDeletion
	DirectMessageDeleted Name = "direct:message:deleted" // core.MessageDeletion
	ConversationRead     Name = "conversation:read"      // core.ReadReceipt
	ConversationNew      Name = "conversation:new"       // core.Conversation
	TypingStart          Name = "typing:start"           // core.TypingIndicator
	TypingStop           Name = "typing:stop"            // core.TypingIndicator
	UserOnline           Name = "presence:online"        // core.Presence
	UserOffline          Name = "presence:offline"       // core.Presence
	RoomUserCount        Name = "room:user_count"        // core.RoomUserCount
	Notification         Name = "notification"           // core.Notification
	DMRequestReceived    Name = "dm_request:received"    // core.DMRequest
	DMRequestAccepted    Name = "dm_request:accepted"    // core.DMRequest
	DMRequestDeclined    Name = "dm_request:declined"    // core.DMRequest
	DMRequestExpired     Name = "dm_request:expired"     // core.DMRequest
	ServerError          Name = "server:error"           // *core.Error
	ChatUpdated          Name = "chat:updated"           // core.ChatUpdate
)

// ConnectingPayload is emitted when a dial starts.
type ConnectingPayload struct {
	Attempt int
}

// ConnectedPayload is emitted when the transport comes up.
type ConnectedPayload struct{}

// DisconnectedPayload is emitted whenever the transport goes down.
type DisconnectedPayload struct {
	Reason      string
	Intentional bool
	Err         error
}

// ReconnectingPayload is emitted when a reconnect is scheduled.
type ReconnectingPayload struct {
	Attempt int
	Delay   time.Duration
}

// ConnectionErrorPayload is emitted when the manager gives up reconnecting.
type ConnectionErrorPayload struct {
	Attempts int
	Err      error
}

// AuthenticatedPayload is emitted when the server accepts the token.
type AuthenticatedPayload struct {
	UserID   string
	Username string
}

// AuthErrorPayload is emitted when the server rejects the token.
type AuthErrorPayload struct {
	Message string
}
