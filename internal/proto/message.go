package proto

import "time"

const (
	ProtocolVersion = 1

	// Client → server commands.
	CmdAuthenticate  = "authenticate"
	CmdSendMessage   = "send_message"
	CmdEditMessage   = "edit_message"
	CmdDeleteMessage = "delete_message"
	CmdMarkRead      = "mark_read"
	CmdJoinRoom      = "join_room"
	CmdLeaveRoom     = "leave_room"
	CmdTypingStart   = "typing_start"
	CmdTypingStop    = "typing_stop"
	CmdModerateUser  = "moderate_user"

	// Server → client events.
	EvtAuthenticated        = "authenticated"
	EvtAuthError            = "auth_error"
	EvtNewMessage           = "new_message"
	EvtNewGlobalMessage     = "new_global_message"
	EvtMessageEdited        = "message_edited"
	EvtGlobalMessageEdited  = "global_message_edited"
	EvtMessageDeleted       = "message_deleted"
	EvtGlobalMessageDeleted = "global_message_deleted"
	EvtConversationRead     = "conversation_read"
	EvtNewConversation      = "new_conversation"
	EvtUserTyping           = "user_typing"
	EvtUserStoppedTyping    = "user_stopped_typing"
	EvtUserOnline           = "user_online"
	EvtUserOffline          = "user_offline"
	EvtRoomUserCount        = "room_user_count"
	EvtNotification         = "notification"
	EvtError                = "error"
)

// AuthenticateData carries the bearer token for the handshake.
type AuthenticateData struct {
	Token    string `json:"token" msgpack:"token"`
	Protocol int    `json:"protocol,omitempty" msgpack:"protocol,omitempty"`
}

// AuthenticatedData acknowledges a successful handshake.
type AuthenticatedData struct {
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username" msgpack:"username"`
}

// AuthErrorData rejects a handshake.
type AuthErrorData struct {
	Message string `json:"message" msgpack:"message"`
}

// UserData describes a user on the wire.
type UserData struct {
	ID          string `json:"id" msgpack:"id"`
	Username    string `json:"username,omitempty" msgpack:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
	Level       int    `json:"level,omitempty" msgpack:"level,omitempty"`
	Online      bool   `json:"online,omitempty" msgpack:"online,omitempty"`
}

// MessageData is a chat message on the wire.
type MessageData struct {
	ID             string    `json:"id" msgpack:"id"`
	TempID         string    `json:"tempId,omitempty" msgpack:"tempId,omitempty"`
	Content        string    `json:"content" msgpack:"content"`
	Sender         UserData  `json:"sender" msgpack:"sender"`
	Type           string    `json:"type" msgpack:"type"`
	ConversationID string    `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
	RoomID         string    `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	ReplyTo        string    `json:"replyTo,omitempty" msgpack:"replyTo,omitempty"`
	Status         string    `json:"status,omitempty" msgpack:"status,omitempty"`
	Edited         bool      `json:"edited,omitempty" msgpack:"edited,omitempty"`
	CreatedAt      time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt,omitempty"`
}

// SendMessageData asks the server to post a message.
type SendMessageData struct {
	Content        string `json:"content" msgpack:"content"`
	Type           string `json:"type" msgpack:"type"`
	ConversationID string `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
	RoomID         string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty" msgpack:"replyTo,omitempty"`
	TempID         string `json:"tempId,omitempty" msgpack:"tempId,omitempty"`
}

// EditMessageData replaces a message body.
type EditMessageData struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	Content   string `json:"content" msgpack:"content"`
}

// DeleteMessageData removes a message.
type DeleteMessageData struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
}

// MarkReadData marks a conversation read up to a message.
type MarkReadData struct {
	MessageID      string `json:"messageId" msgpack:"messageId"`
	ConversationID string `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
}

// RoomData names a room to join or leave.
type RoomData struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
}

// TypingData is a typing indicator in either direction.
type TypingData struct {
	RoomID         string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	ConversationID string `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty" msgpack:"userId,omitempty"`
	Username       string `json:"username,omitempty" msgpack:"username,omitempty"`
}

// ModerateData asks the server to moderate a user in a room.
type ModerateData struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	UserID   string `json:"userId" msgpack:"userId"`
	Action   string `json:"action" msgpack:"action"`
	Duration int    `json:"duration,omitempty" msgpack:"duration,omitempty"` // seconds
	Reason   string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// MessageDeletedData reports a removed message and its scope.
type MessageDeletedData struct {
	MessageID      string `json:"messageId" msgpack:"messageId"`
	RoomID         string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	ConversationID string `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
}

// ConversationReadData acknowledges a read.
type ConversationReadData struct {
	ConversationID string    `json:"conversationId" msgpack:"conversationId"`
	UserID         string    `json:"userId" msgpack:"userId"`
	MessageID      string    `json:"messageId,omitempty" msgpack:"messageId,omitempty"`
	ReadAt         time.Time `json:"readAt" msgpack:"readAt"`
}

// ConversationData is a DM conversation on the wire.
type ConversationData struct {
	ID           string       `json:"id" msgpack:"id"`
	Participants []UserData   `json:"participants" msgpack:"participants"`
	LastMessage  *MessageData `json:"lastMessage,omitempty" msgpack:"lastMessage,omitempty"`
	UnreadCount  int          `json:"unreadCount" msgpack:"unreadCount"`
	CreatedAt    time.Time    `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt" msgpack:"updatedAt"`
}

// ChannelData describes a broadcast room.
type ChannelData struct {
	ID        string `json:"id" msgpack:"id"`
	Name      string `json:"name" msgpack:"name"`
	UserCount int    `json:"userCount" msgpack:"userCount"`
}

// PresenceData reports a user going online or offline.
type PresenceData struct {
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
}

// RoomUserCountData reports room occupancy.
type RoomUserCountData struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
	Count  int    `json:"count" msgpack:"count"`
}

// DMRequestData is a DM request on the wire.
type DMRequestData struct {
	ID             string    `json:"id" msgpack:"id"`
	Requester      UserData  `json:"requester" msgpack:"requester"`
	Recipient      UserData  `json:"recipient" msgpack:"recipient"`
	Message        string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Status         string    `json:"status" msgpack:"status"`
	ConversationID string    `json:"conversationId,omitempty" msgpack:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt" msgpack:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty" msgpack:"expiresAt,omitempty"`
}

// NotificationData is the generic notification envelope.
type NotificationData struct {
	Kind      string         `json:"kind" msgpack:"kind"`
	Title     string         `json:"title,omitempty" msgpack:"title,omitempty"`
	Message   string         `json:"message,omitempty" msgpack:"message,omitempty"`
	DMRequest *DMRequestData `json:"dmRequest,omitempty" msgpack:"dmRequest,omitempty"`
}

// Error describes a protocol-level error.
type Error struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}
