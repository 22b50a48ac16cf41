package core

// TypingIndicator reports that a user started or stopped typing in a scope.
type TypingIndicator struct {
	Scope    Scope
	UserID   string
	Username string
}

// Presence reports a user's online state change.
type Presence struct {
	UserID   string
	Username string
	Online   bool
}

// RoomUserCount reports how many users are in a room.
type RoomUserCount struct {
	RoomID string
	Count  int
}

// NotificationKind names the payload carried by a notification envelope.
type NotificationKind string

const (
	NotificationDMRequest         NotificationKind = "dm_request"
	NotificationDMRequestAccepted NotificationKind = "dm_request_accepted"
	NotificationDMRequestDeclined NotificationKind = "dm_request_declined"
	NotificationDMRequestExpired  NotificationKind = "dm_request_expired"
	NotificationModeration        NotificationKind = "moderation"
	NotificationSystem            NotificationKind = "system"
)

// Notification is the generic server notification envelope.
type Notification struct {
	Kind      NotificationKind
	Title     string
	Message   string
	DMRequest *DMRequest
}

// ChatUpdateKind tells views which part of the chat state changed.
type ChatUpdateKind string

const (
	UpdateMessages      ChatUpdateKind = "messages"
	UpdateConversations ChatUpdateKind = "conversations"
	UpdateDMRequests    ChatUpdateKind = "dm_requests"
	UpdatePresence      ChatUpdateKind = "presence"
	UpdateTyping        ChatUpdateKind = "typing"
)

// ChatUpdate is emitted after the reconciler changes its collections.
type ChatUpdate struct {
	Kind  ChatUpdateKind
	Scope Scope
}
