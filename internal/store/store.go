package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a chat user of the development backend.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Level       int
	CreatedAt   time.Time
}

// Conversation is a direct conversation between two users.
type Conversation struct {
	ID        string
	DirectKey string // "dm:{minUserID}:{maxUserID}"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	Conversation
	Participants []User
	LastMessage  *Message
	UnreadCount  int
}

// Message represents a persisted chat message. Exactly one of RoomID and
// ConversationID is set.
type Message struct {
	ID             string
	TempID         string
	RoomID         string
	ConversationID string
	SenderID       string
	Content        string
	ReplyTo        string
	Edited         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DMRequestStatus defines DM request status.
type DMRequestStatus string

const (
	DMRequestPending  DMRequestStatus = "pending"
	DMRequestAccepted DMRequestStatus = "accepted"
	DMRequestDeclined DMRequestStatus = "declined"
	DMRequestExpired  DMRequestStatus = "expired"
)

// DMRequest asks a user to open a direct conversation.
type DMRequest struct {
	ID             string
	RequesterID    string
	RecipientID    string
	Message        string
	Status         DMRequestStatus
	ConversationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Moderation is an action a moderator applied to a user in a room.
type Moderation struct {
	ID          string
	RoomID      string
	UserID      string
	ModeratorID string
	Action      string
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means permanent
}

// Active reports whether the action still applies at now.
func (m Moderation) Active(now time.Time) bool {
	return m.ExpiresAt.IsZero() || now.Before(m.ExpiresAt)
}

// Report flags a message for review.
type Report struct {
	ID         string
	MessageID  string
	ReporterID string
	Reason     string
	CreatedAt  time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// UpsertUser returns the user with username, creating it when missing.
	UpsertUser(ctx context.Context, username, displayName string) (*User, error)

	GetUserByID(ctx context.Context, id string) (*User, error)

	// SearchUsers returns users whose username or display name contains query.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// ConversationStore handles direct conversations and read state.
type ConversationStore interface {
	// GetOrCreateDirect returns the conversation between the two users.
	GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, bool, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns the user's conversations, most recent first.
	ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error)

	ListParticipants(ctx context.Context, conversationID string) ([]string, error)

	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// MarkRead records that userID has read up to messageID.
	MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error

	GetMessage(ctx context.Context, id string) (*Message, error)

	UpdateMessage(ctx context.Context, id, content string, at time.Time) (*Message, error)

	DeleteMessage(ctx context.Context, id string) error

	// ListRoomMessages returns up to limit messages oldest first, older than beforeID if set.
	ListRoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]*Message, error)

	ListConversationMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]*Message, error)
}

// DMRequestStore handles DM request persistence.
type DMRequestStore interface {
	CreateDMRequest(ctx context.Context, req *DMRequest) error

	GetDMRequest(ctx context.Context, id string) (*DMRequest, error)

	// FindPendingDMRequest returns the pending request between the two users in either direction.
	FindPendingDMRequest(ctx context.Context, userA, userB string) (*DMRequest, error)

	ListPendingDMRequests(ctx context.Context, recipientID string) ([]*DMRequest, error)

	UpdateDMRequest(ctx context.Context, id string, status DMRequestStatus, conversationID string) error

	// ExpireDMRequests marks pending requests past their expiry and returns them.
	ExpireDMRequests(ctx context.Context, now time.Time) ([]*DMRequest, error)
}

// ModerationStore handles moderation actions and reports.
type ModerationStore interface {
	SaveModeration(ctx context.Context, m *Moderation) error

	// ActiveModerations returns actions against userID in roomID still in force at now.
	ActiveModerations(ctx context.Context, roomID, userID string, now time.Time) ([]*Moderation, error)

	SaveReport(ctx context.Context, r *Report) error
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	DMRequestStore
	ModerationStore

	Close() error
}
