package proto

import (
	"encoding/json"
	"time"
)

// Response is the envelope every REST endpoint answers with.
type Response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
	Moderation *ModerationData `json:"moderation,omitempty"`
	RetryAfter int             `json:"retryAfter,omitempty"` // seconds
}

// ModerationData explains why content was blocked.
type ModerationData struct {
	Reason      string   `json:"reason"`
	CleanedText string   `json:"cleanedText,omitempty"`
	Flags       []string `json:"flags,omitempty"`
}

// PostMessageRequest is the body for posting to a conversation or the global channel.
type PostMessageRequest struct {
	Content string `json:"content"`
	ReplyTo string `json:"replyTo,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}

// EditMessageRequest is the body for editing a message.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// CreateConversationRequest opens a conversation with a user.
type CreateConversationRequest struct {
	UserID string `json:"userId"`
}

// CreateDMRequestRequest asks a user for a DM.
type CreateDMRequestRequest struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message,omitempty"`
}

// RespondDMRequestRequest accepts or declines a DM request.
type RespondDMRequestRequest struct {
	Accept bool `json:"accept"`
}

// RespondDMRequestResult is returned after answering a DM request.
type RespondDMRequestResult struct {
	Request      DMRequestData     `json:"request"`
	Conversation *ConversationData `json:"conversation,omitempty"`
}

// ReportRequest flags a message for review.
type ReportRequest struct {
	Reason string `json:"reason"`
}

// TokenRequest asks the development backend for a token.
type TokenRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// TokenResponse carries an issued token.
type TokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}
