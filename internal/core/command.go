package core

import (
	"fmt"
	"strings"
	"time"
)

// ModerationAction is what a moderator wants to do to a user in a room.
type ModerationAction string

const (
	ModerationTimeout ModerationAction = "timeout"
	ModerationMute    ModerationAction = "mute"
	ModerationKick    ModerationAction = "kick"
	ModerationBan     ModerationAction = "ban"
)

// Valid reports whether a is a known action.
func (a ModerationAction) Valid() bool {
	switch a {
	case ModerationTimeout, ModerationMute, ModerationKick, ModerationBan:
		return true
	}
	return false
}

// Timed reports whether the action takes a duration.
func (a ModerationAction) Timed() bool {
	return a == ModerationTimeout || a == ModerationMute
}

// Moderation is a moderation command against a user in a room.
type Moderation struct {
	RoomID   string
	UserID   string
	Action   ModerationAction
	Duration time.Duration // zero means permanent or not applicable
	Reason   string
}

// Validate checks the command before it is sent.
func (m Moderation) Validate() error {
	if m.RoomID == "" || m.UserID == "" {
		return ValidationError("room and user are required")
	}
	if !m.Action.Valid() {
		return ValidationError(fmt.Sprintf("unknown moderation action %q", m.Action))
	}
	if m.Duration < 0 {
		return ValidationError("duration must not be negative")
	}
	return nil
}

// Outgoing is a message the user wants to send.
type Outgoing struct {
	Content string
	Type    MessageType
	Scope   Scope
	ReplyTo string
	TempID  string
}

// Validate checks the message before it is sent.
func (o Outgoing) Validate() error {
	if strings.TrimSpace(o.Content) == "" {
		return &Error{Kind: KindValidation, Code: ErrCodeBadRequest, Message: ErrEmptyContent.Error(), Err: ErrEmptyContent}
	}
	if o.Scope.Empty() {
		return ValidationError("room or conversation is required")
	}
	return nil
}
