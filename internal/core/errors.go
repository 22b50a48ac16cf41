package core

import (
	"errors"
	"fmt"
	"time"
)

// Error codes shared by the client and the development backend.
const (
	ErrCodeNotConnected     = "not_connected"
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeForbidden        = "forbidden"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeModerated        = "moderation_blocked"
	ErrCodeMuted            = "muted"
	ErrCodeInternal         = "internal_error"
)

var (
	// ErrNotConnected is returned when a command needs a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrNotAuthenticated is returned when a privileged command runs before the handshake.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEmptyContent is returned for blank message bodies.
	ErrEmptyContent = errors.New("message content is empty")
)

// ErrorKind groups request failures by how the user should be told about them.
type ErrorKind string

const (
	KindRateLimit    ErrorKind = "rate_limit"
	KindModeration   ErrorKind = "moderation"
	KindPermission   ErrorKind = "permission"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindServer       ErrorKind = "server"
	KindNetwork      ErrorKind = "network"
)

// ModerationVerdict is the server's explanation for a blocked message.
type ModerationVerdict struct {
	Reason      string
	CleanedText string
	Flags       []string
}

// Error wraps a code and human-readable message for a rejected request.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Moderation *ModerationVerdict
	Err        error
}

func (e *Error) Error() string {
	if e.Moderation != nil {
		return fmt.Sprintf("blocked: %s, suggested: %s", e.Moderation.Reason, e.Moderation.CleanedText)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded error.
func NewError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// ValidationError reports a request rejected before it left the client.
func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Code: ErrCodeBadRequest, Message: msg}
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindPermission
	case status == 404:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}
