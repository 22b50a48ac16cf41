// Package transport defines the persistent connection the session runs on.
package transport

import (
	"context"
	"errors"

	"github.com/vovakirdan/citychat/internal/proto"
)

// Close reasons reported by connections.
const (
	// ReasonClientClose means the local side closed the connection on purpose.
	ReasonClientClose = "client disconnect"
	// ReasonServerClose means the server closed the connection normally.
	ReasonServerClose = "server disconnect"
	// ReasonTransportError means the connection broke.
	ReasonTransportError = "transport error"
)

// ErrClosed is returned by a connection after Close.
var ErrClosed = errors.New("connection closed")

// Conn is one live connection carrying named events.
type Conn interface {
	// Read blocks until the next frame arrives.
	Read(ctx context.Context) (proto.Envelope, error)
	// Write sends one named event.
	Write(ctx context.Context, event string, data any) error
	// Close shuts the connection down with a reason.
	Close(reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// CloseError carries the reason a connection ended.
type CloseError struct {
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// Reason extracts the close reason from a read error.
func Reason(err error) string {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	if errors.Is(err, ErrClosed) {
		return ReasonClientClose
	}
	return ReasonTransportError
}
