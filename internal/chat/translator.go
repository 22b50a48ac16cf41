// Package chat turns user intents into wire commands, turns wire events
// into domain events, and keeps the reconciled chat state.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/session"
)

// Sender writes commands to the session.
type Sender interface {
	Send(ctx context.Context, event string, data any) error
	SendAuthenticated(ctx context.Context, event string, data any) error
}

// FrameSource delivers inbound frames.
type FrameSource interface {
	OnFrame(h session.FrameHandler)
}

// Translator encodes outbound commands and republishes inbound frames as
// domain events on the bus.
type Translator struct {
	conn   Sender
	bus    *events.Bus
	log    *zerolog.Logger
	typing *TypingDebouncer
}

// TranslatorOptions configure a Translator.
type TranslatorOptions struct {
	Sender        Sender
	Bus           *events.Bus
	Logger        *zerolog.Logger
	Clock         clock.Clock
	TypingTimeout time.Duration
}

// NewTranslator builds a translator writing through opts.Sender.
func NewTranslator(opts TranslatorOptions) *Translator {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Translator{
		conn:   opts.Sender,
		bus:    opts.Bus,
		log:    logger,
		typing: NewTypingDebouncer(opts.Sender, opts.Clock, opts.TypingTimeout, logger),
	}
}

// Attach starts decoding frames from src.
func (t *Translator) Attach(src FrameSource) {
	src.OnFrame(t.HandleFrame)
}

// Typing returns the debouncer used for typing indicators.
func (t *Translator) Typing() *TypingDebouncer {
	return t.typing
}

// SendMessage validates out, stops typing in its scope and sends it.
func (t *Translator) SendMessage(ctx context.Context, out core.Outgoing) error {
	if err := out.Validate(); err != nil {
		return err
	}
	t.typing.Stop(ctx, out.Scope)

	typ := out.Type
	if typ == "" {
		typ = core.MessageTypeGlobal
		if out.Scope.Direct() {
			typ = core.MessageTypeDirect
		}
	}
	return t.conn.SendAuthenticated(ctx, proto.CmdSendMessage, proto.SendMessageData{
		Content:        strings.TrimSpace(out.Content),
		Type:           string(typ),
		ConversationID: out.Scope.ConversationID,
		RoomID:         out.Scope.RoomID,
		ReplyTo:        out.ReplyTo,
		TempID:         out.TempID,
	})
}

// EditMessage replaces the body of messageID.
func (t *Translator) EditMessage(ctx context.Context, messageID, content string) error {
	if messageID == "" {
		return core.ValidationError("message id is required")
	}
	if strings.TrimSpace(content) == "" {
		return &core.Error{Kind: core.KindValidation, Code: core.ErrCodeBadRequest, Message: core.ErrEmptyContent.Error(), Err: core.ErrEmptyContent}
	}
	return t.conn.SendAuthenticated(ctx, proto.CmdEditMessage, proto.EditMessageData{
		MessageID: messageID,
		Content:   strings.TrimSpace(content),
	})
}

func (t *Translator) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return core.ValidationError("message id is required")
	}
	return t.conn.SendAuthenticated(ctx, proto.CmdDeleteMessage, proto.DeleteMessageData{MessageID: messageID})
}

// MarkRead marks conversationID read up to messageID.
func (t *Translator) MarkRead(ctx context.Context, conversationID, messageID string) error {
	if messageID == "" {
		return core.ValidationError("message id is required")
	}
	return t.conn.SendAuthenticated(ctx, proto.CmdMarkRead, proto.MarkReadData{
		MessageID:      messageID,
		ConversationID: conversationID,
	})
}

// Moderate sends a moderation command for a user in a room.
func (t *Translator) Moderate(ctx context.Context, m core.Moderation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return t.conn.SendAuthenticated(ctx, proto.CmdModerateUser, proto.ModerateData{
		RoomID:   m.RoomID,
		UserID:   m.UserID,
		Action:   string(m.Action),
		Duration: int(m.Duration / time.Second),
		Reason:   m.Reason,
	})
}

// Keystroke reports typing activity in scope.
func (t *Translator) Keystroke(ctx context.Context, scope core.Scope) error {
	return t.typing.Keystroke(ctx, scope)
}

// StopTyping ends the typing indicator in scope right away.
func (t *Translator) StopTyping(ctx context.Context, scope core.Scope) {
	t.typing.Stop(ctx, scope)
}

// HandleFrame decodes env and emits the matching domain events. Unknown
// events and undecodable payloads are logged and dropped.
func (t *Translator) HandleFrame(env proto.Envelope) {
	if err := t.handle(env); err != nil {
		t.log.Warn().Err(err).Str("event", env.Event).Msg("drop inbound frame")
	}
}

func (t *Translator) handle(env proto.Envelope) error {
	switch env.Event {
	case proto.EvtNewGlobalMessage, proto.EvtNewMessage:
		var d proto.MessageData
		if err := env.Bind(&d); err != nil {
			return err
		}
		msg := proto.ToMessage(d)
		alias := events.GlobalMessageNew
		if env.Event == proto.EvtNewMessage {
			alias = events.DirectMessageNew
			if msg.Type == "" {
				msg.Type = core.MessageTypeDirect
			}
		} else if msg.Type == "" {
			msg.Type = core.MessageTypeGlobal
		}
		t.bus.Emit(events.MessageNew, msg)
		t.bus.Emit(alias, msg)

	case proto.EvtGlobalMessageEdited, proto.EvtMessageEdited:
		var d proto.MessageData
		if err := env.Bind(&d); err != nil {
			return err
		}
		msg := proto.ToMessage(d)
		msg.Edited = true
		alias := events.GlobalMessageEdited
		if env.Event == proto.EvtMessageEdited {
			alias = events.DirectMessageEdited
		}
		t.bus.Emit(events.MessageEdited, msg)
		t.bus.Emit(alias, msg)

	case proto.EvtGlobalMessageDeleted, proto.EvtMessageDeleted:
		var d proto.MessageDeletedData
		if err := env.Bind(&d); err != nil {
			return err
		}
		del := core.MessageDeletion{MessageID: d.MessageID, RoomID: d.RoomID, ConversationID: d.ConversationID}
		alias := events.GlobalMessageDeleted
		if env.Event == proto.EvtMessageDeleted {
			alias = events.DirectMessageDeleted
		}
		t.bus.Emit(events.MessageDeleted, del)
		t.bus.Emit(alias, del)

	case proto.EvtConversationRead:
		var d proto.ConversationReadData
		if err := env.Bind(&d); err != nil {
			return err
		}
		t.bus.Emit(events.ConversationRead, core.ReadReceipt{
			ConversationID: d.ConversationID,
			UserID:         d.UserID,
			MessageID:      d.MessageID,
			ReadAt:         d.ReadAt,
		})

	case proto.EvtNewConversation:
		var d proto.ConversationData
		if err := env.Bind(&d); err != nil {
			return err
		}
		t.bus.Emit(events.ConversationNew, proto.ToConversation(d))

	case proto.EvtUserTyping, proto.EvtUserStoppedTyping:
		var d proto.TypingData
		if err := env.Bind(&d); err != nil {
			return err
		}
		name := events.TypingStart
		if env.Event == proto.EvtUserStoppedTyping {
			name = events.TypingStop
		}
		t.bus.Emit(name, proto.ToTyping(d))

	case proto.EvtUserOnline, proto.EvtUserOffline:
		var d proto.PresenceData
		if err := env.Bind(&d); err != nil {
			return err
		}
		online := env.Event == proto.EvtUserOnline
		name := events.UserOffline
		if online {
			name = events.UserOnline
		}
		t.bus.Emit(name, core.Presence{UserID: d.UserID, Username: d.Username, Online: online})

	case proto.EvtRoomUserCount:
		var d proto.RoomUserCountData
		if err := env.Bind(&d); err != nil {
			return err
		}
		t.bus.Emit(events.RoomUserCount, core.RoomUserCount{RoomID: d.RoomID, Count: d.Count})

	case proto.EvtNotification:
		var d proto.NotificationData
		if err := env.Bind(&d); err != nil {
			return err
		}
		n := proto.ToNotification(d)
		t.bus.Emit(events.Notification, n)
		if name, ok := dmRequestEvent(n.Kind); ok {
			if n.DMRequest == nil {
				return fmt.Errorf("%s notification without request", n.Kind)
			}
			t.bus.Emit(name, *n.DMRequest)
		}

	case proto.EvtError:
		var d proto.Error
		if err := env.Bind(&d); err != nil {
			return err
		}
		t.bus.Emit(events.ServerError, proto.ToError(d))

	default:
		t.log.Debug().Str("event", env.Event).Msg("unhandled inbound event")
	}
	return nil
}

func dmRequestEvent(kind core.NotificationKind) (events.Name, bool) {
	switch kind {
	case core.NotificationDMRequest:
		return events.DMRequestReceived, true
	case core.NotificationDMRequestAccepted:
		return events.DMRequestAccepted, true
	case core.NotificationDMRequestDeclined:
		return events.DMRequestDeclined, true
	case core.NotificationDMRequestExpired:
		return events.DMRequestExpired, true
	}
	return "", false
}
