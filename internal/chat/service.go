package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/utils"
)

const (
	DefaultGlobalRoom   = "global"
	DefaultHistoryLimit = 50
)

// Backend is the REST side of the chat.
type Backend interface {
	Conversations(ctx context.Context) ([]core.Conversation, error)
	CreateConversation(ctx context.Context, userID string) (core.Conversation, error)
	ConversationMessages(ctx context.Context, conversationID, before string, limit int) ([]core.Message, error)
	SendDirect(ctx context.Context, conversationID string, req proto.PostMessageRequest) (core.Message, error)
	EditDirect(ctx context.Context, conversationID, messageID, content string) (core.Message, error)
	DeleteDirect(ctx context.Context, conversationID, messageID string) error
	GlobalChannel(ctx context.Context) (core.Channel, error)
	GlobalMessages(ctx context.Context, before string, limit int) ([]core.Message, error)
	SendGlobal(ctx context.Context, req proto.PostMessageRequest) (core.Message, error)
	SearchUsers(ctx context.Context, query string) ([]core.Participant, error)
	DMRequests(ctx context.Context) ([]core.DMRequest, error)
	CreateDMRequest(ctx context.Context, recipientID, message string) (core.DMRequest, error)
	RespondDMRequest(ctx context.Context, id string, accept bool) (core.DMRequest, *core.Conversation, error)
	Moderate(ctx context.Context, m core.Moderation) error
	Report(ctx context.Context, messageID, reason string) error
}

// Rooms joins and leaves rooms on the live connection.
type Rooms interface {
	JoinRoom(ctx context.Context, id string) error
	LeaveRoom(ctx context.Context, id string) error
}

// ServiceOptions configure a Service.
type ServiceOptions struct {
	Backend      Backend
	Rooms        Rooms
	Translator   *Translator
	Reconciler   *Reconciler
	Logger       *zerolog.Logger
	GlobalRoom   string
	HistoryLimit int
	DisplayName  string
	NewTempID    func() string
}

// Service runs the user-facing chat flows on top of the REST backend, the
// live connection and the reconciler.
type Service struct {
	backend   Backend
	rooms     Rooms
	tr        *Translator
	rec       *Reconciler
	log       *zerolog.Logger
	limit     int
	name      string
	newTempID func() string

	mu         sync.RWMutex
	globalRoom string
	deferred   map[string]bool // conversations whose mark_read did not go out
}

// NewService wires the chat flows.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	global := opts.GlobalRoom
	if global == "" {
		global = DefaultGlobalRoom
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	newTemp := opts.NewTempID
	if newTemp == nil {
		newTemp = utils.NewTempID
	}
	return &Service{
		backend:    opts.Backend,
		rooms:      opts.Rooms,
		tr:         opts.Translator,
		rec:        opts.Reconciler,
		log:        logger,
		globalRoom: global,
		limit:      limit,
		name:       opts.DisplayName,
		newTempID:  newTemp,
		deferred:   make(map[string]bool),
	}
}

// Attach re-sends deferred read markers after every authentication.
func (s *Service) Attach() *events.Subscription {
	bus := s.tr.bus
	sub := events.NewSubscription(bus)
	sub.Add(events.Authenticated, events.Subscribe(bus, events.Authenticated, func(events.AuthenticatedPayload) {
		if err := s.ResendDeferredReads(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("resend deferred reads")
		}
	}))
	return sub
}

// GlobalRoom returns the id of the global channel.
func (s *Service) GlobalRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalRoom
}

// Reconciler exposes the state the service keeps.
func (s *Service) Reconciler() *Reconciler {
	return s.rec
}

// Bootstrap loads conversations, pending DM requests and the global
// channel with its history, then joins the global room.
func (s *Service) Bootstrap(ctx context.Context) error {
	var (
		channel  core.Channel
		history  []core.Message
		convs    []core.Conversation
		requests []core.DMRequest
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ch, err := s.backend.GlobalChannel(gctx)
		if err != nil {
			return fmt.Errorf("global channel: %w", err)
		}
		channel = ch
		msgs, err := s.backend.GlobalMessages(gctx, "", s.limit)
		if err != nil {
			return fmt.Errorf("global history: %w", err)
		}
		history = msgs
		return nil
	})
	g.Go(func() error {
		list, err := s.backend.Conversations(gctx)
		if err != nil {
			return fmt.Errorf("conversations: %w", err)
		}
		convs = list
		return nil
	})
	g.Go(func() error {
		list, err := s.backend.DMRequests(gctx)
		if err != nil {
			return fmt.Errorf("dm requests: %w", err)
		}
		requests = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if channel.ID != "" {
		s.globalRoom = channel.ID
	} else {
		channel.ID = s.globalRoom
	}
	room := s.globalRoom
	s.mu.Unlock()

	s.rec.SetChannel(channel)
	s.rec.LoadRoomHistory(room, history)
	s.rec.SetConversations(convs)
	s.rec.SetDMRequests(requests)

	s.log.Info().
		Str("room_id", room).
		Int("conversations", len(convs)).
		Int("dm_requests", len(requests)).
		Msg("chat bootstrapped")
	return s.rooms.JoinRoom(ctx, room)
}

// OpenConversation loads history, joins the conversation room and marks it read.
func (s *Service) OpenConversation(ctx context.Context, conversationID string) error {
	msgs, err := s.backend.ConversationMessages(ctx, conversationID, "", s.limit)
	if err != nil {
		return fmt.Errorf("conversation history: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rec.LoadConversationHistory(conversationID, msgs)
	s.rec.SetActiveConversation(conversationID)
	if err := s.rooms.JoinRoom(ctx, conversationID); err != nil {
		return err
	}
	return s.MarkRead(ctx, conversationID)
}

// CloseConversation leaves the conversation room.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) error {
	s.rec.SetActiveConversation("")
	return s.rooms.LeaveRoom(ctx, conversationID)
}

// MarkRead zeroes the unread counter locally and tells the server. A
// missing connection only delays the server side.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	msgs := s.rec.Messages(core.Scope{ConversationID: conversationID})
	last := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID != "" {
			last = msgs[i].ID
			break
		}
	}
	if last == "" {
		s.mu.Lock()
		delete(s.deferred, conversationID)
		s.mu.Unlock()
		return nil
	}

	s.rec.MarkReadLocally(conversationID)
	err := s.tr.MarkRead(ctx, conversationID, last)
	if errors.Is(err, core.ErrNotAuthenticated) || errors.Is(err, core.ErrNotConnected) {
		// An unsent marker is never acknowledged.
		s.rec.CancelReadPending(conversationID)
		s.mu.Lock()
		s.deferred[conversationID] = true
		s.mu.Unlock()
		s.log.Debug().Str("conversation_id", conversationID).Msg("mark read deferred")
		return nil
	}
	if err != nil {
		s.rec.CancelReadPending(conversationID)
		return err
	}
	s.mu.Lock()
	delete(s.deferred, conversationID)
	s.mu.Unlock()
	return nil
}

// ResendDeferredReads sends the read markers that could not go out while
// the connection was down.
func (s *Service) ResendDeferredReads(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]string, 0, len(s.deferred))
	for id := range s.deferred {
		pending = append(pending, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range pending {
		if err := s.MarkRead(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("mark read %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// DeferredReads reports how many conversations wait for a read marker.
func (s *Service) DeferredReads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deferred)
}

// StartConversation opens a conversation with userID and records it.
func (s *Service) StartConversation(ctx context.Context, userID string) (core.Conversation, error) {
	conv, err := s.backend.CreateConversation(ctx, userID)
	if err != nil {
		return core.Conversation{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Conversation{}, err
	}
	s.rec.UpsertConversation(conv)
	return conv, nil
}

// SendGlobal posts to the global channel with an optimistic placeholder.
func (s *Service) SendGlobal(ctx context.Context, content, replyTo string) (core.Message, error) {
	out := core.Outgoing{
		Content: strings.TrimSpace(content),
		Type:    core.MessageTypeGlobal,
		Scope:   core.Scope{RoomID: s.GlobalRoom()},
		ReplyTo: replyTo,
	}
	return s.sendREST(ctx, out, func(req proto.PostMessageRequest) (core.Message, error) {
		return s.backend.SendGlobal(ctx, req)
	})
}

// SendDirect posts to a conversation with an optimistic placeholder.
func (s *Service) SendDirect(ctx context.Context, conversationID, content, replyTo string) (core.Message, error) {
	out := core.Outgoing{
		Content: strings.TrimSpace(content),
		Type:    core.MessageTypeDirect,
		Scope:   core.Scope{ConversationID: conversationID},
		ReplyTo: replyTo,
	}
	return s.sendREST(ctx, out, func(req proto.PostMessageRequest) (core.Message, error) {
		return s.backend.SendDirect(ctx, conversationID, req)
	})
}

func (s *Service) sendREST(ctx context.Context, out core.Outgoing, post func(proto.PostMessageRequest) (core.Message, error)) (core.Message, error) {
	if err := out.Validate(); err != nil {
		return core.Message{}, err
	}
	out.TempID = s.newTempID()
	s.tr.StopTyping(ctx, out.Scope)
	s.rec.AddPending(out, s.self())

	msg, err := post(proto.PostMessageRequest{Content: out.Content, ReplyTo: out.ReplyTo, TempID: out.TempID})
	if err != nil {
		s.rec.FailPending(out.Scope, out.TempID)
		s.log.Debug().Err(err).Str("scope", out.Scope.Key()).Msg("send rejected")
		return core.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}
	if msg.TempID == "" {
		msg.TempID = out.TempID
	}
	s.rec.ConfirmPending(out.TempID, msg)
	return msg, nil
}

// SendLive sends over the live connection. The placeholder is confirmed
// when the broadcast carrying its temp id arrives.
func (s *Service) SendLive(ctx context.Context, scope core.Scope, content, replyTo string) (core.Message, error) {
	out := core.Outgoing{
		Content: strings.TrimSpace(content),
		Scope:   scope,
		ReplyTo: replyTo,
	}
	if err := out.Validate(); err != nil {
		return core.Message{}, err
	}
	out.TempID = s.newTempID()
	placeholder := s.rec.AddPending(out, s.self())

	if err := s.tr.SendMessage(ctx, out); err != nil {
		s.rec.FailPending(scope, out.TempID)
		return core.Message{}, err
	}
	return placeholder, nil
}

// Edit changes a message body. DMs go through REST, channel messages
// through the live connection.
func (s *Service) Edit(ctx context.Context, scope core.Scope, messageID, content string) error {
	if !scope.Direct() {
		return s.tr.EditMessage(ctx, messageID, content)
	}
	if strings.TrimSpace(content) == "" {
		return &core.Error{Kind: core.KindValidation, Code: core.ErrCodeBadRequest, Message: core.ErrEmptyContent.Error(), Err: core.ErrEmptyContent}
	}
	msg, err := s.backend.EditDirect(ctx, scope.ConversationID, messageID, strings.TrimSpace(content))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.rec.ApplyEdit(msg)
	return nil
}

// Delete removes a message, by REST for DMs and over the connection otherwise.
func (s *Service) Delete(ctx context.Context, scope core.Scope, messageID string) error {
	if !scope.Direct() {
		return s.tr.DeleteMessage(ctx, messageID)
	}
	if err := s.backend.DeleteDirect(ctx, scope.ConversationID, messageID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.rec.ApplyDelete(core.MessageDeletion{MessageID: messageID, ConversationID: scope.ConversationID})
	return nil
}

// RespondToDMRequest accepts or declines the request and promotes the next one.
func (s *Service) RespondToDMRequest(ctx context.Context, id string, accept bool) (core.DMRequest, error) {
	req, conv, err := s.backend.RespondDMRequest(ctx, id, accept)
	if err != nil {
		return core.DMRequest{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.DMRequest{}, err
	}

	status := core.DMRequestDeclined
	if accept {
		status = core.DMRequestAccepted
	}
	s.rec.ResolveDMRequest(id, status)
	if conv != nil {
		s.rec.UpsertConversation(*conv)
	}
	req.Status = status
	return req, nil
}

// RequestDM asks userID for a direct conversation.
func (s *Service) RequestDM(ctx context.Context, userID, message string) (core.DMRequest, error) {
	if userID == "" {
		return core.DMRequest{}, core.ValidationError("recipient is required")
	}
	return s.backend.CreateDMRequest(ctx, userID, strings.TrimSpace(message))
}

// SearchUsers looks users up by name.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]core.Participant, error) {
	return s.backend.SearchUsers(ctx, query)
}

// Report flags a message for moderators.
func (s *Service) Report(ctx context.Context, messageID, reason string) error {
	if messageID == "" {
		return core.ValidationError("message id is required")
	}
	return s.backend.Report(ctx, messageID, reason)
}

// Moderate sends a moderation command over the live connection and falls
// back to REST when the connection is not ready.
func (s *Service) Moderate(ctx context.Context, m core.Moderation) error {
	err := s.tr.Moderate(ctx, m)
	if errors.Is(err, core.ErrNotAuthenticated) || errors.Is(err, core.ErrNotConnected) {
		return s.backend.Moderate(ctx, m)
	}
	return err
}

// Keystroke reports typing in scope.
func (s *Service) Keystroke(ctx context.Context, scope core.Scope) error {
	return s.tr.Keystroke(ctx, scope)
}

// ExpireDMRequests drops requests past their expiry.
func (s *Service) ExpireDMRequests() []core.DMRequest {
	return s.rec.ExpireDMRequests()
}

func (s *Service) self() core.Sender {
	return core.Sender{ID: s.rec.Self(), DisplayName: s.name}
}
