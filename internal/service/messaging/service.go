package messaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/moderation"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/wire"
	"github.com/vovakirdan/citychat/internal/store"
)

// Common errors for message operations.
var (
	ErrNotParticipant = core.NewError(core.KindPermission, core.ErrCodeForbidden, "not a participant of this conversation")
	ErrNotSender      = core.NewError(core.KindPermission, core.ErrCodeForbidden, "only the sender can change this message")
	ErrNotModerator   = core.NewError(core.KindPermission, core.ErrCodeForbidden, "moderator rights required")
	ErrMuted          = core.NewError(core.KindPermission, core.ErrCodeMuted, "you are muted in this room")
	ErrBanned         = core.NewError(core.KindPermission, core.ErrCodeForbidden, "you are banned from this room")
	ErrMessageMissing = core.NewError(core.KindNotFound, core.ErrCodeNotFound, "message not found")
)

// Options configure the messaging service.
type Options struct {
	Store      store.Store
	Hub        *relay.Hub
	Filter     *moderation.Filter
	Limiter    *RateLimiter
	Clock      clock.Clock
	Logger     *zerolog.Logger
	Moderators []string
}

// Service implements message posting, editing, read state and moderation
// for both the REST and websocket surfaces.
type Service struct {
	store      store.Store
	hub        *relay.Hub
	filter     *moderation.Filter
	limiter    *RateLimiter
	clock      clock.Clock
	log        *zerolog.Logger
	moderators map[string]struct{}
}

// New creates a messaging service.
func New(opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	mods := make(map[string]struct{}, len(opts.Moderators))
	for _, m := range opts.Moderators {
		mods[strings.ToLower(m)] = struct{}{}
	}
	return &Service{
		store:      opts.Store,
		hub:        opts.Hub,
		filter:     opts.Filter,
		limiter:    opts.Limiter,
		clock:      clk,
		log:        logger,
		moderators: mods,
	}
}

// Post is a message to create.
type Post struct {
	RoomID         string
	ConversationID string
	Content        string
	ReplyTo        string
	TempID         string
}

// Post stores a message and fans it out. Room messages go to everyone in the
// room, direct messages to every connection of both participants.
func (s *Service) Post(ctx context.Context, sender *store.User, p Post) (proto.MessageData, error) {
	if (p.RoomID == "") == (p.ConversationID == "") {
		return proto.MessageData{}, core.ValidationError("room or conversation is required")
	}
	if ok, wait := s.limiter.Allow(sender.ID); !ok {
		return proto.MessageData{}, &core.Error{
			Kind:       core.KindRateLimit,
			Code:       core.ErrCodeRateLimited,
			Message:    "slow down",
			RetryAfter: time.Duration(math.Ceil(wait.Seconds())) * time.Second,
		}
	}

	var participants []string
	if p.ConversationID != "" {
		var err error
		participants, err = s.participants(ctx, p.ConversationID, sender.ID)
		if err != nil {
			return proto.MessageData{}, err
		}
	} else if err := s.checkRoomAccess(ctx, p.RoomID, sender.ID, true); err != nil {
		return proto.MessageData{}, err
	}

	content, err := s.filter.Check(p.Content)
	if err != nil {
		return proto.MessageData{}, err
	}

	msg := &store.Message{
		TempID:         p.TempID,
		RoomID:         p.RoomID,
		ConversationID: p.ConversationID,
		SenderID:       sender.ID,
		Content:        content,
		ReplyTo:        p.ReplyTo,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return proto.MessageData{}, fmt.Errorf("save message: %w", err)
	}

	data := wire.Message(msg, sender)
	if p.ConversationID != "" {
		for _, uid := range participants {
			s.hub.SendUser(uid, relay.Outbound{Event: proto.EvtNewMessage, Data: data})
		}
	} else {
		s.hub.BroadcastRoom(p.RoomID, relay.Outbound{Event: proto.EvtNewGlobalMessage, Data: data}, nil)
	}

	s.log.Debug().
		Str("message_id", msg.ID).
		Str("sender_id", sender.ID).
		Str("room_id", p.RoomID).
		Str("conversation_id", p.ConversationID).
		Msg("message posted")
	return data, nil
}

// Edit replaces the content of the sender's own message.
func (s *Service) Edit(ctx context.Context, user *store.User, messageID, content string) (proto.MessageData, error) {
	msg, err := s.ownMessage(ctx, user, messageID)
	if err != nil {
		return proto.MessageData{}, err
	}
	clean, err := s.filter.Check(content)
	if err != nil {
		return proto.MessageData{}, err
	}

	updated, err := s.store.UpdateMessage(ctx, msg.ID, clean, s.clock.Now().UTC())
	if err != nil {
		return proto.MessageData{}, fmt.Errorf("update message: %w", err)
	}
	data := wire.Message(updated, user)
	data.TempID = ""

	if updated.ConversationID != "" {
		s.sendParticipants(ctx, updated.ConversationID, relay.Outbound{Event: proto.EvtMessageEdited, Data: data})
	} else {
		s.hub.BroadcastRoom(updated.RoomID, relay.Outbound{Event: proto.EvtGlobalMessageEdited, Data: data}, nil)
	}
	return data, nil
}

// Delete removes the sender's own message. Moderators may delete room messages.
func (s *Service) Delete(ctx context.Context, user *store.User, messageID string) (proto.MessageDeletedData, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return proto.MessageDeletedData{}, err
	}
	if msg.SenderID != user.ID && (msg.RoomID == "" || !s.IsModerator(user)) {
		return proto.MessageDeletedData{}, ErrNotSender
	}
	if err := s.store.DeleteMessage(ctx, msg.ID); err != nil {
		return proto.MessageDeletedData{}, fmt.Errorf("delete message: %w", err)
	}

	data := proto.MessageDeletedData{MessageID: msg.ID, RoomID: msg.RoomID, ConversationID: msg.ConversationID}
	if msg.ConversationID != "" {
		s.sendParticipants(ctx, msg.ConversationID, relay.Outbound{Event: proto.EvtMessageDeleted, Data: data})
	} else {
		s.hub.BroadcastRoom(msg.RoomID, relay.Outbound{Event: proto.EvtGlobalMessageDeleted, Data: data}, nil)
	}
	return data, nil
}

// MarkRead records the read marker and acknowledges it to both participants.
func (s *Service) MarkRead(ctx context.Context, user *store.User, conversationID, messageID string) error {
	if conversationID == "" && messageID != "" {
		msg, err := s.getMessage(ctx, messageID)
		if err != nil {
			return err
		}
		conversationID = msg.ConversationID
	}
	if conversationID == "" {
		return core.ValidationError("conversation is required")
	}
	participants, err := s.participants(ctx, conversationID, user.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if err := s.store.MarkRead(ctx, conversationID, user.ID, messageID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageMissing
		}
		return fmt.Errorf("mark read: %w", err)
	}

	ack := relay.Outbound{Event: proto.EvtConversationRead, Data: proto.ConversationReadData{
		ConversationID: conversationID,
		UserID:         user.ID,
		MessageID:      messageID,
		ReadAt:         now,
	}}
	for _, uid := range participants {
		s.hub.SendUser(uid, ack)
	}
	return nil
}

// Typing relays a typing indicator to the scope, never back to the sender.
func (s *Service) Typing(ctx context.Context, c *relay.Client, d proto.TypingData, started bool) error {
	event := proto.EvtUserStoppedTyping
	if started {
		event = proto.EvtUserTyping
	}
	d.UserID = c.UserID
	d.Username = c.Username
	out := relay.Outbound{Event: event, Data: d}

	switch {
	case d.ConversationID != "":
		participants, err := s.participants(ctx, d.ConversationID, c.UserID)
		if err != nil {
			return err
		}
		for _, uid := range participants {
			if uid != c.UserID {
				s.hub.SendUser(uid, out)
			}
		}
	case d.RoomID != "":
		if !s.hub.InRoom(c, d.RoomID) {
			return core.NewError(core.KindValidation, core.ErrCodeBadRequest, "join the room first")
		}
		s.hub.BroadcastRoom(d.RoomID, out, c)
	default:
		return core.ValidationError("room or conversation is required")
	}
	return nil
}

// CanJoin checks that user may subscribe to roomID. Conversation rooms are
// limited to participants, other rooms to users who are not banned.
func (s *Service) CanJoin(ctx context.Context, user *store.User, roomID string) error {
	if roomID == "" {
		return core.ValidationError("room is required")
	}
	if _, err := s.store.GetConversation(ctx, roomID); err == nil {
		_, err := s.participants(ctx, roomID, user.ID)
		return err
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	return s.checkRoomAccess(ctx, roomID, user.ID, false)
}

// IsModerator reports whether the user may moderate rooms.
func (s *Service) IsModerator(user *store.User) bool {
	if user == nil {
		return false
	}
	_, ok := s.moderators[strings.ToLower(user.Username)]
	return ok
}

// Moderate applies a moderation action. Kicks and bans remove the target's
// connections from the room; every action notifies the target.
func (s *Service) Moderate(ctx context.Context, moderator *store.User, m core.Moderation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !s.IsModerator(moderator) {
		return ErrNotModerator
	}
	if m.UserID == moderator.ID {
		return core.ValidationError("cannot moderate yourself")
	}
	if _, err := s.store.GetUserByID(ctx, m.UserID); err != nil {
		return core.NewError(core.KindNotFound, core.ErrCodeNotFound, "user not found")
	}

	now := s.clock.Now().UTC()
	rec := &store.Moderation{
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		ModeratorID: moderator.ID,
		Action:      string(m.Action),
		Reason:      m.Reason,
		CreatedAt:   now,
	}
	switch {
	case m.Action == core.ModerationKick:
		// A kick only removes the user; it does not block a rejoin.
		rec.ExpiresAt = now
	case m.Duration > 0:
		rec.ExpiresAt = now.Add(m.Duration)
	}
	if err := s.store.SaveModeration(ctx, rec); err != nil {
		return fmt.Errorf("save moderation: %w", err)
	}

	if m.Action == core.ModerationKick || m.Action == core.ModerationBan {
		s.hub.RemoveUser(m.UserID, m.RoomID)
	}

	text := fmt.Sprintf("%s in %s", m.Action, m.RoomID)
	if m.Duration > 0 {
		text += fmt.Sprintf(" for %s", m.Duration)
	}
	if m.Reason != "" {
		text += ": " + m.Reason
	}
	s.hub.SendUser(m.UserID, relay.Outbound{Event: proto.EvtNotification, Data: proto.NotificationData{
		Kind:    string(core.NotificationModeration),
		Title:   "Moderation",
		Message: text,
	}})

	s.log.Info().
		Str("moderator_id", moderator.ID).
		Str("user_id", m.UserID).
		Str("room_id", m.RoomID).
		Str("action", string(m.Action)).
		Dur("duration", m.Duration).
		Msg("moderation applied")
	return nil
}

// Report flags a message for review.
func (s *Service) Report(ctx context.Context, reporter *store.User, messageID, reason string) error {
	if _, err := s.getMessage(ctx, messageID); err != nil {
		return err
	}
	err := s.store.SaveReport(ctx, &store.Report{
		MessageID:  messageID,
		ReporterID: reporter.ID,
		Reason:     strings.TrimSpace(reason),
		CreatedAt:  s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	s.log.Info().Str("message_id", messageID).Str("reporter_id", reporter.ID).Msg("message reported")
	return nil
}

// RoomHistory returns room messages with their senders, oldest first.
func (s *Service) RoomHistory(ctx context.Context, roomID, before string, limit int) ([]proto.MessageData, error) {
	msgs, err := s.store.ListRoomMessages(ctx, roomID, limit, before)
	if err != nil {
		return nil, err
	}
	return s.withSenders(ctx, msgs)
}

// ConversationHistory returns conversation messages for a participant.
func (s *Service) ConversationHistory(ctx context.Context, user *store.User, conversationID, before string, limit int) ([]proto.MessageData, error) {
	if _, err := s.participants(ctx, conversationID, user.ID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListConversationMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, err
	}
	return s.withSenders(ctx, msgs)
}

func (s *Service) withSenders(ctx context.Context, msgs []*store.Message) ([]proto.MessageData, error) {
	users := make(map[string]*store.User)
	out := make([]proto.MessageData, 0, len(msgs))
	for _, m := range msgs {
		u, ok := users[m.SenderID]
		if !ok {
			var err error
			u, err = s.store.GetUserByID(ctx, m.SenderID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			users[m.SenderID] = u
		}
		out = append(out, wire.Message(m, u))
	}
	return out, nil
}

func (s *Service) participants(ctx context.Context, conversationID, userID string) ([]string, error) {
	ids, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	if len(ids) == 0 {
		return nil, core.NewError(core.KindNotFound, core.ErrCodeNotFound, "conversation not found")
	}
	return nil, ErrNotParticipant
}

func (s *Service) sendParticipants(ctx context.Context, conversationID string, out relay.Outbound) {
	ids, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to list participants")
		return
	}
	for _, uid := range ids {
		s.hub.SendUser(uid, out)
	}
}

func (s *Service) checkRoomAccess(ctx context.Context, roomID, userID string, posting bool) error {
	active, err := s.store.ActiveModerations(ctx, roomID, userID, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("check moderation: %w", err)
	}
	for _, m := range active {
		switch core.ModerationAction(m.Action) {
		case core.ModerationBan:
			return ErrBanned
		case core.ModerationMute, core.ModerationTimeout:
			if posting {
				return ErrMuted
			}
		}
	}
	return nil
}

func (s *Service) getMessage(ctx context.Context, id string) (*store.Message, error) {
	if id == "" {
		return nil, core.ValidationError("message id is required")
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageMissing
		}
		return nil, err
	}
	return msg, nil
}

func (s *Service) ownMessage(ctx context.Context, user *store.User, id string) (*store.Message, error) {
	msg, err := s.getMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != user.ID {
		return nil, ErrNotSender
	}
	return msg, nil
}
