// Package conversations manages direct conversations between two users.
package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/wire"
	"github.com/vovakirdan/citychat/internal/store"
)

// Common errors for conversation operations.
var (
	ErrSelfConversation = core.ValidationError("cannot start a conversation with yourself")
	ErrUserNotFound     = core.NewError(core.KindNotFound, core.ErrCodeNotFound, "user not found")
)

// Service lists and opens direct conversations.
type Service struct {
	store store.Store
	hub   *relay.Hub
	log   *zerolog.Logger
}

// New creates a conversation service.
func New(st store.Store, hub *relay.Hub, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, hub: hub, log: logger}
}

// List returns the user's conversations, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]proto.ConversationData, error) {
	sums, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]proto.ConversationData, 0, len(sums))
	for _, sum := range sums {
		out = append(out, wire.Conversation(sum, s.hub.Online))
	}
	return out, nil
}

// Get returns one conversation as seen by userID.
func (s *Service) Get(ctx context.Context, userID, conversationID string) (proto.ConversationData, error) {
	sums, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return proto.ConversationData{}, fmt.Errorf("list conversations: %w", err)
	}
	for _, sum := range sums {
		if sum.ID == conversationID {
			return wire.Conversation(sum, s.hub.Online), nil
		}
	}
	return proto.ConversationData{}, core.NewError(core.KindNotFound, core.ErrCodeNotFound, "conversation not found")
}

// Open returns the direct conversation between the two users, creating it
// if needed. A newly created conversation is announced to both users.
func (s *Service) Open(ctx context.Context, userID, otherID string) (proto.ConversationData, error) {
	if userID == otherID {
		return proto.ConversationData{}, ErrSelfConversation
	}
	if _, err := s.store.GetUserByID(ctx, otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return proto.ConversationData{}, ErrUserNotFound
		}
		return proto.ConversationData{}, err
	}

	conv, created, err := s.store.GetOrCreateDirect(ctx, userID, otherID)
	if err != nil {
		return proto.ConversationData{}, fmt.Errorf("open conversation: %w", err)
	}
	if created {
		s.announce(ctx, conv.ID, userID, otherID)
		s.log.Info().Str("conversation_id", conv.ID).Str("user_id", userID).Str("other_id", otherID).Msg("conversation created")
	}
	return s.Get(ctx, userID, conv.ID)
}

// announce sends new_conversation to each participant with their own view
// of the conversation.
func (s *Service) announce(ctx context.Context, conversationID string, userIDs ...string) {
	for _, uid := range userIDs {
		data, err := s.Get(ctx, uid, conversationID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", uid).Msg("failed to load new conversation")
			continue
		}
		s.hub.SendUser(uid, relay.Outbound{Event: proto.EvtNewConversation, Data: data})
	}
}
