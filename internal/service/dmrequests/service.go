// Package dmrequests handles requests to open a direct conversation.
package dmrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/moderation"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/conversations"
	"github.com/vovakirdan/citychat/internal/service/wire"
	"github.com/vovakirdan/citychat/internal/store"
)

// Common errors for DM request operations.
var (
	ErrRequestSelf     = core.ValidationError("cannot send a DM request to yourself")
	ErrUserNotFound    = core.NewError(core.KindNotFound, core.ErrCodeNotFound, "user not found")
	ErrRequestExists   = core.NewError(core.KindValidation, core.ErrCodeBadRequest, "a DM request between you is already pending")
	ErrRequestNotFound = core.NewError(core.KindNotFound, core.ErrCodeNotFound, "DM request not found")
	ErrNotRecipient    = core.NewError(core.KindPermission, core.ErrCodeForbidden, "only the recipient can respond")
	ErrRequestResolved = core.NewError(core.KindValidation, core.ErrCodeBadRequest, "DM request is no longer pending")
)

// DefaultTTL is how long a request stays pending when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Service provides the DM request lifecycle.
type Service struct {
	store         store.Store
	hub           *relay.Hub
	conversations *conversations.Service
	filter        *moderation.Filter
	ttl           time.Duration
	clock         clock.Clock
	log           *zerolog.Logger
}

// Options configure the DM request service.
type Options struct {
	Store         store.Store
	Hub           *relay.Hub
	Conversations *conversations.Service
	Filter        *moderation.Filter
	TTL           time.Duration
	Clock         clock.Clock
	Logger        *zerolog.Logger
}

// New creates a DM request service.
func New(opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Service{
		store:         opts.Store,
		hub:           opts.Hub,
		conversations: opts.Conversations,
		filter:        opts.Filter,
		ttl:           opts.TTL,
		clock:         opts.Clock,
		log:           opts.Logger,
	}
}

// Create asks recipientID to open a conversation with requester. The
// recipient is notified immediately if connected.
func (s *Service) Create(ctx context.Context, requester *store.User, recipientID, message string) (proto.DMRequestData, error) {
	if requester.ID == recipientID {
		return proto.DMRequestData{}, ErrRequestSelf
	}
	recipient, err := s.store.GetUserByID(ctx, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return proto.DMRequestData{}, ErrUserNotFound
		}
		return proto.DMRequestData{}, err
	}

	if _, err := s.store.FindPendingDMRequest(ctx, requester.ID, recipientID); err == nil {
		return proto.DMRequestData{}, ErrRequestExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return proto.DMRequestData{}, fmt.Errorf("find pending request: %w", err)
	}

	message = strings.TrimSpace(message)
	if message != "" {
		message, err = s.filter.Check(message)
		if err != nil {
			return proto.DMRequestData{}, err
		}
	}

	now := s.clock.Now().UTC()
	req := &store.DMRequest{
		RequesterID: requester.ID,
		RecipientID: recipientID,
		Message:     message,
		Status:      store.DMRequestPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.CreateDMRequest(ctx, req); err != nil {
		return proto.DMRequestData{}, fmt.Errorf("create DM request: %w", err)
	}

	data := wire.DMRequest(req, requester, recipient)
	s.notify(recipientID, core.NotificationDMRequest, "New DM request",
		fmt.Sprintf("%s wants to chat", displayName(requester)), &data)

	s.log.Info().Str("request_id", req.ID).Str("requester_id", requester.ID).Str("recipient_id", recipientID).Msg("DM request created")
	return data, nil
}

// Respond accepts or declines a pending request addressed to user.
// Accepting opens the conversation and returns it.
func (s *Service) Respond(ctx context.Context, user *store.User, requestID string, accept bool) (proto.RespondDMRequestResult, error) {
	req, err := s.store.GetDMRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return proto.RespondDMRequestResult{}, ErrRequestNotFound
		}
		return proto.RespondDMRequestResult{}, err
	}
	if req.RecipientID != user.ID {
		return proto.RespondDMRequestResult{}, ErrNotRecipient
	}
	if req.Status != store.DMRequestPending {
		return proto.RespondDMRequestResult{}, ErrRequestResolved
	}
	if !req.ExpiresAt.IsZero() && !s.clock.Now().Before(req.ExpiresAt) {
		return proto.RespondDMRequestResult{}, ErrRequestResolved
	}

	requester, err := s.store.GetUserByID(ctx, req.RequesterID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return proto.RespondDMRequestResult{}, err
	}

	var result proto.RespondDMRequestResult
	if accept {
		conv, err := s.conversations.Open(ctx, user.ID, req.RequesterID)
		if err != nil {
			return proto.RespondDMRequestResult{}, err
		}
		if err := s.resolve(ctx, req, store.DMRequestAccepted, conv.ID); err != nil {
			return proto.RespondDMRequestResult{}, err
		}
		result.Conversation = &conv
	} else if err := s.resolve(ctx, req, store.DMRequestDeclined, ""); err != nil {
		return proto.RespondDMRequestResult{}, err
	}

	result.Request = wire.DMRequest(req, requester, user)
	if accept {
		s.notify(req.RequesterID, core.NotificationDMRequestAccepted, "DM request accepted",
			fmt.Sprintf("%s accepted your request", displayName(user)), &result.Request)
	} else {
		s.notify(req.RequesterID, core.NotificationDMRequestDeclined, "DM request declined",
			fmt.Sprintf("%s declined your request", displayName(user)), &result.Request)
	}

	s.log.Info().Str("request_id", req.ID).Str("status", string(req.Status)).Msg("DM request resolved")
	return result, nil
}

func (s *Service) resolve(ctx context.Context, req *store.DMRequest, status store.DMRequestStatus, conversationID string) error {
	if err := s.store.UpdateDMRequest(ctx, req.ID, status, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRequestResolved
		}
		return fmt.Errorf("update DM request: %w", err)
	}
	req.Status = status
	req.ConversationID = conversationID
	return nil
}

// ListPending returns pending requests addressed to userID.
func (s *Service) ListPending(ctx context.Context, userID string) ([]proto.DMRequestData, error) {
	reqs, err := s.store.ListPendingDMRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list DM requests: %w", err)
	}
	now := s.clock.Now()
	users := make(map[string]*store.User)
	out := make([]proto.DMRequestData, 0, len(reqs))
	for _, r := range reqs {
		if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
			continue
		}
		out = append(out, wire.DMRequest(r, s.user(ctx, users, r.RequesterID), s.user(ctx, users, r.RecipientID)))
	}
	return out, nil
}

// ExpireDue marks overdue requests expired and tells both parties.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDMRequests(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire DM requests: %w", err)
	}
	users := make(map[string]*store.User)
	for _, r := range expired {
		data := wire.DMRequest(r, s.user(ctx, users, r.RequesterID), s.user(ctx, users, r.RecipientID))
		for _, uid := range []string{r.RequesterID, r.RecipientID} {
			s.notify(uid, core.NotificationDMRequestExpired, "DM request expired", "The DM request expired", &data)
		}
	}
	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Msg("DM requests expired")
	}
	return len(expired), nil
}

// Sweep runs ExpireDue every interval until ctx is done.
func (s *Service) Sweep(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireDue(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("DM request sweep failed")
			}
		}
	}
}

func (s *Service) user(ctx context.Context, cache map[string]*store.User, id string) *store.User {
	if u, ok := cache[id]; ok {
		return u
	}
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		u = nil
	}
	cache[id] = u
	return u
}

func (s *Service) notify(userID string, kind core.NotificationKind, title, text string, req *proto.DMRequestData) {
	s.hub.SendUser(userID, relay.Outbound{Event: proto.EvtNotification, Data: proto.NotificationData{
		Kind:      string(kind),
		Title:     title,
		Message:   text,
		DMRequest: req,
	}})
}

func displayName(u *store.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
