package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/conversations"
	"github.com/vovakirdan/citychat/internal/service/dmrequests"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/service/wire"
	"github.com/vovakirdan/citychat/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	searchLimit     = 20
	globalName      = "Town Square"
)

// ChatHandlers serve the chat REST API.
type ChatHandlers struct {
	store         store.Store
	hub           *relay.Hub
	messages      *messaging.Service
	conversations *conversations.Service
	dmRequests    *dmrequests.Service
	globalRoom    string
	log           *zerolog.Logger
}

// NewChatHandlers creates chat handlers.
func NewChatHandlers(deps Deps, globalRoom string, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		store:         deps.Store,
		hub:           deps.Hub,
		messages:      deps.Messages,
		conversations: deps.Conversations,
		dmRequests:    deps.DMRequests,
		globalRoom:    globalRoom,
		log:           logger,
	}
}

// ListConversations returns the caller's conversations.
// GET /api/chat/conversations
func (h *ChatHandlers) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, convs)
}

// CreateConversation opens a direct conversation with another user.
// POST /api/chat/conversations
func (h *ChatHandlers) CreateConversation(c *gin.Context) {
	var req proto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		writeError(c, badRequest("userId is required"))
		return
	}
	conv, err := h.conversations.Open(c.Request.Context(), currentUser(c).ID, req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, conv)
}

// ConversationMessages returns a page of conversation history.
// GET /api/chat/conversations/:id/messages?before=&limit=
func (h *ChatHandlers) ConversationMessages(c *gin.Context) {
	limit, err := pageLimit(c)
	if err != nil {
		writeError(c, err)
		return
	}
	msgs, err := h.messages.ConversationHistory(c.Request.Context(), currentUser(c), c.Param("id"), c.Query("before"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, msgs)
}

// PostDirect sends a message to a conversation.
// POST /api/chat/conversations/:id/messages
func (h *ChatHandlers) PostDirect(c *gin.Context) {
	h.post(c, messaging.Post{ConversationID: c.Param("id")})
}

// GlobalChannel describes the global channel.
// GET /api/chat/global
func (h *ChatHandlers) GlobalChannel(c *gin.Context) {
	writeData(c, http.StatusOK, proto.ChannelData{
		ID:        h.globalRoom,
		Name:      globalName,
		UserCount: h.hub.RoomUserCount(h.globalRoom),
	})
}

// GlobalMessages returns a page of global channel history.
// GET /api/chat/global/messages?before=&limit=
func (h *ChatHandlers) GlobalMessages(c *gin.Context) {
	limit, err := pageLimit(c)
	if err != nil {
		writeError(c, err)
		return
	}
	msgs, err := h.messages.RoomHistory(c.Request.Context(), h.globalRoom, c.Query("before"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, msgs)
}

// PostGlobal sends a message to the global channel.
// POST /api/chat/global/messages
func (h *ChatHandlers) PostGlobal(c *gin.Context) {
	h.post(c, messaging.Post{RoomID: h.globalRoom})
}

func (h *ChatHandlers) post(c *gin.Context, p messaging.Post) {
	var req proto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body"))
		return
	}
	p.Content = req.Content
	p.ReplyTo = req.ReplyTo
	p.TempID = req.TempID

	msg, err := h.messages.Post(c.Request.Context(), currentUser(c), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusCreated, msg)
}

// EditMessage replaces the content of the caller's message.
// PUT /api/chat/conversations/:id/messages/:messageId
func (h *ChatHandlers) EditMessage(c *gin.Context) {
	var req proto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body"))
		return
	}
	msg, err := h.messages.Edit(c.Request.Context(), currentUser(c), c.Param("messageId"), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, msg)
}

// DeleteMessage removes the caller's message.
// DELETE /api/chat/conversations/:id/messages/:messageId
func (h *ChatHandlers) DeleteMessage(c *gin.Context) {
	deleted, err := h.messages.Delete(c.Request.Context(), currentUser(c), c.Param("messageId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, deleted)
}

// SearchUsers finds users by username or display name.
// GET /api/chat/users/search?q=
func (h *ChatHandlers) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeData(c, http.StatusOK, []proto.UserData{})
		return
	}
	users, err := h.store.SearchUsers(c.Request.Context(), q, searchLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	self := currentUser(c).ID
	out := make([]proto.UserData, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		out = append(out, wire.User(u, h.hub.Online(u.ID)))
	}
	writeData(c, http.StatusOK, out)
}

// ListDMRequests returns pending requests addressed to the caller.
// GET /api/chat/dm-requests
func (h *ChatHandlers) ListDMRequests(c *gin.Context) {
	reqs, err := h.dmRequests.ListPending(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, reqs)
}

// CreateDMRequest asks another user for a conversation.
// POST /api/chat/dm-requests
func (h *ChatHandlers) CreateDMRequest(c *gin.Context) {
	var req proto.CreateDMRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RecipientID == "" {
		writeError(c, badRequest("recipientId is required"))
		return
	}
	created, err := h.dmRequests.Create(c.Request.Context(), currentUser(c), req.RecipientID, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusCreated, created)
}

// RespondDMRequest accepts or declines a request.
// POST /api/chat/dm-requests/:id/respond
func (h *ChatHandlers) RespondDMRequest(c *gin.Context) {
	var req proto.RespondDMRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body"))
		return
	}
	res, err := h.dmRequests.Respond(c.Request.Context(), currentUser(c), c.Param("id"), req.Accept)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, res)
}

// Moderate applies a moderation action in a room.
// POST /api/chat/rooms/:id/moderate
func (h *ChatHandlers) Moderate(c *gin.Context) {
	var req proto.ModerateData
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body"))
		return
	}
	req.RoomID = c.Param("id")
	if err := h.messages.Moderate(c.Request.Context(), currentUser(c), moderationFrom(req)); err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, nil)
}

// Report flags a message.
// POST /api/chat/messages/:id/report
func (h *ChatHandlers) Report(c *gin.Context) {
	var req proto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body"))
		return
	}
	if err := h.messages.Report(c.Request.Context(), currentUser(c), c.Param("id"), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	writeData(c, http.StatusOK, nil)
}

func (h *ChatHandlers) fail(c *gin.Context, err error) {
	if _, ok := core.AsError(err); !ok {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	writeError(c, err)
}

func pageLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badRequest("limit must be a positive integer")
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

func moderationFrom(d proto.ModerateData) core.Moderation {
	return core.Moderation{
		RoomID:   d.RoomID,
		UserID:   d.UserID,
		Action:   core.ModerationAction(d.Action),
		Duration: time.Duration(d.Duration) * time.Second,
		Reason:   d.Reason,
	}
}
