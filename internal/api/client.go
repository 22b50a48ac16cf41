// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultSearchTTL = 30 * time.Second
	maxBodyBytes     = 4 << 20
)

// TokenSource returns the bearer token for requests.
type TokenSource func() string

// Options configure a Client.
type Options struct {
	BaseURL    string
	HTTPClient *stdhttp.Client
	Tokens     TokenSource
	Logger     *zerolog.Logger
	Timeout    time.Duration
	SearchTTL  time.Duration
}

// Client calls the chat REST endpoints and maps failures to *core.Error.
type Client struct {
	baseURL string
	http    *stdhttp.Client
	tokens  TokenSource
	log     *zerolog.Logger
	search  geche.Geche[string, []core.Participant]
}

// New builds a client. ctx bounds the search cache's cleanup goroutine.
func New(ctx context.Context, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &stdhttp.Client{Timeout: timeout}
	}
	ttl := opts.SearchTTL
	if ttl <= 0 {
		ttl = defaultSearchTTL
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		tokens:  opts.Tokens,
		log:     logger,
		search:  geche.NewMapTTLCache[string, []core.Participant](ctx, ttl, ttl),
	}
}

// Conversations lists the user's DM conversations.
func (c *Client) Conversations(ctx context.Context) ([]core.Conversation, error) {
	var data []proto.ConversationData
	if err := c.do(ctx, stdhttp.MethodGet, "/api/chat/conversations", nil, &data); err != nil {
		return nil, err
	}
	out := make([]core.Conversation, 0, len(data))
	for _, d := range data {
		out = append(out, proto.ToConversation(d))
	}
	return out, nil
}

// CreateConversation opens (or returns the existing) conversation with userID.
func (c *Client) CreateConversation(ctx context.Context, userID string) (core.Conversation, error) {
	var data proto.ConversationData
	body := proto.CreateConversationRequest{UserID: userID}
	if err := c.do(ctx, stdhttp.MethodPost, "/api/chat/conversations", body, &data); err != nil {
		return core.Conversation{}, err
	}
	return proto.ToConversation(data), nil
}

// ConversationMessages pages DM history. Empty before means newest.
func (c *Client) ConversationMessages(ctx context.Context, conversationID, before string, limit int) ([]core.Message, error) {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages" + pageQuery(before, limit)
	var data []proto.MessageData
	if err := c.do(ctx, stdhttp.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return proto.ToMessages(data), nil
}

// SendDirect posts a message to a conversation.
func (c *Client) SendDirect(ctx context.Context, conversationID string, req proto.PostMessageRequest) (core.Message, error) {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	var data proto.MessageData
	if err := c.do(ctx, stdhttp.MethodPost, path, req, &data); err != nil {
		return core.Message{}, err
	}
	return proto.ToMessage(data), nil
}

// EditDirect replaces the body of a DM.
func (c *Client) EditDirect(ctx context.Context, conversationID, messageID, content string) (core.Message, error) {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	var data proto.MessageData
	if err := c.do(ctx, stdhttp.MethodPut, path, proto.EditMessageRequest{Content: content}, &data); err != nil {
		return core.Message{}, err
	}
	return proto.ToMessage(data), nil
}

// DeleteDirect removes a DM.
func (c *Client) DeleteDirect(ctx context.Context, conversationID, messageID string) error {
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, stdhttp.MethodDelete, path, nil, nil)
}

// GlobalChannel returns the global room's metadata.
func (c *Client) GlobalChannel(ctx context.Context) (core.Channel, error) {
	var data proto.ChannelData
	if err := c.do(ctx, stdhttp.MethodGet, "/api/chat/global", nil, &data); err != nil {
		return core.Channel{}, err
	}
	return proto.ToChannel(data), nil
}

// GlobalMessages pages global history.
func (c *Client) GlobalMessages(ctx context.Context, before string, limit int) ([]core.Message, error) {
	var data []proto.MessageData
	if err := c.do(ctx, stdhttp.MethodGet, "/api/chat/global/messages"+pageQuery(before, limit), nil, &data); err != nil {
		return nil, err
	}
	return proto.ToMessages(data), nil
}

// SendGlobal posts to the global channel.
func (c *Client) SendGlobal(ctx context.Context, req proto.PostMessageRequest) (core.Message, error) {
	var data proto.MessageData
	if err := c.do(ctx, stdhttp.MethodPost, "/api/chat/global/messages", req, &data); err != nil {
		return core.Message{}, err
	}
	return proto.ToMessage(data), nil
}

// SearchUsers finds users by name. Results are cached per query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]core.Participant, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return nil, core.ValidationError("search query is required")
	}
	if cached, err := c.search.Get(key); err == nil {
		return append([]core.Participant(nil), cached...), nil
	}

	var data []proto.UserData
	if err := c.do(ctx, stdhttp.MethodGet, "/api/chat/users/search?q="+url.QueryEscape(key), nil, &data); err != nil {
		return nil, err
	}
	out := make([]core.Participant, 0, len(data))
	for _, u := range data {
		out = append(out, proto.ToParticipant(u))
	}
	c.search.Set(key, out)
	return append([]core.Participant(nil), out...), nil
}

// DMRequests lists pending requests addressed to the user.
func (c *Client) DMRequests(ctx context.Context) ([]core.DMRequest, error) {
	var data []proto.DMRequestData
	if err := c.do(ctx, stdhttp.MethodGet, "/api/chat/dm-requests", nil, &data); err != nil {
		return nil, err
	}
	out := make([]core.DMRequest, 0, len(data))
	for _, d := range data {
		out = append(out, proto.ToDMRequest(d))
	}
	return out, nil
}

// CreateDMRequest asks recipientID for a conversation.
func (c *Client) CreateDMRequest(ctx context.Context, recipientID, message string) (core.DMRequest, error) {
	var data proto.DMRequestData
	body := proto.CreateDMRequestRequest{RecipientID: recipientID, Message: message}
	if err := c.do(ctx, stdhttp.MethodPost, "/api/chat/dm-requests", body, &data); err != nil {
		return core.DMRequest{}, err
	}
	return proto.ToDMRequest(data), nil
}

// RespondDMRequest accepts or declines a request. Accepting returns the new conversation.
func (c *Client) RespondDMRequest(ctx context.Context, id string, accept bool) (core.DMRequest, *core.Conversation, error) {
	var data proto.RespondDMRequestResult
	path := "/api/chat/dm-requests/" + url.PathEscape(id) + "/respond"
	if err := c.do(ctx, stdhttp.MethodPost, path, proto.RespondDMRequestRequest{Accept: accept}, &data); err != nil {
		return core.DMRequest{}, nil, err
	}
	req := proto.ToDMRequest(data.Request)
	if data.Conversation == nil {
		return req, nil, nil
	}
	conv := proto.ToConversation(*data.Conversation)
	return req, &conv, nil
}

// Moderate applies a moderation action through REST.
func (c *Client) Moderate(ctx context.Context, m core.Moderation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body := proto.ModerateData{
		RoomID:   m.RoomID,
		UserID:   m.UserID,
		Action:   string(m.Action),
		Duration: int(m.Duration / time.Second),
		Reason:   m.Reason,
	}
	return c.do(ctx, stdhttp.MethodPost, "/api/chat/rooms/"+url.PathEscape(m.RoomID)+"/moderate", body, nil)
}

// Report flags a message.
func (c *Client) Report(ctx context.Context, messageID, reason string) error {
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/report"
	return c.do(ctx, stdhttp.MethodPost, path, proto.ReportRequest{Reason: reason}, nil)
}

// IssueToken asks the development backend for a token for username.
func (c *Client) IssueToken(ctx context.Context, username string) (proto.TokenResponse, error) {
	var data proto.TokenResponse
	if err := c.do(ctx, stdhttp.MethodPost, "/api/dev/token", proto.TokenRequest{Username: username}, &data); err != nil {
		return proto.TokenResponse{}, err
	}
	return data, nil
}

func pageQuery(before string, limit int) string {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return &core.Error{Kind: core.KindNetwork, Message: "network error", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &core.Error{Kind: core.KindNetwork, Message: "read response", Status: resp.StatusCode, Err: err}
	}

	var env proto.Response
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 300 {
				return requestError(resp.StatusCode, proto.Response{Error: stdhttp.StatusText(resp.StatusCode)})
			}
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 300 || (len(raw) > 0 && !env.Success) {
		e := requestError(resp.StatusCode, env)
		c.log.Debug().Int("status", resp.StatusCode).Str("code", e.Code).Str("path", path).Msg("request rejected")
		return e
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

// requestError maps a rejected response to a coded error.
func requestError(status int, env proto.Response) *core.Error {
	e := &core.Error{
		Kind:    core.KindForStatus(status),
		Code:    env.Code,
		Message: env.Error,
		Status:  status,
	}
	if env.RetryAfter > 0 {
		e.RetryAfter = time.Duration(env.RetryAfter) * time.Second
	}
	if env.Moderation != nil {
		e.Kind = core.KindModeration
		e.Moderation = &core.ModerationVerdict{
			Reason:      env.Moderation.Reason,
			CleanedText: env.Moderation.CleanedText,
			Flags:       env.Moderation.Flags,
		}
	}
	if e.Message == "" {
		e.Message = stdhttp.StatusText(status)
	}
	return e
}
