package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/relay"
	"github.com/vovakirdan/citychat/internal/service/messaging"
	"github.com/vovakirdan/citychat/internal/store"
	"github.com/vovakirdan/citychat/internal/utils"
)

const (
	authTimeout    = 10 * time.Second
	writeTimeout   = 5 * time.Second
	readLimit      = 1 << 20
	clientBuffered = 64
)

// WSHandler upgrades HTTP connections and bridges them to the relay hub.
type WSHandler struct {
	auth       *auth.Service
	hub        *relay.Hub
	messages   *messaging.Service
	globalRoom string
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, globalRoom string, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		auth:       deps.Auth,
		hub:        deps.Hub,
		messages:   deps.Messages,
		globalRoom: globalRoom,
		log:        logger,
	}
}

// wsConn pairs a connection with the codec negotiated for it.
type wsConn struct {
	conn  *websocket.Conn
	codec proto.Codec
}

func (c *wsConn) write(ctx context.Context, event string, data any) error {
	raw, err := c.codec.Encode(event, data)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, typ, raw)
}

func (c *wsConn) read(ctx context.Context) (proto.Envelope, error) {
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return proto.Envelope{}, err
		}
		env, err := c.codec.Decode(raw)
		if err != nil {
			if werr := c.write(ctx, proto.EvtError, proto.Error{Code: core.ErrCodeBadRequest, Message: "malformed frame"}); werr != nil {
				return proto.Envelope{}, werr
			}
			continue
		}
		return env, nil
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{proto.CodecJSON, proto.CodecMsgPack},
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	conn.SetReadLimit(readLimit)

	codec, err := proto.CodecByName(conn.Subprotocol())
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return
	}
	wc := &wsConn{conn: conn, codec: codec}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	user, err := h.handshake(ctx, wc)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	client := relay.NewClient(utils.NewID(), user.ID, user.Username, clientBuffered)
	if err := wc.write(ctx, proto.EvtAuthenticated, proto.AuthenticatedData{UserID: user.ID, Username: user.Username}); err != nil {
		return
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	h.log.Info().Str("client_id", client.ID).Str("user_id", user.ID).Str("codec", codec.Name()).Msg("ws client authenticated")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, wc, client, user)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, wc, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for a valid authenticate frame. Other commands are
// answered with not_authenticated; bad tokens with auth_error.
func (h *WSHandler) handshake(ctx context.Context, wc *wsConn) (*store.User, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	for {
		env, err := wc.read(ctx)
		if err != nil {
			return nil, err
		}
		if env.Event != proto.CmdAuthenticate {
			if err := wc.write(ctx, proto.EvtError, proto.Error{Code: core.ErrCodeNotAuthenticated, Message: "authenticate first"}); err != nil {
				return nil, err
			}
			continue
		}

		var data proto.AuthenticateData
		if err := env.Bind(&data); err != nil {
			data = proto.AuthenticateData{}
		}
		if data.Protocol > proto.ProtocolVersion {
			msg := fmt.Sprintf("unsupported protocol version %d", data.Protocol)
			if err := wc.write(ctx, proto.EvtAuthError, proto.AuthErrorData{Message: msg}); err != nil {
				return nil, err
			}
			continue
		}

		user, err := h.auth.Authenticate(ctx, data.Token)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws authentication rejected")
			if err := wc.write(ctx, proto.EvtAuthError, proto.AuthErrorData{Message: "invalid token"}); err != nil {
				return nil, err
			}
			continue
		}
		return user, nil
	}
}

func (h *WSHandler) readLoop(ctx context.Context, wc *wsConn, client *relay.Client, user *store.User) error {
	for {
		env, err := wc.read(ctx)
		if err != nil {
			return err
		}

		if err := h.dispatch(ctx, client, user, env); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Str("event", env.Event).Msg("command rejected")
			if writeErr := wc.write(ctx, proto.EvtError, wsError(err)); writeErr != nil {
				return writeErr
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, wc *wsConn, client *relay.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wc.write(ctx, event.Event, event.Data); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
