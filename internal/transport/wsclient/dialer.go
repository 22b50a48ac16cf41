// Package wsclient implements the transport over a websocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/transport"
)

const defaultReadLimit = 1 << 20

// Dialer opens websocket connections to the chat backend.
type Dialer struct {
	URL       string
	Codec     proto.Codec
	Header    stdhttp.Header
	Client    *stdhttp.Client
	ReadLimit int64
	Log       *zerolog.Logger
}

// New returns a dialer for url using codec.
func New(url string, codec proto.Codec, logger *zerolog.Logger) *Dialer {
	if codec == nil {
		codec = proto.JSON{}
	}
	return &Dialer{
		URL:       url,
		Codec:     codec,
		ReadLimit: defaultReadLimit,
		Log:       logger,
	}
}

// Dial connects and negotiates the codec subprotocol.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient:   d.Client,
		HTTPHeader:   d.Header,
		Subprotocols: []string{d.Codec.Name()},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	logger := d.Log
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Debug().Str("url", d.URL).Str("subprotocol", c.Subprotocol()).Msg("websocket connected")
	return &Conn{c: c, codec: d.Codec, log: logger}, nil
}

// Conn is a websocket connection speaking one codec.
type Conn struct {
	c     *websocket.Conn
	codec proto.Codec
	log   *zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Read returns the next decoded frame. Frames that fail to decode are skipped.
func (c *Conn) Read(ctx context.Context) (proto.Envelope, error) {
	for {
		_, data, err := c.c.Read(ctx)
		if err != nil {
			return proto.Envelope{}, c.closeError(err)
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			c.log.Debug().Err(err).Int("bytes", len(data)).Msg("skipped undecodable frame")
			continue
		}
		return env, nil
	}
}

// Write encodes and sends one frame.
func (c *Conn) Write(ctx context.Context, event string, data any) error {
	raw, err := c.codec.Encode(event, data)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	if err := c.c.Write(ctx, typ, raw); err != nil {
		return c.closeError(err)
	}
	return nil
}

// Close closes the websocket with a normal closure.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.c.Close(websocket.StatusNormalClosure, reason)
}

func (c *Conn) closeError(err error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return &transport.CloseError{Reason: transport.ReasonClientClose, Err: transport.ErrClosed}
	}
	if errors.Is(err, io.EOF) {
		return &transport.CloseError{Reason: transport.ReasonServerClose, Err: err}
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return &transport.CloseError{Reason: transport.ReasonServerClose, Err: err}
	}
	return &transport.CloseError{Reason: transport.ReasonTransportError, Err: err}
}
