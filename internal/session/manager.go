package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/transport"
)

// ErrSuperseded is returned by a dial whose result arrived after the
// connection was closed or replaced.
var ErrSuperseded = errors.New("connection attempt superseded")

// TokenSource returns the current auth token, or "" if there is none.
type TokenSource func() string

// FrameHandler receives every inbound frame that is not part of the handshake.
type FrameHandler func(env proto.Envelope)

// Options configure a Manager.
type Options struct {
	Dialer transport.Dialer
	Bus    *events.Bus
	Logger *zerolog.Logger
	Clock  clock.Clock
	Tokens TokenSource

	Backoff     Backoff
	DialTimeout time.Duration
	// RejoinOnReconnect requeues joined rooms when the connection drops.
	RejoinOnReconnect bool
}

// Manager owns one logical chat connection.
type Manager struct {
	dialer      transport.Dialer
	bus         *events.Bus
	log         *zerolog.Logger
	clock       clock.Clock
	tokens      TokenSource
	backoff     Backoff
	dialTimeout time.Duration
	rejoin      bool
	rooms       *RoomTracker

	mu          sync.Mutex
	state       State
	conn        transport.Conn
	gen         uint64
	attempts    int
	gaveUp      bool
	intentional bool
	lastErr     error
	timer       *clock.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	auth        authGate

	handlersMu sync.RWMutex
	handlers   []FrameHandler
}

// NewManager builds a disconnected manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		dialer:      opts.Dialer,
		bus:         bus,
		log:         logger,
		clock:       clk,
		tokens:      opts.Tokens,
		backoff:     opts.Backoff.withDefaults(),
		dialTimeout: opts.DialTimeout,
		rejoin:      opts.RejoinOnReconnect,
		rooms:       NewRoomTracker(),
		state:       Disconnected,
	}
}

// Bus returns the bus lifecycle events are emitted on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// OnFrame registers h for inbound frames. Handlers run on the read goroutine.
func (m *Manager) OnFrame(h FrameHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Connect dials the server. It is a no-op unless the manager is
// disconnected. A failed dial schedules a reconnect and is returned.
// ctx bounds the whole connection, not just the dial.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.intentional = false
	m.gaveUp = false
	m.attempts = 0
	gen := m.beginDialLocked()
	connCtx := m.ctx
	m.mu.Unlock()

	m.bus.Emit(events.Connecting, events.ConnectingPayload{Attempt: 0})
	return m.dial(connCtx, gen)
}

// Disconnect closes the connection on purpose. No reconnect follows and any
// pending backoff timer is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.stopTimerLocked()
	m.gen++
	conn := m.conn
	m.conn = nil
	prev := m.state
	m.state = Disconnected
	m.auth.reset()
	m.rooms.Invalidate(m.rejoin)
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(transport.ReasonClientClose); err != nil {
			m.log.Debug().Err(err).Msg("close connection")
		}
	}
	if cancel != nil {
		cancel()
	}
	if prev != Disconnected {
		m.log.Info().Msg("disconnected by client")
		m.bus.Emit(events.Disconnected, events.DisconnectedPayload{
			Reason:      transport.ReasonClientClose,
			Intentional: true,
		})
	}
}

// IsConnected reports whether a transport is up, authenticated or not.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state >= Connected
}

// IsAuthenticated reports whether the handshake succeeded on this connection.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Authenticated
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.state,
		Connected:     m.state >= Connected,
		Authenticated: m.state == Authenticated,
		Attempts:      m.attempts,
		PendingJoins:  m.rooms.Pending(),
		JoinedRooms:   m.rooms.Joined(),
		GaveUp:        m.gaveUp,
	}
}

// User returns the identity the server confirmed in the handshake.
func (m *Manager) User() (userID, username string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.auth.authenticated {
		return "", "", false
	}
	return m.auth.userID, m.auth.username, true
}

// Authenticate sends the handshake with token. The token is remembered for
// later connections. It does nothing when already authenticated or when a
// handshake is in flight, and defers the handshake until the transport is up.
func (m *Manager) Authenticate(ctx context.Context, token string) error {
	m.mu.Lock()
	if token != "" {
		m.auth.token = token
	}
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.auth.begin() {
		m.mu.Unlock()
		return nil
	}
	conn, gen, tok := m.conn, m.gen, m.auth.token
	m.mu.Unlock()

	return m.sendAuth(ctx, gen, conn, tok)
}

// JoinRoom joins id now when authenticated, otherwise queues it for the
// next successful handshake.
func (m *Manager) JoinRoom(ctx context.Context, id string) error {
	if id == "" {
		return core.ValidationError("room id is required")
	}

	m.mu.Lock()
	if m.state != Authenticated {
		if m.rooms.Queue(id) {
			m.log.Debug().Str("room_id", id).Msg("join queued until authenticated")
		}
		m.mu.Unlock()
		return nil
	}
	if m.rooms.IsJoined(id) {
		m.mu.Unlock()
		return nil
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := conn.Write(ctx, proto.CmdJoinRoom, proto.RoomData{RoomID: id}); err != nil {
		m.rooms.Queue(id)
		return fmt.Errorf("join room %s: %w", id, err)
	}

	m.mu.Lock()
	if gen == m.gen {
		m.rooms.MarkJoined(id)
	}
	m.mu.Unlock()
	return nil
}

// LeaveRoom forgets id and tells the server when connected.
func (m *Manager) LeaveRoom(ctx context.Context, id string) error {
	m.mu.Lock()
	m.rooms.Leave(id)
	conn := m.conn
	connected := m.state >= Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if err := conn.Write(ctx, proto.CmdLeaveRoom, proto.RoomData{RoomID: id}); err != nil {
		return fmt.Errorf("leave room %s: %w", id, err)
	}
	return nil
}

// Send writes a command that only needs a live connection.
func (m *Manager) Send(ctx context.Context, event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state >= Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.log.Warn().Str("event", event).Msg("send while not connected")
		return core.ErrNotConnected
	}
	return m.write(ctx, conn, event, data)
}

// SendAuthenticated writes a command that needs a completed handshake.
func (m *Manager) SendAuthenticated(ctx context.Context, event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	switch {
	case state < Connected || conn == nil:
		m.log.Warn().Str("event", event).Msg("send while not connected")
		return core.ErrNotConnected
	case state != Authenticated:
		m.log.Warn().Str("event", event).Msg("send before authentication")
		return core.ErrNotAuthenticated
	}
	return m.write(ctx, conn, event, data)
}

func (m *Manager) write(ctx context.Context, conn transport.Conn, event string, data any) error {
	if err := conn.Write(ctx, event, data); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// beginDialLocked moves to Connecting under a fresh generation.
func (m *Manager) beginDialLocked() uint64 {
	m.gen++
	m.state = Connecting
	return m.gen
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) currentToken() string {
	if m.tokens != nil {
		if tok := m.tokens(); tok != "" {
			return tok
		}
	}
	return ""
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	dialCtx := ctx
	if m.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()
	}

	conn, err := m.dialer.Dial(dialCtx)
	fresh := m.currentToken()

	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(transport.ReasonClientClose)
		}
		return ErrSuperseded
	}
	if err != nil {
		m.state = Disconnected
		m.lastErr = err
		m.mu.Unlock()

		m.log.Warn().Err(err).Msg("dial failed")
		m.bus.Emit(events.Disconnected, events.DisconnectedPayload{
			Reason: transport.ReasonTransportError,
			Err:    err,
		})
		m.scheduleReconnect()
		return fmt.Errorf("connect: %w", err)
	}

	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.lastErr = nil
	m.auth.reset()
	if fresh != "" {
		m.auth.token = fresh
	}
	sendAuth := m.auth.begin()
	tok := m.auth.token
	m.mu.Unlock()

	m.log.Info().Msg("connected")
	m.bus.Emit(events.Connected, events.ConnectedPayload{})

	go m.readLoop(ctx, gen, conn)

	if sendAuth {
		if err := m.sendAuth(ctx, gen, conn, tok); err != nil {
			m.log.Warn().Err(err).Msg("send authenticate")
		}
	} else {
		m.log.Debug().Msg("no token; waiting for authenticate")
	}
	return nil
}

func (m *Manager) sendAuth(ctx context.Context, gen uint64, conn transport.Conn, token string) error {
	err := conn.Write(ctx, proto.CmdAuthenticate, proto.AuthenticateData{
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if gen == m.gen {
		m.auth.fail()
	}
	m.mu.Unlock()
	return fmt.Errorf("authenticate: %w", err)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn transport.Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(ctx, gen, err)
			return
		}

		switch env.Event {
		case proto.EvtAuthenticated:
			m.handleAuthenticated(ctx, gen, conn, env)
		case proto.EvtAuthError:
			m.handleAuthError(gen, env)
		default:
			m.dispatch(env)
		}
	}
}

func (m *Manager) dispatch(env proto.Envelope) {
	m.handlersMu.RLock()
	handlers := m.handlers
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

func (m *Manager) handleAuthenticated(ctx context.Context, gen uint64, conn transport.Conn, env proto.Envelope) {
	var data proto.AuthenticatedData
	if err := env.Bind(&data); err != nil {
		m.log.Debug().Err(err).Msg("authenticated frame without identity")
	}

	m.mu.Lock()
	if gen != m.gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.state = Authenticated
	m.auth.succeed(data.UserID, data.Username)
	m.mu.Unlock()

	m.log.Info().Str("user_id", data.UserID).Str("username", data.Username).Msg("authenticated")
	m.flushPending(ctx, gen, conn)
	m.bus.Emit(events.Authenticated, events.AuthenticatedPayload{
		UserID:   data.UserID,
		Username: data.Username,
	})
}

// flushPending sends queued joins in order. An entry leaves the queue only
// after its join was written.
func (m *Manager) flushPending(ctx context.Context, gen uint64, conn transport.Conn) {
	for {
		m.mu.Lock()
		if gen != m.gen || m.state != Authenticated {
			m.mu.Unlock()
			return
		}
		id, ok := m.rooms.Next()
		m.mu.Unlock()
		if !ok {
			return
		}

		if err := conn.Write(ctx, proto.CmdJoinRoom, proto.RoomData{RoomID: id}); err != nil {
			m.log.Warn().Err(err).Str("room_id", id).Msg("flush pending join")
			return
		}

		m.mu.Lock()
		if gen == m.gen {
			m.rooms.MarkJoined(id)
		}
		m.mu.Unlock()
		m.log.Debug().Str("room_id", id).Msg("joined pending room")
	}
}

func (m *Manager) handleAuthError(gen uint64, env proto.Envelope) {
	var data proto.AuthErrorData
	if err := env.Bind(&data); err != nil {
		data.Message = "authentication failed"
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.auth.fail()
	if m.state == Authenticated {
		m.state = Connected
	}
	m.mu.Unlock()

	m.log.Warn().Str("reason", data.Message).Msg("authentication rejected")
	m.bus.Emit(events.AuthError, events.AuthErrorPayload{Message: data.Message})
}

func (m *Manager) handleClose(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	intentional := m.intentional || ctx.Err() != nil
	m.state = Disconnected
	m.conn = nil
	m.lastErr = err
	m.auth.reset()
	m.rooms.Invalidate(m.rejoin)
	if intentional {
		m.intentional = true
	}
	m.mu.Unlock()

	reason := transport.Reason(err)
	m.log.Info().Err(err).Str("reason", reason).Msg("connection closed")
	m.bus.Emit(events.Disconnected, events.DisconnectedPayload{
		Reason:      reason,
		Intentional: intentional,
		Err:         err,
	})
	if !intentional {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer for the next attempt, or gives
// up once the attempt budget is spent.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.intentional || m.state != Disconnected || m.timer != nil {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.backoff.MaxAttempts {
		m.gaveUp = true
		attempts, lastErr := m.attempts, m.lastErr
		m.mu.Unlock()

		m.log.Error().Err(lastErr).Int("attempts", attempts).Msg("giving up reconnecting")
		m.bus.Emit(events.ConnectionError, events.ConnectionErrorPayload{
			Attempts: attempts,
			Err:      lastErr,
		})
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.Delay(attempt)
	gen := m.gen
	m.timer = m.clock.AfterFunc(delay, func() { m.fireReconnect(gen) })
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	m.bus.Emit(events.Reconnecting, events.ReconnectingPayload{Attempt: attempt, Delay: delay})
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.intentional || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	next := m.beginDialLocked()
	attempt := m.attempts
	ctx := m.ctx
	m.mu.Unlock()

	m.bus.Emit(events.Connecting, events.ConnectingPayload{Attempt: attempt})
	_ = m.dial(ctx, next)
}
