package chat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
)

// DefaultTypingTimeout is how long after the last keystroke typing_stop is sent.
const DefaultTypingTimeout = 2 * time.Second

// TypingDebouncer sends typing_start once per burst and typing_stop after
// the burst goes quiet, independently for every scope.
type TypingDebouncer struct {
	conn    Sender
	clock   clock.Clock
	timeout time.Duration
	log     *zerolog.Logger

	mu     sync.Mutex
	scopes map[string]*typingScope
}

type typingScope struct {
	scope core.Scope
	timer *clock.Timer
	gen   uint64
}

// NewTypingDebouncer builds a debouncer. Zero timeout means DefaultTypingTimeout.
func NewTypingDebouncer(conn Sender, clk clock.Clock, timeout time.Duration, logger *zerolog.Logger) *TypingDebouncer {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TypingDebouncer{
		conn:    conn,
		clock:   clk,
		timeout: timeout,
		log:     logger,
		scopes:  make(map[string]*typingScope),
	}
}

// Keystroke sends typing_start on the first call of a burst and re-arms the
// stop timer on every call.
func (d *TypingDebouncer) Keystroke(ctx context.Context, scope core.Scope) error {
	if scope.Empty() {
		return core.ValidationError("room or conversation is required")
	}
	key := scope.Key()

	d.mu.Lock()
	if s, ok := d.scopes[key]; ok {
		s.timer.Stop()
		s.gen++
		s.timer = d.arm(key, s.gen)
		d.mu.Unlock()
		return nil
	}
	s := &typingScope{scope: scope, gen: 1}
	s.timer = d.arm(key, s.gen)
	d.scopes[key] = s
	d.mu.Unlock()

	if err := d.conn.Send(ctx, proto.CmdTypingStart, typingData(scope)); err != nil {
		d.mu.Lock()
		if cur, ok := d.scopes[key]; ok && cur == s {
			cur.timer.Stop()
			delete(d.scopes, key)
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// Stop ends typing in scope immediately. It does nothing if the user is not typing there.
func (d *TypingDebouncer) Stop(ctx context.Context, scope core.Scope) {
	key := scope.Key()

	d.mu.Lock()
	s, ok := d.scopes[key]
	if ok {
		s.timer.Stop()
		delete(d.scopes, key)
	}
	d.mu.Unlock()

	if ok {
		d.sendStop(ctx, s.scope)
	}
}

// Active reports whether a typing burst is open in scope.
func (d *TypingDebouncer) Active(scope core.Scope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scopes[scope.Key()]
	return ok
}

// arm must be called with d.mu held.
func (d *TypingDebouncer) arm(key string, gen uint64) *clock.Timer {
	return d.clock.AfterFunc(d.timeout, func() { d.expire(key, gen) })
}

func (d *TypingDebouncer) expire(key string, gen uint64) {
	d.mu.Lock()
	s, ok := d.scopes[key]
	if !ok || s.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.scopes, key)
	d.mu.Unlock()

	d.sendStop(context.Background(), s.scope)
}

func (d *TypingDebouncer) sendStop(ctx context.Context, scope core.Scope) {
	if err := d.conn.Send(ctx, proto.CmdTypingStop, typingData(scope)); err != nil {
		d.log.Debug().Err(err).Str("scope", scope.Key()).Msg("send typing stop")
	}
}

func typingData(scope core.Scope) proto.TypingData {
	return proto.TypingData{RoomID: scope.RoomID, ConversationID: scope.ConversationID}
}
