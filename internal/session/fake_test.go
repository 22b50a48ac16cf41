package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/transport"
)

type written struct {
	Event string
	Data  any
}

// fakeConn is an in-memory transport.Conn driven by the test.
type fakeConn struct {
	frames chan proto.Envelope
	done   chan struct{}

	mu       sync.Mutex
	writes   []written
	failJoin int // join_room writes left to fail
	attempts int // join_room writes tried
	closeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan proto.Envelope, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (proto.Envelope, error) {
	select {
	case env := <-c.frames:
		return env, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return proto.Envelope{}, c.closeErr
	case <-ctx.Done():
		return proto.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if event == proto.CmdJoinRoom {
		c.attempts++
		if c.failJoin > 0 {
			c.failJoin--
			return errors.New("write timeout")
		}
	}
	c.writes = append(c.writes, written{Event: event, Data: data})
	return nil
}

func (c *fakeConn) Close(string) error {
	c.shutdown(&transport.CloseError{Reason: transport.ReasonClientClose, Err: transport.ErrClosed})
	return nil
}

// serverClose simulates the server dropping the connection.
func (c *fakeConn) serverClose() {
	c.shutdown(&transport.CloseError{Reason: transport.ReasonServerClose, Err: errors.New("eof")})
}

func (c *fakeConn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	close(c.done)
}

func (c *fakeConn) failJoins(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failJoin = n
}

func (c *fakeConn) joinAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) push(t *testing.T, event string, data any) {
	t.Helper()
	env, err := proto.NewEnvelope(proto.JSON{}, event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	c.frames <- env
}

func (c *fakeConn) sent(event string) []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []written
	for _, w := range c.writes {
		if w.Event == event {
			out = append(out, w)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. With a gate it blocks each dial until
// the test sends on the gate.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	fail  bool
	gate  chan struct{}
}

func (d *fakeDialer) Dial(context.Context) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	fail := d.fail
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects bus payloads per event name.
type recorder struct {
	mu     sync.Mutex
	events map[events.Name][]any
}

func record(bus *events.Bus, names ...events.Name) *recorder {
	r := &recorder{events: make(map[events.Name][]any)}
	for _, name := range names {
		name := name
		bus.On(name, func(payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[name] = append(r.events[name], payload)
		})
	}
	return r
}

func (r *recorder) get(name events.Name) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events[name]...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
