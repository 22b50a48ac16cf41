package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
)

func newTestManager(d *fakeDialer, token string, rejoin bool) (*Manager, *clock.Mock, *events.Bus) {
	mock := clock.NewMock()
	bus := events.NewBus(nil)
	m := NewManager(Options{
		Dialer:            d,
		Bus:               bus,
		Clock:             mock,
		Tokens:            func() string { return token },
		RejoinOnReconnect: rejoin,
	})
	return m, mock, bus
}

func joins(c *fakeConn) []string {
	var out []string
	for _, w := range c.sent(proto.CmdJoinRoom) {
		out = append(out, w.Data.(proto.RoomData).RoomID)
	}
	return out
}

func authenticate(t *testing.T, m *Manager, c *fakeConn) {
	t.Helper()
	waitFor(t, "authenticate frame", func() bool { return len(c.sent(proto.CmdAuthenticate)) > 0 })
	c.push(t, proto.EvtAuthenticated, proto.AuthenticatedData{UserID: "u1", Username: "mayor"})
	waitFor(t, "authenticated state", m.IsAuthenticated)
}

func TestReconnectBackoffSequence(t *testing.T) {
	d := &fakeDialer{fail: true}
	m, mock, bus := newTestManager(d, "tok", false)
	rec := record(bus, events.Reconnecting, events.ConnectionError, events.Connecting)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, delay := range want {
		waitFor(t, "reconnect scheduled", func() bool { return len(rec.get(events.Reconnecting)) == i+1 })
		p := rec.get(events.Reconnecting)[i].(events.ReconnectingPayload)
		if p.Attempt != i+1 || p.Delay != delay {
			t.Fatalf("attempt %d: got %+v, want delay %v", i+1, p, delay)
		}
		if st := m.Status(); st.State != Disconnected {
			t.Fatalf("expected disconnected while waiting, got %v", st.State)
		}
		mock.Add(delay)
	}

	waitFor(t, "connection_error", func() bool { return len(rec.get(events.ConnectionError)) == 1 })
	p := rec.get(events.ConnectionError)[0].(events.ConnectionErrorPayload)
	if p.Attempts != 5 || p.Err == nil {
		t.Fatalf("unexpected connection error payload %+v", p)
	}

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	if got := d.dialCount(); got != 6 {
		t.Fatalf("expected initial dial plus 5 retries, got %d dials", got)
	}
	if got := len(rec.get(events.Reconnecting)); got != 5 {
		t.Fatalf("expected no sixth attempt, got %d", got)
	}
	if !m.Status().GaveUp {
		t.Fatalf("status should report give-up")
	}

	// A manual connect starts over.
	d.setFail(false)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("manual connect: %v", err)
	}
	if st := m.Status(); st.GaveUp || st.Attempts != 0 || !st.Connected {
		t.Fatalf("unexpected status after manual connect %+v", st)
	}
}

func TestJoinWhileConnectingIsSentOnceAfterAuth(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m, _, _ := newTestManager(d, "tok", false)
	ctx := context.Background()

	go func() { _ = m.Connect(ctx) }()
	waitFor(t, "connecting", func() bool { return m.State() == Connecting })

	if err := m.JoinRoom(ctx, "global-1"); err != nil {
		t.Fatalf("join while connecting: %v", err)
	}
	if got := m.Status().PendingJoins; len(got) != 1 || got[0] != "global-1" {
		t.Fatalf("expected pending [global-1], got %v", got)
	}

	d.gate <- struct{}{}
	waitFor(t, "conn", func() bool { return d.last() != nil })
	c := d.last()

	waitFor(t, "authenticate frame", func() bool { return len(c.sent(proto.CmdAuthenticate)) == 1 })
	if got := joins(c); len(got) != 0 {
		t.Fatalf("join sent before auth: %v", got)
	}
	auth := c.sent(proto.CmdAuthenticate)[0].Data.(proto.AuthenticateData)
	if auth.Token != "tok" {
		t.Fatalf("unexpected token %q", auth.Token)
	}

	authenticate(t, m, c)
	waitFor(t, "pending flushed", func() bool { return len(m.Status().PendingJoins) == 0 })

	if got := joins(c); len(got) != 1 || got[0] != "global-1" {
		t.Fatalf("expected exactly one join for global-1, got %v", got)
	}
	if got := m.Status().JoinedRooms; len(got) != 1 || got[0] != "global-1" {
		t.Fatalf("unexpected joined rooms %v", got)
	}
}

func TestJoinAfterFailedFlushIsSent(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m, _, _ := newTestManager(d, "tok", false)
	ctx := context.Background()

	go func() { _ = m.Connect(ctx) }()
	waitFor(t, "connecting", func() bool { return m.State() == Connecting })
	if err := m.JoinRoom(ctx, "global-1"); err != nil {
		t.Fatalf("join while connecting: %v", err)
	}

	d.gate <- struct{}{}
	waitFor(t, "conn", func() bool { return d.last() != nil })
	c := d.last()
	c.failJoins(1)

	authenticate(t, m, c)
	waitFor(t, "flush attempt", func() bool { return c.joinAttempts() == 1 })
	if got := m.Status().PendingJoins; len(got) != 1 || got[0] != "global-1" {
		t.Fatalf("expected failed join to stay pending, got %v", got)
	}

	if err := m.JoinRoom(ctx, "global-1"); err != nil {
		t.Fatalf("join after failed flush: %v", err)
	}
	if got := joins(c); len(got) != 1 || got[0] != "global-1" {
		t.Fatalf("expected one join for global-1, got %v", got)
	}
	st := m.Status()
	if len(st.PendingJoins) != 0 || len(st.JoinedRooms) != 1 {
		t.Fatalf("unexpected rooms pending=%v joined=%v", st.PendingJoins, st.JoinedRooms)
	}
}

func TestJoinRetriesAfterFailedWrite(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(d, "tok", false)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	authenticate(t, m, c)
	c.failJoins(1)

	if err := m.JoinRoom(ctx, "market"); err == nil {
		t.Fatalf("expected write error")
	}
	if err := m.JoinRoom(ctx, "market"); err != nil {
		t.Fatalf("retry join: %v", err)
	}
	if got := joins(c); len(got) != 1 || got[0] != "market" {
		t.Fatalf("expected one join for market, got %v", got)
	}
	if got := m.Status().PendingJoins; len(got) != 0 {
		t.Fatalf("expected empty queue, got %v", got)
	}
}

func TestPendingJoinsFlushInCallOrder(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(d, "", false)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	for _, id := range []string{"global-1", "conv-9", "global-1", "trade"} {
		if err := m.JoinRoom(ctx, id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	if len(c.sent(proto.CmdAuthenticate)) != 0 {
		t.Fatalf("authenticate sent without a token")
	}

	if err := m.Authenticate(ctx, "late-token"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	authenticate(t, m, c)
	waitFor(t, "pending flushed", func() bool { return len(m.Status().PendingJoins) == 0 })

	got := joins(c)
	want := []string{"global-1", "conv-9", "trade"}
	if len(got) != len(want) {
		t.Fatalf("joins = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("joins = %v, want %v", got, want)
		}
	}

	// Joining an already joined room sends nothing.
	if err := m.JoinRoom(ctx, "trade"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := m.JoinRoom(ctx, "market"); err != nil {
		t.Fatalf("join market: %v", err)
	}
	if got := joins(c); len(got) != 4 || got[3] != "market" {
		t.Fatalf("unexpected joins after auth %v", got)
	}
}

func TestAuthenticateIsNotResent(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(d, "tok", false)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	waitFor(t, "authenticate frame", func() bool { return len(c.sent(proto.CmdAuthenticate)) == 1 })

	if err := m.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("authenticate in flight: %v", err)
	}
	authenticate(t, m, c)
	if err := m.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("authenticate when done: %v", err)
	}

	if got := len(c.sent(proto.CmdAuthenticate)); got != 1 {
		t.Fatalf("expected a single authenticate frame, got %d", got)
	}
	if id, name, ok := m.User(); !ok || id != "u1" || name != "mayor" {
		t.Fatalf("unexpected user %q %q %v", id, name, ok)
	}
}

func TestAuthErrorKeepsConnection(t *testing.T) {
	d := &fakeDialer{}
	m, _, bus := newTestManager(d, "bad", false)
	rec := record(bus, events.AuthError)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	waitFor(t, "authenticate frame", func() bool { return len(c.sent(proto.CmdAuthenticate)) == 1 })
	c.push(t, proto.EvtAuthError, proto.AuthErrorData{Message: "token expired"})

	waitFor(t, "auth_error event", func() bool { return len(rec.get(events.AuthError)) == 1 })
	if p := rec.get(events.AuthError)[0].(events.AuthErrorPayload); p.Message != "token expired" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if st := m.Status(); st.State != Connected || st.Authenticated {
		t.Fatalf("expected connected but not authenticated, got %+v", st)
	}

	err := m.SendAuthenticated(ctx, proto.CmdSendMessage, proto.SendMessageData{Content: "hi"})
	if !errors.Is(err, core.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	// A new token can be tried on the same connection.
	if err := m.Authenticate(ctx, "good"); err != nil {
		t.Fatalf("retry authenticate: %v", err)
	}
	if got := c.sent(proto.CmdAuthenticate); len(got) != 2 || got[1].Data.(proto.AuthenticateData).Token != "good" {
		t.Fatalf("unexpected authenticate frames %+v", got)
	}
}

func TestIntentionalDisconnectDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, mock, bus := newTestManager(d, "tok", false)
	rec := record(bus, events.Disconnected, events.Reconnecting)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	m.Disconnect()

	if !c.isClosed() {
		t.Fatalf("transport not closed")
	}
	waitFor(t, "disconnected event", func() bool { return len(rec.get(events.Disconnected)) == 1 })
	if p := rec.get(events.Disconnected)[0].(events.DisconnectedPayload); !p.Intentional {
		t.Fatalf("expected intentional disconnect, got %+v", p)
	}

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if d.dialCount() != 1 || len(rec.get(events.Reconnecting)) != 0 {
		t.Fatalf("unexpected reconnect after intentional close")
	}
}

func TestDisconnectCancelsPendingBackoff(t *testing.T) {
	d := &fakeDialer{}
	m, mock, bus := newTestManager(d, "tok", false)
	rec := record(bus, events.Reconnecting)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.last().serverClose()
	waitFor(t, "reconnect scheduled", func() bool { return len(rec.get(events.Reconnecting)) == 1 })

	m.Disconnect()
	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	if d.dialCount() != 1 {
		t.Fatalf("backoff timer fired after disconnect")
	}
}

func TestServerCloseReconnectsAndReauthenticates(t *testing.T) {
	d := &fakeDialer{}
	m, mock, bus := newTestManager(d, "tok", false)
	rec := record(bus, events.Disconnected, events.Reconnecting)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := d.last()
	authenticate(t, m, first)
	if err := m.JoinRoom(ctx, "global-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	first.serverClose()
	waitFor(t, "reconnect scheduled", func() bool { return len(rec.get(events.Reconnecting)) == 1 })

	st := m.Status()
	if st.Authenticated || st.State != Disconnected || len(st.JoinedRooms) != 0 {
		t.Fatalf("unexpected status after drop %+v", st)
	}
	if p := rec.get(events.Disconnected)[0].(events.DisconnectedPayload); p.Intentional {
		t.Fatalf("server close reported as intentional")
	}

	mock.Add(time.Second)
	waitFor(t, "redial", func() bool { return d.dialCount() == 2 && m.IsConnected() })
	second := d.last()
	if m.Status().Attempts != 0 {
		t.Fatalf("attempt counter not reset after successful dial")
	}
	authenticate(t, m, second)

	if got := joins(second); len(got) != 0 {
		t.Fatalf("rooms replayed without rejoin option: %v", got)
	}
}

func TestRejoinOnReconnectReplaysRooms(t *testing.T) {
	d := &fakeDialer{}
	m, mock, bus := newTestManager(d, "tok", true)
	rec := record(bus, events.Reconnecting)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := d.last()
	authenticate(t, m, first)
	for _, id := range []string{"global-1", "conv-2"} {
		if err := m.JoinRoom(ctx, id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	first.serverClose()
	waitFor(t, "reconnect scheduled", func() bool { return len(rec.get(events.Reconnecting)) == 1 })
	if got := m.Status().PendingJoins; len(got) != 2 {
		t.Fatalf("expected joined rooms requeued, got %v", got)
	}

	mock.Add(time.Second)
	waitFor(t, "redial", func() bool { return d.dialCount() == 2 && m.IsConnected() })
	second := d.last()
	authenticate(t, m, second)
	waitFor(t, "rooms rejoined", func() bool { return len(joins(second)) == 2 })

	if got := joins(second); got[0] != "global-1" || got[1] != "conv-2" {
		t.Fatalf("unexpected rejoin order %v", got)
	}
}

func TestStaleDialIsDiscarded(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m, _, _ := newTestManager(d, "tok", false)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background()) }()
	waitFor(t, "connecting", func() bool { return m.State() == Connecting })

	m.Disconnect()
	d.gate <- struct{}{}

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if c := d.last(); c == nil || !c.isClosed() {
		t.Fatalf("late connection should be closed")
	}
	if m.IsConnected() {
		t.Fatalf("stale dial revived the connection")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	m, _, _ := newTestManager(&fakeDialer{}, "tok", false)
	ctx := context.Background()

	if err := m.Send(ctx, proto.CmdTypingStart, proto.TypingData{RoomID: "r"}); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.SendAuthenticated(ctx, proto.CmdSendMessage, proto.SendMessageData{}); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.JoinRoom(ctx, ""); err == nil {
		t.Fatalf("expected validation error for empty room")
	}
}

func TestFramesReachHandlers(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(d, "tok", false)

	got := make(chan proto.Envelope, 1)
	m.OnFrame(func(env proto.Envelope) { got <- env })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := d.last()
	authenticate(t, m, c)
	c.push(t, proto.EvtRoomUserCount, proto.RoomUserCountData{RoomID: "global-1", Count: 3})

	select {
	case env := <-got:
		if env.Event != proto.EvtRoomUserCount {
			t.Fatalf("unexpected frame %q", env.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame not dispatched")
	}
}
