package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
	"github.com/vovakirdan/citychat/internal/proto"
	"github.com/vovakirdan/citychat/internal/session"
)

type sentCmd struct {
	Event string
	Data  any
}

// fakeSender records commands and enforces the session's connection gates.
type fakeSender struct {
	mu            sync.Mutex
	connected     bool
	authenticated bool
	sent          []sentCmd
	handlers      []session.FrameHandler
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: true, authenticated: true}
}

func (f *fakeSender) Send(_ context.Context, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return core.ErrNotConnected
	}
	f.sent = append(f.sent, sentCmd{Event: event, Data: data})
	return nil
}

func (f *fakeSender) SendAuthenticated(ctx context.Context, event string, data any) error {
	f.mu.Lock()
	auth := f.authenticated
	f.mu.Unlock()
	if !auth {
		return core.ErrNotAuthenticated
	}
	return f.Send(ctx, event, data)
}

func (f *fakeSender) OnFrame(h session.FrameHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeSender) deliver(t *testing.T, event string, data any) {
	t.Helper()
	env, err := proto.NewEnvelope(proto.JSON{}, event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	f.mu.Lock()
	handlers := f.handlers
	f.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (f *fakeSender) events(name string) []sentCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCmd
	for _, s := range f.sent {
		if s.Event == name {
			out = append(out, s)
		}
	}
	return out
}

// collector records bus payloads for the given names.
type collector struct {
	mu  sync.Mutex
	got map[events.Name][]any
}

func collect(bus *events.Bus, names ...events.Name) *collector {
	c := &collector{got: make(map[events.Name][]any)}
	for _, name := range names {
		name := name
		bus.On(name, func(p any) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.got[name] = append(c.got[name], p)
		})
	}
	return c
}

func (c *collector) of(name events.Name) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.got[name]...)
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

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func roomMsg(id, room string, sec int) core.Message {
	return core.Message{
		ID:        id,
		Content:   "msg " + id,
		Sender:    core.Sender{ID: "other", DisplayName: "Other"},
		Type:      core.MessageTypeGlobal,
		RoomID:    room,
		Status:    core.StatusSent,
		CreatedAt: at(sec),
		UpdatedAt: at(sec),
	}
}

func directMsg(id, conv, sender string, sec int) core.Message {
	return core.Message{
		ID:             id,
		Content:        "dm " + id,
		Sender:         core.Sender{ID: sender, DisplayName: sender},
		Type:           core.MessageTypeDirect,
		ConversationID: conv,
		Status:         core.StatusSent,
		CreatedAt:      at(sec),
		UpdatedAt:      at(sec),
	}
}

func ids(msgs []core.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			out = append(out, "tmp:"+m.TempID)
			continue
		}
		out = append(out, m.ID)
	}
	return out
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
