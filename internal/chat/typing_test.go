package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
)

func TestTypingStopFiresOnceAfterBurst(t *testing.T) {
	f := newFakeSender()
	mock := clock.NewMock()
	d := NewTypingDebouncer(f, mock, 0, nil)
	ctx := context.Background()
	room := core.Scope{RoomID: "global-1"}

	for i := 0; i < 4; i++ {
		if err := d.Keystroke(ctx, room); err != nil {
			t.Fatalf("keystroke: %v", err)
		}
		mock.Add(500 * time.Millisecond)
	}
	if n := len(f.events(proto.CmdTypingStart)); n != 1 {
		t.Fatalf("expected one typing_start, got %d", n)
	}
	if n := len(f.events(proto.CmdTypingStop)); n != 0 {
		t.Fatalf("typing_stop fired during the burst")
	}

	// 500ms have passed since the last keystroke.
	mock.Add(1400 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if n := len(f.events(proto.CmdTypingStop)); n != 0 {
		t.Fatalf("typing_stop fired early")
	}

	mock.Add(100 * time.Millisecond)
	waitFor(t, "typing_stop", func() bool { return len(f.events(proto.CmdTypingStop)) == 1 })

	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := len(f.events(proto.CmdTypingStop)); n != 1 {
		t.Fatalf("expected exactly one typing_stop, got %d", n)
	}
	if d.Active(room) {
		t.Fatalf("burst still active")
	}
}

func TestTypingScopesAreIndependent(t *testing.T) {
	f := newFakeSender()
	mock := clock.NewMock()
	d := NewTypingDebouncer(f, mock, 0, nil)
	ctx := context.Background()

	room := core.Scope{RoomID: "global-1"}
	dm := core.Scope{ConversationID: "c1"}
	_ = d.Keystroke(ctx, room)
	mock.Add(time.Second)
	_ = d.Keystroke(ctx, dm)

	mock.Add(time.Second)
	waitFor(t, "room stop", func() bool { return len(f.events(proto.CmdTypingStop)) == 1 })
	stop := f.events(proto.CmdTypingStop)[0].Data.(proto.TypingData)
	if stop.RoomID != "global-1" {
		t.Fatalf("wrong scope stopped first: %+v", stop)
	}
	if !d.Active(dm) {
		t.Fatalf("dm burst ended with the room burst")
	}
}

func TestSendingStopsTyping(t *testing.T) {
	tr, f, _, mock := newTestTranslator()
	ctx := context.Background()
	room := core.Scope{RoomID: "R"}

	if err := tr.Keystroke(ctx, room); err != nil {
		t.Fatalf("keystroke: %v", err)
	}
	if err := tr.SendMessage(ctx, core.Outgoing{Content: "done", Scope: room}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(f.events(proto.CmdTypingStop)); n != 1 {
		t.Fatalf("expected immediate typing_stop, got %d", n)
	}

	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := len(f.events(proto.CmdTypingStop)); n != 1 {
		t.Fatalf("stale timer sent another stop")
	}
}

func TestTypingNeedsConnection(t *testing.T) {
	f := newFakeSender()
	f.connected = false
	d := NewTypingDebouncer(f, clock.NewMock(), 0, nil)
	room := core.Scope{RoomID: "R"}

	if err := d.Keystroke(context.Background(), room); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if d.Active(room) {
		t.Fatalf("failed keystroke left a burst open")
	}
}
