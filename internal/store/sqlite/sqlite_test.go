package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/citychat/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := t0
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return s
}

func mustUser(t *testing.T, s *SQLiteStore, name string) *store.User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), name, "")
	if err != nil {
		t.Fatalf("failed to create user %s: %v", name, err)
	}
	return u
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustUser(t, s, "mayor")
	again, err := s.UpsertUser(ctx, "MAYOR", "The Mayor")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same id, got %s and %s", first.ID, again.ID)
	}
	if again.DisplayName != "The Mayor" {
		t.Fatalf("display name not updated: %q", again.DisplayName)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "alex", "alan", "bob", "charlie"} {
		mustUser(t, s, u)
	}

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "prefix", query: "al", expected: []string{"alan", "alex", "alice"}},
		{name: "infix", query: "li", expected: []string{"alice", "charlie"}},
		{name: "none", query: "z", expected: nil},
		{name: "case insensitive", query: "Bob", expected: []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.SearchUsers(ctx, tt.query, 10)
			if err != nil {
				t.Fatalf("SearchUsers failed: %v", err)
			}
			if len(results) != len(tt.expected) {
				t.Fatalf("expected %d results, got %d", len(tt.expected), len(results))
			}
			for i, u := range results {
				if u.Username != tt.expected[i] {
					t.Errorf("result %d: expected %s, got %s", i, tt.expected[i], u.Username)
				}
			}
		})
	}
}

func TestDirectConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	conv, created, err := s.GetOrCreateDirect(ctx, alice.ID, bob.ID)
	if err != nil || !created {
		t.Fatalf("create conversation: created=%v err=%v", created, err)
	}
	same, created, err := s.GetOrCreateDirect(ctx, bob.ID, alice.ID)
	if err != nil || created || same.ID != conv.ID {
		t.Fatalf("expected existing conversation, got %+v created=%v err=%v", same, created, err)
	}

	var ids []string
	for i, sender := range []string{alice.ID, bob.ID, bob.ID} {
		msg := &store.Message{ConversationID: conv.ID, SenderID: sender, Content: "m", CreatedAt: t0.Add(time.Duration(i+1) * time.Minute)}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	list, err := s.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].Participants) != 2 {
		t.Fatalf("unexpected summaries %+v", list)
	}
	if list[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread for alice, got %d", list[0].UnreadCount)
	}
	if list[0].LastMessage == nil || list[0].LastMessage.ID != ids[2] {
		t.Fatalf("unexpected last message %+v", list[0].LastMessage)
	}

	if err := s.MarkRead(ctx, conv.ID, alice.ID, ids[1], t0); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, _ = s.ListConversations(ctx, alice.ID)
	if list[0].UnreadCount != 1 {
		t.Fatalf("expected 1 unread after read, got %d", list[0].UnreadCount)
	}

	// Marking an older message does not move the marker back.
	if err := s.MarkRead(ctx, conv.ID, alice.ID, ids[0], t0); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, _ = s.ListConversations(ctx, alice.ID)
	if list[0].UnreadCount != 1 {
		t.Fatalf("read marker moved backwards: %d", list[0].UnreadCount)
	}

	carol := mustUser(t, s, "carol")
	if ok, _ := s.IsParticipant(ctx, conv.ID, carol.ID); ok {
		t.Fatalf("carol should not be a participant")
	}
}

func TestMessagePaginationAndEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")

	var ids []string
	for i := 0; i < 5; i++ {
		msg := &store.Message{RoomID: "global", SenderID: alice.ID, Content: "hello", CreatedAt: t0.Add(time.Duration(i) * time.Second)}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	page, err := s.ListRoomMessages(ctx, "global", 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[4] {
		t.Fatalf("expected newest two oldest first, got %v", page)
	}

	older, err := s.ListRoomMessages(ctx, "global", 10, ids[3])
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if len(older) != 3 || older[2].ID != ids[2] {
		t.Fatalf("unexpected older page %v", older)
	}

	edited, err := s.UpdateMessage(ctx, ids[0], "fixed", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !edited.Edited || edited.Content != "fixed" || !edited.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected edit result %+v", edited)
	}

	if err := s.DeleteMessage(ctx, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteMessage(ctx, ids[0]); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := s.SaveMessage(ctx, &store.Message{SenderID: alice.ID, Content: "lost"}); err == nil {
		t.Fatalf("expected error for message without scope")
	}
}

func TestDMRequestsExpireAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	carol := mustUser(t, s, "carol")

	r1 := &store.DMRequest{RequesterID: alice.ID, RecipientID: bob.ID, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	r2 := &store.DMRequest{RequesterID: carol.ID, RecipientID: bob.ID, CreatedAt: t0.Add(time.Minute), ExpiresAt: t0.Add(2 * time.Hour)}
	for _, r := range []*store.DMRequest{r1, r2} {
		if err := s.CreateDMRequest(ctx, r); err != nil {
			t.Fatalf("create request: %v", err)
		}
	}

	pending, err := s.ListPendingDMRequests(ctx, bob.ID)
	if err != nil || len(pending) != 2 || pending[0].ID != r1.ID {
		t.Fatalf("unexpected pending list %v err=%v", pending, err)
	}
	if found, err := s.FindPendingDMRequest(ctx, bob.ID, alice.ID); err != nil || found.ID != r1.ID {
		t.Fatalf("expected to find r1 in reverse direction, got %v err=%v", found, err)
	}

	expired, err := s.ExpireDMRequests(ctx, t0.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != r1.ID || expired[0].Status != store.DMRequestExpired {
		t.Fatalf("unexpected expired %v", expired)
	}

	if err := s.UpdateDMRequest(ctx, r2.ID, store.DMRequestAccepted, "conv-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.UpdateDMRequest(ctx, r2.ID, store.DMRequestDeclined, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("resolved request changed again: %v", err)
	}
	got, _ := s.GetDMRequest(ctx, r2.ID)
	if got.Status != store.DMRequestAccepted || got.ConversationID != "conv-1" {
		t.Fatalf("unexpected stored request %+v", got)
	}
}

func TestActiveModerations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	actions := []*store.Moderation{
		{RoomID: "global", UserID: "u1", Action: "mute", ExpiresAt: t0.Add(time.Minute)},
		{RoomID: "global", UserID: "u1", Action: "ban"},
		{RoomID: "other", UserID: "u1", Action: "mute"},
	}
	for _, m := range actions {
		if err := s.SaveModeration(ctx, m); err != nil {
			t.Fatalf("save moderation: %v", err)
		}
	}

	active, err := s.ActiveModerations(ctx, "global", "u1", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].Action != "ban" {
		t.Fatalf("expected only the ban to remain, got %v", active)
	}

	if err := s.SaveReport(ctx, &store.Report{MessageID: "m1", ReporterID: "u2", Reason: "spam"}); err != nil {
		t.Fatalf("save report: %v", err)
	}
}
