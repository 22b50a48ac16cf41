package chat

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
)

func newTestReconciler() (*Reconciler, *events.Bus, *clock.Mock) {
	bus := events.NewBus(nil)
	mock := clock.NewMock()
	mock.Set(base)
	r := NewReconciler(bus, mock, nil)
	r.Attach()
	r.SetSelf("me")
	return r, bus, mock
}

func TestDuplicateDeliveryKeepsOneEntry(t *testing.T) {
	r, bus, _ := newTestReconciler()
	m := roomMsg("m1", "global-1", 1)

	bus.Emit(events.MessageNew, m)
	bus.Emit(events.MessageNew, m)
	bus.Emit(events.MessageNew, m)

	if got := r.RoomMessages("global-1"); len(got) != 1 {
		t.Fatalf("expected one entry, got %v", ids(got))
	}
}

func TestIngestKeepsTimestampOrder(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.Ingest(roomMsg("m1", "R", 10))
	r.Ingest(roomMsg("m3", "R", 30))
	r.Ingest(roomMsg("m2", "R", 20))
	r.Ingest(roomMsg("m2b", "R", 20))
	r.Ingest(roomMsg("m0", "R", 0))

	if got := ids(r.RoomMessages("R")); !equalIDs(got, "m0", "m1", "m2", "m2b", "m3") {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestConversationsSortedAfterDirectMessage(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.SetConversations([]core.Conversation{
		{ID: "c1", UpdatedAt: at(30)},
		{ID: "c2", UpdatedAt: at(20)},
		{ID: "c3", UpdatedAt: at(10)},
	})

	r.Ingest(directMsg("d1", "c3", "bob", 40))
	r.Ingest(directMsg("d2", "c9", "carol", 35))

	got := r.Conversations()
	order := make([]string, 0, len(got))
	for _, c := range got {
		order = append(order, c.ID)
	}
	if !equalIDs(order, "c3", "c9", "c1", "c2") {
		t.Fatalf("unexpected conversation order %v", order)
	}
	for i := 1; i < len(got); i++ {
		if got[i].UpdatedAt.After(got[i-1].UpdatedAt) {
			t.Fatalf("conversations not sorted descending at %d", i)
		}
	}

	stub, ok := r.Conversation("c9")
	if !ok || stub.LastMessage == nil || stub.LastMessage.ID != "d2" {
		t.Fatalf("expected stub conversation with last message, got %+v", stub)
	}
	if p, ok := stub.Other("me"); !ok || p.ID != "carol" {
		t.Fatalf("stub should carry the sender as participant, got %+v", stub.Participants)
	}
}

func TestUnreadCounting(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.SetConversations([]core.Conversation{{ID: "c1"}, {ID: "c2"}})
	r.SetActiveConversation("c2")

	r.Ingest(directMsg("a", "c1", "bob", 1))
	r.Ingest(directMsg("b", "c1", "me", 2))
	r.Ingest(directMsg("c", "c2", "bob", 3))

	c1, _ := r.Conversation("c1")
	c2, _ := r.Conversation("c2")
	if c1.UnreadCount != 1 || c2.UnreadCount != 0 {
		t.Fatalf("unexpected unread counts c1=%d c2=%d", c1.UnreadCount, c2.UnreadCount)
	}
	if r.UnreadTotal() != 1 {
		t.Fatalf("unexpected total %d", r.UnreadTotal())
	}
}

func TestEditKeepsPositionAndIgnoresUnknown(t *testing.T) {
	r, bus, _ := newTestReconciler()
	c := collect(bus, events.ChatUpdated)
	for i, id := range []string{"m1", "m2", "m3"} {
		r.Ingest(roomMsg(id, "R", i))
	}

	edited := roomMsg("m2", "R", 1)
	edited.Content = "fixed typo"
	bus.Emit(events.MessageEdited, edited)

	got := r.RoomMessages("R")
	if !equalIDs(ids(got), "m1", "m2", "m3") {
		t.Fatalf("edit moved a message: %v", ids(got))
	}
	if got[1].Content != "fixed typo" || !got[1].Edited {
		t.Fatalf("edit not applied: %+v", got[1])
	}

	before := len(c.of(events.ChatUpdated))
	ghost := roomMsg("nope", "R", 2)
	if r.ApplyEdit(ghost) {
		t.Fatalf("edit for unknown id reported a change")
	}
	if len(r.RoomMessages("R")) != 3 || len(c.of(events.ChatUpdated)) != before {
		t.Fatalf("edit for unknown id changed state")
	}
}

func TestDeleteRemovesExactlyOneInScope(t *testing.T) {
	r, bus, _ := newTestReconciler()
	r.Ingest(roomMsg("m1", "R", 1))
	r.Ingest(roomMsg("m2", "R", 2))
	r.Ingest(roomMsg("m1", "S", 1))

	bus.Emit(events.MessageDeleted, core.MessageDeletion{MessageID: "m1", RoomID: "R"})

	if got := ids(r.RoomMessages("R")); !equalIDs(got, "m2") {
		t.Fatalf("unexpected R after delete %v", got)
	}
	if got := ids(r.RoomMessages("S")); !equalIDs(got, "m1") {
		t.Fatalf("delete leaked into another scope: %v", got)
	}

	// Without a hint the first list holding the id loses it.
	if !r.ApplyDelete(core.MessageDeletion{MessageID: "m1"}) {
		t.Fatalf("unscoped delete found nothing")
	}
	if len(r.RoomMessages("S")) != 0 {
		t.Fatalf("unscoped delete missed")
	}
	if r.ApplyDelete(core.MessageDeletion{MessageID: "m1"}) {
		t.Fatalf("deleted twice")
	}
}

func TestHistoryMergeUnionsAndSorts(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.Ingest(roomMsg("m5", "R", 50))
	r.Ingest(roomMsg("m3", "R", 30))

	r.LoadRoomHistory("R", []core.Message{
		roomMsg("m1", "R", 10),
		roomMsg("m3", "R", 30),
		roomMsg("m2", "R", 20),
	})
	if got := ids(r.RoomMessages("R")); !equalIDs(got, "m1", "m2", "m3", "m5") {
		t.Fatalf("unexpected merged history %v", got)
	}

	r.LoadConversationHistory("c1", []core.Message{directMsg("d2", "c1", "bob", 2), directMsg("d1", "c1", "bob", 1)})
	if got := ids(r.Messages(core.Scope{ConversationID: "c1"})); !equalIDs(got, "d1", "d2") {
		t.Fatalf("unexpected conversation history %v", got)
	}
}

func TestOptimisticSendConfirmedByStream(t *testing.T) {
	r, _, mock := newTestReconciler()
	r.Ingest(roomMsg("m1", "R", 0))
	mock.Add(5 * time.Second)

	out := core.Outgoing{Content: "hi all", Scope: core.Scope{RoomID: "R"}, TempID: "tmp-1"}
	ph := r.AddPending(out, core.Sender{ID: "me", DisplayName: "Mayor"})
	if !ph.Pending() {
		t.Fatalf("placeholder not pending")
	}
	if got := ids(r.RoomMessages("R")); !equalIDs(got, "m1", "tmp:tmp-1") {
		t.Fatalf("unexpected list %v", got)
	}

	confirmed := roomMsg("m2", "R", 5)
	confirmed.TempID = "tmp-1"
	confirmed.Sender = core.Sender{ID: "me"}
	r.Ingest(confirmed)

	// The REST response arrives after the broadcast.
	r.ConfirmPending("tmp-1", confirmed)

	got := r.RoomMessages("R")
	if !equalIDs(ids(got), "m1", "m2") {
		t.Fatalf("unexpected list after confirm %v", ids(got))
	}
	if got[1].Pending() {
		t.Fatalf("confirmed message still pending")
	}
}

func TestOptimisticSendConfirmedByResponse(t *testing.T) {
	r, _, _ := newTestReconciler()
	out := core.Outgoing{Content: "psst", Scope: core.Scope{ConversationID: "c1"}, TempID: "tmp-2"}
	r.AddPending(out, core.Sender{ID: "me"})

	final := directMsg("d1", "c1", "me", 0)
	final.TempID = "tmp-2"
	r.ConfirmPending("tmp-2", final)
	r.Ingest(final)

	if got := ids(r.Messages(out.Scope)); !equalIDs(got, "d1") {
		t.Fatalf("unexpected list %v", got)
	}
	c, ok := r.Conversation("c1")
	if !ok || c.UnreadCount != 0 || c.LastMessage == nil || c.LastMessage.ID != "d1" {
		t.Fatalf("unexpected conversation %+v", c)
	}
}

func TestFailPendingRemovesPlaceholder(t *testing.T) {
	r, _, _ := newTestReconciler()
	scope := core.Scope{RoomID: "R"}
	r.AddPending(core.Outgoing{Content: "x", Scope: scope, TempID: "tmp-3"}, core.Sender{ID: "me"})

	if !r.FailPending(scope, "tmp-3") {
		t.Fatalf("placeholder not found")
	}
	if len(r.Messages(scope)) != 0 {
		t.Fatalf("placeholder survived failure")
	}
}

func TestMarkReadSurvivesServerSnapshotUntilAck(t *testing.T) {
	r, bus, _ := newTestReconciler()
	r.SetConversations([]core.Conversation{{ID: "c1", UnreadCount: 4}})

	r.MarkReadLocally("c1")
	r.SetConversations([]core.Conversation{{ID: "c1", UnreadCount: 4}})
	if c, _ := r.Conversation("c1"); c.UnreadCount != 0 {
		t.Fatalf("server snapshot overrode local read: %d", c.UnreadCount)
	}

	bus.Emit(events.ConversationRead, core.ReadReceipt{ConversationID: "c1", UserID: "me"})
	r.SetConversations([]core.Conversation{{ID: "c1", UnreadCount: 2}})
	if c, _ := r.Conversation("c1"); c.UnreadCount != 2 {
		t.Fatalf("server count should apply after ack, got %d", c.UnreadCount)
	}
}

func TestReadReceiptFromPeerMarksOwnMessages(t *testing.T) {
	r, bus, _ := newTestReconciler()
	r.Ingest(directMsg("d1", "c1", "me", 1))
	r.Ingest(directMsg("d2", "c1", "bob", 2))
	r.Ingest(directMsg("d3", "c1", "me", 3))

	bus.Emit(events.ConversationRead, core.ReadReceipt{ConversationID: "c1", UserID: "bob", MessageID: "d2"})

	got := r.Messages(core.Scope{ConversationID: "c1"})
	if got[0].Status != core.StatusRead || got[2].Status != core.StatusSent {
		t.Fatalf("unexpected statuses %q %q", got[0].Status, got[2].Status)
	}
}

func TestDMRequestLifecycleThroughBus(t *testing.T) {
	r, bus, _ := newTestReconciler()

	bus.Emit(events.DMRequestReceived, request("R1", time.Time{}))
	bus.Emit(events.DMRequestReceived, request("R2", time.Time{}))
	if cur, _ := r.CurrentDMRequest(); cur.ID != "R1" {
		t.Fatalf("expected R1 current, got %q", cur.ID)
	}

	bus.Emit(events.DMRequestDeclined, request("R1", time.Time{}))
	if cur, _ := r.CurrentDMRequest(); cur.ID != "R2" {
		t.Fatalf("expected R2 current, got %q", cur.ID)
	}
	if len(r.PendingDMRequests()) != 0 {
		t.Fatalf("pending not empty")
	}

	bus.Emit(events.DMRequestAccepted, request("R2", time.Time{}))
	if _, ok := r.CurrentDMRequest(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestExpireDMRequestsUsesClock(t *testing.T) {
	r, _, mock := newTestReconciler()
	r.AddDMRequest(request("R1", base.Add(time.Minute)))

	if got := r.ExpireDMRequests(); len(got) != 0 {
		t.Fatalf("expired too early")
	}
	mock.Add(time.Minute)
	if got := r.ExpireDMRequests(); len(got) != 1 || got[0].ID != "R1" {
		t.Fatalf("unexpected expiry %+v", got)
	}
}

func TestDMRequestSnapshotReplacesQueue(t *testing.T) {
	r, bus, _ := newTestReconciler()
	updates := collect(bus, events.ChatUpdated)

	bus.Emit(events.DMRequestReceived, request("stale", base.Add(-time.Minute)))
	if _, ok := r.CurrentDMRequest(); ok {
		t.Fatalf("expired request became current")
	}
	if len(updates.of(events.ChatUpdated)) != 0 {
		t.Fatalf("expired request produced an update")
	}

	r.AddDMRequest(request("R1", time.Time{}))
	r.AddDMRequest(request("R2", time.Time{}))
	r.SetDMRequests([]core.DMRequest{request("R2", time.Time{})})

	cur, ok := r.CurrentDMRequest()
	if !ok || cur.ID != "R2" || len(r.PendingDMRequests()) != 0 {
		t.Fatalf("expected only R2 after snapshot, got %+v pending %+v", cur, r.PendingDMRequests())
	}
}

func TestPresenceCountsAndTyping(t *testing.T) {
	r, bus, _ := newTestReconciler()
	r.SetConversations([]core.Conversation{{ID: "c1", Participants: []core.Participant{{ID: "bob"}}}})

	bus.Emit(events.UserOnline, core.Presence{UserID: "bob", Online: true})
	bus.Emit(events.RoomUserCount, core.RoomUserCount{RoomID: "global-1", Count: 12})
	if !r.Online("bob") || r.RoomUserCount("global-1") != 12 {
		t.Fatalf("presence or count not recorded")
	}
	if c, _ := r.Conversation("c1"); !c.Participants[0].Online {
		t.Fatalf("participant online flag not updated")
	}

	room := core.Scope{RoomID: "global-1"}
	bus.Emit(events.TypingStart, core.TypingIndicator{Scope: room, UserID: "bob"})
	bus.Emit(events.TypingStart, core.TypingIndicator{Scope: room, UserID: "bob"})
	bus.Emit(events.TypingStart, core.TypingIndicator{Scope: room, UserID: "me"})
	if got := r.Typing(room); len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("unexpected typing set %+v", got)
	}

	// A message from the typist clears the indicator.
	m := roomMsg("m1", "global-1", 1)
	m.Sender.ID = "bob"
	r.Ingest(m)
	if len(r.Typing(room)) != 0 {
		t.Fatalf("typing indicator not cleared by message")
	}

	bus.Emit(events.UserOffline, core.Presence{UserID: "bob", Online: false})
	if r.Online("bob") {
		t.Fatalf("offline not recorded")
	}
}

func TestSelfLearnedFromAuthentication(t *testing.T) {
	bus := events.NewBus(nil)
	r := NewReconciler(bus, clock.NewMock(), nil)
	sub := r.Attach()
	defer sub.Close()

	bus.Emit(events.Authenticated, events.AuthenticatedPayload{UserID: "u42", Username: "mayor"})
	if r.Self() != "u42" {
		t.Fatalf("self not set from authenticated event")
	}
}
