package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/events"
)

// Reconciler owns the canonical chat collections. It merges REST history
// with streamed events and optimistic sends. Readers get copies.
type Reconciler struct {
	bus   *events.Bus
	log   *zerolog.Logger
	clock clock.Clock

	mu            sync.Mutex
	selfID        string
	active        string
	lists         map[string][]core.Message
	conversations []core.Conversation
	readPending   map[string]bool
	channels      map[string]core.Channel
	requests      *DMRequestQueue
	online        map[string]core.Presence
	counts        map[string]int
	typing        map[string][]core.TypingIndicator
}

// NewReconciler builds an empty reconciler that reports changes on bus.
func NewReconciler(bus *events.Bus, clk clock.Clock, logger *zerolog.Logger) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reconciler{
		bus:         bus,
		log:         logger,
		clock:       clk,
		lists:       make(map[string][]core.Message),
		readPending: make(map[string]bool),
		channels:    make(map[string]core.Channel),
		requests:    NewDMRequestQueue(),
		online:      make(map[string]core.Presence),
		counts:      make(map[string]int),
		typing:      make(map[string][]core.TypingIndicator),
	}
}

// Attach subscribes the reconciler to the domain events on its bus. Close
// the returned subscription to detach.
func (r *Reconciler) Attach() *events.Subscription {
	sub := events.NewSubscription(r.bus)
	sub.Add(events.MessageNew, events.Subscribe(r.bus, events.MessageNew, func(m core.Message) { r.Ingest(m) }))
	sub.Add(events.MessageEdited, events.Subscribe(r.bus, events.MessageEdited, func(m core.Message) { r.ApplyEdit(m) }))
	sub.Add(events.MessageDeleted, events.Subscribe(r.bus, events.MessageDeleted, func(d core.MessageDeletion) { r.ApplyDelete(d) }))
	sub.Add(events.ConversationRead, events.Subscribe(r.bus, events.ConversationRead, r.ApplyRead))
	sub.Add(events.ConversationNew, events.Subscribe(r.bus, events.ConversationNew, r.UpsertConversation))
	sub.Add(events.TypingStart, events.Subscribe(r.bus, events.TypingStart, func(t core.TypingIndicator) { r.SetTyping(t, true) }))
	sub.Add(events.TypingStop, events.Subscribe(r.bus, events.TypingStop, func(t core.TypingIndicator) { r.SetTyping(t, false) }))
	sub.Add(events.UserOnline, events.Subscribe(r.bus, events.UserOnline, r.SetPresence))
	sub.Add(events.UserOffline, events.Subscribe(r.bus, events.UserOffline, r.SetPresence))
	sub.Add(events.RoomUserCount, events.Subscribe(r.bus, events.RoomUserCount, r.SetRoomUserCount))
	sub.Add(events.DMRequestReceived, events.Subscribe(r.bus, events.DMRequestReceived, func(req core.DMRequest) { r.AddDMRequest(req) }))
	for name, status := range map[events.Name]core.DMRequestStatus{
		events.DMRequestAccepted: core.DMRequestAccepted,
		events.DMRequestDeclined: core.DMRequestDeclined,
		events.DMRequestExpired:  core.DMRequestExpired,
	} {
		status := status
		sub.Add(name, events.Subscribe(r.bus, name, func(req core.DMRequest) {
			r.ResolveDMRequest(req.ID, status)
		}))
	}
	sub.Add(events.Authenticated, events.Subscribe(r.bus, events.Authenticated, func(p events.AuthenticatedPayload) {
		r.SetSelf(p.UserID)
	}))
	return sub
}

// SetSelf sets the local user id used for unread and read-ack decisions.
func (r *Reconciler) SetSelf(userID string) {
	r.mu.Lock()
	r.selfID = userID
	r.mu.Unlock()
}

// Self returns the local user id.
func (r *Reconciler) Self() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfID
}

// SetActiveConversation marks the conversation the user is looking at.
// Messages arriving there do not count as unread.
func (r *Reconciler) SetActiveConversation(id string) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

// Ingest adds a streamed message. Messages with a known id are ignored; a
// message carrying the temp id of a placeholder replaces it. Returns true
// when the state changed.
func (r *Reconciler) Ingest(m core.Message) bool {
	scope := m.Scope()
	if m.ID == "" || scope.Empty() {
		r.log.Debug().Str("message_id", m.ID).Msg("ignore message without id or scope")
		return false
	}

	r.mu.Lock()
	key := scope.Key()
	list := r.lists[key]
	if indexByID(list, m.ID) >= 0 {
		r.mu.Unlock()
		return false
	}
	if i := indexByTemp(list, m.TempID); i >= 0 {
		list = replaceAt(list, i, m)
	} else {
		list = insertSorted(list, m)
	}
	r.lists[key] = list
	r.clearTypingLocked(scope, m.Sender.ID)

	convChanged := false
	if scope.Direct() {
		convChanged = r.touchConversationLocked(m, true)
	}
	r.mu.Unlock()

	r.emit(core.UpdateMessages, scope)
	if convChanged {
		r.emit(core.UpdateConversations, scope)
	}
	return true
}

// ApplyEdit replaces a message in place. Unknown ids are ignored.
func (r *Reconciler) ApplyEdit(m core.Message) bool {
	r.mu.Lock()
	key, i := r.findLocked(m.Scope(), m.ID)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	list := r.lists[key]
	cur := list[i]
	cur.Content = m.Content
	cur.Edited = true
	if !m.UpdatedAt.IsZero() {
		cur.UpdatedAt = m.UpdatedAt
	}
	list[i] = cur

	if cur.ConversationID != "" {
		if ci := r.conversationIndexLocked(cur.ConversationID); ci >= 0 {
			if last := r.conversations[ci].LastMessage; last != nil && last.ID == cur.ID {
				edited := cur
				r.conversations[ci].LastMessage = &edited
			}
		}
	}
	scope := cur.Scope()
	r.mu.Unlock()

	r.emit(core.UpdateMessages, scope)
	return true
}

// ApplyDelete removes exactly one message. The deletion's scope limits the
// search when set; otherwise every list is searched.
func (r *Reconciler) ApplyDelete(d core.MessageDeletion) bool {
	r.mu.Lock()
	key, i := r.findLocked(d.Scope(), d.MessageID)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	list := r.lists[key]
	removed := list[i]
	r.lists[key] = append(list[:i:i], list[i+1:]...)
	r.mu.Unlock()

	r.emit(core.UpdateMessages, removed.Scope())
	return true
}

// LoadRoomHistory merges fetched channel history into the room's list.
func (r *Reconciler) LoadRoomHistory(roomID string, msgs []core.Message) {
	r.loadHistory(core.Scope{RoomID: roomID}, msgs)
}

// LoadConversationHistory merges fetched DM history into the conversation's list.
func (r *Reconciler) LoadConversationHistory(conversationID string, msgs []core.Message) {
	r.loadHistory(core.Scope{ConversationID: conversationID}, msgs)
}

func (r *Reconciler) loadHistory(scope core.Scope, msgs []core.Message) {
	r.mu.Lock()
	key := scope.Key()
	merged := append([]core.Message(nil), r.lists[key]...)
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if i := indexByID(merged, m.ID); i >= 0 {
			merged[i] = m
			continue
		}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	r.lists[key] = merged
	r.mu.Unlock()

	r.emit(core.UpdateMessages, scope)
}

// AddPending inserts an optimistic placeholder for out and returns it.
func (r *Reconciler) AddPending(out core.Outgoing, sender core.Sender) core.Message {
	now := r.clock.Now()
	typ := out.Type
	if typ == "" {
		typ = core.MessageTypeGlobal
		if out.Scope.Direct() {
			typ = core.MessageTypeDirect
		}
	}
	m := core.Message{
		TempID:         out.TempID,
		Content:        out.Content,
		Sender:         sender,
		Type:           typ,
		ConversationID: out.Scope.ConversationID,
		RoomID:         out.Scope.RoomID,
		ReplyTo:        out.ReplyTo,
		Status:         core.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	key := out.Scope.Key()
	r.lists[key] = insertSorted(r.lists[key], m)
	r.mu.Unlock()

	r.emit(core.UpdateMessages, out.Scope)
	return m
}

// ConfirmPending swaps the placeholder tempID for the server's message. If
// the stream already delivered that id the placeholder is dropped.
func (r *Reconciler) ConfirmPending(tempID string, m core.Message) {
	scope := m.Scope()

	r.mu.Lock()
	key := scope.Key()
	list := r.lists[key]
	pi := indexByTemp(list, tempID)
	switch {
	case indexByID(list, m.ID) >= 0:
		if pi >= 0 {
			list = append(list[:pi:pi], list[pi+1:]...)
		}
	case pi >= 0:
		list = replaceAt(list, pi, m)
	default:
		list = insertSorted(list, m)
	}
	r.lists[key] = list

	convChanged := false
	if scope.Direct() {
		convChanged = r.touchConversationLocked(m, false)
	}
	r.mu.Unlock()

	r.emit(core.UpdateMessages, scope)
	if convChanged {
		r.emit(core.UpdateConversations, scope)
	}
}

// FailPending removes the placeholder tempID from scope.
func (r *Reconciler) FailPending(scope core.Scope, tempID string) bool {
	r.mu.Lock()
	key := scope.Key()
	list := r.lists[key]
	i := indexByTemp(list, tempID)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	r.lists[key] = append(list[:i:i], list[i+1:]...)
	r.mu.Unlock()

	r.emit(core.UpdateMessages, scope)
	return true
}

// SetConversations replaces the conversation list with a server snapshot.
// Conversations marked read locally keep a zero unread count until the
// server acknowledges the read.
func (r *Reconciler) SetConversations(convs []core.Conversation) {
	r.mu.Lock()
	r.conversations = r.conversations[:0]
	for _, c := range convs {
		c = c.Clone()
		if r.readPending[c.ID] {
			c.UnreadCount = 0
		}
		r.conversations = append(r.conversations, c)
	}
	r.sortConversationsLocked()
	r.mu.Unlock()

	r.emit(core.UpdateConversations, core.Scope{})
}

// UpsertConversation adds or replaces one conversation.
func (r *Reconciler) UpsertConversation(c core.Conversation) {
	if c.ID == "" {
		return
	}
	c = c.Clone()

	r.mu.Lock()
	if r.readPending[c.ID] {
		c.UnreadCount = 0
	}
	if i := r.conversationIndexLocked(c.ID); i >= 0 {
		r.conversations[i] = c
	} else {
		r.conversations = append(r.conversations, c)
	}
	r.sortConversationsLocked()
	r.mu.Unlock()

	r.emit(core.UpdateConversations, core.Scope{ConversationID: c.ID})
}

// MarkReadLocally zeroes the unread counter ahead of the server's ack.
func (r *Reconciler) MarkReadLocally(conversationID string) {
	r.mu.Lock()
	r.readPending[conversationID] = true
	if i := r.conversationIndexLocked(conversationID); i >= 0 {
		r.conversations[i].UnreadCount = 0
	}
	r.mu.Unlock()

	r.emit(core.UpdateConversations, core.Scope{ConversationID: conversationID})
}

// CancelReadPending stops holding the unread counter at zero for a
// conversation whose read marker never reached the server.
func (r *Reconciler) CancelReadPending(conversationID string) {
	r.mu.Lock()
	delete(r.readPending, conversationID)
	r.mu.Unlock()
}

// ApplyRead handles a read acknowledgement. The local user's ack settles a
// local mark-read; another user's ack marks our messages read.
func (r *Reconciler) ApplyRead(rc core.ReadReceipt) {
	scope := core.Scope{ConversationID: rc.ConversationID}

	r.mu.Lock()
	if rc.UserID == r.selfID {
		delete(r.readPending, rc.ConversationID)
		if i := r.conversationIndexLocked(rc.ConversationID); i >= 0 {
			r.conversations[i].UnreadCount = 0
		}
		r.mu.Unlock()
		r.emit(core.UpdateConversations, scope)
		return
	}

	list := r.lists[scope.Key()]
	for i := range list {
		if list[i].Sender.ID == r.selfID && list[i].Status != core.StatusPending && list[i].Status != core.StatusDeleted {
			list[i].Status = core.StatusRead
		}
		if list[i].ID == rc.MessageID {
			break
		}
	}
	r.mu.Unlock()
	r.emit(core.UpdateMessages, scope)
}

// SetChannel records channel metadata such as the global room.
func (r *Reconciler) SetChannel(ch core.Channel) {
	r.mu.Lock()
	r.channels[ch.ID] = ch
	if ch.UserCount > 0 {
		r.counts[ch.ID] = ch.UserCount
	}
	r.mu.Unlock()

	r.emit(core.UpdatePresence, core.Scope{RoomID: ch.ID})
}

// Channel returns channel metadata with the latest user count.
func (r *Reconciler) Channel(id string) (core.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if ok {
		ch.UserCount = r.counts[id]
	}
	return ch, ok
}

// AddDMRequest queues an incoming request.
func (r *Reconciler) AddDMRequest(req core.DMRequest) bool {
	r.mu.Lock()
	added := r.requests.Add(req, r.clock.Now())
	r.mu.Unlock()

	if added {
		r.emit(core.UpdateDMRequests, core.Scope{})
	}
	return added
}

// SetDMRequests replaces the queue with the pending requests fetched over
// REST. Requests resolved while the client was away disappear.
func (r *Reconciler) SetDMRequests(reqs []core.DMRequest) {
	r.mu.Lock()
	changed := r.requests.Sync(reqs, r.clock.Now())
	r.mu.Unlock()

	if changed {
		r.emit(core.UpdateDMRequests, core.Scope{})
	}
}

// ResolveDMRequest removes a request and promotes the next one.
func (r *Reconciler) ResolveDMRequest(id string, status core.DMRequestStatus) (core.DMRequest, bool) {
	r.mu.Lock()
	req, ok := r.requests.Resolve(id, status)
	r.mu.Unlock()

	if ok {
		r.emit(core.UpdateDMRequests, core.Scope{})
	}
	return req, ok
}

// ExpireDMRequests drops requests past their expiry at the current time.
func (r *Reconciler) ExpireDMRequests() []core.DMRequest {
	return r.expireAt(r.clock.Now())
}

func (r *Reconciler) expireAt(now time.Time) []core.DMRequest {
	r.mu.Lock()
	expired := r.requests.ExpireDue(now)
	r.mu.Unlock()

	if len(expired) > 0 {
		r.log.Debug().Int("count", len(expired)).Msg("expired dm requests")
		r.emit(core.UpdateDMRequests, core.Scope{})
	}
	return expired
}

// CurrentDMRequest returns the request to show now.
func (r *Reconciler) CurrentDMRequest() (core.DMRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests.Current()
}

// PendingDMRequests returns the requests queued behind the current one.
func (r *Reconciler) PendingDMRequests() []core.DMRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests.Pending()
}

// SetPresence records a user's online state.
func (r *Reconciler) SetPresence(p core.Presence) {
	r.mu.Lock()
	r.online[p.UserID] = p
	for i := range r.conversations {
		for j := range r.conversations[i].Participants {
			if r.conversations[i].Participants[j].ID == p.UserID {
				r.conversations[i].Participants[j].Online = p.Online
			}
		}
	}
	r.mu.Unlock()

	r.emit(core.UpdatePresence, core.Scope{})
}

// Online reports whether userID was last seen online.
func (r *Reconciler) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID].Online
}

func (r *Reconciler) SetRoomUserCount(c core.RoomUserCount) {
	r.mu.Lock()
	r.counts[c.RoomID] = c.Count
	r.mu.Unlock()

	r.emit(core.UpdatePresence, core.Scope{RoomID: c.RoomID})
}

func (r *Reconciler) RoomUserCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[roomID]
}

// SetTyping adds or removes a typing indicator. The local user's own
// indicators are ignored.
func (r *Reconciler) SetTyping(t core.TypingIndicator, typing bool) {
	r.mu.Lock()
	if t.UserID == "" || t.UserID == r.selfID {
		r.mu.Unlock()
		return
	}
	key := t.Scope.Key()
	cur := r.typing[key]
	i := -1
	for j, ind := range cur {
		if ind.UserID == t.UserID {
			i = j
			break
		}
	}
	switch {
	case typing && i < 0:
		r.typing[key] = append(cur, t)
	case !typing && i >= 0:
		r.typing[key] = append(cur[:i:i], cur[i+1:]...)
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.emit(core.UpdateTyping, t.Scope)
}

// Typing returns who is typing in scope, in the order they started.
func (r *Reconciler) Typing(scope core.Scope) []core.TypingIndicator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.TypingIndicator(nil), r.typing[scope.Key()]...)
}

// Messages returns a copy of the list for scope.
func (r *Reconciler) Messages(scope core.Scope) []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Message(nil), r.lists[scope.Key()]...)
}

// RoomMessages returns a copy of a channel's messages.
func (r *Reconciler) RoomMessages(roomID string) []core.Message {
	return r.Messages(core.Scope{RoomID: roomID})
}

// Conversations returns copies of all conversations, newest first.
func (r *Reconciler) Conversations() []core.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, c.Clone())
	}
	return out
}

// Conversation returns a copy of one conversation.
func (r *Reconciler) Conversation(id string) (core.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.conversationIndexLocked(id); i >= 0 {
		return r.conversations[i].Clone(), true
	}
	return core.Conversation{}, false
}

// UnreadTotal sums unread counters over all conversations.
func (r *Reconciler) UnreadTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.conversations {
		n += c.UnreadCount
	}
	return n
}

// touchConversationLocked updates the owning conversation for a direct
// message, creating a stub if needed. countUnread controls whether a
// message from someone else bumps the unread counter.
func (r *Reconciler) touchConversationLocked(m core.Message, countUnread bool) bool {
	i := r.conversationIndexLocked(m.ConversationID)
	if i < 0 {
		stub := core.Conversation{ID: m.ConversationID, CreatedAt: m.CreatedAt}
		if m.Sender.ID != "" && m.Sender.ID != r.selfID {
			stub.Participants = []core.Participant{{ID: m.Sender.ID, DisplayName: m.Sender.DisplayName, Level: m.Sender.Level}}
		}
		r.conversations = append(r.conversations, stub)
		i = len(r.conversations) - 1
	}

	c := &r.conversations[i]
	if c.LastMessage == nil || !m.CreatedAt.Before(c.LastMessage.CreatedAt) {
		last := m
		c.LastMessage = &last
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	if countUnread && m.Sender.ID != r.selfID && c.ID != r.active && !m.Pending() {
		c.UnreadCount++
	}
	r.sortConversationsLocked()
	return true
}

func (r *Reconciler) sortConversationsLocked() {
	sort.SliceStable(r.conversations, func(i, j int) bool {
		return r.conversations[i].UpdatedAt.After(r.conversations[j].UpdatedAt)
	})
}

func (r *Reconciler) conversationIndexLocked(id string) int {
	for i, c := range r.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// findLocked looks id up in scope's list, or in every list when scope is empty.
func (r *Reconciler) findLocked(scope core.Scope, id string) (string, int) {
	if id == "" {
		return "", -1
	}
	if !scope.Empty() {
		key := scope.Key()
		return key, indexByID(r.lists[key], id)
	}
	for key, list := range r.lists {
		if i := indexByID(list, id); i >= 0 {
			return key, i
		}
	}
	return "", -1
}

func (r *Reconciler) clearTypingLocked(scope core.Scope, userID string) {
	key := scope.Key()
	cur := r.typing[key]
	for i, ind := range cur {
		if ind.UserID == userID {
			r.typing[key] = append(cur[:i:i], cur[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) emit(kind core.ChatUpdateKind, scope core.Scope) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(events.ChatUpdated, core.ChatUpdate{Kind: kind, Scope: scope})
}

func indexByID(list []core.Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func indexByTemp(list []core.Message, tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, m := range list {
		if m.TempID == tempID && m.Pending() {
			return i
		}
	}
	return -1
}

// insertSorted inserts m after every message not newer than it.
func insertSorted(list []core.Message, m core.Message) []core.Message {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(m.CreatedAt)
	})
	list = append(list, core.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

// replaceAt swaps list[i] for m, moving it only if its timestamp would
// break the ordering.
func replaceAt(list []core.Message, i int, m core.Message) []core.Message {
	inOrder := (i == 0 || !list[i-1].CreatedAt.After(m.CreatedAt)) &&
		(i == len(list)-1 || !m.CreatedAt.After(list[i+1].CreatedAt))
	if inOrder {
		list[i] = m
		return list
	}
	list = append(list[:i:i], list[i+1:]...)
	return insertSorted(list, m)
}
