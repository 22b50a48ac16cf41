package session

import "sync"

// RoomTracker records joined rooms and the FIFO queue of joins that
// could not be sent yet. It is safe for concurrent use.
type RoomTracker struct {
	mu      sync.Mutex
	pending []string
	joined  []string
}

// NewRoomTracker returns an empty tracker.
func NewRoomTracker() *RoomTracker {
	return &RoomTracker{}
}

// Queue appends id to the pending queue unless it is already queued.
// Returns true if it was added.
func (t *RoomTracker) Queue(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if indexOf(t.pending, id) >= 0 {
		return false
	}
	t.pending = append(t.pending, id)
	return true
}

// Next returns the head of the pending queue without removing it.
func (t *RoomTracker) Next() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return "", false
	}
	return t.pending[0], true
}

// MarkJoined records id as joined and drops it from the pending queue.
func (t *RoomTracker) MarkJoined(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = remove(t.pending, id)
	if indexOf(t.joined, id) < 0 {
		t.joined = append(t.joined, id)
	}
}

// Leave forgets id in both the queue and the joined set.
func (t *RoomTracker) Leave(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = remove(t.pending, id)
	t.joined = remove(t.joined, id)
}

// IsJoined reports whether id is in the joined set.
func (t *RoomTracker) IsJoined(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return indexOf(t.joined, id) >= 0
}

// IsPending reports whether id waits in the queue.
func (t *RoomTracker) IsPending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return indexOf(t.pending, id) >= 0
}

// Invalidate clears the joined set after the connection dropped. With
// requeue the joined rooms move to the end of the pending queue.
func (t *RoomTracker) Invalidate(requeue bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if requeue {
		for _, id := range t.joined {
			if indexOf(t.pending, id) < 0 {
				t.pending = append(t.pending, id)
			}
		}
	}
	t.joined = nil
}

// Pending returns a copy of the queue in insertion order.
func (t *RoomTracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pending...)
}

// Joined returns a copy of the joined rooms in join order.
func (t *RoomTracker) Joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joined...)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func remove(ids []string, id string) []string {
	i := indexOf(ids, id)
	if i < 0 {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}
