package chat

import (
	"time"

	"github.com/vovakirdan/citychat/internal/core"
)

// DMRequestQueue holds incoming DM requests. At most one is current; the
// rest wait in arrival order. It is not safe for concurrent use.
type DMRequestQueue struct {
	current *core.DMRequest
	pending []core.DMRequest
}

// NewDMRequestQueue returns an empty queue.
func NewDMRequestQueue() *DMRequestQueue {
	return &DMRequestQueue{}
}

// Add appends req unless a request with the same id is known, req is
// already resolved or req expired at now. The first request becomes current.
func (q *DMRequestQueue) Add(req core.DMRequest, now time.Time) bool {
	if req.ID == "" || req.Resolved() || req.Expired(now) || q.contains(req.ID) {
		return false
	}
	if req.Status == "" {
		req.Status = core.DMRequestPending
	}
	if q.current == nil {
		q.current = &req
		return true
	}
	q.pending = append(q.pending, req)
	return true
}

// Sync makes the queue match a server snapshot of pending requests. Known
// requests missing from the snapshot are dropped; the current request stays
// current while it is still pending. Returns whether anything changed.
func (q *DMRequestQueue) Sync(reqs []core.DMRequest, now time.Time) bool {
	live := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if r.ID != "" && !r.Resolved() && !r.Expired(now) {
			live[r.ID] = true
		}
	}

	var stale []string
	if q.current != nil && !live[q.current.ID] {
		stale = append(stale, q.current.ID)
	}
	for _, r := range q.pending {
		if !live[r.ID] {
			stale = append(stale, r.ID)
		}
	}
	changed := false
	for _, id := range stale {
		if _, ok := q.Resolve(id, ""); ok {
			changed = true
		}
	}
	for _, r := range reqs {
		if q.Add(r, now) {
			changed = true
		}
	}
	return changed
}

// Resolve removes the request with id and returns it with status set.
// Resolving the current request promotes the next pending one.
func (q *DMRequestQueue) Resolve(id string, status core.DMRequestStatus) (core.DMRequest, bool) {
	if q.current != nil && q.current.ID == id {
		out := *q.current
		out.Status = status
		q.current = nil
		if len(q.pending) > 0 {
			next := q.pending[0]
			q.pending = q.pending[1:]
			q.current = &next
		}
		return out, true
	}
	for i, r := range q.pending {
		if r.ID != id {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		r.Status = status
		return r, true
	}
	return core.DMRequest{}, false
}

// Current returns the request the user should answer now.
func (q *DMRequestQueue) Current() (core.DMRequest, bool) {
	if q.current == nil {
		return core.DMRequest{}, false
	}
	return *q.current, true
}

// Pending returns the queued requests behind the current one.
func (q *DMRequestQueue) Pending() []core.DMRequest {
	return append([]core.DMRequest(nil), q.pending...)
}

// Len counts the current and queued requests.
func (q *DMRequestQueue) Len() int {
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

// ExpireDue resolves every request whose expiry is at or before now.
func (q *DMRequestQueue) ExpireDue(now time.Time) []core.DMRequest {
	var due []string
	if q.current != nil && q.current.Expired(now) {
		due = append(due, q.current.ID)
	}
	for _, r := range q.pending {
		if r.Expired(now) {
			due = append(due, r.ID)
		}
	}

	expired := make([]core.DMRequest, 0, len(due))
	for _, id := range due {
		if r, ok := q.Resolve(id, core.DMRequestExpired); ok {
			expired = append(expired, r)
		}
	}
	return expired
}

func (q *DMRequestQueue) contains(id string) bool {
	if q.current != nil && q.current.ID == id {
		return true
	}
	for _, r := range q.pending {
		if r.ID == id {
			return true
		}
	}
	return false
}
