package core

import "time"

// DMRequestStatus is the lifecycle state of a DM request.
type DMRequestStatus string

const (
	DMRequestPending  DMRequestStatus = "pending"
	DMRequestAccepted DMRequestStatus = "accepted"
	DMRequestDeclined DMRequestStatus = "declined"
	DMRequestExpired  DMRequestStatus = "expired"
)

// DMRequest is an invitation to start a direct conversation.
type DMRequest struct {
	ID             string
	Requester      Participant
	Recipient      Participant
	Message        string
	Status         DMRequestStatus
	ConversationID string // set once accepted
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the request is past its expiry at now.
// Requests without an expiry never expire.
func (r DMRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Resolved reports whether the request left the pending state.
func (r DMRequest) Resolved() bool {
	return r.Status != "" && r.Status != DMRequestPending
}
