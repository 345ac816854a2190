package store

import "time"

// Session states recorded by the tracker.
const (
	StatePolling   = "polling"
	StateFinished  = "finished"
	StateCancelled = "cancelled"
)

// SessionRecord represents the current state of a polling session in storage.
//
// SessionRecord is the storage representation of a session, optimized for
// JSON serialization (used by the REST API and SSE). It is decoupled from
// the poller's types to allow independent evolution.
type SessionRecord struct {
	// ID is the session's unique identifier.
	ID string `json:"id"`

	// JobID is the job being polled.
	JobID string `json:"job_id"`

	// FileID is the optional file within the job.
	FileID string `json:"file_id,omitempty"`

	// State is one of StatePolling, StateFinished or StateCancelled.
	State string `json:"state"`

	// Outcome is the terminal outcome (e.g., "ready", "timeout"). Empty
	// unless State is StateFinished.
	Outcome string `json:"outcome,omitempty"`

	// Attempts is how many status checks have been issued.
	Attempts int `json:"attempts"`

	// StatusCode is the HTTP status code of the last attempt.
	StatusCode int `json:"status_code,omitempty"`

	// Error contains the last failure message, if any.
	Error *string `json:"error"`

	// Destination is the resolved redirect URL for a finished session.
	Destination string `json:"destination,omitempty"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the session has stopped.
func (r SessionRecord) Terminal() bool {
	return r.State == StateFinished || r.State == StateCancelled
}

// Store defines the interface for storing and subscribing to session updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update stores a session record and notifies all subscribers.
	// Records are keyed by ID, so subsequent updates replace previous values.
	Update(rec SessionRecord)

	// Get returns the record with the given ID.
	Get(id string) (SessionRecord, bool)

	// GetAll returns all currently stored records.
	// The returned slice is a snapshot; modifications do not affect the store.
	GetAll() []SessionRecord

	// Subscribe returns a channel that receives record updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan SessionRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan SessionRecord)
}
