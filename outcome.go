package uploadpoll

import "time"

// Outcome is the classification of a status check or of a whole session.
//
// A session ends with exactly one terminal Outcome: [OutcomeReady],
// [OutcomeRejectedAsUnsafe], [OutcomeBadRequest], [OutcomeTimeout] or
// [OutcomeTransportError]. [OutcomePending] is only ever produced by a
// [Classifier] to ask for another attempt; it is never delivered.
type Outcome string

const (
	// OutcomePending means the job is still processing and another attempt
	// should be scheduled.
	OutcomePending Outcome = "pending"

	// OutcomeReady means the job is complete (HTTP 202).
	OutcomeReady Outcome = "ready"

	// OutcomeRejectedAsUnsafe means the upload failed its safety/virus scan
	// (HTTP 409).
	OutcomeRejectedAsUnsafe Outcome = "rejected_as_unsafe"

	// OutcomeBadRequest means the status check itself was rejected (HTTP 400).
	OutcomeBadRequest Outcome = "bad_request"

	// OutcomeTimeout means the attempt budget was exhausted while the job was
	// still pending.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeTransportError covers network failures and unexpected statuses.
	OutcomeTransportError Outcome = "transport_error"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Terminal reports whether o ends a session.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeReady, OutcomeRejectedAsUnsafe, OutcomeBadRequest, OutcomeTimeout, OutcomeTransportError:
		return true
	default:
		return false
	}
}

// Attempt describes one status-check round trip within a session.
type Attempt struct {
	// SessionID identifies the session the attempt belongs to.
	SessionID string

	// Job is the job reference being polled.
	Job JobRef

	// Number is the 1-based attempt sequence number. It strictly increases
	// within a session and is never reused.
	Number int

	// StatusCode is the HTTP status code, or 0 on a transport failure.
	StatusCode int

	// Err is the transport failure, if any.
	Err error

	// At is when the request was issued.
	At time.Time

	// Latency is how long the round trip took.
	Latency time.Duration

	// Outcome is how the attempt was classified; [OutcomePending] when
	// another attempt follows.
	Outcome Outcome
}

// Result is the terminal report of a polling session.
//
// A Result is delivered exactly once per session that is not cancelled,
// and is immutable once delivered.
type Result struct {
	// SessionID identifies the session that produced the result.
	SessionID string

	// Job is the job reference that was polled.
	Job JobRef

	// Outcome is the terminal classification. Always Terminal().
	Outcome Outcome

	// Attempts is how many status checks were issued.
	Attempts int

	// StatusCode is the HTTP status code of the last attempt, or 0 if the
	// last attempt failed before a response was received.
	StatusCode int

	// Err carries the transport failure behind an [OutcomeTransportError],
	// when there was one.
	Err error

	// StartedAt is when the session was started.
	StartedAt time.Time

	// CompletedAt is when the outcome was produced.
	CompletedAt time.Time
}

// Elapsed returns the wall time between session start and outcome.
func (r Result) Elapsed() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
