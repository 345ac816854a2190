// Package uploadpoll provides an embeddable client that discovers the
// outcome of server-side upload jobs by polling a status endpoint.
//
// After a file is uploaded, the server keeps working on it (virus scanning,
// conversion, indexing). uploadpoll polls the job's status URL at a fixed
// or growing interval until the response says the job is done, was
// rejected as unsafe, was a bad request, failed, or ran out of attempts.
// Every session ends with exactly one [Outcome] unless it is cancelled.
//
// # Quick Start
//
// Poll a single job and block until it is done:
//
//	p, _ := uploadpoll.New("https://uploads.example.com/status/{{.JobID}}",
//	    uploadpoll.WithInterval(time.Second),
//	    uploadpoll.WithMaxAttempts(30),
//	)
//	defer p.Close()
//
//	result, err := p.Poll(ctx, uploadpoll.JobRef{ID: "abc123"})
//
// Or start a session and receive the outcome asynchronously:
//
//	s, err := p.Start(ctx, job, func(r uploadpoll.Result) {
//	    log.Printf("job %s: %s", r.Job, r.Outcome)
//	})
//	...
//	s.Cancel() // no outcome is delivered after Cancel returns true
//
// # Classification
//
// By default the HTTP status code decides:
//
//   - 202: [OutcomeReady]
//   - 409: [OutcomeRejectedAsUnsafe]
//   - 400: [OutcomeBadRequest] (or [OutcomeTransportError], see [WithBadRequestPolicy])
//   - other 2xx and 3xx: still pending, poll again
//   - anything else: [OutcomeTransportError]
//
// A pending job that exhausts [WithMaxAttempts] ends with [OutcomeTimeout].
// Network failures end the session with [OutcomeTransportError] unless
// [WithTransportErrorPolicy] asks for them to be retried. Endpoints that
// report readiness in the body can use [JSONStatusClassifier], composed
// with [FirstMatch].
//
// # Destinations and Tracking
//
// [Destinations] maps outcomes to the pages a user should be sent to.
// [Tracker] runs many sessions at once, keeps an in-memory record of each,
// and serves them over HTTP together with a redirect route that waits for
// a job and answers 303 See Other to its destination.
//
// # Architecture
//
// uploadpoll consists of several internal packages (under internal/):
//
//   - internal/poller: HTTP status checks, rate limiting and wait strategies
//   - internal/metrics: Prometheus collectors for attempts and outcomes
//   - internal/store: In-memory session records with pub/sub
//   - internal/server: chi router with REST API, Server-Sent Events and redirects
//
// The internal packages are not part of the public API and may change
// without notice.
package uploadpoll
