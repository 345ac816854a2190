package uploadpoll

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/jpalmerr/uploadpoll/internal/poller"
)

type sessionState int

const (
	stateRunning sessionState = iota
	stateFinished
	stateCancelled
)

// Session is one polling session for a single [JobRef].
//
// Attempts within a session never overlap: attempt n+1 is issued only after
// attempt n has been classified and the wait has elapsed. The session ends
// when it delivers its [Result] or is cancelled, whichever happens first.
type Session struct {
	id        string
	job       JobRef
	url       string
	poller    *Poller
	deliver   func(Result)
	onAttempt func(Attempt)
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	attempts atomic.Int32

	mu     sync.Mutex
	state  sessionState
	result Result
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Job returns the job reference being polled.
func (s *Session) Job() JobRef {
	return s.job
}

// Done returns a channel that is closed once the session's goroutine has
// exited, after delivery or cancellation.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Attempts returns how many status checks have been issued so far.
func (s *Session) Attempts() int {
	return int(s.attempts.Load())
}

// Result returns the delivered result, if the session has finished.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateFinished {
		return Result{}, false
	}
	return s.result, true
}

// Cancel stops the session.
//
// Cancel aborts any pending wait or in-flight status check and then waits
// for the session's goroutine to exit. Once Cancel returns true the
// session never delivers a result and issues no further requests.
//
// Cancel returns false if the session had already produced its outcome or
// been cancelled. It must not be called from an attempt hook of the same
// session.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return false
	}
	s.state = stateCancelled
	s.mu.Unlock()

	s.cancel()
	<-s.done

	s.poller.metrics.SessionCancelled()
	s.poller.logger.Info("polling session cancelled",
		"session_id", s.id,
		"job_id", s.job.ID,
		"attempts", s.Attempts(),
	)
	return true
}

// run is the attempt loop. It is iterative: the only suspension points
// are the cancellable wait and the in-flight request.
func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	p := s.poller
	bo := p.newBackOff()
	wait := p.initialDelay

	for n := 1; ; n++ {
		if !poller.Sleep(s.ctx, wait) {
			s.abandon()
			return
		}

		attempt, ok := s.check(n)
		if !ok {
			s.abandon()
			return
		}

		if attempt.Outcome.Terminal() {
			s.finish(attempt.Outcome, attempt)
			return
		}

		if p.maxAttempts > 0 && n >= p.maxAttempts {
			s.finish(OutcomeTimeout, attempt)
			return
		}

		if wait = bo.NextBackOff(); wait == backoff.Stop {
			s.finish(OutcomeTimeout, attempt)
			return
		}
	}
}

// check issues attempt n and classifies it. ok is false if the session was
// cancelled while waiting on the rate limiter or while the request was in
// flight; the attempt is then discarded and not counted.
func (s *Session) check(n int) (attempt Attempt, ok bool) {
	p := s.poller

	at := time.Now()
	resp := p.client.Fetch(s.ctx, s.url, p.headers, p.requestTimeout)
	if s.ctx.Err() != nil {
		return Attempt{}, false
	}
	s.attempts.Store(int32(n))

	attempt = Attempt{
		SessionID:  s.id,
		Job:        s.job,
		Number:     n,
		StatusCode: resp.StatusCode,
		Err:        resp.Error,
		At:         at,
		Latency:    resp.Latency,
	}

	outcome, err := s.classify(resp)
	attempt.Outcome = outcome
	if err != nil {
		attempt.Err = err
	}

	p.metrics.Attempt(resp.StatusCode, outcome.String(), resp.Latency)

	logAttrs := []any{
		"session_id", s.id,
		"job_id", s.job.ID,
		"attempt", n,
		"status_code", resp.StatusCode,
		"classification", outcome.String(),
		"latency_ms", resp.Latency.Milliseconds(),
	}
	if attempt.Err != nil {
		p.logger.Warn("status check failed", append(logAttrs, "error", attempt.Err.Error())...)
	} else {
		p.logger.Debug("status check completed", logAttrs...)
	}

	if p.attemptHook != nil {
		s.invokeHookSafe(p.attemptHook, attempt)
	}
	if s.onAttempt != nil {
		s.invokeHookSafe(s.onAttempt, attempt)
	}

	return attempt, true
}

// classify maps a fetched response to an outcome. Transport failures follow
// the transport error policy; everything else goes through the classifier.
func (s *Session) classify(resp poller.Response) (outcome Outcome, err error) {
	p := s.poller

	if resp.Error != nil {
		if p.transportErrors == TransportErrorRetry {
			return OutcomePending, nil
		}
		return OutcomeTransportError, nil
	}

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("classifier panic",
				"correlation_id", correlationID,
				"session_id", s.id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			outcome = OutcomeTransportError
			err = fmt.Errorf("classifier panic (correlation_id: %s)", correlationID)
		}
	}()

	outcome = p.classifier(Response{
		Job:        s.job,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	})
	if outcome != OutcomePending && !outcome.Terminal() {
		return OutcomeTransportError, fmt.Errorf("classifier returned unknown outcome %q", outcome)
	}
	return outcome, nil
}

// finish records the outcome and delivers it, unless Cancel won the race.
func (s *Session) finish(outcome Outcome, last Attempt) {
	res := Result{
		SessionID:   s.id,
		Job:         s.job,
		Outcome:     outcome,
		Attempts:    last.Number,
		StatusCode:  last.StatusCode,
		Err:         last.Err,
		StartedAt:   s.startedAt,
		CompletedAt: time.Now(),
	}

	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateFinished
	s.result = res
	s.mu.Unlock()

	p := s.poller
	p.metrics.SessionFinished(outcome.String())

	logAttrs := []any{
		"session_id", s.id,
		"job_id", s.job.ID,
		"outcome", outcome.String(),
		"attempts", res.Attempts,
		"elapsed_ms", res.Elapsed().Milliseconds(),
	}
	if outcome == OutcomeReady {
		p.logger.Info("polling session finished", logAttrs...)
	} else {
		p.logger.Warn("polling session finished", logAttrs...)
	}

	s.deliverSafe(res)
}

// abandon marks the session cancelled when its context ended without a
// call to Cancel (e.g. the parent context was cancelled).
func (s *Session) abandon() {
	s.mu.Lock()
	transitioned := s.state == stateRunning
	if transitioned {
		s.state = stateCancelled
	}
	s.mu.Unlock()

	if transitioned {
		s.poller.metrics.SessionCancelled()
		s.poller.logger.Info("polling session cancelled",
			"session_id", s.id,
			"job_id", s.job.ID,
			"attempts", s.Attempts(),
			"reason", context.Cause(s.ctx),
		)
	}
}

// deliverSafe calls the delivery function with panic recovery.
func (s *Session) deliverSafe(res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.poller.logger.Error("deliver callback panicked",
				"panic", r,
				"session_id", s.id,
				"job_id", s.job.ID,
			)
		}
	}()
	s.deliver(res)
}

// invokeHookSafe calls an attempt hook with panic recovery.
func (s *Session) invokeHookSafe(hook func(Attempt), a Attempt) {
	defer func() {
		if r := recover(); r != nil {
			s.poller.logger.Error("attempt hook panicked",
				"panic", r,
				"session_id", s.id,
				"attempt", a.Number,
			)
		}
	}()
	hook(a)
}
