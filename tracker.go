package uploadpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/uploadpoll/internal/server"
	"github.com/jpalmerr/uploadpoll/internal/store"
)

// ErrUnknownSession is returned when a session ID is not being tracked.
var ErrUnknownSession = errors.New("unknown session")

// ErrTrackerStopped is returned by [Tracker.Track] and [Tracker.Await]
// once [Tracker.Start] has returned.
var ErrTrackerStopped = errors.New("tracker stopped")

// Tracker runs many polling sessions at once, one per uploaded file, and
// keeps an in-memory record of each. It can serve those records, and
// outcome redirects, over HTTP.
//
// The typical lifecycle is:
//
//	p, _ := uploadpoll.New(endpoint, uploadpoll.WithMaxAttempts(30))
//	d, _ := uploadpoll.NewDestinations(ready, unsafe, errorPage)
//	t, err := uploadpoll.NewTracker(p, uploadpoll.WithDestinations(d))
//	if err != nil {
//	    slog.Error("failed to create tracker", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	t.Start(ctx) // blocks until context cancelled
type Tracker struct {
	poller           *Poller
	destinations     *Destinations
	port             int
	logger           *slog.Logger
	outcomeCallbacks []func(Result)
	gatherer         prometheus.Gatherer
	store            *store.MemoryStore

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
}

// NewTracker creates a [Tracker] that starts sessions with p.
//
// Returns an error if p is nil or any option is invalid.
func NewTracker(p *Poller, opts ...TrackerOption) (*Tracker, error) {
	if p == nil {
		return nil, errors.New("poller cannot be nil")
	}

	cfg := &trackerConfig{
		port:       defaultPort,
		maxRecords: defaultMaxRecords,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	st := store.NewMemoryStore(
		store.WithMaxTerminal(cfg.maxRecords),
		store.WithTerminalTTL(cfg.recordTTL),
	)

	return &Tracker{
		poller:           p,
		destinations:     cfg.destinations,
		port:             cfg.port,
		logger:           logger,
		outcomeCallbacks: cfg.outcomeCallbacks,
		gatherer:         cfg.gatherer,
		store:            st,
		sessions:         make(map[string]*Session),
	}, nil
}

// Track starts a session for job and returns its ID immediately.
//
// The session runs until it produces an outcome, [Tracker.Cancel] is called,
// ctx is cancelled, or the tracker stops.
func (t *Tracker) Track(ctx context.Context, job JobRef) (string, error) {
	s, err := t.track(ctx, job, nil)
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

// track starts a session and records it. The lock is held across Start so
// the session's completion cannot be recorded before its start.
func (t *Tracker) track(ctx context.Context, job JobRef, deliver func(Result)) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil, ErrTrackerStopped
	}

	s, err := t.poller.start(ctx, job,
		func(r Result) {
			t.complete(r)
			if deliver != nil {
				deliver(r)
			}
		},
		t.recordAttempt,
	)
	if err != nil {
		return nil, err
	}

	t.sessions[s.ID()] = s
	t.store.Update(store.SessionRecord{
		ID:        s.ID(),
		JobID:     job.ID,
		FileID:    job.FileID,
		State:     store.StatePolling,
		StartedAt: s.startedAt,
		UpdatedAt: s.startedAt,
	})

	// record sessions that end without an outcome, e.g. when ctx is cancelled
	go func() {
		<-s.Done()
		if _, ok := s.Result(); !ok {
			t.markCancelled(s)
		}
	}()

	return s, nil
}

// Await starts a session for job, waits for its outcome and resolves the
// destination. The destination is empty when no destinations are
// configured.
//
// If ctx is cancelled first, the session is cancelled and ctx.Err() is
// returned.
func (t *Tracker) Await(ctx context.Context, job JobRef) (Result, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(chan Result, 1)
	s, err := t.track(ctx, job, func(r Result) { results <- r })
	if err != nil {
		return Result{}, "", err
	}

	<-s.Done()

	var res Result
	select {
	case res = <-results:
	default:
		if err := ctx.Err(); err != nil {
			return Result{}, "", err
		}
		return Result{}, "", ErrSessionCancelled
	}

	if t.destinations == nil {
		return res, "", nil
	}
	destination, err := t.destinations.Resolve(res)
	if err != nil {
		return res, "", fmt.Errorf("resolve destination: %w", err)
	}
	return res, destination, nil
}

// Cancel cancels a tracked session. It returns false if the session is
// unknown or has already stopped.
func (t *Tracker) Cancel(id string) bool {
	s, err := t.Session(id)
	if err != nil {
		return false
	}
	if !s.Cancel() {
		return false
	}
	t.markCancelled(s)
	return true
}

// Session returns a running session by ID, or [ErrUnknownSession].
func (t *Tracker) Session(id string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Active returns the number of running sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Port returns the configured HTTP port.
func (t *Tracker) Port() int {
	return t.port
}

// Start serves the tracker's HTTP surface.
//
// Start is a blocking call that runs until the provided context is
// cancelled. It then shuts the server down and cancels every session that
// is still running. After that the tracker accepts no new sessions.
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server
// fails to start.
func (t *Tracker) Start(ctx context.Context) error {
	t.logger.Info("tracker starting", "url", fmt.Sprintf("http://localhost:%d", t.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		t.stop()
		return nil
	}

	httpServer := server.NewServer(t.store, serverSessions{t: t}, t.port, t.gatherer, t.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	t.stop()
	cancelled := t.cancelAll()
	t.logger.Info("tracker stopped", "cancelled_sessions", cancelled)
	return nil
}

// stop makes track refuse new sessions.
func (t *Tracker) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// cancelAll cancels every running session and returns how many were
// cancelled.
func (t *Tracker) cancelAll() int {
	t.mu.Lock()
	running := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		running = append(running, s)
	}
	t.mu.Unlock()

	n := 0
	for _, s := range running {
		if s.Cancel() {
			n++
		}
		t.markCancelled(s)
	}
	return n
}

// complete records a delivered result and runs the outcome callbacks.
func (t *Tracker) complete(r Result) {
	t.mu.Lock()
	delete(t.sessions, r.SessionID)
	t.mu.Unlock()

	rec := store.SessionRecord{
		ID:         r.SessionID,
		JobID:      r.Job.ID,
		FileID:     r.Job.FileID,
		State:      store.StateFinished,
		Outcome:    r.Outcome.String(),
		Attempts:   r.Attempts,
		StatusCode: r.StatusCode,
		Error:      errString(r.Err),
		StartedAt:  r.StartedAt,
		UpdatedAt:  r.CompletedAt,
	}
	if t.destinations != nil {
		destination, err := t.destinations.Resolve(r)
		if err != nil {
			t.logger.Warn("failed to resolve destination", "session_id", r.SessionID, "error", err)
		}
		rec.Destination = destination
	}
	t.store.Update(rec)

	for _, cb := range t.outcomeCallbacks {
		invokeCallbackSafe(cb, r, t.logger)
	}
}

// recordAttempt publishes a running session's progress.
func (t *Tracker) recordAttempt(a Attempt) {
	t.mu.Lock()
	s, ok := t.sessions[a.SessionID]
	t.mu.Unlock()
	if !ok {
		return
	}

	t.store.Update(store.SessionRecord{
		ID:         a.SessionID,
		JobID:      a.Job.ID,
		FileID:     a.Job.FileID,
		State:      store.StatePolling,
		Attempts:   a.Number,
		StatusCode: a.StatusCode,
		Error:      errString(a.Err),
		StartedAt:  s.startedAt,
		UpdatedAt:  time.Now(),
	})
}

// markCancelled records s as cancelled, once.
func (t *Tracker) markCancelled(s *Session) {
	t.mu.Lock()
	_, tracked := t.sessions[s.ID()]
	delete(t.sessions, s.ID())
	t.mu.Unlock()

	if !tracked {
		return
	}

	t.store.Update(store.SessionRecord{
		ID:        s.ID(),
		JobID:     s.job.ID,
		FileID:    s.job.FileID,
		State:     store.StateCancelled,
		Attempts:  s.Attempts(),
		StartedAt: s.startedAt,
		UpdatedAt: time.Now(),
	})
}

// invokeCallbackSafe calls an outcome callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Result), result Result, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("outcome callback panicked",
				"panic", r,
				"session_id", result.SessionID,
				"job_id", result.Job.ID,
			)
		}
	}()
	cb(result)
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// serverSessions adapts a Tracker to the HTTP server.
type serverSessions struct {
	t *Tracker
}

func (a serverSessions) Track(ctx context.Context, jobID, fileID string) (string, error) {
	id, err := a.t.Track(ctx, JobRef{ID: jobID, FileID: fileID})
	return id, invalidJob(err)
}

func (a serverSessions) Cancel(id string) bool {
	return a.t.Cancel(id)
}

func (a serverSessions) Await(ctx context.Context, jobID, fileID string) (string, error) {
	if a.t.destinations == nil {
		return "", errors.New("no destinations configured")
	}
	_, destination, err := a.t.Await(ctx, JobRef{ID: jobID, FileID: fileID})
	return destination, invalidJob(err)
}

// invalidJob marks errors the server maps to client-facing statuses.
func invalidJob(err error) error {
	switch {
	case errors.Is(err, ErrEmptyJobID):
		return fmt.Errorf("%w: %w", server.ErrInvalidJob, err)
	case errors.Is(err, ErrTrackerStopped):
		return fmt.Errorf("%w: %w", server.ErrUnavailable, err)
	}
	return err
}
