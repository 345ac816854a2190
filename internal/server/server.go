package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/uploadpoll/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	maxRequestBody = 64 << 10
)

// ErrInvalidJob is returned by a [Sessions] implementation when the job
// reference is rejected before polling starts.
var ErrInvalidJob = errors.New("invalid job reference")

// ErrUnavailable is returned by a [Sessions] implementation that no longer
// accepts new sessions.
var ErrUnavailable = errors.New("not accepting sessions")

// Sessions is the polling orchestration behind the HTTP surface.
//
// Implementations must be safe for concurrent use. Sessions started through
// Track outlive the request that created them.
type Sessions interface {
	// Track starts a session for the job and returns its ID.
	Track(ctx context.Context, jobID, fileID string) (string, error)

	// Cancel cancels a running session. It returns false if the session is
	// unknown or has already stopped.
	Cancel(id string) bool

	// Await runs a session bound to ctx and returns the resolved
	// destination of its outcome.
	Await(ctx context.Context, jobID, fileID string) (string, error)
}

// Server handles HTTP requests for tracked polling sessions.
//
// Routes:
//   - POST /api/sessions: Start tracking a job
//   - GET /api/sessions: List all session records
//   - GET /api/sessions/{id}: Get one session record
//   - DELETE /api/sessions/{id}: Cancel a session
//   - GET /api/sse: Server-Sent Events stream of record updates
//   - GET /uploads/{jobID}/wait: Poll until done, then redirect
//   - GET /metrics: Prometheus exposition (when a gatherer is set)
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	sessions   Sessions
	port       int
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	validate   *validator.Validate
	router     *chi.Mux
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store of session records
//   - sessions: Session orchestration used by the write routes
//   - port: TCP port to listen on
//   - gatherer: Metrics source for /metrics (may be nil)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, sessions Sessions, port int, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		store:    st,
		sessions: sessions,
		port:     port,
		gatherer: gatherer,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCancelSession)
		r.Get("/sse", s.handleSSE)
	})

	r.Get("/uploads/{jobID}/wait", s.handleWait)

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listener address once [Server.Start] succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func loggerMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// createSessionRequest is the body of POST /api/sessions.
type createSessionRequest struct {
	JobID  string `json:"job_id" validate:"required,max=256"`
	FileID string `json:"file_id" validate:"omitempty,max=256"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCreateSession starts tracking a job.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	req.JobID = strings.TrimSpace(req.JobID)
	req.FileID = strings.TrimSpace(req.FileID)
	if err := s.validate.Struct(req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	// the session must outlive this request
	id, err := s.sessions.Track(context.WithoutCancel(r.Context()), req.JobID, req.FileID)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, createSessionResponse{ID: id})
}

// handleListSessions returns all session records as JSON.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleGetSession returns one session record.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, rec)
}

// handleCancelSession cancels a running session.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.store.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	if rec.Terminal() {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "session already " + rec.State})
		return
	}
	if !s.sessions.Cancel(id) {
		// the session stopped after the record was read
		state := "stopped"
		if latest, ok := s.store.Get(id); ok && latest.Terminal() {
			state = latest.State
		}
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "session already " + state})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleWait polls a job on behalf of the caller and redirects to the
// destination of its outcome. A client that goes away cancels the session.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	jobID, err := url.PathUnescape(chi.URLParam(r, "jobID"))
	if err != nil || strings.TrimSpace(jobID) == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}
	fileID := strings.TrimSpace(r.URL.Query().Get("file_id"))

	destination, err := s.sessions.Await(r.Context(), jobID, fileID)
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Debug("wait abandoned by client", "job_id", jobID, "error", err)
			return
		}
		s.writeSessionError(w, r, err)
		return
	}

	http.Redirect(w, r, destination, http.StatusSeeOther)
}

// writeSessionError maps a Sessions error to a response.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalidJob) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, ErrUnavailable) {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "shutting down"})
		return
	}
	s.logger.Error("session request failed",
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, ", ")
}

// handleSSE streams session record updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so no update falls in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// send initial records (also protected by write deadline)
	for _, rec := range s.store.GetAll() {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	// stream updates
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
