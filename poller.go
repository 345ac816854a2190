package uploadpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/uploadpoll/internal/metrics"
	"github.com/jpalmerr/uploadpoll/internal/poller"
)

var (
	// ErrNilDeliver is returned by [Poller.Start] when no delivery function
	// is given.
	ErrNilDeliver = errors.New("deliver function cannot be nil")

	// ErrSessionCancelled is returned by [Poller.Poll] when the session ended
	// without an outcome for a reason other than ctx.
	ErrSessionCancelled = errors.New("polling session cancelled")
)

// Poller discovers the outcome of server-side upload jobs by polling a
// status endpoint.
//
// A Poller holds a validated, immutable configuration. Each call to
// [Poller.Start] creates an independent [Session] with its own attempt
// counter, timer and backoff; sessions share nothing but the HTTP client
// (and its optional rate limiter). A Poller is safe for concurrent use.
//
// The typical lifecycle is:
//
//	p, err := uploadpoll.New("https://uploads.example.com/status/{{.JobID}}",
//	    uploadpoll.WithInterval(time.Second),
//	    uploadpoll.WithMaxAttempts(30),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	result, err := p.Poll(ctx, uploadpoll.JobRef{ID: envelopeID})
type Poller struct {
	endpoint        *urlTemplate
	interval        time.Duration
	initialDelay    time.Duration
	maxAttempts     int
	requestTimeout  time.Duration
	headers         map[string]string
	classifier      Classifier
	transportErrors TransportErrorPolicy
	newBackOff      poller.BackOffFactory
	client          *poller.Client
	logger          *slog.Logger
	metrics         *metrics.Metrics
	attemptHook     func(Attempt)
}

// New creates a [Poller] for the given status endpoint template.
//
// The template uses Go text/template syntax with the fields {{.JobID}} and
// {{.FileID}}, and must render to an absolute http or https URL. Options
// have these defaults:
//   - Interval: 1 second
//   - Initial delay: one interval
//   - Max attempts: unbounded
//   - Request timeout: 10 seconds
//   - Classification: [DefaultClassifier]
//   - Transport errors: end the session
//
// Example:
//
//	p, err := uploadpoll.New(
//	    "https://uploads.example.com/envelopes/{{.JobID}}/files/{{.FileID}}/status",
//	    uploadpoll.WithInterval(2*time.Second),
//	    uploadpoll.WithMaxAttempts(15),
//	    uploadpoll.WithTransportErrorPolicy(uploadpoll.TransportErrorRetry),
//	)
func New(endpointTemplate string, opts ...Option) (*Poller, error) {
	endpoint, err := parseURLTemplate("status endpoint", endpointTemplate)
	if err != nil {
		return nil, err
	}

	cfg := &pollerConfig{
		interval:       defaultInterval,
		requestTimeout: defaultRequestTimeout,
		headers:        make(map[string]string),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// fail fast on templates that can never produce a usable URL
	if _, err := endpoint.renderAbsolute(JobRef{ID: "job", FileID: "file"}); err != nil {
		return nil, err
	}

	if !cfg.initialDelaySet {
		cfg.initialDelay = cfg.interval
	}

	classifier := cfg.classifier
	if classifier == nil {
		classifier = StatusCodeClassifier(cfg.badRequest)
	}

	newBackOff := poller.ConstantBackOff(cfg.interval)
	if cfg.backoffMult > 0 {
		if cfg.backoffMax < cfg.interval {
			return nil, fmt.Errorf("backoff max interval %s is shorter than interval %s", cfg.backoffMax, cfg.interval)
		}
		newBackOff = poller.ExponentialBackOff(cfg.interval, cfg.backoffMult, cfg.backoffMax)
	}

	var clientOpts []poller.ClientOption
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, poller.WithHTTPClient(cfg.httpClient))
	}
	if cfg.rateLimitRPS > 0 {
		clientOpts = append(clientOpts, poller.WithRateLimit(cfg.rateLimitRPS, cfg.rateLimitBurst))
	}

	var m *metrics.Metrics
	if cfg.registerer != nil {
		m, err = metrics.New(cfg.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		endpoint:        endpoint,
		interval:        cfg.interval,
		initialDelay:    cfg.initialDelay,
		maxAttempts:     cfg.maxAttempts,
		requestTimeout:  cfg.requestTimeout,
		headers:         cfg.headers,
		classifier:      classifier,
		transportErrors: cfg.transportErrors,
		newBackOff:      newBackOff,
		client:          poller.NewClient(clientOpts...),
		logger:          logger,
		metrics:         m,
		attemptHook:     cfg.attemptHook,
	}, nil
}

// Start begins a polling session for job and returns immediately.
//
// deliver is called exactly once, from the session's goroutine, with the
// terminal [Result], unless the session is cancelled first via
// [Session.Cancel] or ctx. A cancelled session never calls deliver.
//
// Start returns an error only for invalid input: an empty job ID, a nil
// deliver function, or a job reference the endpoint template cannot
// render. Network conditions never produce an error here; they are
// reported as outcomes.
func (p *Poller) Start(ctx context.Context, job JobRef, deliver func(Result)) (*Session, error) {
	return p.start(ctx, job, deliver, nil)
}

// start is Start with an extra per-session attempt observer, called after
// the Poller's own hook.
func (p *Poller) start(ctx context.Context, job JobRef, deliver func(Result), onAttempt func(Attempt)) (*Session, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if deliver == nil {
		return nil, ErrNilDeliver
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := p.endpoint.renderAbsolute(job)
	if err != nil {
		return nil, fmt.Errorf("build status URL: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		job:       job,
		url:       target,
		poller:    p,
		deliver:   deliver,
		onAttempt: onAttempt,
		ctx:       sctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	p.metrics.SessionStarted()
	p.logger.Info("polling session started",
		"session_id", s.id,
		"job_id", job.ID,
		"file_id", job.FileID,
		"interval", p.interval.String(),
		"max_attempts", p.maxAttempts,
	)

	go s.run()
	return s, nil
}

// Poll runs a session for job and blocks until it produces an outcome.
//
// If ctx is cancelled first, the session is cancelled, no request is left
// in flight, and ctx.Err() is returned with a zero Result.
func (p *Poller) Poll(ctx context.Context, job JobRef) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(chan Result, 1)
	s, err := p.Start(ctx, job, func(r Result) { results <- r })
	if err != nil {
		return Result{}, err
	}

	<-s.Done()

	select {
	case r := <-results:
		return r, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{}, ErrSessionCancelled
}

// Close releases idle connections held by the Poller's HTTP client.
// Running sessions are unaffected; the Poller remains usable.
func (p *Poller) Close() {
	p.client.Close()
}

// Interval returns the configured wait between status checks.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// InitialDelay returns the configured wait before the first status check.
func (p *Poller) InitialDelay() time.Duration {
	return p.initialDelay
}

// MaxAttempts returns the attempt budget, or 0 if sessions are unbounded.
func (p *Poller) MaxAttempts() int {
	return p.maxAttempts
}
