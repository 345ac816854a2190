package uploadpoll

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultInterval       = time.Second
	defaultRequestTimeout = 10 * time.Second
)

// pollerConfig holds mutable state during Poller construction.
type pollerConfig struct {
	interval        time.Duration
	initialDelay    time.Duration
	initialDelaySet bool
	maxAttempts     int
	requestTimeout  time.Duration
	headers         map[string]string
	classifier      Classifier
	badRequest      BadRequestPolicy
	transportErrors TransportErrorPolicy
	backoffMult     float64
	backoffMax      time.Duration
	rateLimitRPS    float64
	rateLimitBurst  int
	httpClient      *http.Client
	logger          *slog.Logger
	registerer      prometheus.Registerer
	attemptHook     func(Attempt)
}

// Option configures a [Poller] during construction.
//
// Options return an error if validation fails; [New] stops at the first
// failing option.
type Option func(*pollerConfig) error

// WithInterval sets the wait between consecutive status checks.
// Defaults to 1 second.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithInitialDelay sets the wait before the first status check.
//
// Zero checks immediately. If not specified, the first check waits one
// interval, which gives the server a head start on freshly submitted jobs.
//
// Returns an error if the duration is negative.
func WithInitialDelay(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d < 0 {
			return errors.New("initial delay cannot be negative")
		}
		cfg.initialDelay = d
		cfg.initialDelaySet = true
		return nil
	}
}

// WithMaxAttempts bounds a session to n status checks. A session whose
// n-th check is still pending ends with [OutcomeTimeout].
//
// If not specified, sessions poll until they produce an outcome or are
// cancelled.
//
// Returns an error if n is less than 1.
func WithMaxAttempts(n int) Option {
	return func(cfg *pollerConfig) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		cfg.maxAttempts = n
		return nil
	}
}

// WithRequestTimeout sets the timeout of each individual status check.
// A check that times out is a transport failure. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithHeaders adds HTTP headers to every status check.
//
// Accepts variadic key-value pairs. Returns an error if an odd number of
// arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *pollerConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithClassifier replaces the status-code classification.
// The [BadRequestPolicy] does not apply to a custom classifier.
//
// Returns an error if c is nil.
func WithClassifier(c Classifier) Option {
	return func(cfg *pollerConfig) error {
		if c == nil {
			return errors.New("classifier cannot be nil")
		}
		cfg.classifier = c
		return nil
	}
}

// WithBadRequestPolicy sets whether HTTP 400 is reported as
// [OutcomeBadRequest] (the default) or folded into [OutcomeTransportError].
func WithBadRequestPolicy(p BadRequestPolicy) Option {
	return func(cfg *pollerConfig) error {
		switch p {
		case BadRequestDistinct, BadRequestAsTransportError:
			cfg.badRequest = p
			return nil
		default:
			return fmt.Errorf("unknown bad request policy %d", p)
		}
	}
}

// WithTransportErrorPolicy sets whether a failed round trip ends the
// session (the default) or is retried like a pending response.
func WithTransportErrorPolicy(p TransportErrorPolicy) Option {
	return func(cfg *pollerConfig) error {
		switch p {
		case TransportErrorFail, TransportErrorRetry:
			cfg.transportErrors = p
			return nil
		default:
			return fmt.Errorf("unknown transport error policy %d", p)
		}
	}
}

// WithExponentialBackoff makes the wait between checks grow from the
// interval by multiplier after every pending attempt, capped at maxInterval.
// Waits never drop below the interval.
//
// Returns an error if multiplier is below 1 or maxInterval is not positive.
func WithExponentialBackoff(multiplier float64, maxInterval time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if multiplier < 1 {
			return fmt.Errorf("backoff multiplier must be at least 1, got %v", multiplier)
		}
		if maxInterval <= 0 {
			return errors.New("backoff max interval must be positive")
		}
		cfg.backoffMult = multiplier
		cfg.backoffMax = maxInterval
		return nil
	}
}

// WithRateLimit caps outbound status checks across all sessions of the
// Poller to rps requests per second, with the given burst.
//
// Returns an error if rps is not positive or burst is less than 1.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *pollerConfig) error {
		if rps <= 0 {
			return errors.New("rate limit must be positive")
		}
		if burst < 1 {
			return errors.New("rate limit burst must be at least 1")
		}
		cfg.rateLimitRPS = rps
		cfg.rateLimitBurst = burst
		return nil
	}
}

// WithHTTPClient sets the *http.Client used for status checks.
//
// Returns an error if the client is nil.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *pollerConfig) error {
		if c == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = c
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics registers Prometheus collectors for attempts and outcomes on
// reg.
//
// Returns an error if reg is nil.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *pollerConfig) error {
		if reg == nil {
			return errors.New("metrics registerer cannot be nil")
		}
		cfg.registerer = reg
		return nil
	}
}

// WithAttemptHook registers a function called after every classified
// attempt, from the session's goroutine. Hooks must not block. Panics are
// recovered and logged.
//
// Nil hooks are silently ignored.
func WithAttemptHook(hook func(Attempt)) Option {
	return func(cfg *pollerConfig) error {
		if hook == nil {
			return nil
		}
		cfg.attemptHook = hook
		return nil
	}
}
