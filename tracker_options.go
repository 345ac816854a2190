package uploadpoll

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/uploadpoll/internal/store"
)

const (
	defaultPort       = 8080
	defaultMaxRecords = store.DefaultMaxTerminal
)

// trackerConfig holds mutable state during Tracker construction.
type trackerConfig struct {
	destinations     *Destinations
	port             int
	logger           *slog.Logger
	outcomeCallbacks []func(Result)
	gatherer         prometheus.Gatherer
	maxRecords       int
	recordTTL        time.Duration
}

// TrackerOption configures a [Tracker] during construction.
type TrackerOption func(*trackerConfig) error

// WithDestinations sets where finished sessions redirect to. Without
// destinations the tracker still records outcomes, but the wait route
// cannot redirect.
//
// Returns an error if d is nil.
func WithDestinations(d *Destinations) TrackerOption {
	return func(cfg *trackerConfig) error {
		if d == nil {
			return errors.New("destinations cannot be nil")
		}
		cfg.destinations = d
		return nil
	}
}

// WithPort sets the HTTP server port. Defaults to 8080.
//
// Returns an error if port is outside 1-65535.
func WithPort(port int) TrackerOption {
	return func(cfg *trackerConfig) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", port)
		}
		cfg.port = port
		return nil
	}
}

// WithTrackerLogger sets a custom [slog.Logger] for the tracker and its HTTP
// server. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(cfg *trackerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutcomeCallback registers a function to be called with every
// delivered [Result].
//
// Callbacks are invoked synchronously, after the session record is updated,
// from the session's goroutine. Callbacks should not block; use a goroutine
// for slow operations. Panics are recovered and logged.
//
// Multiple callbacks can be registered and are called in registration order.
// Nil callbacks are silently ignored.
func WithOutcomeCallback(fn func(Result)) TrackerOption {
	return func(cfg *trackerConfig) error {
		if fn == nil {
			return nil
		}
		cfg.outcomeCallbacks = append(cfg.outcomeCallbacks, fn)
		return nil
	}
}

// WithMetricsGatherer exposes g at GET /metrics. Pair it with
// [WithMetrics] on the Poller, typically with the same registry.
//
// Returns an error if g is nil.
func WithMetricsGatherer(g prometheus.Gatherer) TrackerOption {
	return func(cfg *trackerConfig) error {
		if g == nil {
			return errors.New("metrics gatherer cannot be nil")
		}
		cfg.gatherer = g
		return nil
	}
}

// WithRetention bounds the records of stopped sessions. At most maxRecords
// finished or cancelled records are kept, oldest evicted first, and with a
// positive ttl a record is also evicted once it has been stopped for
// longer than ttl. Running sessions are never evicted.
//
// Without this option up to 1000 stopped records are kept with no TTL.
//
// Returns an error if maxRecords is less than 1 or ttl is negative.
func WithRetention(maxRecords int, ttl time.Duration) TrackerOption {
	return func(cfg *trackerConfig) error {
		if maxRecords < 1 {
			return fmt.Errorf("retention max records must be at least 1, got %d", maxRecords)
		}
		if ttl < 0 {
			return fmt.Errorf("retention ttl cannot be negative, got %s", ttl)
		}
		cfg.maxRecords = maxRecords
		cfg.recordTTL = ttl
		return nil
	}
}
