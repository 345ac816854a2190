// Package metrics holds the Prometheus collectors for upload status sessions.
//
// Collectors are created per [Metrics] instance and registered on the
// caller's registerer, so several pollers (or tests) can coexist without
// fighting over the default registry. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uploadpoll"

// Metrics records attempt and outcome counts for polling sessions.
type Metrics struct {
	attempts       *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	active         prometheus.Gauge
	cancelled      prometheus.Counter
}

// New creates the collectors and registers them on reg.
//
// If a collector with the same descriptor is already registered on reg,
// the existing one is reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Status-check attempts by HTTP status class and classification.",
			},
			[]string{"code", "classification"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Status-check duration in seconds.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3, 5, 10},
			},
			[]string{"code"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Terminal session outcomes.",
			},
			[]string{"outcome"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently polling.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancelled_sessions_total",
			Help:      "Sessions cancelled before producing an outcome.",
		}),
	}

	var err error
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.attemptDuration, err = register(reg, m.attemptDuration); err != nil {
		return nil, err
	}
	if m.outcomes, err = register(reg, m.outcomes); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	if m.cancelled, err = register(reg, m.cancelled); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// SessionStarted marks a session as active.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// Attempt records one status check. statusCode is 0 for transport failures.
func (m *Metrics) Attempt(statusCode int, classification string, duration time.Duration) {
	if m == nil {
		return
	}
	code := codeLabel(statusCode)
	m.attempts.WithLabelValues(code, classification).Inc()
	m.attemptDuration.WithLabelValues(code).Observe(duration.Seconds())
}

// SessionFinished records a terminal outcome and marks the session inactive.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.active.Dec()
}

// SessionCancelled marks the session inactive without an outcome.
func (m *Metrics) SessionCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
	m.active.Dec()
}

// codeLabel keeps label cardinality low: the interesting codes are kept,
// the rest collapse to their class.
func codeLabel(statusCode int) string {
	switch statusCode {
	case 0:
		return "none"
	case 200, 202, 400, 409:
		return strconv.Itoa(statusCode)
	default:
		return strconv.Itoa(statusCode/100) + "xx"
	}
}
