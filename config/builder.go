package config

import (
	"sort"

	"github.com/jpalmerr/uploadpoll"
)

// BuildPoller converts parsed configuration into an SDK Poller.
//
// extra options (logger, metrics, hooks) are applied after the ones derived
// from the configuration.
func BuildPoller(cfg *Config, extra ...uploadpoll.Option) (*uploadpoll.Poller, error) {
	pc := cfg.Poll

	opts := []uploadpoll.Option{
		uploadpoll.WithInterval(pc.Interval.Duration()),
	}

	if pc.InitialDelay != nil {
		opts = append(opts, uploadpoll.WithInitialDelay(pc.InitialDelay.Duration()))
	}

	if pc.MaxAttempts > 0 {
		opts = append(opts, uploadpoll.WithMaxAttempts(pc.MaxAttempts))
	}

	if pc.RequestTimeout != 0 {
		opts = append(opts, uploadpoll.WithRequestTimeout(pc.RequestTimeout.Duration()))
	}

	if len(pc.Headers) > 0 {
		opts = append(opts, uploadpoll.WithHeaders(mapToKeyValuePairs(pc.Headers)...))
	}

	if pc.BadRequest == uploadpoll.BadRequestAsTransportError.String() {
		opts = append(opts, uploadpoll.WithBadRequestPolicy(uploadpoll.BadRequestAsTransportError))
	}

	if pc.TransportErrors == uploadpoll.TransportErrorRetry.String() {
		opts = append(opts, uploadpoll.WithTransportErrorPolicy(uploadpoll.TransportErrorRetry))
	}

	if classifier := buildClassifier(pc.Classifier, pc.BadRequest); classifier != nil {
		opts = append(opts, uploadpoll.WithClassifier(classifier))
	}

	if b := pc.Backoff; b != nil {
		opts = append(opts, uploadpoll.WithExponentialBackoff(b.Multiplier, b.MaxInterval.Duration()))
	}

	if rl := pc.RateLimit; rl != nil {
		opts = append(opts, uploadpoll.WithRateLimit(rl.RPS, rl.Burst))
	}

	return uploadpoll.New(pc.Endpoint, append(opts, extra...)...)
}

// BuildDestinations converts the destinations section into SDK Destinations.
// It returns nil, nil when the section is absent.
func BuildDestinations(cfg *Config) (*uploadpoll.Destinations, error) {
	dc := cfg.Destinations
	if dc == nil {
		return nil, nil
	}

	var opts []uploadpoll.DestinationOption
	if dc.BadRequest != "" {
		opts = append(opts, uploadpoll.WithBadRequestDestination(dc.BadRequest))
	}
	if dc.Timeout != "" {
		opts = append(opts, uploadpoll.WithTimeoutDestination(dc.Timeout))
	}

	return uploadpoll.NewDestinations(dc.Ready, dc.Unsafe, dc.Error, opts...)
}

// BuildTracker builds the Poller, Destinations and Tracker described by cfg.
//
// pollerOpts are passed to [BuildPoller]; trackerOpts are applied after the
// port and destinations from the configuration.
func BuildTracker(cfg *Config, pollerOpts []uploadpoll.Option, trackerOpts ...uploadpoll.TrackerOption) (*uploadpoll.Tracker, error) {
	p, err := BuildPoller(cfg, pollerOpts...)
	if err != nil {
		return nil, err
	}

	d, err := BuildDestinations(cfg)
	if err != nil {
		return nil, err
	}

	opts := []uploadpoll.TrackerOption{uploadpoll.WithPort(cfg.Port)}
	if d != nil {
		opts = append(opts, uploadpoll.WithDestinations(d))
	}
	if r := cfg.Retention; r != nil {
		maxSessions := r.MaxSessions
		if maxSessions == 0 {
			maxSessions = defaultMaxSessions
		}
		opts = append(opts, uploadpoll.WithRetention(maxSessions, r.TTL.Duration()))
	}

	return uploadpoll.NewTracker(p, append(opts, trackerOpts...)...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildClassifier creates a classifier from config.
// Returns nil for status-code classification, which the Poller applies by
// default together with its bad request policy.
func buildClassifier(cc ClassifierConfig, badRequest string) uploadpoll.Classifier {
	if cc.Type != "json" {
		return nil
	}

	inBody := uploadpoll.JSONStatusClassifier(cc.StatusPath, cc.ReadyValue, cc.IDPath)
	if badRequest != uploadpoll.BadRequestAsTransportError.String() {
		return inBody
	}

	// keep the folded 400 policy for non-2xx responses
	folded := uploadpoll.StatusCodeClassifier(uploadpoll.BadRequestAsTransportError)
	return func(resp uploadpoll.Response) uploadpoll.Outcome {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return folded(resp)
		}
		return inBody(resp)
	}
}
