// Package config provides YAML configuration parsing for uploadpoll.
//
// This package enables running uploadpoll as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//
//	poll:
//	  endpoint: "${UPLOADS_URL:-https://uploads.example.com}/envelopes/{{.JobID}}/files/{{.FileID}}/status"
//	  interval: 1s
//	  max_attempts: 30
//	  transport_errors: retry
//	  headers:
//	    Authorization: "Bearer ${UPLOADS_TOKEN}"
//
//	destinations:
//	  ready: /envelopes/{{.JobID}}/files/{{.FileID}}
//	  unsafe: /envelopes/{{.JobID}}/files/{{.FileID}}/unsafe
//	  error: /envelopes/{{.JobID}}/error
//
//	retention:
//	  max_sessions: 500
//	  ttl: 1h
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
// This prevents accidental DoS of status endpoints with overly aggressive polling.
const minPollInterval = 100 * time.Millisecond

const (
	defaultPort     = 8080
	defaultInterval = time.Second

	// defaultMaxSessions matches the tracker's default retention.
	defaultMaxSessions = 1000
)

// Config is the root configuration structure for uploadpoll.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port used by "serve". Defaults to 8080.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// Poll configures the status endpoint and attempt loop.
	Poll PollConfig `yaml:"poll"`

	// Destinations maps outcomes to redirect URLs. Optional.
	Destinations *DestinationsConfig `yaml:"destinations"`

	// Retention bounds how many stopped sessions are kept. Optional.
	Retention *RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds the records of finished and cancelled sessions.
type RetentionConfig struct {
	// MaxSessions is how many stopped sessions are kept, oldest evicted
	// first. Defaults to 1000.
	MaxSessions int `yaml:"max_sessions" validate:"min=0"`

	// TTL evicts stopped sessions older than this. 0 disables expiry.
	TTL Duration `yaml:"ttl" validate:"min=0"`
}

// PollConfig defines how a job's status is polled.
type PollConfig struct {
	// Endpoint is the status URL template, with {{.JobID}} and {{.FileID}}.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Endpoint string `yaml:"endpoint" validate:"required"`

	// Interval is the wait between status checks. Defaults to 1s.
	Interval Duration `yaml:"interval"`

	// InitialDelay is the wait before the first check. Defaults to the
	// interval; set "0s" to check immediately.
	InitialDelay *Duration `yaml:"initial_delay"`

	// MaxAttempts bounds each session. 0 polls until cancelled.
	MaxAttempts int `yaml:"max_attempts" validate:"min=0"`

	// RequestTimeout is the per-check timeout. Defaults to 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Headers are custom HTTP headers sent with each check.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// BadRequest is "distinct" (default) or "transport_error".
	BadRequest string `yaml:"bad_request" validate:"omitempty,oneof=distinct transport_error"`

	// TransportErrors is "fail" (default) or "retry".
	TransportErrors string `yaml:"transport_errors" validate:"omitempty,oneof=fail retry"`

	// Classifier selects how responses are classified.
	Classifier ClassifierConfig `yaml:"classifier"`

	// Backoff makes waits grow between checks. Optional.
	Backoff *BackoffConfig `yaml:"backoff"`

	// RateLimit caps outbound checks across all sessions. Optional.
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// BackoffConfig defines exponential growth of the wait between checks.
type BackoffConfig struct {
	Multiplier  float64  `yaml:"multiplier" validate:"gte=1"`
	MaxInterval Duration `yaml:"max_interval" validate:"gt=0"`
}

// RateLimitConfig defines a token bucket for outbound checks.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"min=1"`
}

// DestinationsConfig defines redirect URL templates per outcome.
// Values support environment variable substitution.
type DestinationsConfig struct {
	Ready      string `yaml:"ready" validate:"required"`
	Unsafe     string `yaml:"unsafe" validate:"required"`
	BadRequest string `yaml:"bad_request"`
	Timeout    string `yaml:"timeout"`
	Error      string `yaml:"error" validate:"required"`
}

// ClassifierConfig specifies how a response is turned into an outcome.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	classifier: status
//	classifier: json:status
//	classifier: json:data.state=AVAILABLE
//
// Structured object:
//
//	classifier:
//	  type: json
//	  status_path: status
//	  ready_value: AVAILABLE
//	  id_path: envelopeId
type ClassifierConfig struct {
	// Type is the classifier type: "status" or "json".
	Type string

	// StatusPath is the JSON field path holding the status (for type: json).
	StatusPath string

	// ReadyValue is the status value meaning ready (for type: json).
	// Defaults to "AVAILABLE".
	ReadyValue string

	// IDPath is an optional JSON field path that must equal the job ID.
	IDPath string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ClassifierConfig.
func (c *ClassifierConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return c.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type       string `yaml:"type"`
			StatusPath string `yaml:"status_path"`
			ReadyValue string `yaml:"ready_value"`
			IDPath     string `yaml:"id_path"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		c.Type = raw.Type
		c.StatusPath = raw.StatusPath
		c.ReadyValue = raw.ReadyValue
		c.IDPath = raw.IDPath
		return nil
	}

	return fmt.Errorf("classifier must be a string or object, got %v", node.Kind)
}

// parseShorthand parses classifier shorthand syntax.
//
// Supported formats:
//   - "status" → status code classification
//   - "json:path" → in-body status at path, ready when AVAILABLE
//   - "json:path=VALUE" → in-body status at path, ready when VALUE
func (c *ClassifierConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if idx := strings.Index(s, ":"); idx != -1 {
		c.Type = s[:idx]
		value := s[idx+1:]

		if c.Type != "json" {
			return fmt.Errorf("unknown classifier type %q", c.Type)
		}
		if path, ready, ok := strings.Cut(value, "="); ok {
			c.StatusPath = path
			c.ReadyValue = ready
		} else {
			c.StatusPath = value
		}
		return nil
	}

	if s != "status" {
		return fmt.Errorf("unknown classifier %q (expected 'status', 'json:path', or 'json:path=VALUE')", s)
	}
	c.Type = s
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// validate checks struct tags, reporting fields by their YAML names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the endpoint, header values and
// destinations. Defaults are applied for Port (8080) and Interval (1s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(defaultInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}

	p := &c.Poll

	expanded, err := expandEnvVars(p.Endpoint)
	if err != nil {
		return fmt.Errorf("poll.endpoint: %w", err)
	}
	p.Endpoint = expanded

	for k, v := range p.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("poll.headers[%s]: %w", k, err)
		}
		p.Headers[k] = expanded
	}

	if p.Interval.Duration() < minPollInterval {
		return fmt.Errorf("poll.interval must be at least %s, got %s", minPollInterval, p.Interval.Duration())
	}
	if p.Interval.Duration() > time.Hour {
		return fmt.Errorf("poll.interval must not exceed 1h, got %s", p.Interval.Duration())
	}

	if p.InitialDelay != nil && p.InitialDelay.Duration() < 0 {
		return fmt.Errorf("poll.initial_delay cannot be negative, got %s", p.InitialDelay.Duration())
	}

	if p.RequestTimeout < 0 {
		return fmt.Errorf("poll.request_timeout cannot be negative, got %s", p.RequestTimeout.Duration())
	}

	if b := p.Backoff; b != nil && b.MaxInterval.Duration() < p.Interval.Duration() {
		return fmt.Errorf("poll.backoff.max_interval %s is shorter than poll.interval %s",
			b.MaxInterval.Duration(), p.Interval.Duration())
	}

	if err := validateClassifier(&p.Classifier); err != nil {
		return err
	}

	if d := c.Destinations; d != nil {
		for _, field := range []struct {
			name string
			val  *string
		}{
			{"ready", &d.Ready},
			{"unsafe", &d.Unsafe},
			{"bad_request", &d.BadRequest},
			{"timeout", &d.Timeout},
			{"error", &d.Error},
		} {
			expanded, err := expandEnvVars(*field.val)
			if err != nil {
				return fmt.Errorf("destinations.%s: %w", field.name, err)
			}
			*field.val = expanded
		}
	}

	return nil
}

// validateClassifier validates a classifier configuration and applies the
// default ready value.
func validateClassifier(c *ClassifierConfig) error {
	switch c.Type {
	case "", "status":
		// no additional validation needed
	case "json":
		if c.StatusPath == "" {
			return errors.New("poll.classifier: type 'json' requires a status path")
		}
		if c.ReadyValue == "" {
			c.ReadyValue = "AVAILABLE"
		}
	default:
		return fmt.Errorf("poll.classifier: unknown type %q", c.Type)
	}
	return nil
}

// validationError flattens validator errors into a config error naming
// YAML fields, e.g. "poll.endpoint is required".
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// drop the root struct name
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
