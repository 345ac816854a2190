package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
poll:
  endpoint: https://uploads.example.com/status/{{.JobID}}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Poll.Interval.Duration() != time.Second {
		t.Errorf("Interval = %v, want 1s", cfg.Poll.Interval.Duration())
	}
	if cfg.Poll.InitialDelay != nil {
		t.Errorf("InitialDelay = %v, want nil", *cfg.Poll.InitialDelay)
	}
	if cfg.Destinations != nil {
		t.Errorf("Destinations = %+v, want nil", cfg.Destinations)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
port: 9090

poll:
  endpoint: https://uploads.example.com/envelopes/{{.JobID}}/files/{{.FileID}}/status
  interval: 500ms
  initial_delay: 0s
  max_attempts: 20
  request_timeout: 3s
  headers:
    Authorization: Bearer token123
  bad_request: transport_error
  transport_errors: retry
  classifier: json:status=AVAILABLE
  backoff:
    multiplier: 1.5
    max_interval: 5s
  rate_limit:
    rps: 20
    burst: 5

destinations:
  ready: /envelopes/{{.JobID}}/files/{{.FileID}}
  unsafe: /envelopes/{{.JobID}}/files/{{.FileID}}/unsafe
  timeout: /envelopes/{{.JobID}}/still-processing
  error: /envelopes/{{.JobID}}/error
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}

	p := cfg.Poll
	if p.Interval.Duration() != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", p.Interval.Duration())
	}
	if p.InitialDelay == nil || p.InitialDelay.Duration() != 0 {
		t.Errorf("InitialDelay = %v, want 0s", p.InitialDelay)
	}
	if p.MaxAttempts != 20 {
		t.Errorf("MaxAttempts = %d, want 20", p.MaxAttempts)
	}
	if p.RequestTimeout.Duration() != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", p.RequestTimeout.Duration())
	}
	if p.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers[Authorization] = %q, want %q", p.Headers["Authorization"], "Bearer token123")
	}
	if p.BadRequest != "transport_error" {
		t.Errorf("BadRequest = %q, want transport_error", p.BadRequest)
	}
	if p.TransportErrors != "retry" {
		t.Errorf("TransportErrors = %q, want retry", p.TransportErrors)
	}
	if p.Classifier.Type != "json" || p.Classifier.StatusPath != "status" || p.Classifier.ReadyValue != "AVAILABLE" {
		t.Errorf("Classifier = %+v, want json status=AVAILABLE", p.Classifier)
	}
	if p.Backoff == nil || p.Backoff.Multiplier != 1.5 || p.Backoff.MaxInterval.Duration() != 5*time.Second {
		t.Errorf("Backoff = %+v, want 1.5 up to 5s", p.Backoff)
	}
	if p.RateLimit == nil || p.RateLimit.RPS != 20 || p.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %+v, want 20 rps burst 5", p.RateLimit)
	}

	d := cfg.Destinations
	if d == nil {
		t.Fatal("Destinations = nil")
	}
	if d.Timeout != "/envelopes/{{.JobID}}/still-processing" {
		t.Errorf("Destinations.Timeout = %q", d.Timeout)
	}
	if d.BadRequest != "" {
		t.Errorf("Destinations.BadRequest = %q, want empty", d.BadRequest)
	}
}

func TestParse_ClassifierShorthand(t *testing.T) {
	tests := []struct {
		name       string
		classifier string
		wantType   string
		wantPath   string
		wantReady  string
		wantErr    bool
	}{
		{"status", "status", "status", "", "", false},
		{"json path", "json:status", "json", "status", "AVAILABLE", false},
		{"json nested path", "json:data.state", "json", "data.state", "AVAILABLE", false},
		{"json with value", "json:state=DONE", "json", "state", "DONE", false},
		{"unknown type", "xml:status", "", "", "", true},
		{"unknown shorthand", "body", "", "", "", true},
		{"json without path", "json:", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
poll:
  endpoint: https://example.com/{{.JobID}}
  classifier: "` + tt.classifier + `"
`
			cfg, err := Parse([]byte(yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			c := cfg.Poll.Classifier
			if c.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", c.Type, tt.wantType)
			}
			if c.StatusPath != tt.wantPath {
				t.Errorf("StatusPath = %q, want %q", c.StatusPath, tt.wantPath)
			}
			if c.ReadyValue != tt.wantReady {
				t.Errorf("ReadyValue = %q, want %q", c.ReadyValue, tt.wantReady)
			}
		})
	}
}

func TestParse_ClassifierStructured(t *testing.T) {
	yaml := `
poll:
  endpoint: https://example.com/{{.JobID}}
  classifier:
    type: json
    status_path: status
    id_path: envelopeId
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	c := cfg.Poll.Classifier
	if c.Type != "json" || c.StatusPath != "status" || c.IDPath != "envelopeId" {
		t.Errorf("Classifier = %+v", c)
	}
	if c.ReadyValue != "AVAILABLE" {
		t.Errorf("ReadyValue = %q, want default AVAILABLE", c.ReadyValue)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	// t.Setenv auto-restores after test (Go 1.17+)
	t.Setenv("TEST_UPLOADS_HOST", "uploads.test.com")
	t.Setenv("TEST_UPLOADS_TOKEN", "secret123")
	t.Setenv("TEST_PORTAL", "https://portal.test.com")

	yaml := `
poll:
  endpoint: https://${TEST_UPLOADS_HOST}/status/{{.JobID}}
  headers:
    Authorization: Bearer ${TEST_UPLOADS_TOKEN}
destinations:
  ready: ${TEST_PORTAL}/done/{{.JobID}}
  unsafe: ${TEST_PORTAL}/unsafe/{{.JobID}}
  error: ${TEST_PORTAL}/error
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Poll.Endpoint != "https://uploads.test.com/status/{{.JobID}}" {
		t.Errorf("Endpoint = %q", cfg.Poll.Endpoint)
	}
	if cfg.Poll.Headers["Authorization"] != "Bearer secret123" {
		t.Errorf("Headers[Authorization] = %q", cfg.Poll.Headers["Authorization"])
	}
	if cfg.Destinations.Ready != "https://portal.test.com/done/{{.JobID}}" {
		t.Errorf("Destinations.Ready = %q", cfg.Destinations.Ready)
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	yaml := `
poll:
  endpoint: ${UNSET_UPLOADS_URL:-https://localhost:9000}/status/{{.JobID}}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Poll.Endpoint != "https://localhost:9000/status/{{.JobID}}" {
		t.Errorf("Endpoint = %q", cfg.Poll.Endpoint)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
poll:
  endpoint: https://${DEFINITELY_NOT_SET_VAR}/status/{{.JobID}}
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for missing env var")
	}
	if !strings.Contains(err.Error(), "DEFINITELY_NOT_SET_VAR") {
		t.Errorf("error should mention the variable, got: %v", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing endpoint",
			yaml:    `port: 8080`,
			wantErr: "poll.endpoint is required",
		},
		{
			name: "port out of range",
			yaml: `
port: 70000
poll:
  endpoint: https://example.com/{{.JobID}}
`,
			wantErr: "port",
		},
		{
			name: "negative max attempts",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  max_attempts: -1
`,
			wantErr: "poll.max_attempts",
		},
		{
			name: "unknown bad request policy",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  bad_request: ignore
`,
			wantErr: "poll.bad_request must be one of",
		},
		{
			name: "unknown transport error policy",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  transport_errors: sometimes
`,
			wantErr: "poll.transport_errors must be one of",
		},
		{
			name: "backoff multiplier below one",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  backoff:
    multiplier: 0.5
    max_interval: 10s
`,
			wantErr: "poll.backoff.multiplier",
		},
		{
			name: "backoff max below interval",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  interval: 2s
  backoff:
    multiplier: 2
    max_interval: 1s
`,
			wantErr: "shorter than poll.interval",
		},
		{
			name: "rate limit without burst",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  rate_limit:
    rps: 5
`,
			wantErr: "poll.rate_limit.burst",
		},
		{
			name: "destinations missing error",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
destinations:
  ready: /ok
  unsafe: /unsafe
`,
			wantErr: "destinations.error is required",
		},
		{
			name: "negative initial delay",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  initial_delay: -1s
`,
			wantErr: "poll.initial_delay cannot be negative",
		},
		{
			name: "negative request timeout",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
  request_timeout: -1s
`,
			wantErr: "poll.request_timeout cannot be negative",
		},
		{
			name: "negative retention max sessions",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
retention:
  max_sessions: -5
`,
			wantErr: "retention.max_sessions",
		},
		{
			name: "negative retention ttl",
			yaml: `
poll:
  endpoint: https://example.com/{{.JobID}}
retention:
  ttl: -1m
`,
			wantErr: "retention.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_IntervalBounds(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		wantErr  bool
	}{
		{"below minimum", "50ms", true},
		{"at minimum", "100ms", false},
		{"typical", "1s", false},
		{"at maximum", "1h", false},
		{"above maximum", "61m", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
poll:
  endpoint: https://example.com/{{.JobID}}
  interval: ` + tt.interval + `
`
			_, err := Parse([]byte(yaml))
			if tt.wantErr && err == nil {
				t.Error("Parse() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Parse() unexpected error: %v", err)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("poll: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %v, want YAML parse error", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	yaml := `
poll:
  endpoint: https://example.com/{{.JobID}}
  interval: soon
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v, want invalid duration", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploadpoll.yaml")
	content := `
poll:
  endpoint: https://example.com/{{.JobID}}
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poll.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Poll.MaxAttempts)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "") // set but empty

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false}, // set var takes precedence
		{"template braces untouched", "/status/{{.JobID}}", "/status/{{.JobID}}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// UNSET and MISSING are expected to not exist in environment
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
