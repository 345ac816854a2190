package uploadpoll

import (
	"errors"
	"net/url"
	"testing"
)

func mustDestinations(t *testing.T, opts ...DestinationOption) *Destinations {
	t.Helper()
	d, err := NewDestinations(
		"/envelopes/{{.JobID}}/files/{{.FileID}}",
		"/envelopes/{{.JobID}}/files/{{.FileID}}/unsafe",
		"/envelopes/{{.JobID}}/error",
		opts...,
	)
	if err != nil {
		t.Fatalf("NewDestinations() error = %v", err)
	}
	return d
}

func TestDestinations_Resolve(t *testing.T) {
	job := JobRef{ID: "abc123", FileID: "f1"}

	tests := []struct {
		name       string
		result     Result
		wantPath   string
		wantCode   string
		wantReason string
	}{
		{
			name:     "ready",
			result:   Result{Job: job, Outcome: OutcomeReady, StatusCode: 202},
			wantPath: "/envelopes/abc123/files/f1",
		},
		{
			name:     "unsafe",
			result:   Result{Job: job, Outcome: OutcomeRejectedAsUnsafe, StatusCode: 409},
			wantPath: "/envelopes/abc123/files/f1/unsafe",
		},
		{
			name:       "bad request",
			result:     Result{Job: job, Outcome: OutcomeBadRequest, StatusCode: 400},
			wantPath:   "/envelopes/abc123/error",
			wantCode:   "400",
			wantReason: ReasonBadRequest,
		},
		{
			name:       "timeout",
			result:     Result{Job: job, Outcome: OutcomeTimeout, StatusCode: 200},
			wantPath:   "/envelopes/abc123/error",
			wantCode:   "408",
			wantReason: ReasonTimedOut,
		},
		{
			name:       "unexpected status",
			result:     Result{Job: job, Outcome: OutcomeTransportError, StatusCode: 503},
			wantPath:   "/envelopes/abc123/error",
			wantCode:   "503",
			wantReason: ReasonUnexpectedStatus,
		},
		{
			name:       "network failure",
			result:     Result{Job: job, Outcome: OutcomeTransportError, Err: errors.New("refused")},
			wantPath:   "/envelopes/abc123/error",
			wantReason: ReasonTransportFailure,
		},
	}

	d := mustDestinations(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Resolve(tt.result)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}

			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("Resolve() returned unparsable URL %q: %v", got, err)
			}
			if u.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", u.Path, tt.wantPath)
			}
			q := u.Query()
			if q.Get("errorCode") != tt.wantCode {
				t.Errorf("errorCode = %q, want %q", q.Get("errorCode"), tt.wantCode)
			}
			if q.Get("reason") != tt.wantReason {
				t.Errorf("reason = %q, want %q", q.Get("reason"), tt.wantReason)
			}
		})
	}
}

func TestDestinations_DedicatedPages(t *testing.T) {
	d := mustDestinations(t,
		WithBadRequestDestination("/envelopes/{{.JobID}}/rejected"),
		WithTimeoutDestination("/envelopes/{{.JobID}}/still-processing"),
	)
	job := JobRef{ID: "abc123"}

	got, err := d.Resolve(Result{Job: job, Outcome: OutcomeBadRequest})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "/envelopes/abc123/rejected" {
		t.Errorf("Resolve(bad_request) = %q", got)
	}

	got, err = d.Resolve(Result{Job: job, Outcome: OutcomeTimeout})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "/envelopes/abc123/still-processing" {
		t.Errorf("Resolve(timeout) = %q", got)
	}
}

func TestDestinations_ErrorPageKeepsExistingQuery(t *testing.T) {
	d, err := NewDestinations("/ok", "/unsafe", "https://app.example.com/error?lang=en")
	if err != nil {
		t.Fatalf("NewDestinations() error = %v", err)
	}

	got, err := d.Resolve(Result{Job: JobRef{ID: "x"}, Outcome: OutcomeTimeout})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Host != "app.example.com" {
		t.Errorf("host = %q", u.Host)
	}
	q := u.Query()
	if q.Get("lang") != "en" || q.Get("errorCode") != "408" || q.Get("reason") != ReasonTimedOut {
		t.Errorf("query = %v, want lang, errorCode and reason", q)
	}
}

func TestDestinations_NonTerminal(t *testing.T) {
	d := mustDestinations(t)
	if _, err := d.Resolve(Result{Job: JobRef{ID: "x"}, Outcome: OutcomePending}); err == nil {
		t.Error("Resolve(pending) expected error")
	}
	if _, err := d.Resolve(Result{Job: JobRef{ID: "x"}}); err == nil {
		t.Error("Resolve(empty outcome) expected error")
	}
}

func TestNewDestinations_Invalid(t *testing.T) {
	tests := []struct {
		name                    string
		ready, unsafe, errorURL string
		opts                    []DestinationOption
	}{
		{name: "missing ready", unsafe: "/u", errorURL: "/e"},
		{name: "missing unsafe", ready: "/r", errorURL: "/e"},
		{name: "missing error", ready: "/r", unsafe: "/u"},
		{name: "bad syntax", ready: "/r/{{.JobID", unsafe: "/u", errorURL: "/e"},
		{name: "unknown field", ready: "/r/{{.Nope}}", unsafe: "/u", errorURL: "/e"},
		{
			name: "bad optional page", ready: "/r", unsafe: "/u", errorURL: "/e",
			opts: []DestinationOption{WithTimeoutDestination("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDestinations(tt.ready, tt.unsafe, tt.errorURL, tt.opts...); err == nil {
				t.Error("NewDestinations() expected error")
			}
		})
	}
}
