package uploadpoll

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Reason values appended to the error destination.
const (
	ReasonBadRequest       = "bad-request"
	ReasonTimedOut         = "timed-out"
	ReasonUnexpectedStatus = "unexpected-status"
	ReasonTransportFailure = "transport-failure"
)

// Destinations maps terminal outcomes to the URLs a user should be sent to.
//
// Every destination is a template with the same syntax as the status
// endpoint ({{.JobID}}, {{.FileID}}). Relative paths are allowed. The
// library only resolves destinations; it never requests them.
//
// Outcomes without a dedicated destination are sent to the error
// destination with errorCode and reason query parameters appended.
type Destinations struct {
	ready      *urlTemplate
	unsafe     *urlTemplate
	badRequest *urlTemplate
	timeout    *urlTemplate
	errorURL   *urlTemplate
}

// DestinationOption configures optional [Destinations].
type DestinationOption func(*Destinations) error

// WithBadRequestDestination sends [OutcomeBadRequest] to its own page
// instead of the error destination.
func WithBadRequestDestination(tmpl string) DestinationOption {
	return func(d *Destinations) error {
		t, err := parseURLTemplate("bad request destination", tmpl)
		if err != nil {
			return err
		}
		d.badRequest = t
		return nil
	}
}

// WithTimeoutDestination sends [OutcomeTimeout] to its own page instead of
// the error destination.
func WithTimeoutDestination(tmpl string) DestinationOption {
	return func(d *Destinations) error {
		t, err := parseURLTemplate("timeout destination", tmpl)
		if err != nil {
			return err
		}
		d.timeout = t
		return nil
	}
}

// NewDestinations creates [Destinations] from the ready, unsafe and error
// templates, which are all required.
//
// Example:
//
//	d, err := uploadpoll.NewDestinations(
//	    "/envelopes/{{.JobID}}/files/{{.FileID}}",
//	    "/envelopes/{{.JobID}}/files/{{.FileID}}/unsafe",
//	    "/envelopes/{{.JobID}}/error",
//	    uploadpoll.WithTimeoutDestination("/envelopes/{{.JobID}}/still-processing"),
//	)
func NewDestinations(ready, unsafe, errorURL string, opts ...DestinationOption) (*Destinations, error) {
	d := &Destinations{}

	var err error
	if d.ready, err = parseURLTemplate("ready destination", ready); err != nil {
		return nil, err
	}
	if d.unsafe, err = parseURLTemplate("unsafe destination", unsafe); err != nil {
		return nil, err
	}
	if d.errorURL, err = parseURLTemplate("error destination", errorURL); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	// every template must render for a representative job
	probe := JobRef{ID: "job", FileID: "file"}
	for _, t := range []*urlTemplate{d.ready, d.unsafe, d.badRequest, d.timeout, d.errorURL} {
		if t == nil {
			continue
		}
		if _, err := t.render(probe); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Resolve returns the destination URL for a terminal result.
//
// Returns an error if the result is not terminal or a template fails to
// render for the result's job.
func (d *Destinations) Resolve(r Result) (string, error) {
	switch r.Outcome {
	case OutcomeReady:
		return d.ready.render(r.Job)
	case OutcomeRejectedAsUnsafe:
		return d.unsafe.render(r.Job)
	case OutcomeBadRequest:
		if d.badRequest != nil {
			return d.badRequest.render(r.Job)
		}
		return d.errorDestination(r.Job, http.StatusBadRequest, ReasonBadRequest)
	case OutcomeTimeout:
		if d.timeout != nil {
			return d.timeout.render(r.Job)
		}
		return d.errorDestination(r.Job, http.StatusRequestTimeout, ReasonTimedOut)
	case OutcomeTransportError:
		if r.StatusCode > 0 {
			return d.errorDestination(r.Job, r.StatusCode, ReasonUnexpectedStatus)
		}
		return d.errorDestination(r.Job, 0, ReasonTransportFailure)
	default:
		return "", fmt.Errorf("cannot resolve destination for non-terminal outcome %q", r.Outcome)
	}
}

// errorDestination renders the error template and appends errorCode (when
// non-zero) and reason, preserving any query the template already has.
func (d *Destinations) errorDestination(job JobRef, code int, reason string) (string, error) {
	raw, err := d.errorURL.render(job)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("error destination: invalid URL %q: %w", raw, err)
	}

	q := u.Query()
	if code > 0 {
		q.Set("errorCode", strconv.Itoa(code))
	}
	q.Set("reason", reason)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
