package uploadpoll

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Response is a received status-check response as seen by a [Classifier].
// Transport failures never reach a classifier; they are handled by the
// session's [TransportErrorPolicy].
type Response struct {
	// Job is the job reference being polled.
	Job JobRef

	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the response body, limited to 1MB.
	Body []byte
}

// Classifier decides what a status-check response means.
//
// Returning [OutcomePending] schedules another attempt (subject to the
// attempt budget). Any terminal Outcome ends the session. Classifiers must
// be pure: the same response always yields the same classification.
//
// Classifiers are called within a panic recovery boundary; a panicking
// classifier ends the session with [OutcomeTransportError].
type Classifier func(resp Response) Outcome

// BadRequestPolicy controls how HTTP 400 is reported.
type BadRequestPolicy int

const (
	// BadRequestDistinct reports HTTP 400 as [OutcomeBadRequest].
	BadRequestDistinct BadRequestPolicy = iota

	// BadRequestAsTransportError folds HTTP 400 into [OutcomeTransportError].
	BadRequestAsTransportError
)

// String returns the policy name used in configuration files.
func (p BadRequestPolicy) String() string {
	if p == BadRequestAsTransportError {
		return "transport_error"
	}
	return "distinct"
}

// TransportErrorPolicy controls what a failed round trip (DNS, refused
// connection, per-request timeout, unreadable body) does to a session.
type TransportErrorPolicy int

const (
	// TransportErrorFail ends the session with [OutcomeTransportError].
	TransportErrorFail TransportErrorPolicy = iota

	// TransportErrorRetry treats the failure as pending. Retries still
	// consume the attempt budget.
	TransportErrorRetry
)

// String returns the policy name used in configuration files.
func (p TransportErrorPolicy) String() string {
	if p == TransportErrorRetry {
		return "retry"
	}
	return "fail"
}

// StatusCodeClassifier returns a [Classifier] driven by the HTTP status code
// alone:
//   - 202: [OutcomeReady]
//   - 409: [OutcomeRejectedAsUnsafe]
//   - 400: [OutcomeBadRequest], or [OutcomeTransportError] when folded
//   - other 2xx and 3xx: [OutcomePending]
//   - anything else: [OutcomeTransportError]
func StatusCodeClassifier(badRequest BadRequestPolicy) Classifier {
	return func(resp Response) Outcome {
		switch code := resp.StatusCode; {
		case code == http.StatusAccepted:
			return OutcomeReady
		case code == http.StatusConflict:
			return OutcomeRejectedAsUnsafe
		case code == http.StatusBadRequest:
			if badRequest == BadRequestAsTransportError {
				return OutcomeTransportError
			}
			return OutcomeBadRequest
		case code >= 200 && code < 400:
			return OutcomePending
		default:
			return OutcomeTransportError
		}
	}
}

// DefaultClassifier is the [Classifier] used when none is configured:
// [StatusCodeClassifier] with HTTP 400 reported distinctly.
var DefaultClassifier = StatusCodeClassifier(BadRequestDistinct)

// JSONStatusClassifier returns a [Classifier] for status endpoints that
// report readiness in the response body rather than through the status
// code, e.g. {"envelopeId": "abc123", "status": "AVAILABLE"}.
//
// statusPath and idPath use dot notation to reach nested fields. A 2xx
// response is ready when the status field equals readyValue (case-insensitive)
// and, if idPath is non-empty, the id field equals the job ID. Any other 2xx
// response is pending: the status may not be ready yet or may describe a
// different job. Non-2xx responses are classified by [DefaultClassifier].
//
// Example:
//
//	c := uploadpoll.JSONStatusClassifier("status", "AVAILABLE", "envelopeId")
func JSONStatusClassifier(statusPath, readyValue, idPath string) Classifier {
	statusParts := strings.Split(statusPath, ".")
	var idParts []string
	if idPath != "" {
		idParts = strings.Split(idPath, ".")
	}

	return func(resp Response) Outcome {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return DefaultClassifier(resp)
		}

		var data interface{}
		if err := json.Unmarshal(resp.Body, &data); err != nil {
			return OutcomePending
		}

		if !strings.EqualFold(extractJSONPath(data, statusParts), readyValue) {
			return OutcomePending
		}
		if idParts != nil && extractJSONPath(data, idParts) != resp.Job.ID {
			return OutcomePending
		}
		return OutcomeReady
	}
}

// extractJSONPath walks a JSON structure using dot notation parts and
// returns the leaf as a string, or "" if it is missing or not a scalar.
func extractJSONPath(data interface{}, parts []string) string {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// FirstMatch returns a [Classifier] that tries classifiers in order and
// returns the first terminal classification. If every classifier reports
// [OutcomePending], so does FirstMatch.
//
// Example:
//
//	// in-body readiness, then the status-code contract
//	c := uploadpoll.FirstMatch(
//	    uploadpoll.JSONStatusClassifier("status", "AVAILABLE", ""),
//	    uploadpoll.DefaultClassifier,
//	)
func FirstMatch(classifiers ...Classifier) Classifier {
	return func(resp Response) Outcome {
		for _, c := range classifiers {
			if o := c(resp); o.Terminal() {
				return o
			}
		}
		return OutcomePending
	}
}
