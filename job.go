package uploadpoll

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

// ErrEmptyJobID is returned when a [JobRef] has no ID.
var ErrEmptyJobID = errors.New("job id cannot be empty")

// JobRef names the server-side unit of work whose status is tracked, such
// as an upload envelope and, optionally, a file inside it.
//
// Both values are opaque: they are path-escaped into URL templates and
// otherwise never interpreted.
type JobRef struct {
	ID     string
	FileID string
}

// Validate reports whether the reference can be polled.
func (j JobRef) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return ErrEmptyJobID
	}
	return nil
}

// String returns "id" or "id/fileID".
func (j JobRef) String() string {
	if j.FileID == "" {
		return j.ID
	}
	return j.ID + "/" + j.FileID
}

// urlTemplate is a parsed URL template parameterized by a [JobRef].
//
// Templates use Go text/template syntax with the fields {{.JobID}} and
// {{.FileID}}. Values are path-escaped before interpolation. Unknown
// fields fail at render time (missingkey=error).
type urlTemplate struct {
	raw  string
	tmpl *template.Template
}

func parseURLTemplate(name, raw string) (*urlTemplate, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s template cannot be empty", name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", name, err)
	}
	return &urlTemplate{raw: raw, tmpl: tmpl}, nil
}

// render executes the template for job.
func (u *urlTemplate) render(job JobRef) (string, error) {
	data := map[string]string{
		"JobID":  url.PathEscape(job.ID),
		"FileID": url.PathEscape(job.FileID),
	}
	var buf strings.Builder
	if err := u.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", u.tmpl.Name(), err)
	}
	return buf.String(), nil
}

// renderAbsolute renders the template and requires an absolute http(s) URL.
func (u *urlTemplate) renderAbsolute(job JobRef) (string, error) {
	s, err := u.render(job)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%s: invalid URL %q: %w", u.tmpl.Name(), s, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%s: URL must have an http or https scheme, got %q", u.tmpl.Name(), s)
	}
	return s, nil
}
