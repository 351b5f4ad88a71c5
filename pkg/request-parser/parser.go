package parser

import (
	"errors"
	"strings"

	"github.com/relaycache/relaycache/pkg/header"
)

// ErrMalformedRequest is returned when the request line cannot be parsed.
var ErrMalformedRequest = errors.New("malformed request")

// Request is a minimal inbound HTTP request: just enough to proxy a GET.
type Request struct {
	Method string
	// Path as sent by the client, including any query string.
	Path   string
	Header header.Header
}

// Parse decodes one raw request buffer. The first line must contain at
// least a method and a path; a trailing version token is ignored. Header
// lines are split on the first colon with surrounding whitespace trimmed.
// Lines without a colon are skipped rather than rejected.
func Parse(raw []byte) (Request, error) {
	var req Request

	lines := make([]string, 0, 8)
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return req, ErrMalformedRequest
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return req, ErrMalformedRequest
	}
	req.Method = fields[0]
	req.Path = fields[1]

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}
