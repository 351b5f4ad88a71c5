package relaycache

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/relaycache/relaycache/pkg/header"
)

// CacheStatus reports whether a response was served from the cache store
// or required a backend fetch.
type CacheStatus string

const (
	CacheStatusHit  CacheStatus = "HIT"
	CacheStatusMiss CacheStatus = "MISS"
)

// Response is the outbound wire response to the client.
type Response struct {
	Code       int
	StatusLine string
	// CacheStatus is empty for responses that never touched the cache
	// (errors, non-GET, non-200 origin responses).
	CacheStatus CacheStatus
	Header      header.Header
	Body        []byte
}

// Bytes renders the response in its wire format: status line, the
// Cache-Status marker when set, headers in order, blank line, body.
func (r Response) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(r.StatusLine)
	buf.WriteString("\r\n")
	if r.CacheStatus != "" {
		buf.WriteString("Cache-Status: ")
		buf.WriteString(string(r.CacheStatus))
		buf.WriteString("\r\n")
	}
	for _, f := range r.Header {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

// statusText returns the reason phrase for a status code, or "Unknown" for
// codes outside the standard table.
func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, statusText(code))
}

// emptyResponse is a bare status response with no headers and no body.
func emptyResponse(code int) Response {
	return Response{Code: code, StatusLine: statusLine(code)}
}

// textResponse carries a short plain-text body repeating the status.
func textResponse(code int) Response {
	return Response{
		Code:       code,
		StatusLine: statusLine(code),
		Body:       []byte(fmt.Sprintf("%d %s", code, statusText(code))),
	}
}
