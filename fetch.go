package relaycache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/relaycache/relaycache/pkg/header"
)

// Fetcher performs single outbound GETs against the backend. Plain or TLS
// transport is selected by the target URL scheme; TLS uses the standard
// verifying configuration.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				// Responses are buffered and re-framed for the client,
				// so bodies must be the origin's exact bytes.
				DisableCompression: true,
				DisableKeepAlives:  true,
			},
			// 3xx responses pass through to the client untouched
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch performs exactly one GET against the target URL with the given
// request headers. Host, Connection and Cache-Control are never forwarded;
// Host is set to the target's authority. Connection, Keep-Alive and
// Transfer-Encoding are stripped from the returned response headers, since
// they describe transport framing that does not survive a cached replay.
// The underlying connection is released on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, target string, reqHeader header.Header) (int, header.Header, []byte, error) {
	u, err := url.Parse(target)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("parse target url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	for _, field := range reqHeader.Without("Host", "Connection", "Cache-Control") {
		req.Header.Set(field.Name, field.Value)
	}
	req.Host = u.Host

	res, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("backend fetch: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("backend body read: %w", err)
	}

	return res.StatusCode, flattenHeader(res.Header), body, nil
}

// flattenHeader converts a net/http header map into an ordered header.
// The map has no wire order left to preserve, so names are sorted to keep
// the stored record deterministic.
func flattenHeader(src http.Header) header.Header {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	var h header.Header
	for _, name := range names {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Keep-Alive", "Transfer-Encoding":
			continue
		}
		for _, value := range src[name] {
			h.Add(name, value)
		}
	}
	return h
}
