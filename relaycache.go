package relaycache

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/relaycache/relaycache/cache"
	"github.com/relaycache/relaycache/journal"
	cachekey "github.com/relaycache/relaycache/pkg/cache-key"
	"github.com/relaycache/relaycache/pkg/header"
	parser "github.com/relaycache/relaycache/pkg/request-parser"
	serializer "github.com/relaycache/relaycache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Base URL of the backend origin, e.g. "https://example.com".
	// A trailing slash is stripped.
	Backend string
	// Maximum age before a cache entry is discarded.
	TTL time.Duration
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional request journal. Journal failures are logged and ignored.
	Journal *journal.Journal
}

// Relay is the request pipeline: parse, cache lookup, backend fetch on
// miss, store, respond. It holds no per-request state; the cache provider
// is the only thing that persists between requests.
type Relay struct {
	cache   cache.CacheProvider
	keyer   cachekey.CacheKeyer
	fetcher *Fetcher
	ttl     time.Duration
	journal *journal.Journal
	log     zerolog.Logger
}

// Stored records are always written with a normalized 200 status line,
// whatever reason phrase the origin used. Hits replay the stored line
// verbatim.
const storedStatusLine = "HTTP/1.1 200 OK"

func New(config Config) *Relay {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("backend", config.Backend).Logger()

	return &Relay{
		cache:   config.Cache,
		keyer:   cachekey.NewCacheKeyer(config.Backend),
		fetcher: NewFetcher(),
		ttl:     config.TTL,
		journal: config.Journal,
		log:     logger,
	}
}

// Handle runs one raw request through the pipeline and returns the raw
// response bytes. It never fails: every error is translated into a valid
// response, so one bad request cannot take down the connection loop.
func (rc *Relay) Handle(ctx context.Context, raw []byte) []byte {
	start := time.Now()
	res, method, target := rc.handle(ctx, raw)

	isHit := 0
	if res.CacheStatus == CacheStatusHit {
		isHit = 1
	}
	rc.log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", res.Code).
		Str("cache", string(res.CacheStatus)).
		Dur("elapsed", time.Since(start)).
		Int("hit", isHit).
		Msg("Sending response to client")

	if rc.journal != nil {
		err := rc.journal.Record(journal.Entry{
			At:          start,
			Method:      method,
			URL:         target,
			Status:      res.Code,
			CacheStatus: string(res.CacheStatus),
			Duration:    time.Since(start),
		})
		if err != nil {
			rc.log.Error().Err(err).Msg("Could not journal request")
		}
	}

	return res.Bytes()
}

func (rc *Relay) handle(ctx context.Context, raw []byte) (Response, string, string) {
	req, err := parser.Parse(raw)
	if err != nil {
		rc.log.Debug().Err(err).Msg("Rejecting malformed request")
		return textResponse(http.StatusBadRequest), "", ""
	}

	if req.Method != http.MethodGet {
		rc.log.Debug().Str("method", req.Method).Msg("Unsupported method")
		return emptyResponse(http.StatusMethodNotAllowed), req.Method, req.Path
	}

	target := rc.keyer.TargetURL(req.Path)
	if _, err := url.Parse(target); err != nil {
		rc.log.Debug().Err(err).Str("url", target).Msg("Malformed target url")
		return textResponse(http.StatusBadRequest), req.Method, target
	}
	key := rc.keyer.Key(target)
	rc.log.Trace().Str("url", target).Str("key", key).Msg("Handling request")

	if res, ok := rc.serveFromCache(key); ok {
		return res, req.Method, target
	}
	return rc.fetchAndStore(ctx, target, key, req.Header), req.Method, target
}

// serveFromCache returns the stored response for key if a fresh, readable
// entry exists. Stale and corrupt entries are purged so the caller falls
// through to a fresh fetch.
func (rc *Relay) serveFromCache(key string) (Response, bool) {
	if !rc.cache.Has(key) {
		return Response{}, false
	}

	age, err := rc.cache.Age(key)
	if err != nil {
		rc.cache.Purge(key)
		return Response{}, false
	}
	if age > rc.ttl {
		rc.log.Debug().Str("key", key).Dur("age", age).Msg("Cache entry stale")
		rc.cache.Purge(key)
		return Response{}, false
	}

	value, err := rc.cache.Get(key)
	if err != nil {
		rc.log.Warn().Err(err).Str("key", key).Msg("Could not read cache entry")
		rc.cache.Purge(key)
		return Response{}, false
	}
	rec, err := serializer.BytesToRecord(value)
	if err != nil {
		rc.log.Warn().Err(err).Str("key", key).Msg("Removing corrupt cache entry")
		rc.cache.Purge(key)
		return Response{}, false
	}

	return Response{
		Code:        http.StatusOK,
		StatusLine:  rec.StatusLine,
		CacheStatus: CacheStatusHit,
		Header:      rec.Header,
		Body:        rec.Body,
	}, true
}

// fetchAndStore fetches the target from the backend and, for 200 responses
// only, writes the record to the cache before responding. Non-200 origin
// responses pass through with an empty body and are never cached.
func (rc *Relay) fetchAndStore(ctx context.Context, target, key string, reqHeader header.Header) Response {
	status, resHeader, body, err := rc.fetcher.Fetch(ctx, target, reqHeader)
	if err != nil {
		rc.log.Warn().Err(err).Str("url", target).Msg("Backend fetch failed")
		return textResponse(http.StatusBadGateway)
	}

	if status != http.StatusOK {
		rc.log.Debug().Int("status", status).Str("url", target).Msg("Not caching non-200 response")
		return emptyResponse(status)
	}

	rec := serializer.Record{
		StatusLine: storedStatusLine,
		Header:     resHeader,
		Body:       body,
	}
	if err := rc.cache.Put(key, serializer.RecordToBytes(rec)); err != nil {
		// still answer the client; the next request will refetch
		rc.log.Error().Err(err).Str("key", key).Msg("Could not write cache entry")
	}

	return Response{
		Code:        http.StatusOK,
		StatusLine:  storedStatusLine,
		CacheStatus: CacheStatusMiss,
		Header:      resHeader,
		Body:        body,
	}
}
