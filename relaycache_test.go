package relaycache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaycache/relaycache/cache"
	cachekey "github.com/relaycache/relaycache/pkg/cache-key"
	serializer "github.com/relaycache/relaycache/pkg/response-serializer"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newTestRelay(t *testing.T, backend string, ttl time.Duration) (*Relay, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.Nop()
	relay := New(Config{
		Cache:   store,
		Backend: backend,
		TTL:     ttl,
		Logger:  &logger,
	})
	return relay, dir
}

// parseResponse splits a raw wire response into status line, a lowercased
// header map and the body.
func parseResponse(t *testing.T, raw []byte) (string, map[string]string, []byte) {
	t.Helper()
	parts := bytes.SplitN(raw, []byte("\r\n\r\n"), 2)
	if len(parts) != 2 {
		t.Fatalf("response has no header terminator: %q", raw)
	}
	lines := strings.Split(string(parts[0]), "\r\n")
	headers := make(map[string]string)
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("bad header line %q", line)
		}
		headers[strings.ToLower(name)] = value
	}
	return lines[0], headers, parts[1]
}

func get(path string) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: client.example\r\n\r\n", path))
}

func keyFor(backend, path string) string {
	keyer := cachekey.NewCacheKeyer(backend)
	return keyer.Key(keyer.TargetURL(path))
}

func TestMissThenHit(t *testing.T) {
	handleCount := 0
	r := chi.NewRouter()
	r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Hello world"))
	})
	backend := httptest.NewServer(r)
	defer backend.Close()
	relay, _ := newTestRelay(t, backend.URL, time.Hour)

	status, headers, body := parseResponse(t, relay.Handle(context.Background(), get("/hello")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status line is %q", status)
	}
	if headers["cache-status"] != "MISS" {
		t.Fatalf("cache status is %q", headers["cache-status"])
	}
	if string(body) != "Hello world" {
		t.Fatalf("body is %q", body)
	}

	status, headers, body = parseResponse(t, relay.Handle(context.Background(), get("/hello")))
	if headers["cache-status"] != "HIT" {
		t.Fatalf("cache status is %q", headers["cache-status"])
	}
	if status != "HTTP/1.1 200 OK" || string(body) != "Hello world" {
		t.Fatalf("replayed %q with body %q", status, body)
	}
	if headers["content-type"] != "text/plain" {
		t.Fatalf("content type is %q", headers["content-type"])
	}
	if handleCount != 1 {
		t.Fatalf("backend called %d times", handleCount)
	}
}

func TestStaleEntryRefetched(t *testing.T) {
	handleCount := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("fresh"))
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	relay.Handle(context.Background(), get("/page"))

	// push the entry past its TTL
	file := filepath.Join(dir, keyFor(backend.URL, "/page"))
	written := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(file, written, written); err != nil {
		t.Fatal(err)
	}

	_, headers, _ := parseResponse(t, relay.Handle(context.Background(), get("/page")))
	if headers["cache-status"] != "MISS" {
		t.Fatalf("stale entry served as %q", headers["cache-status"])
	}
	if handleCount != 2 {
		t.Fatalf("backend called %d times", handleCount)
	}
}

func TestEntryWithinTTLServed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh"))
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	relay.Handle(context.Background(), get("/page"))

	file := filepath.Join(dir, keyFor(backend.URL, "/page"))
	written := time.Now().Add(-30 * time.Minute)
	if err := os.Chtimes(file, written, written); err != nil {
		t.Fatal(err)
	}

	_, headers, _ := parseResponse(t, relay.Handle(context.Background(), get("/page")))
	if headers["cache-status"] != "HIT" {
		t.Fatalf("entry within ttl served as %q", headers["cache-status"])
	}
}

func TestNonGetIs405AndNeverCached(t *testing.T) {
	handleCount := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	raw := relay.Handle(context.Background(), []byte("POST /submit HTTP/1.1\r\nHost: x\r\n\r\n"))
	status, headers, body := parseResponse(t, raw)
	if status != "HTTP/1.1 405 Method Not Allowed" {
		t.Fatalf("status line is %q", status)
	}
	if len(body) != 0 {
		t.Fatalf("body is %q", body)
	}
	if _, ok := headers["cache-status"]; ok {
		t.Fatal("405 response carries a cache status")
	}
	if handleCount != 0 {
		t.Fatal("backend was called for a non-GET request")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatal("non-GET request created a cache entry")
	}
}

func TestNon200NotCached(t *testing.T) {
	handleCount := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		http.NotFound(w, r)
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	status, _, body := parseResponse(t, relay.Handle(context.Background(), get("/missing")))
	if status != "HTTP/1.1 404 Not Found" {
		t.Fatalf("status line is %q", status)
	}
	if len(body) != 0 {
		t.Fatalf("body is %q", body)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatal("non-200 response created a cache entry")
	}

	// no entry, so the backend is asked again
	relay.Handle(context.Background(), get("/missing"))
	if handleCount != 2 {
		t.Fatalf("backend called %d times", handleCount)
	}
}

func TestRedirectPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	status, _, body := parseResponse(t, relay.Handle(context.Background(), get("/moved")))
	if status != "HTTP/1.1 302 Found" {
		t.Fatalf("status line is %q", status)
	}
	if len(body) != 0 {
		t.Fatalf("body is %q", body)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatal("redirect created a cache entry")
	}
}

func TestUnknownStatusReason(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(599)
	}))
	defer backend.Close()
	relay, _ := newTestRelay(t, backend.URL, time.Hour)

	status, _, _ := parseResponse(t, relay.Handle(context.Background(), get("/odd")))
	if status != "HTTP/1.1 599 Unknown" {
		t.Fatalf("status line is %q", status)
	}
}

func TestBackendDownIs502(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	status, _, body := parseResponse(t, relay.Handle(context.Background(), get("/any")))
	if status != "HTTP/1.1 502 Bad Gateway" {
		t.Fatalf("status line is %q", status)
	}
	if string(body) != "502 Bad Gateway" {
		t.Fatalf("body is %q", body)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatal("failed fetch created a cache entry")
	}
}

func TestMalformedRequestIs400(t *testing.T) {
	relay, _ := newTestRelay(t, "http://unused.example", time.Hour)

	status, _, body := parseResponse(t, relay.Handle(context.Background(), []byte("GARBAGE")))
	if status != "HTTP/1.1 400 Bad Request" {
		t.Fatalf("status line is %q", status)
	}
	if string(body) != "400 Bad Request" {
		t.Fatalf("body is %q", body)
	}
}

func TestCorruptEntryRefetched(t *testing.T) {
	handleCount := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("recovered"))
	}))
	defer backend.Close()
	relay, dir := newTestRelay(t, backend.URL, time.Hour)

	// seed a record whose header block does not parse
	file := filepath.Join(dir, keyFor(backend.URL, "/page"))
	if err := os.WriteFile(file, []byte("HTTP/1.1 200 OK\r\nbroken header\r\n\r\nbody"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, headers, body := parseResponse(t, relay.Handle(context.Background(), get("/page")))
	if headers["cache-status"] != "MISS" {
		t.Fatalf("corrupt entry served as %q", headers["cache-status"])
	}
	if string(body) != "recovered" {
		t.Fatalf("body is %q", body)
	}
	if handleCount != 1 {
		t.Fatalf("backend called %d times", handleCount)
	}

	// the corrupt entry was replaced with a valid one
	stored, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := serializer.BytesToRecord(stored); err != nil {
		t.Fatalf("rewritten entry does not parse: %v", err)
	}
}

func TestStoredRecordRoundTrip(t *testing.T) {
	relay, dir := newTestRelay(t, "http://backend.example", time.Hour)

	var rec serializer.Record
	rec.StatusLine = "HTTP/1.1 200 OK"
	rec.Header.Add("Content-Type", "text/plain")
	rec.Body = []byte("hello")
	file := filepath.Join(dir, keyFor("http://backend.example", "/greeting"))
	if err := os.WriteFile(file, serializer.RecordToBytes(rec), 0o600); err != nil {
		t.Fatal(err)
	}

	status, headers, body := parseResponse(t, relay.Handle(context.Background(), get("/greeting")))
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status line is %q", status)
	}
	if headers["cache-status"] != "HIT" {
		t.Fatalf("cache status is %q", headers["cache-status"])
	}
	if headers["content-type"] != "text/plain" {
		t.Fatalf("content type is %q", headers["content-type"])
	}
	if string(body) != "hello" {
		t.Fatalf("body is %q", body)
	}
}

// The stored status line is normalized on write but replayed verbatim on
// read, even if it is not what a fetch would have written.
func TestStoredStatusLineReplayedVerbatim(t *testing.T) {
	relay, dir := newTestRelay(t, "http://backend.example", time.Hour)

	rec := serializer.Record{StatusLine: "HTTP/1.1 200 Totally Fine", Body: []byte("x")}
	file := filepath.Join(dir, keyFor("http://backend.example", "/page"))
	if err := os.WriteFile(file, serializer.RecordToBytes(rec), 0o600); err != nil {
		t.Fatal(err)
	}

	status, _, _ := parseResponse(t, relay.Handle(context.Background(), get("/page")))
	if status != "HTTP/1.1 200 Totally Fine" {
		t.Fatalf("status line is %q", status)
	}
}
