package cachekey

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// CacheKeyer derives cache keys for request paths under a single backend
// base URL.
type CacheKeyer struct {
	// Base URL of the backend, without a trailing slash.
	base string
}

func NewCacheKeyer(backendBase string) CacheKeyer {
	return CacheKeyer{base: strings.TrimRight(backendBase, "/")}
}

// TargetURL joins the backend base with a request path.
// The path includes any query string.
func (c CacheKeyer) TargetURL(path string) string {
	return c.base + path
}

// Key returns the cache key for a target URL: the lowercase hex digest of
// the URL bytes. Identical URLs always map to the same key, and the key is
// stable across restarts since it depends on nothing but the URL itself.
// The key doubles as the record's file name in the cache directory.
func (c CacheKeyer) Key(url string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(url)))
}
