package cache

import (
	"os"
	"path/filepath"
	"time"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent serialized HTTP
// responses, addressed by opaque keys. Freshness is the caller's concern;
// the provider only reports how old an entry is.
type CacheProvider interface {
	// Has checks if the specified key exists in the cache.
	Has(key string) bool
	// Age returns how long ago the entry for the given key was written.
	// It fails if the entry does not exist.
	Age(key string) (time.Duration, error)
	// Get returns the stored bytes for the given key.
	Get(key string) ([]byte, error)
	// Put stores the given bytes under the given key, replacing any
	// previous entry. A concurrent reader must never observe a partially
	// written entry.
	Put(key string, value []byte) error
	// Purge removes the cache entry for the given key.
	// Purging an absent key is not an error.
	Purge(key string)
	// Clear removes every entry in the cache.
	Clear() error
}

// FileCache stores one file per key in a single directory. The entry's age
// is derived from the file's modification time, so entries survive process
// restarts with their freshness intact.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed and ensures it is
// readable by the owner only.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	// MkdirAll leaves an existing directory's mode alone
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key)
}

func (c *FileCache) Has(key string) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

func (c *FileCache) Age(key string) (time.Duration, error) {
	info, err := os.Stat(c.path(key))
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}

func (c *FileCache) Get(key string) ([]byte, error) {
	return os.ReadFile(c.path(key))
}

// Put writes to a temporary file in the cache directory and renames it
// into place, so a reader sees either the previous entry or the complete
// new one.
func (c *FileCache) Put(key string, value []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (c *FileCache) Purge(key string) {
	// not-found is fine; the entry may already be gone
	os.Remove(c.path(key))
}

func (c *FileCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
