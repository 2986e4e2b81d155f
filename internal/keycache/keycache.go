// Package keycache persists the last AES passphrase that decrypted an embed
// payload, so later runs can skip key discovery.
package keycache

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the cache file created under the cache directory.
const FileName = "turkanimu_key.cache"

// Cache stores a single key. Load reports false when nothing usable is cached.
type Cache interface {
	Load() ([]byte, bool)
	Store(key []byte) error
}

// DefaultDir returns the per-user cache directory, falling back to ~/.cache.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache")
	}
	return os.TempDir()
}

// FileCache keeps the key in one flat file.
type FileCache struct {
	path string
	mu   sync.RWMutex
}

// NewFileCache creates a file-backed cache under dir (DefaultDir when empty).
// The directory is created if it does not exist.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{path: filepath.Join(dir, FileName)}, nil
}

// Path returns the cache file location.
func (c *FileCache) Path() string { return c.path }

// Load reads the cached key, trimming surrounding whitespace.
func (c *FileCache) Load() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	b = bytes.TrimSpace(b)
	return b, len(b) > 0
}

// Store overwrites the cached key via a temp file and rename.
func (c *FileCache) Store(key []byte) error {
	if len(key) == 0 {
		return errors.New("refusing to cache empty key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, key, fs.FileMode(0o644)); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// MemoryCache is a process-local Cache, used when disk caching is disabled.
type MemoryCache struct {
	mu  sync.RWMutex
	key []byte
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

// Load returns a copy of the stored key.
func (c *MemoryCache) Load() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.key) == 0 {
		return nil, false
	}
	return append([]byte(nil), c.key...), true
}

// Store replaces the stored key.
func (c *MemoryCache) Store(key []byte) error {
	if len(key) == 0 {
		return errors.New("refusing to cache empty key")
	}
	c.mu.Lock()
	c.key = append([]byte(nil), key...)
	c.mu.Unlock()
	return nil
}
