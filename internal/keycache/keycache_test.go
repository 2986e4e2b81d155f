package keycache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileCache_StoreLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	fc, err := NewFileCache(dir)
	if err != nil {
		t.Fatalf("NewFileCache error: %v", err)
	}
	if _, ok := fc.Load(); ok {
		t.Fatalf("expected empty cache miss")
	}
	if err := fc.Store([]byte("s3cr3t-passphrase")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if fc.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("unexpected path %q", fc.Path())
	}
	got, ok := fc.Load()
	if !ok || string(got) != "s3cr3t-passphrase" {
		t.Fatalf("Load = %q, %v", got, ok)
	}
	if _, err := os.Stat(fc.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileCache_TrimsAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	fc, _ := NewFileCache(dir)
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("  old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, ok := fc.Load()
	if !ok || string(got) != "old" {
		t.Fatalf("Load = %q, %v", got, ok)
	}
	_ = fc.Store([]byte("new"))
	got, _ = fc.Load()
	if string(got) != "new" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestFileCache_RejectsEmpty(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	if err := fc.Store(nil); err == nil {
		t.Fatal("expected error storing empty key")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	if _, ok := c.Load(); ok {
		t.Fatalf("expected empty cache miss")
	}
	key := []byte("abc")
	if err := c.Store(key); err != nil {
		t.Fatal(err)
	}
	key[0] = 'x'
	got, ok := c.Load()
	if !ok || string(got) != "abc" {
		t.Fatalf("Load = %q, %v", got, ok)
	}
}
