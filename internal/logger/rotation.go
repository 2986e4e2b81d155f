package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405.000"

// RotatingWriter is an io.WriteCloser that moves the active file aside once it
// grows past maxSize. Backups beyond maxBackups or older than maxAge are pruned.
type RotatingWriter struct {
	filename   string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) filename for appending.
func NewRotatingWriter(filename string, maxSize int64, maxAge time.Duration, maxBackups int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %v", err)
	}
	rw := &RotatingWriter{
		filename:   filename,
		maxSize:    maxSize,
		maxAge:     maxAge,
		maxBackups: maxBackups,
		compress:   compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %v", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %v", err)
	}
	rw.file, rw.size = f, st.Size()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.maxSize > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %v", err)
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the active file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return err
	}
	backup := rw.filename + "." + time.Now().Format(backupTimeFormat)
	if err := os.Rename(rw.filename, backup); err != nil {
		return err
	}
	if rw.compress {
		if err := gzipFile(backup); err != nil {
			return err
		}
	}
	if err := rw.open(); err != nil {
		return err
	}
	rw.prune()
	return nil
}

// backups returns existing backup paths, newest first.
func (rw *RotatingWriter) backups() []string {
	matches, _ := filepath.Glob(rw.filename + ".*")
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

func (rw *RotatingWriter) prune() {
	for i, path := range rw.backups() {
		expired := false
		if rw.maxAge > 0 {
			if st, err := os.Stat(path); err == nil && time.Since(st.ModTime()) > rw.maxAge {
				expired = true
			}
		}
		if expired || (rw.maxBackups > 0 && i >= rw.maxBackups) {
			_ = os.Remove(path)
		}
	}
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Setup builds a logger from an optional JSON file plus TURKANIME_LOG_*
// overrides and installs it as the global logger.
func Setup(configFile string) (*Logger, error) {
	base := DefaultLogConfig()
	if configFile != "" {
		loaded, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		base = loaded
	}
	lc := FromEnvironment(base)
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	cfg, err := lc.ToLoggerConfig()
	if err != nil {
		return nil, err
	}
	l := New(cfg)
	SetGlobalLogger(l)
	return l, nil
}

