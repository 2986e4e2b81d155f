// Package downloader saves resolved direct media URLs to disk with ranged
// requests, resume from a temporary file, progress reporting and an
// optional byte rate limit.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/pkg/client"
)

const (
	defaultChunkSizeBytes  = 1 << 20 // 1MB
	defaultMaxRetries      = 3
	temporaryFileSuffix    = ".tmp"
	initialBackoffDuration = 200 * time.Millisecond
	maxBackoffDuration     = 3 * time.Second
	copyBufferSizeBytes    = 32 * 1024

	headerRange         = "Range"
	headerContentRange  = "Content-Range"
	headerContentLength = "Content-Length"
	headerContentType   = "Content-Type"
	headerReferer       = "Referer"
	headerAccept        = "Accept"
	headerCacheControl  = "Cache-Control"
)

// ErrEmptyDownload is returned when the server sent no bytes.
var ErrEmptyDownload = errors.New("empty download: 0 bytes written")

// Progress holds information about download progress.
type Progress struct {
	TotalSize      int64
	DownloadedSize int64
	Percent        float64
}

// Info is what a probe learns about a remote file.
type Info struct {
	Size     int64
	MimeType string
}

// Downloader is safe for sequential reuse; run one Download per instance at a time.
type Downloader struct {
	Client       *client.Client
	ProgressFunc func(Progress)
	// Referer is sent with every request; some hosts refuse hotlinks without it.
	Referer string

	chunkSize  int64
	maxRetries int
	limiter    ratelimit.Limiter
	log        *logger.ComponentLogger
}

// New creates a downloader. A nil c uses client.New(). rateLimitBps <= 0
// disables limiting.
func New(c *client.Client, progressFunc func(Progress), rateLimitBps int64) *Downloader {
	if c == nil {
		c = client.New()
	}
	d := &Downloader{
		Client:       c,
		ProgressFunc: progressFunc,
		chunkSize:    defaultChunkSizeBytes,
		maxRetries:   defaultMaxRetries,
		limiter:      ratelimit.NewUnlimited(),
		log:          logger.WithComponent(logger.ComponentDownloader),
	}
	if rateLimitBps > 0 {
		// One token per copy buffer.
		perSecond := int(rateLimitBps / copyBufferSizeBytes)
		if perSecond < 1 {
			perSecond = 1
		}
		d.limiter = ratelimit.New(perSecond, ratelimit.WithoutSlack)
	}
	return d
}

func (d *Downloader) header(rangeVal string) http.Header {
	h := http.Header{}
	h.Set(headerAccept, "*/*")
	h.Set("Accept-Encoding", "identity")
	h.Set(headerCacheControl, "no-cache")
	if d.Referer != "" {
		h.Set(headerReferer, d.Referer)
	}
	if rangeVal != "" {
		h.Set(headerRange, rangeVal)
	}
	return h
}

// totalFromHeaders reads the full size from Content-Range, then Content-Length.
func totalFromHeaders(h http.Header, partial bool) (int64, bool) {
	if cr := h.Get(headerContentRange); cr != "" {
		parts := strings.Split(cr, "/")
		if len(parts) == 2 {
			if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				return v, true
			}
		}
	}
	if partial {
		return 0, false
	}
	if cl := h.Get(headerContentLength); cl != "" {
		if v, err := strconv.ParseInt(cl, 10, 64); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// Probe asks for the first byte and reports the full size and MIME type.
// HEAD is tried first.
func (d *Downloader) Probe(ctx context.Context, urlStr string) (Info, error) {
	var info Info
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		resp, err := d.Client.Open(ctx, client.Request{Method: method, URL: urlStr, Header: d.header("bytes=0-0")})
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			continue
		}
		info.MimeType = resp.Header.Get(headerContentType)
		if size, ok := totalFromHeaders(resp.Header, resp.StatusCode == http.StatusPartialContent); ok {
			info.Size = size
			return info, nil
		}
	}
	if info.MimeType != "" {
		return info, nil
	}
	return info, errors.New("cannot determine total size")
}

func (d *Downloader) openChunk(ctx context.Context, urlStr string, start, end int64) (*http.Response, error) {
	rangeVal := fmt.Sprintf("bytes=%d-%d", start, end)
	var lastErr error
	backoff := initialBackoffDuration
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		resp, err := d.Client.Open(ctx, client.Request{Method: http.MethodGet, URL: urlStr, Header: d.header(rangeVal)})
		if err == nil && resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest {
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
			err = fmt.Errorf("HTTP status %d", resp.StatusCode)
		}
		lastErr = err
		d.log.Debug("chunk request failed", logger.Fields{"range": rangeVal, "attempt": attempt + 1, "error": err.Error()})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoffDuration {
			backoff = maxBackoffDuration
		}
	}
	return nil, fmt.Errorf("download chunk failed: %w", lastErr)
}

func (d *Downloader) report(downloaded, total int64) {
	if d.ProgressFunc == nil {
		return
	}
	p := Progress{TotalSize: total, DownloadedSize: downloaded}
	if total > 0 {
		p.Percent = float64(downloaded) / float64(total) * 100
	}
	d.ProgressFunc(p)
}

// copyBody streams r into w and returns the number of bytes written.
func (d *Downloader) copyBody(w io.Writer, r io.Reader, downloaded, total int64) (int64, error) {
	buf := make([]byte, copyBufferSizeBytes)
	var n int64
	for {
		d.limiter.Take()
		m, rerr := r.Read(buf)
		if m > 0 {
			if _, werr := w.Write(buf[:m]); werr != nil {
				return n, fmt.Errorf("failed to write chunk: %w", werr)
			}
			n += int64(m)
			d.report(downloaded+n, total)
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, fmt.Errorf("failed to read response body: %w", rerr)
		}
	}
}

// Download saves urlStr to outputPath. An existing outputPath.tmp is resumed.
// Servers that ignore Range get a single full transfer.
func (d *Downloader) Download(ctx context.Context, urlStr string, outputPath string) error {
	tmpPath := outputPath + temporaryFileSuffix
	outFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer func() { _ = outFile.Close() }()

	st, err := outFile.Stat()
	if err != nil {
		return err
	}
	downloaded := st.Size()
	if _, err := outFile.Seek(downloaded, io.SeekStart); err != nil {
		return err
	}

	info, err := d.Probe(ctx, urlStr)
	total := info.Size
	if err != nil {
		d.log.Warn("total size unknown", logger.Fields{"url": urlStr, "error": err.Error()})
	}
	d.log.Info("download started", logger.Fields{"path": outputPath, "resume_from": downloaded, "total": total})

	for total == 0 || downloaded < total {
		end := downloaded + d.chunkSize - 1
		if total > 0 && end >= total {
			end = total - 1
		}
		resp, err := d.openChunk(ctx, urlStr, downloaded, end)
		if err != nil {
			return err
		}
		full := resp.StatusCode != http.StatusPartialContent
		if full && downloaded > 0 {
			// Range ignored: start over.
			if err := outFile.Truncate(0); err != nil {
				_ = resp.Body.Close()
				return err
			}
			if _, err := outFile.Seek(0, io.SeekStart); err != nil {
				_ = resp.Body.Close()
				return err
			}
			downloaded = 0
		}
		n, err := d.copyBody(outFile, resp.Body, downloaded, total)
		_ = resp.Body.Close()
		downloaded += n
		if err != nil {
			return err
		}
		if full || n == 0 || (total == 0 && n < d.chunkSize) {
			break
		}
	}

	if downloaded == 0 {
		_ = outFile.Close()
		_ = os.Remove(tmpPath)
		return ErrEmptyDownload
	}
	if err := outFile.Close(); err != nil {
		return err
	}
	d.log.Info("download finished", logger.Fields{"path": outputPath, "bytes": downloaded})
	return os.Rename(tmpPath, outputPath)
}
