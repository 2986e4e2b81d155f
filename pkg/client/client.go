package client

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3

	// userAgentValue is the desktop Firefox UA used by the degraded tier.
	userAgentValue   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0"
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 3 * time.Second
	successMinCode   = http.StatusOK                  // 200
	retryableMinCode = http.StatusInternalServerError // 500
	maxBodyBytes     = 32 << 20
)

// defaultTransport is a tuned HTTP transport reused across clients.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	ForceAttemptHTTP2:     true,
	// Bodies are decoded by Do so br is supported too.
	DisableCompression: true,
	ReadBufferSize:     16 * 1024,
	WriteBufferSize:    16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	ProxyURL  string
	Jar       http.CookieJar
	// Header is sent with every request unless the request overrides it.
	Header http.Header
}

// Client wraps http.Client with retry/backoff, default headers and
// transparent body decoding.
type Client struct {
	HTTPClient *http.Client
	Retries    int
	UserAgent  string
	Header     http.Header
}

// Request describes one buffered exchange.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read, decoded response.
type Response struct {
	StatusCode int
	// URL is the final URL after redirects.
	URL    string
	Header http.Header
	Body   []byte
}

// New creates a new Client with a tuned Transport, default timeout, and retries.
func New() *Client {
	return NewWith(Config{})
}

// NewWith creates a new client with provided config. Zero values use defaults.
func NewWith(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	tr := defaultTransport.Clone()
	if cfg.ProxyURL != "" {
		if proxyFunc, err := proxyFromURLString(cfg.ProxyURL); err == nil {
			tr.Proxy = proxyFunc
		}
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: tr,
			Jar:       cfg.Jar,
		},
		Retries:   retries,
		UserAgent: ua,
		Header:    cfg.Header.Clone(),
	}
}

// DefaultUserAgent returns the UA sent when none is configured.
func DefaultUserAgent() string { return userAgentValue }

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.Header {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if req.Header.Get("User-Agent") == "" {
		ua := c.UserAgent
		if ua == "" {
			ua = userAgentValue
		}
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	return req, nil
}

// Open sends r and returns the live response for streaming. Transient
// failures (network errors, 5xx) are retried with backoff; the caller closes
// the body. Content-Encoding is not decoded.
func (c *Client) Open(ctx context.Context, r Request) (*http.Response, error) {
	retries := c.Retries
	if retries < 1 {
		retries = 1
	}
	var (
		resp *http.Response
		err  error
	)
	backoff := initialBackoff
	for attempt := 0; attempt < retries; attempt++ {
		var req *http.Request
		req, err = c.newRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		if r.Header.Get("Accept-Encoding") == "" {
			req.Header.Del("Accept-Encoding")
		}
		resp, err = c.HTTPClient.Do(req)
		if err == nil && resp.StatusCode >= successMinCode && resp.StatusCode < retryableMinCode {
			return resp, nil
		}
		if attempt == retries-1 {
			break
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
	return resp, err
}

// Do sends r with the retry policy of Open and returns the whole decoded body.
// Non-2xx responses are returned without error; the caller inspects StatusCode.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	retries := c.Retries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < retries; attempt++ {
		req, err := c.newRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTPClient.Do(req)
		if err == nil {
			out, rerr := readResponse(resp)
			if rerr == nil && out.StatusCode < retryableMinCode {
				return out, nil
			}
			if rerr == nil && attempt == retries-1 {
				return out, nil
			}
			lastErr = rerr
			if rerr == nil {
				lastErr = fmt.Errorf("server error: %d", out.StatusCode)
			}
		} else {
			lastErr = err
		}
		if attempt == retries-1 {
			break
		}
		if !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
	return nil, lastErr
}

// Get performs a buffered GET.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

func readResponse(resp *http.Response) (*Response, error) {
	defer func() { _ = resp.Body.Close() }()
	reader, err := DecodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// DecodeBody wraps r according to a Content-Encoding value.
func DecodeBody(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %v", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(r), nil
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return r, nil
	}
}

func nextBackoff(b time.Duration) time.Duration {
	b *= 2
	if b > maxBackoff {
		b = maxBackoff
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return http.ProxyURL(u), nil
}
