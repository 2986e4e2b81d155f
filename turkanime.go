package turkanime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ytget/turkanime/downloader"
	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/config"
	"github.com/ytget/turkanime/internal/keycache"
	"github.com/ytget/turkanime/internal/lazy"
	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/internal/mimeext"
	"github.com/ytget/turkanime/internal/sanitize"
	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/origin/cipher"
	"github.com/ytget/turkanime/origin/gateway"
	"github.com/ytget/turkanime/origin/keys"
	"github.com/ytget/turkanime/origin/site"
	"github.com/ytget/turkanime/origin/streams"
	"github.com/ytget/turkanime/origin/unmask"
	"github.com/ytget/turkanime/pkg/client"
	"github.com/ytget/turkanime/types"
)

// Progress describes current progress of an ongoing download.
type Progress = downloader.Progress

// Options holds everything the builder setters configure.
type Options struct {
	Mirrors        []string
	Profiles       []string
	Solver         solver.Solver
	SolverMode     solver.Mode
	Proxy          string
	RateLimit      int
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	SourcesMethod  string
	CacheDir       string
	KeyCache       keycache.Cache
	HTTPClient     *http.Client
	OutputPath     string
	ProgressFunc   func(Progress)
	RateLimitBps   int64
	MaxHeight      int
}

// Resolver turns encrypted embed payloads and masked player links into
// playable URLs, and reads listing pages of the origin. Configure it with the
// With* setters before first use; after that it is safe for concurrent use.
type Resolver struct {
	options Options
	gw      *gateway.Gateway

	once       sync.Once
	discoverer *keys.Discoverer
	workflow   *unmask.Workflow
	site       *site.Client
	cache      keycache.Cache
	key        *lazy.Value[[]byte]
	rediscover singleflight.Group
	log        *logger.ComponentLogger
}

// New creates a Resolver with default options.
func New() *Resolver {
	return &Resolver{options: Options{SolverMode: solver.Auto}}
}

// NewFromConfig creates a Resolver from loaded settings.
func NewFromConfig(cfg *config.Config) *Resolver {
	r := New()
	r.options.Mirrors = cfg.Mirrors
	r.options.Profiles = cfg.Profiles
	r.options.SolverMode = cfg.SolverMode
	if cfg.SolverURL != "" {
		r.options.Solver = solver.NewFlareSolverr(cfg.SolverURL)
	}
	r.options.Proxy = cfg.Proxy
	r.options.RateLimit = cfg.RateLimit
	r.options.ProbeTimeout = cfg.ProbeTimeout
	r.options.RequestTimeout = cfg.RequestTimeout
	r.options.SourcesMethod = cfg.SourcesMethod
	r.options.CacheDir = cfg.CacheDir
	return r
}

// WithGateway replaces the fetch gateway entirely; mirror, solver, proxy and
// timeout settings are then ignored.
func (r *Resolver) WithGateway(g *gateway.Gateway) *Resolver {
	r.gw = g
	return r
}

// WithMirrors sets the base URLs probed in order.
func (r *Resolver) WithMirrors(mirrors ...string) *Resolver {
	r.options.Mirrors = mirrors
	return r
}

// WithProfiles sets the browser fingerprints tried per mirror.
func (r *Resolver) WithProfiles(profiles ...string) *Resolver {
	r.options.Profiles = profiles
	return r
}

// WithSolver sets the remote challenge solver.
func (r *Resolver) WithSolver(s solver.Solver) *Resolver {
	r.options.Solver = s
	return r
}

// WithSolverMode sets when the solver is used.
func (r *Resolver) WithSolverMode(mode solver.Mode) *Resolver {
	r.options.SolverMode = mode
	return r
}

// WithProxy routes origin and download traffic through proxyURL.
func (r *Resolver) WithProxy(proxyURL string) *Resolver {
	r.options.Proxy = strings.TrimSpace(proxyURL)
	return r
}

// WithRateLimit paces origin requests to rps per second. Zero disables pacing.
func (r *Resolver) WithRateLimit(rps int) *Resolver {
	r.options.RateLimit = rps
	return r
}

// WithTimeouts overrides the session probe and per-request timeouts.
func (r *Resolver) WithTimeouts(probe, request time.Duration) *Resolver {
	r.options.ProbeTimeout = probe
	r.options.RequestTimeout = request
	return r
}

// WithSourcesMethod overrides the HTTP method of the sources exchange.
func (r *Resolver) WithSourcesMethod(method string) *Resolver {
	r.options.SourcesMethod = strings.ToUpper(strings.TrimSpace(method))
	return r
}

// WithCacheDir sets where the key cache file lives.
func (r *Resolver) WithCacheDir(dir string) *Resolver {
	r.options.CacheDir = dir
	return r
}

// WithKeyCache replaces the on-disk key cache.
func (r *Resolver) WithKeyCache(c keycache.Cache) *Resolver {
	r.options.KeyCache = c
	return r
}

// WithHTTPClient sets the HTTP client used for downloads and, unless a
// gateway is set, for the plain fetch tier.
func (r *Resolver) WithHTTPClient(c *http.Client) *Resolver {
	r.options.HTTPClient = c
	return r
}

// WithOutputPath sets the download target. A directory gets a safe file name
// derived from the title.
func (r *Resolver) WithOutputPath(path string) *Resolver {
	r.options.OutputPath = path
	return r
}

// WithProgress registers a download progress callback.
func (r *Resolver) WithProgress(f func(Progress)) *Resolver {
	r.options.ProgressFunc = f
	return r
}

// WithDownloadRateLimit caps download speed in bytes per second. Zero disables limiting.
func (r *Resolver) WithDownloadRateLimit(bytesPerSecond int64) *Resolver {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	r.options.RateLimitBps = bytesPerSecond
	return r
}

// WithMaxHeight caps the variant picked from HLS master playlists. Zero means best.
func (r *Resolver) WithMaxHeight(h int) *Resolver {
	r.options.MaxHeight = h
	return r
}

func (r *Resolver) httpClient(retries int) *client.Client {
	c := client.NewWith(client.Config{Timeout: r.options.RequestTimeout, Retries: retries, ProxyURL: r.options.Proxy})
	if r.options.HTTPClient != nil {
		c.HTTPClient = r.options.HTTPClient
	}
	return c
}

func (r *Resolver) build() {
	r.once.Do(func() {
		r.log = logger.WithComponent(logger.ComponentApp)
		if r.gw == nil {
			opts := []gateway.Option{
				gateway.WithRateLimit(r.options.RateLimit),
				gateway.WithTimeouts(r.options.ProbeTimeout, r.options.RequestTimeout),
				gateway.WithImpersonator(gateway.NewAzureImpersonator(r.options.Proxy)),
				gateway.WithPlainDoer(gateway.NewPlainDoer(r.httpClient(1))),
			}
			if len(r.options.Mirrors) > 0 {
				opts = append(opts, gateway.WithMirrors(r.options.Mirrors...))
			}
			if len(r.options.Profiles) > 0 {
				opts = append(opts, gateway.WithProfiles(r.options.Profiles...))
			}
			s := r.options.Solver
			if s == nil {
				s = solver.NewFlareSolverr("")
			}
			opts = append(opts, gateway.WithSolver(s, r.options.SolverMode))
			r.gw = gateway.New(opts...)
		}

		var uopts []unmask.Option
		if r.options.SourcesMethod != "" {
			uopts = append(uopts, unmask.WithSourcesMethod(r.options.SourcesMethod))
		}
		r.workflow = unmask.New(r.gw, uopts...)
		r.discoverer = keys.NewDiscoverer(r.gw)
		r.site = site.New(r.gw, r)

		r.cache = r.options.KeyCache
		if r.cache == nil {
			fc, err := keycache.NewFileCache(r.options.CacheDir)
			if err != nil {
				r.log.Warn("key cache directory unavailable, keeping key in memory", logger.Fields{"error": err.Error()})
				r.cache = keycache.NewMemoryCache()
			} else {
				r.cache = fc
			}
		}
		r.key = lazy.New(func(context.Context) ([]byte, error) {
			if key, ok := r.cache.Load(); ok {
				return key, nil
			}
			return nil, errs.ErrNotFound
		})
	})
}

// Gateway returns the fetch gateway in use.
func (r *Resolver) Gateway() *gateway.Gateway {
	r.build()
	return r.gw
}

// Fetch returns the body of an origin-relative path through the bypass session.
func (r *Resolver) Fetch(ctx context.Context, path string) (string, error) {
	r.build()
	return r.gw.Fetch(ctx, path, nil)
}

// RealURL decrypts an embed payload. The cached key is tried first; when it
// yields nothing URL-shaped the key is rediscovered, and a key that works is
// written back to the cache. The result is the raw plaintext, usually a JSON
// string literal; see cipher.PlainURL. Fails with errs.ErrKeyExhausted when
// no key decrypts the payload.
func (r *Resolver) RealURL(ctx context.Context, payload string) (string, error) {
	r.build()
	wrapped := []byte(strings.TrimSpace(payload))

	if key, err := r.key.Get(ctx); err == nil {
		if plain, ok := decryptURL(key, wrapped); ok {
			return plain, nil
		}
		r.log.Info("cached key is stale, rediscovering")
	}

	fresh, err := lazy.Do(ctx, &r.rediscover, "key", func(fctx context.Context) ([]byte, error) {
		return r.discoverer.Key(fctx), nil
	})
	if err != nil {
		return "", fmt.Errorf("real url: %w", err)
	}
	if len(fresh) > 0 {
		if plain, ok := decryptURL(fresh, wrapped); ok {
			r.key.Set(fresh)
			if err := r.cache.Store(fresh); err != nil {
				r.log.Warn("key cache not written", logger.Fields{"error": err.Error()})
			}
			return plain, nil
		}
	}
	return "", fmt.Errorf("real url: %w", errs.ErrKeyExhausted)
}

// decryptURL accepts a decryption only when it carries a URL; short garbage
// from a wrong key passes the unpad often enough to matter.
func decryptURL(key, wrapped []byte) (string, bool) {
	plain := cipher.Decrypt(key, wrapped)
	if _, ok := cipher.PlainURL(plain); !ok {
		return "", false
	}
	return plain, true
}

// Unmask returns the stream URL behind a masked player link, or masked itself
// when it cannot be unmasked.
func (r *Resolver) Unmask(ctx context.Context, masked string) string {
	r.build()
	return r.workflow.Unmask(ctx, masked)
}

// Resolve accepts any stream reference: masked player links are unmasked,
// encrypted payloads are decrypted and everything else, player links of
// other hosts included, is returned as is.
// The only error is the key-exhausted one.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case unmask.IsOriginPlayerURL(ref):
		return r.Unmask(ctx, ref), nil
	case cipher.LooksLikePayload(ref):
		plain, err := r.RealURL(ctx, ref)
		if err != nil {
			return "", err
		}
		u, _ := cipher.PlainURL(plain)
		return streams.Normalize(u), nil
	default:
		return ref, nil
	}
}

// Search lists titles matching query.
func (r *Resolver) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	r.build()
	return r.site.Search(ctx, query)
}

// Anime returns a title page with its episode list.
func (r *Resolver) Anime(ctx context.Context, slug string) (*types.Anime, error) {
	r.build()
	a, err := r.site.Anime(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.Episodes, err = r.site.Episodes(ctx, slug); err != nil {
		return nil, err
	}
	return a, nil
}

// Episodes lists episodes of a title sorted by number.
func (r *Resolver) Episodes(ctx context.Context, slug string) ([]types.Episode, error) {
	r.build()
	return r.site.Episodes(ctx, slug)
}

// Episode finds one episode of a title by number.
func (r *Resolver) Episode(ctx context.Context, slug string, n int) (*types.Episode, error) {
	r.build()
	return r.site.EpisodeByNumber(ctx, slug, n)
}

// Streams lists playable sources of an episode.
func (r *Resolver) Streams(ctx context.Context, episodeSlug string) ([]types.Stream, error) {
	r.build()
	return r.site.Streams(ctx, episodeSlug)
}

// Playlist fetches an HLS stream through the bypass session, follows the
// master playlist to its best variant and writes that playlist to a
// temporary .m3u8 file for external players. It returns the file path.
func (r *Resolver) Playlist(ctx context.Context, streamURL string) (string, error) {
	r.build()
	streamURL = streams.Normalize(streamURL)
	resp, err := r.gw.Do(ctx, gateway.Request{URL: streamURL})
	if err != nil {
		return "", err
	}
	body := resp.Body
	chosen, err := streams.BestVariant(body, streamURL, r.options.MaxHeight)
	if err != nil {
		return "", err
	}
	if chosen != streamURL {
		if resp, err = r.gw.Do(ctx, gateway.Request{URL: chosen}); err != nil {
			return "", err
		}
		body = resp.Body
	}

	f, err := os.CreateTemp("", "turkanime-*.m3u8")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.log.Debug("playlist written", logger.Fields{"path": f.Name(), "variant": chosen})
	return f.Name(), nil
}

// Download resolves ref and saves the direct media file behind it. title
// names the file when no output path, or a directory, was configured.
// It returns the written path.
func (r *Resolver) Download(ctx context.Context, ref, title string) (string, error) {
	r.build()
	u, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if unmask.IsPlayerURL(u) {
		return "", fmt.Errorf("%s: %w", u, errs.ErrUnmaskFailed)
	}
	if streams.IsHLS(u) {
		return "", fmt.Errorf("%s is an HLS playlist, use Playlist: %w", u, errs.ErrInvalidReference)
	}

	dl := downloader.New(r.httpClient(3), r.options.ProgressFunc, r.options.RateLimitBps)
	if base, err := r.gw.Base(ctx); err == nil {
		dl.Referer = base + "/"
	}

	out := r.options.OutputPath
	if out == "" || isDir(out) {
		var mime string
		if info, err := dl.Probe(ctx, u); err == nil {
			mime = info.MimeType
		}
		name := sanitize.ToSafeFilename(title, mimeext.Ext(mime, u))
		if out != "" {
			name = filepath.Join(out, name)
		}
		out = name
	}
	r.log.Info("downloading", logger.Fields{"url": u, "path": out})
	if err := dl.Download(ctx, u, out); err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	return out, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// IsKeyExhausted reports whether err means no key could decrypt a payload.
func IsKeyExhausted(err error) bool {
	return errors.Is(err, errs.ErrKeyExhausted)
}
