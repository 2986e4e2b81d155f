// Package keys recovers the AES passphrase the origin uses to encrypt embed
// links. The passphrase rotates with every frontend deploy and lives as the
// longest entry of an obfuscated string table inside one of the embed
// player's JS chunks.
package keys

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coocood/freecache"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/logger"
)

const (
	defaultCacheSize = 4 << 20
	defaultBundleTTL = 600 // seconds
)

// Fetcher returns the body at an origin-relative path.
type Fetcher interface {
	Fetch(ctx context.Context, path string, header http.Header) (string, error)
}

// Discoverer walks the embed bundle chain. Bundles are content-addressed, so
// what is derived from them is cached; the bootstrap page is always fetched.
type Discoverer struct {
	fetcher Fetcher
	cache   *freecache.Cache
	ttl     int
	log     *logger.ComponentLogger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithCache replaces the bundle cache. nil disables caching.
func WithCache(c *freecache.Cache, ttlSeconds int) Option {
	return func(d *Discoverer) { d.cache, d.ttl = c, ttlSeconds }
}

// NewDiscoverer creates a Discoverer over f.
func NewDiscoverer(f Fetcher, opts ...Option) *Discoverer {
	d := &Discoverer{
		fetcher: f,
		cache:   freecache.NewCache(defaultCacheSize),
		ttl:     defaultBundleTTL,
		log:     logger.WithComponent(logger.ComponentKeys),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// bundleInfo is what the chain walk needs from one bundle.
type bundleInfo struct {
	IDs     []string `json:"ids,omitempty"`
	Decrypt bool     `json:"decrypt"`
	Key     string   `json:"key,omitempty"`
}

func (d *Discoverer) bundle(ctx context.Context, path string) (bundleInfo, error) {
	var info bundleInfo
	if d.cache != nil {
		if raw, err := d.cache.Get([]byte(path)); err == nil && json.Unmarshal(raw, &info) == nil {
			return info, nil
		}
	}
	js, err := d.fetcher.Fetch(ctx, path, nil)
	if err != nil {
		return info, errs.Wrap(errs.CodeFetchFailed, "GET "+path, err)
	}
	info.IDs = BundleIDs(js)
	info.Decrypt = HasDecryptLogic(js)
	if entries, err := TableEntries(js); err == nil {
		info.Key = SelectKey(entries)
	}
	if d.cache != nil {
		if raw, err := json.Marshal(info); err == nil {
			_ = d.cache.Set([]byte(path), raw, d.ttl)
		}
	}
	return info, nil
}

// Discover walks the chain and returns the current passphrase.
func (d *Discoverer) Discover(ctx context.Context) ([]byte, error) {
	page, err := d.fetcher.Fetch(ctx, EmbedPage, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFetchFailed, "GET "+EmbedPage, err)
	}
	entryPath, err := BundlePath(page)
	if err != nil {
		return nil, err
	}
	entry, err := d.bundle(ctx, entryPath)
	if err != nil {
		return nil, err
	}
	if len(entry.IDs) == 0 {
		return nil, errs.NewError(errs.CodeIndexOutOfRange, "entry bundle imports no chunks", entryPath)
	}

	chosen := BundlePathForID(entry.IDs[0])
	target, err := d.bundle(ctx, chosen)
	if err != nil {
		return nil, err
	}
	if !target.Decrypt {
		if len(entry.IDs) < 2 {
			return nil, errs.NewError(errs.CodeIndexOutOfRange, "no second chunk to fall back to", entryPath)
		}
		chosen = BundlePathForID(entry.IDs[1])
		if target, err = d.bundle(ctx, chosen); err != nil {
			return nil, err
		}
	}
	if target.Key == "" {
		return nil, errs.NewError(errs.CodePatternNotFound, "string table not found", chosen)
	}
	d.log.Debug("key discovered", logger.Fields{"bundle": chosen, "length": CollapsedLen(target.Key)})
	return []byte(target.Key), nil
}

// Key is Discover with failures collapsed to an empty key.
func (d *Discoverer) Key(ctx context.Context) []byte {
	key, err := d.Discover(ctx)
	if err != nil {
		// A fetch failure is transient; anything else means the bundle
		// layout moved and the extractors need attention.
		if errs.IsFetch(err) {
			d.log.Warn("key discovery could not reach the origin", logger.Fields{"error": err.Error()})
		} else {
			d.log.Error("key discovery failed on bundle layout", logger.Fields{"error": err.Error()})
		}
		return nil
	}
	return key
}
