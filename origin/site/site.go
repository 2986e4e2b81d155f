// Package site reads the listing, title, episode and video pages of the
// origin and turns them into typed results. Page bodies come through the
// fetch gateway; encrypted and masked player links are handed to a Decoder.
package site

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/origin/cipher"
	"github.com/ytget/turkanime/origin/streams"
	"github.com/ytget/turkanime/origin/unmask"
	"github.com/ytget/turkanime/types"
)

const (
	// MaxSearchResults caps Search output.
	MaxSearchResults = 10
	// DefaultQuality is reported for every stream; the site does not expose it.
	DefaultQuality = "720p"
	// DefaultFansub labels streams found outside the fansub switcher.
	DefaultFansub = "TurkAnime"

	fansubWorkers = 4
	notFoundProbe = 500
)

var (
	episodeTextRe = regexp.MustCompile(`(?i)(\d+)\.\s*Bölüm`)
	episodeHrefRe = regexp.MustCompile(`(?i)^/video/(.+-(\d+)-bolum[^"]*)$`)
)

// Fetcher returns the body of an origin path.
type Fetcher interface {
	Fetch(ctx context.Context, path string, header http.Header) (string, error)
}

// Decoder turns encrypted embed payloads and masked player links into URLs.
type Decoder interface {
	RealURL(ctx context.Context, payload string) (string, error)
	Unmask(ctx context.Context, masked string) string
}

// Client is safe for concurrent use.
type Client struct {
	fetcher Fetcher
	decoder Decoder
	log     *logger.ComponentLogger
}

// New creates a Client.
func New(f Fetcher, d Decoder) *Client {
	return &Client{fetcher: f, decoder: d, log: logger.WithComponent(logger.ComponentSite)}
}

func (c *Client) document(ctx context.Context, path string) (*goquery.Document, string, error) {
	body, err := c.fetcher.Fetch(ctx, path, nil)
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeParseFailed, "GET "+path, err)
	}
	return doc, body, nil
}

// Search lists titles matching query, deduplicated by slug.
func (c *Client) Search(ctx context.Context, query string) ([]types.SearchResult, error) {
	doc, _, err := c.document(ctx, "/arama?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []types.SearchResult
	doc.Find(`a[href^="/anime/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		slug := strings.Trim(strings.TrimPrefix(href, "/anime/"), "/")
		title := strings.TrimSpace(s.Text())
		if slug == "" || title == "" || seen[slug] {
			return true
		}
		seen[slug] = true
		out = append(out, types.SearchResult{ID: slug, Slug: slug, Title: title})
		return len(out) < MaxSearchResults
	})
	c.log.Debug("search", logger.Fields{"query": query, "results": len(out)})
	return out, nil
}

// Anime returns the title page for slug. The slug stands in for a missing
// heading.
func (c *Client) Anime(ctx context.Context, slug string) (*types.Anime, error) {
	doc, _, err := c.document(ctx, "/anime/"+slug)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = slug
	}
	return &types.Anime{ID: slug, Slug: slug, Title: title, URL: "/anime/" + slug}, nil
}

// Episodes lists episodes of slug sorted by number. Numbers come from the
// "N. Bölüm" link text, or from the "-N-bolum" href suffix when no link
// carries such text.
func (c *Client) Episodes(ctx context.Context, slug string) ([]types.Episode, error) {
	doc, _, err := c.document(ctx, "/anime/"+slug)
	if err != nil {
		return nil, err
	}
	links := doc.Find(`a[href^="/video/"]`)

	var out []types.Episode
	seen := make(map[string]bool)
	add := func(href string, n int) {
		epSlug := strings.TrimPrefix(href, "/video/")
		if seen[epSlug] {
			return
		}
		seen[epSlug] = true
		out = append(out, episode(epSlug, n))
	}

	links.Each(func(_ int, s *goquery.Selection) {
		m := episodeTextRe.FindStringSubmatch(s.Text())
		if m == nil {
			return
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			href, _ := s.Attr("href")
			add(href, n)
		}
	})
	if len(out) == 0 {
		links.Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			m := episodeHrefRe.FindStringSubmatch(href)
			if m == nil {
				return
			}
			if n, err := strconv.Atoi(m[2]); err == nil {
				add(href, n)
			}
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func episode(epSlug string, n int) types.Episode {
	return types.Episode{
		Number: n,
		Title:  fmt.Sprintf("%d. Bölüm", n),
		Slug:   epSlug,
		URL:    "/video/" + epSlug,
	}
}

// EpisodeByNumber tries the conventional "<slug>-<n>-bolum" page first and
// falls back to the episode list.
func (c *Client) EpisodeByNumber(ctx context.Context, slug string, n int) (*types.Episode, error) {
	epSlug := fmt.Sprintf("%s-%d-bolum", slug, n)
	if body, err := c.fetcher.Fetch(ctx, "/video/"+epSlug, nil); err == nil && body != "" {
		head := body
		if len(head) > notFoundProbe {
			head = head[:notFoundProbe]
		}
		if !strings.Contains(head, "404") {
			ep := episode(epSlug, n)
			return &ep, nil
		}
	}
	eps, err := c.Episodes(ctx, slug)
	if err != nil {
		return nil, err
	}
	for i := range eps {
		if eps[i].Number == n {
			return &eps[i], nil
		}
	}
	return nil, fmt.Errorf("%s episode %d: %w", slug, n, errs.ErrNotFound)
}

type fansubRef struct {
	fansub string
	video  string
}

// Streams lists playable sources of an episode. Fansub switchers are
// expanded through the video endpoint; pages without them contribute their
// embed iframes. Encrypted data-encrypt payloads are always decoded.
// Sources that fail to decode are skipped.
func (c *Client) Streams(ctx context.Context, episodeSlug string) ([]types.Stream, error) {
	doc, _, err := c.document(ctx, "/video/"+episodeSlug)
	if err != nil {
		return nil, err
	}

	var refs []fansubRef
	doc.Find("[data-fansub][data-video]").Each(func(_ int, s *goquery.Selection) {
		f, _ := s.Attr("data-fansub")
		v, _ := s.Attr("data-video")
		if v != "" {
			refs = append(refs, fansubRef{fansub: f, video: v})
		}
	})

	var out []types.Stream
	if len(refs) > 0 {
		out = c.fansubStreams(ctx, refs)
	} else {
		doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			if !strings.Contains(src, "turkanime") && !strings.Contains(src, "embed") {
				return
			}
			u := src
			if i := strings.Index(src, "eyJ"); i >= 0 {
				resolved, err := c.decode(ctx, src[i:])
				if err != nil {
					c.log.Warn("iframe payload not decoded", logger.Fields{"error": err.Error()})
					return
				}
				u = resolved
			}
			out = append(out, newStream(u, DefaultFansub, "embed"))
		})
	}

	doc.Find("[data-encrypt]").Each(func(_ int, s *goquery.Selection) {
		payload, _ := s.Attr("data-encrypt")
		resolved, err := c.decode(ctx, payload)
		if err != nil || resolved == "" {
			return
		}
		out = append(out, newStream(resolved, DefaultFansub, "decrypt"))
	})
	c.log.Debug("streams", logger.Fields{"episode": episodeSlug, "count": len(out)})
	return out, nil
}

func (c *Client) decode(ctx context.Context, payload string) (string, error) {
	if p, err := url.PathUnescape(payload); err == nil {
		payload = p
	}
	raw, err := c.decoder.RealURL(ctx, payload)
	if err != nil {
		return "", err
	}
	return streams.Normalize(cipher.Plaintext(raw)), nil
}

// fansubStreams fetches every fansub's player list concurrently and keeps
// page order in the result.
func (c *Client) fansubStreams(ctx context.Context, refs []fansubRef) []types.Stream {
	results := make([][]types.Stream, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fansubWorkers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			results[i] = c.videoSources(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	var out []types.Stream
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (c *Client) videoSources(ctx context.Context, ref fansubRef) []types.Stream {
	doc, _, err := c.document(ctx, "/ajax/video?id="+url.QueryEscape(ref.video))
	if err != nil {
		c.log.Warn("video sources unavailable", logger.Fields{"video": ref.video, "error": err.Error()})
		return nil
	}
	var out []types.Stream
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		player := strings.TrimSpace(s.Text())
		if player == "" {
			return
		}
		switch {
		case unmask.IsOriginPlayerURL(href):
			out = append(out, newStream(c.decoder.Unmask(ctx, href), ref.fansub, player))
		case strings.HasPrefix(href, "http"):
			out = append(out, newStream(href, ref.fansub, player))
		}
	})
	return out
}

func newStream(u, fansub, player string) types.Stream {
	u = streams.Normalize(u)
	return types.Stream{
		URL:     u,
		Quality: DefaultQuality,
		Fansub:  fansub,
		Player:  player,
		Kind:    streams.Classify(u).String(),
	}
}
