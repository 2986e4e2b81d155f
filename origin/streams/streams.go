// Package streams classifies resolved stream URLs and picks playable
// variants out of HLS master playlists.
package streams

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/ytget/turkanime/errs"
)

// Kind tells a caller what to do with a stream URL.
type Kind int

const (
	// KindDirect is a progressive media file.
	KindDirect Kind = iota
	// KindHLS is an HLS playlist, master or media.
	KindHLS
	// KindEmbed is a third-party player page.
	KindEmbed
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindHLS:
		return "hls"
	default:
		return "embed"
	}
}

var (
	heightRe    = regexp.MustCompile(`([0-9]{3,4})p`)
	httpsLineRe = regexp.MustCompile(`https://.*`)

	directExts = []string{".mp4", ".mkv", ".webm", ".m4v", ".mov"}
)

// Normalize trims u and upgrades scheme-relative URLs to https.
func Normalize(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func pathOf(raw string) string {
	if p, err := url.Parse(raw); err == nil {
		return strings.ToLower(p.Path)
	}
	return strings.ToLower(raw)
}

// IsHLS reports whether u points at a playlist. Alucard serves playlists
// from /cdn/playlist/ without an extension.
func IsHLS(u string) bool {
	p := pathOf(Normalize(u))
	return strings.HasSuffix(p, ".m3u8") || strings.Contains(p, "/playlist/")
}

// IsDirect reports whether u ends in a known progressive media extension.
func IsDirect(u string) bool {
	p := pathOf(Normalize(u))
	for _, ext := range directExts {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// Classify returns the Kind of u.
func Classify(u string) Kind {
	switch {
	case IsHLS(u):
		return KindHLS
	case IsDirect(u):
		return KindDirect
	default:
		return KindEmbed
	}
}

// Variant is one entry of a master playlist with its URI made absolute.
type Variant struct {
	URI        string
	Bandwidth  uint32
	Resolution string
	Height     int
}

// ParseHeight reads the vertical size out of "1280x720" or "720p" labels.
func ParseHeight(label string) int {
	if i := strings.IndexByte(label, 'x'); i >= 0 {
		if v, err := strconv.Atoi(label[i+1:]); err == nil {
			return v
		}
	}
	if m := heightRe.FindStringSubmatch(label); len(m) >= 2 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v
		}
	}
	return 0
}

// withinHeight treats a zero bound as unset.
func withinHeight(v Variant, maxHeight int) bool {
	return maxHeight <= 0 || v.Height == 0 || v.Height <= maxHeight
}

// better ranks by height first, bandwidth second.
func better(candidate, current Variant) bool {
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}
	return candidate.Bandwidth > current.Bandwidth
}

// Variants decodes a master playlist and resolves every variant URI
// against base. A media playlist yields no variants and no error.
func Variants(body []byte, base string) ([]Variant, error) {
	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, errs.Wrap(errs.CodeParseFailed, "playlist is not valid m3u8", err)
	}
	if kind != m3u8.MASTER {
		return nil, nil
	}
	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, errs.NewError(errs.CodeParseFailed, "unexpected playlist type")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, errs.Wrap(errs.CodeParseFailed, "bad playlist base URL", err)
	}
	out := make([]Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		ref, err := baseURL.Parse(v.URI)
		if err != nil {
			continue
		}
		out = append(out, Variant{
			URI:        ref.String(),
			Bandwidth:  v.Bandwidth,
			Resolution: v.Resolution,
			Height:     ParseHeight(v.Resolution),
		})
	}
	return out, nil
}

// BestVariant picks the highest variant not taller than maxHeight (0 means
// no limit). Bodies that are media playlists resolve to base itself. When
// the body cannot be decoded the last https line is used, which is how the
// Alucard player lists its single upstream.
func BestVariant(body []byte, base string, maxHeight int) (string, error) {
	vs, err := Variants(body, base)
	if err != nil {
		if last, ok := LastHTTPSLine(string(body)); ok {
			return last, nil
		}
		return "", err
	}
	if vs == nil {
		return base, nil
	}
	var best *Variant
	for i := range vs {
		if !withinHeight(vs[i], maxHeight) {
			continue
		}
		if best == nil || better(vs[i], *best) {
			best = &vs[i]
		}
	}
	if best == nil {
		return "", errs.NewError(errs.CodePatternNotFound, "no variant within height limit", maxHeight)
	}
	return best.URI, nil
}

// LastHTTPSLine returns the last absolute https reference in body.
func LastHTTPSLine(body string) (string, bool) {
	all := httpsLineRe.FindAllString(body, -1)
	if len(all) == 0 {
		return "", false
	}
	return strings.TrimSpace(all[len(all)-1]), true
}
