package mimeext

import (
	"net/url"
	"path"
	"strings"
)

const (
	// DefaultExt is the extension used when neither the MIME type nor the URL tells.
	DefaultExt = "mp4"

	// ExtMKV is the file extension for Matroska video.
	ExtMKV = "mkv"
	// ExtWebM is the file extension for WebM media.
	ExtWebM = "webm"
	// ExtTS is the file extension for MPEG transport stream segments.
	ExtTS = "ts"
	// ExtM3U8 is the file extension for HLS playlists.
	ExtM3U8 = "m3u8"

	// MimeVideoMP4 is the MIME type for MP4 video.
	MimeVideoMP4 = "video/mp4"
	// MimeVideoMKV is the MIME type mirrors send for Matroska files.
	MimeVideoMKV = "video/x-matroska"
	// MimeVideoWebM is the MIME type for WebM video.
	MimeVideoWebM = "video/webm"
	// MimeVideoTS is the MIME type for MPEG-TS.
	MimeVideoTS = "video/mp2t"
	// MimeHLS and MimeHLSLegacy are the two playlist types seen on HLS hosts.
	MimeHLS       = "application/vnd.apple.mpegurl"
	MimeHLSLegacy = "application/x-mpegurl"
)

// generic types carry no format information; the URL decides instead.
var generic = map[string]bool{
	"application/octet-stream": true,
	"binary/octet-stream":      true,
	"application/download":     true,
	"text/plain":               true,
}

var known = map[string]string{
	MimeVideoMP4:  DefaultExt,
	MimeVideoMKV:  ExtMKV,
	MimeVideoWebM: ExtWebM,
	MimeVideoTS:   ExtTS,
	MimeHLS:       ExtM3U8,
	MimeHLSLegacy: ExtM3U8,
}

// ExtFromMime returns the file extension (without dot) for mime, or "" when
// the type is empty or generic.
func ExtFromMime(mime string) string {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if base == "" || generic[base] {
		return ""
	}
	if ext, ok := known[base]; ok {
		return ext
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" && !strings.ContainsAny(sub, "+.") {
		return sub
	}
	return ""
}

// ExtFromURL returns the extension of the last path element of rawURL, or ""
// when it has none.
func ExtFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if len(ext) > 5 {
		return ""
	}
	return ext
}

// Ext picks the extension for a download: the MIME type first, then the URL,
// then DefaultExt.
func Ext(mime, rawURL string) string {
	if ext := ExtFromMime(mime); ext != "" {
		return ext
	}
	if ext := ExtFromURL(rawURL); ext != "" {
		return ext
	}
	return DefaultExt
}
