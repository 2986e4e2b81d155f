package sanitize

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	// MaxFilenameLength caps the filename base, counted in characters.
	MaxFilenameLength = 120
	// DefaultExt is the default extension used when none is provided.
	DefaultExt = "mp4"
	// DefaultName is the replacement name when the title is empty.
	DefaultName = "episode"
)

var (
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	spaceRuns   = regexp.MustCompile(`\s{2,}`)
)

// ToSafeFilename builds a cross-platform safe filename from title and
// extension (without dot in ext). Titles keep their non-ASCII letters.
func ToSafeFilename(title, ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, title)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = spaceRuns.ReplaceAllString(strings.TrimSpace(name), " ")
	if runes := []rune(name); len(runes) > MaxFilenameLength {
		name = strings.TrimSpace(string(runes[:MaxFilenameLength]))
	}
	// Windows drops trailing dots silently.
	name = strings.TrimRight(name, ". ")
	if name == "" {
		name = DefaultName
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = DefaultExt
	}
	return filepath.Clean(name + "." + ext)
}

// EpisodeTitle is the default title for episode n of an anime.
func EpisodeTitle(anime string, n int) string {
	return strings.TrimSpace(anime) + " " + strconv.Itoa(n) + ". Bölüm"
}
