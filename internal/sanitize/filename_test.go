package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestToSafeFilename_Basics(t *testing.T) {
	got := ToSafeFilename("Hello:/\\*?\"<>| World", "mp4")
	if got != "Hello_ World.mp4" {
		t.Fatalf("got %q", got)
	}
}

func TestToSafeFilename_Defaults(t *testing.T) {
	for _, title := range []string{"", "  ", "..."} {
		if got := ToSafeFilename(title, ""); got != "episode.mp4" {
			t.Fatalf("%q: got %q", title, got)
		}
	}
}

func TestToSafeFilename_KeepsTurkishAndDropsControls(t *testing.T) {
	got := ToSafeFilename("Şeytan\tAvcısı  12.\x00Bölüm", ".MKV")
	if got != "Şeytan Avcısı 12.Bölüm.mkv" {
		t.Fatalf("got %q", got)
	}
}

func TestToSafeFilename_LongTruncatesOnRunes(t *testing.T) {
	got := ToSafeFilename(strings.Repeat("ğ", 200), "mp4")
	if !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != MaxFilenameLength+4 {
		t.Fatalf("rune count %d", n)
	}
}

func TestEpisodeTitle(t *testing.T) {
	if got := EpisodeTitle(" Naruto ", 7); got != "Naruto 7. Bölüm" {
		t.Fatalf("got %q", got)
	}
}
