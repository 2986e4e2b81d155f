package cipher

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/turkanime/errs"
)

var (
	fixedSalt = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	fixedIV   = bytes.Repeat([]byte{0x42}, 16)
)

func TestDeriveKey_Length(t *testing.T) {
	k := DeriveKey([]byte("secret"), fixedSalt)
	assert.Len(t, k, 32)
	assert.Equal(t, k, DeriveKey([]byte("secret"), fixedSalt))
	assert.NotEqual(t, k, DeriveKey([]byte("secret2"), fixedSalt))
}

func TestDecrypt_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"url", "https://example.com/video.mp4"},
		{"json literal", `"\/\/www.example.org\/embed\/abc"`},
		{"block aligned", strings.Repeat("a", 32)},
		{"unicode", "Bölüm 12 izle"},
	}
	key := []byte("ThisIsASecretKey123")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped, err := EncryptPayload(key, tt.plaintext, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, Decrypt(key, wrapped))
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	plaintext := "https://example.com/video.mp4?" + strings.Repeat("x", 300)
	wrapped, err := EncryptPayload([]byte("ThisIsASecretKey123"), plaintext, fixedSalt, fixedIV)
	require.NoError(t, err)

	assert.Equal(t, "", Decrypt([]byte("WrongKey"), wrapped))
	_, err = DecryptPayload([]byte("WrongKey"), wrapped)
	if err != nil {
		assert.True(t, errs.IsDecrypt(err))
	}
}

func TestPlainURL_RejectsWrongKeyCollision(t *testing.T) {
	// Under this salt and IV, oldkey0116 unpads to the single letter "a".
	iv := []byte{16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31}
	siteKey := strings.Repeat("Zq9", 13) + "xy"
	wrapped, err := EncryptPayload([]byte(siteKey), `"\/\/video.sibnet.ru\/shell.php?videoid=12"`, fixedSalt, iv)
	require.NoError(t, err)

	garbage := Decrypt([]byte("oldkey0116"), wrapped)
	assert.Equal(t, "a", garbage)
	_, ok := PlainURL(garbage)
	assert.False(t, ok)

	u, ok := PlainURL(Decrypt([]byte(siteKey), wrapped))
	require.True(t, ok)
	assert.Equal(t, "//video.sibnet.ru/shell.php?videoid=12", u)
}

func TestPlainURL_Shapes(t *testing.T) {
	for in, want := range map[string]string{
		`"\/\/host\/embed\/1"`: "//host/embed/1",
		"https://a.example/b":  "https://a.example/b",
		`"HTTP://A.example/x"`: "HTTP://A.example/x",
	} {
		got, ok := PlainURL(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "a", "?\x10", `"\/\/"`, "//host/\x01x", "javascript:alert(1)", `{"file":"//x/y"}`} {
		_, ok := PlainURL(in)
		assert.False(t, ok, "%q", in)
	}
}

func TestDecrypt_MalformedInput(t *testing.T) {
	key := []byte("k")
	env := func(s string) []byte { return []byte(base64.StdEncoding.EncodeToString([]byte(s))) }

	cases := map[string][]byte{
		"not base64":      []byte("%%%"),
		"not json":        env("hello"),
		"missing ct":      env(`{"iv":"00","s":"0102030405060708"}`),
		"short salt":      env(`{"ct":"AAAAAAAAAAAAAAAAAAAAAA==","iv":"` + hex.EncodeToString(fixedIV) + `","s":"0102"}`),
		"unaligned":       env(`{"ct":"AAAA","iv":"` + hex.EncodeToString(fixedIV) + `","s":"0102030405060708"}`),
		"bad iv":          env(`{"ct":"AAAAAAAAAAAAAAAAAAAAAA==","iv":"zz","s":"0102030405060708"}`),
		"empty input":     nil,
		"base64 of array": env(`[1,2,3]`),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, "", Decrypt(key, in))
			})
			_, err := DecryptPayload(key, in)
			assert.True(t, errs.IsParse(err), "got %v", err)
		})
	}
}

func TestTrimPad_NonValidating(t *testing.T) {
	assert.Equal(t, []byte("abc"), trimPad([]byte("abc\x05\x02")))
	assert.Empty(t, trimPad([]byte("abc\x00")))
	assert.Empty(t, trimPad([]byte("ab\xff")))
}

func TestLooksLikePayload(t *testing.T) {
	wrapped, err := EncryptPayload([]byte("k"), "x", nil, nil)
	require.NoError(t, err)
	assert.True(t, LooksLikePayload(string(wrapped)))
	assert.False(t, LooksLikePayload("https://turkanime.co/player/123"))
	assert.False(t, LooksLikePayload("eyJub3QiOiJ2YWxpZA"))
}

func TestPlaintext(t *testing.T) {
	assert.Equal(t, "//host/embed/1", Plaintext(`"\/\/host\/embed\/1"`))
	assert.Equal(t, "https://a/b", Plaintext("https://a/b"))
}
