package cipher

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Alphabet is the lower-case-first base64 alphabet used by jsjiami v7
// string tables.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"

var jsjiamiEncoding = base64.NewEncoding(Alphabet).WithPadding(base64.NoPadding)

// DecodeJSJiami reverses a jsjiami v7 string: custom-alphabet base64, UTF-8
// decode, then RC4 over code points keyed by key. Characters outside the
// alphabet are ignored and a dangling partial byte is dropped. An empty key
// yields "".
func DecodeJSJiami(ciphertext, key string) string {
	if key == "" {
		return ""
	}
	raw := decodeLoose(ciphertext)
	return string(rc4Runes(toRunes(raw), []rune(key)))
}

// EncodeJSJiami is the inverse of DecodeJSJiami.
func EncodeJSJiami(plaintext, key string) string {
	if key == "" {
		return ""
	}
	mixed := rc4Runes([]rune(plaintext), []rune(key))
	return jsjiamiEncoding.EncodeToString([]byte(string(mixed)))
}

// decodeLoose keeps only alphabet characters and decodes what is left. A
// trailing group of one character carries no full byte and is dropped.
func decodeLoose(s string) []byte {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) >= 0 {
			b.WriteByte(s[i])
		}
	}
	clean := b.String()
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}
	out, err := jsjiamiEncoding.DecodeString(clean)
	if err != nil {
		return nil
	}
	return out
}

// toRunes decodes UTF-8, mapping invalid sequences to U+FFFD.
func toRunes(b []byte) []rune {
	out := make([]rune, 0, utf8.RuneCount(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return out
}

// rc4Runes runs RC4 over code points. The schedule uses the low byte of
// each key code point; each output code point is the input XOR a keystream
// byte, so code points above 0xff keep their high bits.
func rc4Runes(data, key []rune) []rune {
	var s [256]int
	for i := range s {
		s[i] = i
	}
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + s[i] + int(key[i%len(key)]&0xff)) % 256
		s[i], s[j] = s[j], s[i]
	}

	out := make([]rune, len(data))
	i, j := 0, 0
	for n, r := range data {
		i = (i + 1) % 256
		j = (j + s[i]) % 256
		s[i], s[j] = s[j], s[i]
		out[n] = r ^ rune(s[(s[i]+s[j])%256])
	}
	return out
}
