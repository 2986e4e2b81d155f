package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ytget/turkanime/errs"
)

const (
	keyLen  = 32
	saltLen = 8
)

// Payload is the CryptoJS envelope carried by embed links: ciphertext
// (base64), IV (hex) and salt (hex).
type Payload struct {
	CT string `json:"ct"`
	IV string `json:"iv"`
	S  string `json:"s"`
}

// ParsePayload decodes base64(JSON{ct, iv, s}).
func ParsePayload(wrapped []byte) (Payload, error) {
	var p Payload
	raw, err := base64.StdEncoding.DecodeString(string(wrapped))
	if err != nil {
		return p, errs.Wrap(errs.CodeParseFailed, "payload is not base64", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errs.Wrap(errs.CodeParseFailed, "payload is not a JSON envelope", err)
	}
	if p.CT == "" || p.S == "" {
		return p, errs.NewError(errs.CodeParseFailed, "payload envelope incomplete", p)
	}
	return p, nil
}

// LooksLikePayload reports whether s plausibly is a wrapped envelope.
// base64 of `{"ct"` starts with "eyJ".
func LooksLikePayload(s string) bool {
	if len(s) < 8 || s[:3] != "eyJ" {
		return false
	}
	_, err := ParsePayload([]byte(s))
	return err == nil
}

// DeriveKey stretches password and salt with iterated MD5 the way OpenSSL's
// EVP_BytesToKey does (one round per block), returning a 32-byte AES key.
func DeriveKey(password, salt []byte) []byte {
	var out, prev []byte
	for len(out) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen]
}

// DecryptPayload decrypts a wrapped envelope with key. The trailing pad is
// trimmed by the value of the last byte without checking the pad bytes, so a
// wrong key usually yields invalid UTF-8 (reported as an error) or empty output.
func DecryptPayload(key, wrapped []byte) (string, error) {
	p, err := ParsePayload(wrapped)
	if err != nil {
		return "", err
	}
	ct, err := base64.StdEncoding.DecodeString(p.CT)
	if err != nil {
		return "", errs.Wrap(errs.CodeParseFailed, "ciphertext is not base64", err)
	}
	salt, err := hex.DecodeString(p.S)
	if err != nil || len(salt) != saltLen {
		return "", errs.NewError(errs.CodeParseFailed, "salt must be 8 bytes of hex", p.S)
	}
	iv, err := hex.DecodeString(p.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", errs.NewError(errs.CodeParseFailed, "iv must be 16 bytes of hex", p.IV)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errs.NewError(errs.CodeParseFailed, "ciphertext is not block aligned", len(ct))
	}

	block, err := aes.NewCipher(DeriveKey(key, salt))
	if err != nil {
		return "", errs.Wrap(errs.CodeDecryptFailed, "aes init", err)
	}
	plain := make([]byte, len(ct))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain = trimPad(plain)
	if !utf8.Valid(plain) {
		return "", errs.NewError(errs.CodeDecryptFailed, "plaintext is not valid UTF-8")
	}
	return string(plain), nil
}

// trimPad drops plain[len-1] trailing bytes. A pad of 0 or one longer than
// the buffer leaves nothing.
func trimPad(plain []byte) []byte {
	n := int(plain[len(plain)-1])
	if n == 0 || n > len(plain) {
		return plain[:0]
	}
	return plain[:len(plain)-n]
}

// Decrypt is the total form of DecryptPayload: any failure yields "".
// The result is a JSON string literal such as "\"//host/path\"" in practice;
// callers strip quotes and escapes with Plaintext.
func Decrypt(key, wrapped []byte) string {
	out, err := DecryptPayload(key, wrapped)
	if err != nil {
		return ""
	}
	return out
}

// Plaintext turns a decrypted JSON string literal into the URL it carries.
// Inputs that are not JSON strings are returned as is.
func Plaintext(s string) string {
	var v string
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// PlainURL returns the URL carried by a decrypted payload and whether the
// plaintext is shaped like one: scheme-relative or http(s), with a host and
// no control characters. The unpad does not validate, so a wrong key can
// still produce short valid UTF-8; this is the check that rejects it.
func PlainURL(plain string) (string, bool) {
	u := strings.TrimSpace(Plaintext(plain))
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "//") && !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	for _, r := range u {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return "", false
		}
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return u, true
}

// EncryptPayload produces a wrapped envelope that DecryptPayload accepts.
// salt and iv are random when nil.
func EncryptPayload(key []byte, plaintext string, salt, iv []byte) ([]byte, error) {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	if iv == nil {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
	}
	if len(salt) != saltLen || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("salt must be %d bytes and iv %d bytes", saltLen, aes.BlockSize)
	}
	block, err := aes.NewCipher(DeriveKey(key, salt))
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	buf := make([]byte, len(plaintext)+pad)
	copy(buf, plaintext)
	for i := len(plaintext); i < len(buf); i++ {
		buf[i] = byte(pad)
	}
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)

	env, err := json.Marshal(Payload{
		CT: base64.StdEncoding.EncodeToString(buf),
		IV: hex.EncodeToString(iv),
		S:  hex.EncodeToString(salt),
	})
	if err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(env)), nil
}
