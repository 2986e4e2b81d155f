// Package cipher implements the two reversible transforms that hide stream
// URLs on the origin.
//
// # AES envelopes
//
// Embed links carry a CryptoJS "passphrase mode" payload: base64 of a JSON
// object {"ct","iv","s"}. The AES-256 key is stretched from the passphrase
// and the 8-byte salt with iterated MD5; the IV travels in the envelope.
//
//	plain := cipher.Decrypt(key, []byte(embedCipher))
//	if plain == "" {
//		// stale key, rediscover
//	}
//
// Decrypt never returns an error; DecryptPayload reports the failing step as
// an *errs.Error for diagnostics.
//
// # jsjiami v7 strings
//
// The player script stores its strings base64-encoded over a reordered
// alphabet and RC4-mixed per code point. DecodeJSJiami reverses that and is
// total: malformed input produces garbage or "", never a panic.
package cipher
