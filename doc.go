// Package turkanime recovers playable media URLs from a CloudFlare-fronted,
// JavaScript-obfuscated anime site.
//
// Features:
//   - Tiered challenge bypass: browser impersonation, remote solver, plain client
//   - Decryption of CryptoJS-style embed payloads with a self-healing key cache
//   - Unmasking of first-party player links through a recovered CSRF token
//   - Search, episode and stream listing, HLS variant selection and downloads
package turkanime
