package errs

import (
	"errors"
)

var (
	// ErrConnectivityBlocked indicates that every fetch tier (impersonation,
	// remote solver, plain client) failed to return a non-challenge page.
	ErrConnectivityBlocked = errors.New("connectivity blocked")
	// ErrKeyExhausted indicates that neither the cached nor a freshly
	// discovered key could decrypt the embed payload.
	ErrKeyExhausted = errors.New("could not decrypt embed URL")
	// ErrTokenUnavailable indicates that no CSRF token could be recovered from the player script.
	ErrTokenUnavailable = errors.New("csrf token unavailable")
	// ErrUnmaskFailed indicates that the sources endpoint did not yield a stream URL.
	ErrUnmaskFailed = errors.New("unmask failed")
	// ErrInvalidReference indicates a reference that is neither a player link nor a cipher payload.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrNotFound indicates that the requested anime or episode does not exist on the origin.
	ErrNotFound = errors.New("not found")
)
