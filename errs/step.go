package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Step error codes
const (
	CodePatternNotFound  = "PATTERN_NOT_FOUND"
	CodeIndexOutOfRange  = "INDEX_OUT_OF_RANGE"
	CodeParseFailed      = "PARSE_FAILED"
	CodeDecryptFailed    = "DECRYPT_FAILED"
	CodeFetchFailed      = "FETCH_FAILED"
	CodeTokenNotFound    = "TOKEN_NOT_FOUND"
	CodeSourcesMalformed = "SOURCES_MALFORMED"
)

// Error is a structured error reported by a single pipeline step
// (pattern extraction, payload parsing, decryption, fetch).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Details != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Details)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON implements json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

// NewError creates a new Error with the given code and message
func NewError(code, message string, details ...any) *Error {
	e := &Error{Code: code, Message: message}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap creates a new Error carrying cause.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func codeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a missing-pattern or missing-index step error.
func IsNotFound(err error) bool {
	switch codeOf(err) {
	case CodePatternNotFound, CodeIndexOutOfRange, CodeTokenNotFound:
		return true
	}
	return false
}

// IsParse reports whether err came from parsing a payload or response.
func IsParse(err error) bool {
	switch codeOf(err) {
	case CodeParseFailed, CodeSourcesMalformed:
		return true
	}
	return false
}

// IsDecrypt reports whether err came from a decryption step.
func IsDecrypt(err error) bool {
	return codeOf(err) == CodeDecryptFailed
}

// IsFetch reports whether err came from a network step.
func IsFetch(err error) bool {
	return codeOf(err) == CodeFetchFailed
}
