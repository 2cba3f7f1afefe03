package anonymizer

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrorKind categorizes anonymization failures.
type ErrorKind string

const (
	// KindMalformedSpan marks an out-of-bounds, inverted or text-mismatched span.
	// It is recoverable: the span is dropped and processing continues.
	KindMalformedSpan ErrorKind = "malformed_span"
	// KindUnsupportedStrategy marks an unknown strategy name.
	KindUnsupportedStrategy ErrorKind = "unsupported_strategy"
	// KindInvalidConfig marks an invalid option combination.
	KindInvalidConfig ErrorKind = "invalid_config"
	// KindInvalidText marks input text that is not valid UTF-8.
	KindInvalidText ErrorKind = "invalid_text"
	// KindEncryptionUnavailable marks a missing or failing encrypt/decrypt collaborator.
	KindEncryptionUnavailable ErrorKind = "encryption_unavailable"
)

// Error is a typed error for anonymization failures.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *Error with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsClientError reports whether err was caused by the request itself
// (unsupported strategy, invalid configuration or invalid text).
func IsClientError(err error) bool {
	return IsKind(err, KindUnsupportedStrategy) || IsKind(err, KindInvalidConfig) || IsKind(err, KindInvalidText)
}

// checkText rejects text that is not valid UTF-8. Offsets are counted in
// runes, and invalid bytes would not survive the rune round trip unchanged.
func checkText(text string) error {
	if !utf8.ValidString(text) {
		return newError(KindInvalidText, "text is not valid UTF-8")
	}
	return nil
}
