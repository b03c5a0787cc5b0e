// Package errs defines the typed error values shared across the engine.
// Every failure a collaborator can observe carries one of these kinds so
// callers branch on Kind, not on message text.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error
type Kind string

const (
	KindMalformedHeader  Kind = "MALFORMED_HEADER"   // header grammar violated or sentinel missing
	KindMalformedBinary  Kind = "MALFORMED_BINARY"   // payload disagrees with declared layout
	KindMalformedTable   Kind = "MALFORMED_TABLE"    // sweep data rows disagree with declared columns
	KindUnknownUnit      Kind = "UNKNOWN_UNIT"       // unit token missing from the scale table
	KindUnknownEncoding  Kind = "UNKNOWN_ENCODING"   // sample type or byte order not recognized
	KindNonMonotonicAxis Kind = "NON_MONOTONIC_AXIS" // sweep axis not strictly monotonic
	KindInconsistentAxis Kind = "INCONSISTENT_AXIS"  // matrix cells disagree on axis or placement
	KindInsufficientData Kind = "INSUFFICIENT_DATA"  // too few points to attempt a fit
	KindFileVanished     Kind = "FILE_VANISHED"      // tracked file disappeared between scan and read
	KindIOFailure        Kind = "IO_FAILURE"         // filesystem read or write failed
	KindValidation       Kind = "VALIDATION"         // request or argument validation failed
	KindConfig           Kind = "CONFIG"             // configuration invalid
)

// Error is the engine's error value. Cause carries the wrapped error,
// Context optional key/value detail for logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to walk the chain
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two errors by kind so errors.Is(err, errs.E(kind, "", nil))
// style sentinels work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// E creates a new engine error
func E(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or the
// empty kind when err carries no engine kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Label returns the kind in lower snake case for use as a metric label,
// or "unknown" when err carries no engine kind.
func Label(err error) string {
	kind := KindOf(err)
	if kind == "" {
		return "unknown"
	}
	return strings.ToLower(string(kind))
}

// Helper constructors for the common kinds

// MalformedHeader creates a header grammar error
func MalformedHeader(message string, cause error) *Error {
	return E(KindMalformedHeader, message, cause)
}

// MalformedBinary creates a binary payload error
func MalformedBinary(message string, cause error) *Error {
	return E(KindMalformedBinary, message, cause)
}

// MalformedTable creates a sweep table error
func MalformedTable(message string, cause error) *Error {
	return E(KindMalformedTable, message, cause)
}

// UnknownUnit creates an unresolvable unit token error
func UnknownUnit(token string) *Error {
	return E(KindUnknownUnit, fmt.Sprintf("unit %q is not in the scale table", token), nil)
}

// UnknownEncoding creates an unrecognized sample encoding error
func UnknownEncoding(token string) *Error {
	return E(KindUnknownEncoding, fmt.Sprintf("sample encoding %q is not supported", token), nil)
}

// NonMonotonicAxis creates a sweep axis ordering error
func NonMonotonicAxis(message string) *Error {
	return E(KindNonMonotonicAxis, message, nil)
}

// InconsistentAxis creates a matrix axis or placement mismatch error
func InconsistentAxis(message string) *Error {
	return E(KindInconsistentAxis, message, nil)
}

// InsufficientData creates a too-few-points error
func InsufficientData(message string) *Error {
	return E(KindInsufficientData, message, nil)
}

// FileVanished creates a missing tracked file error
func FileVanished(path string) *Error {
	return E(KindFileVanished, fmt.Sprintf("file %s no longer exists", path), nil)
}

// IOFailure creates a filesystem error
func IOFailure(message string, cause error) *Error {
	return E(KindIOFailure, message, cause)
}

// Validation creates a request validation error
func Validation(message string, cause error) *Error {
	return E(KindValidation, message, cause)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return E(KindConfig, message, cause)
}
