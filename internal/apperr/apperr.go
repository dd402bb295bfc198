// SPDX-License-Identifier: MIT

// Package apperr defines the error taxonomy shared by the editing core.
// Errors carry a Kind for programmatic handling plus structured details
// that the IPC surface forwards to the UI verbatim.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that dispatch on failure class
// rather than on the specific message.
type Kind string

const (
	// KindValidation marks malformed or rejected input. Retryable after
	// the caller corrects the request.
	KindValidation Kind = "validation"

	// KindNotFound marks a reference to an entity that does not exist.
	KindNotFound Kind = "notFound"

	// KindConflict marks a violated precondition such as a clip overlap
	// or an asset still in use.
	KindConflict Kind = "conflict"

	// KindPermissionDenied marks a failed manifest or path-scope check.
	KindPermissionDenied Kind = "permissionDenied"

	// KindIO marks a filesystem or lock failure. Callers may retry once.
	KindIO Kind = "ioError"

	// KindTimeout marks a bounded internal operation that exhausted its
	// budget.
	KindTimeout Kind = "timeout"

	// KindResourceExhausted marks a queue, memory or similar limit.
	KindResourceExhausted Kind = "resourceExhausted"

	// KindCorrupted marks unrecoverable persisted state. The project is
	// opened read-only.
	KindCorrupted Kind = "corrupted"

	// KindCredential marks vault-specific failures.
	KindCredential Kind = "credential"
)

// Error is the structured error record produced by the core.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches against another *Error by Kind, so sentinel-style checks
// like errors.Is(err, apperr.Conflict("clipOverlap", "")) work on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches one structured detail and returns the error for
// chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// New constructs an Error of an arbitrary kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound reports a dangling reference. entity names the entity class
// ("clip", "track", ...), id is the unresolved identifier.
func NotFound(entity, id string) *Error {
	e := New(KindNotFound, "%s not found: %s", entity, id)
	return e.WithDetail("entity", entity).WithDetail("id", id)
}

// Conflict reports a violated precondition. reason is a stable machine
// tag such as "clipOverlap" or "assetInUse".
func Conflict(reason string, format string, args ...any) *Error {
	return New(KindConflict, format, args...).WithDetail("reason", reason)
}

// PermissionDenied reports a failed scope check.
func PermissionDenied(scope, resource string) *Error {
	e := New(KindPermissionDenied, "permission denied: %s access to %q", scope, resource)
	return e.WithDetail("scope", scope).WithDetail("resource", resource)
}

// IO wraps a filesystem or lock failure.
func IO(op string, cause error) *Error {
	return New(KindIO, "%s failed", op).WithDetail("op", op).WithCause(cause)
}

// Timeout reports an exhausted internal budget.
func Timeout(op string) *Error {
	return New(KindTimeout, "%s timed out", op).WithDetail("op", op)
}

// ResourceExhausted reports a hit limit.
func ResourceExhausted(resource string) *Error {
	return New(KindResourceExhausted, "%s exhausted", resource).WithDetail("resource", resource)
}

// Corrupted reports unrecoverable persisted state. opID may be empty when
// the failure is not attributable to a single operation.
func Corrupted(file, opID string, cause error) *Error {
	e := New(KindCorrupted, "persisted state corrupted: %s", file).
		WithDetail("file", file).WithCause(cause)
	if opID != "" {
		e.WithDetail("opId", opID)
	}
	return e
}

// Credential reports a vault failure. reason is one of "notFound",
// "invalidPassword", "encryption", "decryption".
func Credential(reason string, format string, args ...any) *Error {
	return New(KindCredential, format, args...).WithDetail("reason", reason)
}

// KindOf extracts the Kind from any error in the chain, or "" when the
// error did not originate in the core.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
