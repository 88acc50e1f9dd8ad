// Package apperr defines the stable error taxonomy surfaced by the core
// services. Every error returned across a service boundary carries a Kind tag
// and a human-readable message; callers branch on the kind, transports map it
// to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable tag identifying an error category.
type Kind string

const (
	// KindValidation marks invalid payloads: bad ARN, wrong policy Version,
	// malformed statements, out-of-range durations.
	KindValidation Kind = "ValidationError"

	// KindNotFound marks entity lookup misses.
	KindNotFound Kind = "NotFound"

	// KindConflict marks unique-constraint violations: duplicate names,
	// already-attached policies, duplicate group membership.
	KindConflict Kind = "Conflict"

	// KindAuthentication marks credential failures: bad password, invalid,
	// expired, or revoked token. Messages never include the credential.
	KindAuthentication Kind = "AuthenticationError"

	// KindAuthorizationDenied marks a DENY decision from the access engine.
	// Not an internal failure, but surfaced through the same channel.
	KindAuthorizationDenied Kind = "AuthorizationDenied"

	// KindResourceInUse marks deletions rejected because dependents exist,
	// e.g. a policy that still has attachments.
	KindResourceInUse Kind = "ResourceInUse"

	// KindTransient marks storage failures that were retried and still
	// failed: database unreachable, hot tier down.
	KindTransient Kind = "TransientFailure"

	// KindInternal marks invariant violations and unexpected states.
	KindInternal Kind = "InternalError"
)

// Error is a tagged error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error without losing the cause chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Untagged errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Validation is shorthand for New(KindValidation, ...). It exists because
// policy document validation produces these by the dozen.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Authentication is shorthand for New(KindAuthentication, ...).
func Authentication(format string, args ...any) *Error {
	return New(KindAuthentication, format, args...)
}
