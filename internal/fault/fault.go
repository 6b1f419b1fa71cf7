// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

// Package fault defines the closed error taxonomy used across the matching
// and partnership core. Component internals convert store-level errors into
// one of these kinds at their public boundary; callers branch on KindOf
// rather than string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindUnknown is the zero value; it is never returned deliberately.
	KindUnknown Kind = iota
	// KindInvalid means caller-supplied data violates a stated constraint.
	KindInvalid
	// KindNotFound means the entity does not exist.
	KindNotFound
	// KindForbidden means the caller is not a participant or has the wrong role.
	KindForbidden
	// KindConflict means a duplicate or uniqueness violation.
	KindConflict
	// KindWrongState means the operation is disallowed in the current state.
	KindWrongState
	// KindLimitExceeded means a per-user cap is reached.
	KindLimitExceeded
	// KindTransient means the store or event sink is unavailable; retryable.
	KindTransient
)

// String returns a stable machine-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindWrongState:
		return "wrong_state"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an optional cause and carries a
// human-readable message.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.err
}

// Is matches classified errors by kind, so callers can write
// errors.Is(err, fault.New(fault.KindConflict, "")) — in practice the
// KindOf helper below is the common path.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.kind == e.kind
	}
	return false
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindUnknown; callers at process boundaries treat those as transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
