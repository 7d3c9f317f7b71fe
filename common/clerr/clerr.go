// Package clerr defines the tagged error kinds surfaced by every public
// clusterlib operation, per the error taxonomy each component must respect.
package clerr

import (
	"fmt"
	"runtime/debug"
)

// Kind identifies one of the fixed error categories a clusterlib operation
// can fail with. Callers should branch on Kind, not on message text.
type Kind int

const (
	// KindInvalidArguments means a name/key/param was rejected at a boundary.
	KindInvalidArguments Kind = iota
	// KindInvalidMethod means the operation is disallowed on this entity kind.
	KindInvalidMethod
	// KindObjectRemoved means the entity is in the REMOVED state.
	KindObjectRemoved
	// KindRepositoryConnection means the store session was lost or expired.
	KindRepositoryConnection
	// KindRepositoryInternals means the store returned an unexpected error.
	KindRepositoryInternals
	// KindPublishConflict means a cached-data publish raced a stale version.
	KindPublishConflict
	// KindLockTimeout means a bounded lock wait was exhausted.
	KindLockTimeout
	// KindInconsistentState means an asserted invariant was violated.
	KindInconsistentState
	// KindSystemFailure means a host OS call failed.
	KindSystemFailure
	// KindRPCInvocation means RPC request construction or dispatch failed.
	KindRPCInvocation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArguments:
		return "invalid arguments"
	case KindInvalidMethod:
		return "invalid method"
	case KindObjectRemoved:
		return "object removed"
	case KindRepositoryConnection:
		return "repository connection failure"
	case KindRepositoryInternals:
		return "repository internals failure"
	case KindPublishConflict:
		return "publish conflict"
	case KindLockTimeout:
		return "lock timeout"
	case KindInconsistentState:
		return "inconsistent internal state"
	case KindSystemFailure:
		return "system failure"
	case KindRPCInvocation:
		return "RPC invocation"
	default:
		return "unknown error kind"
	}
}

// Error is the concrete error type every clusterlib operation returns on
// failure. It captures a stack at construction time for diagnostics.
type Error struct {
	Kind  Kind
	Msg   string
	Stack []byte
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a tagged error with a captured stack.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Stack: debug.Stack()}
}

// Newf is New with Printf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and message to an underlying cause, preserving it for
// errors.Unwrap while still rendering a stack for diagnostics.
func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Stack: debug.Stack(), cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
