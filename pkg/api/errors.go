package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the conversation view reacts to it.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindAuthenticationRequired Kind = "authentication_required"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindInvalidPayload         Kind = "invalid_payload"
	KindNetworkError           Kind = "network_error"
	KindServerError            Kind = "server_error"
)

// Error is the typed error surfaced by the directory, store, and rest
// client. Op names the failing operation for logs.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from any error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Transient reports whether an automatic retry of an idempotent read is
// worthwhile. Writes are never auto-retried regardless.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindNetworkError, KindServerError:
		return true
	}
	return false
}
