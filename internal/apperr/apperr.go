// Package apperr classifies failures so every layer can decide what to do with
// an error without knowing which store or client produced it.
//
// Go Learning Note — Wrapping Errors:
// Since Go 1.13, errors can wrap other errors. errors.As walks the chain
// produced by fmt.Errorf("...: %w", err) or by any type with an Unwrap()
// method, so a handler can ask "is this a validation error?" even when the
// error was wrapped several times on the way up.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindTransient          Kind = "transient"
	KindConflict           Kind = "conflict"
	KindUnauthorized       Kind = "unauthorized"
	KindGeocodeUnavailable Kind = "geocode_unavailable"
	KindInternal           Kind = "internal"
)

// Error is a classified error. Op names the operation that failed, for
// example "ingest.validate" or "sqlite.increment".
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validation reports malformed input.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// Conflict reports a uniqueness violation.
func Conflict(op string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Err: err}
}

// Unauthorized reports missing or wrong credentials.
func Unauthorized(op, msg string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Msg: msg}
}

// Transient reports a timeout or connectivity failure that may succeed on retry.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// GeocodeUnavailable reports that a reverse geocoder gave no usable answer.
func GeocodeUnavailable(op string, err error) error {
	return &Error{Kind: KindGeocodeUnavailable, Op: op, Err: err}
}

// Wrap classifies a storage error: nil stays nil, already-classified errors
// keep their kind, context deadlines and cancellations become transient, and
// anything else becomes internal.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(op, err)
	}
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
