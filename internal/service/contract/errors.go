package contract

import (
	"errors"
	"fmt"

	"contractsvc/internal/repository"
)

// Kind classifies engine failures so callers can tell "wrong person" from
// "wrong time" from "lost a race".
type Kind string

const (
	KindNotFound  Kind = "NOT_FOUND"
	KindInvalid   Kind = "INVALID"
	KindForbidden Kind = "FORBIDDEN"
	KindConflict  Kind = "CONFLICT"
	KindInternal  Kind = "INTERNAL"
)

// Error is the only error type returned by Engine methods.
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
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden)
// works regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrInvalid   = &Error{Kind: KindInvalid}
	ErrForbidden = &Error{Kind: KindForbidden}
	ErrConflict  = &Error{Kind: KindConflict}
	ErrInternal  = &Error{Kind: KindInternal}
)

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newErr(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// storageErr maps repository errors into engine errors. Engine errors pass
// through untouched.
func storageErr(op, what string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Msg: what + " not found"}
	case errors.Is(err, repository.ErrDuplicate):
		return &Error{Kind: KindConflict, Op: op, Msg: what + " already exists", Err: err}
	case errors.Is(err, repository.ErrStale):
		return &Error{Kind: KindConflict, Op: op, Msg: what + " was modified concurrently", Err: err}
	}
	return &Error{Kind: KindInternal, Op: op, Msg: "storage failure", Err: err}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch KindOf(err) {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}
