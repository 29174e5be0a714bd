// SPDX-License-Identifier: MIT

// Package errors classifies failures crossing component boundaries so that
// callers can decide between retrying, reporting offline state, rejecting an
// edit, or refusing work because the process is stopping.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is the error category.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientIO
	KindDeviceUnreachable
	KindConfigurationInvalid
	KindShutdownInProgress
	KindNotFound
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindDeviceUnreachable:
		return "device_unreachable"
	case KindConfigurationInvalid:
		return "configuration_invalid"
	case KindShutdownInProgress:
		return "shutdown_in_progress"
	case KindNotFound:
		return "not_found"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is. Any *Error of the same kind matches.
var (
	ErrTransientIO          = &Error{Kind: KindTransientIO}
	ErrDeviceUnreachable    = &Error{Kind: KindDeviceUnreachable}
	ErrConfigurationInvalid = &Error{Kind: KindConfigurationInvalid}
	ErrShutdownInProgress   = &Error{Kind: KindShutdownInProgress}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrFatal                = &Error{Kind: KindFatal}
)

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or any *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// New builds a categorized error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: stderrors.New(msg)}
}

// Newf builds a categorized error from a format string. %w is honoured.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap categorizes err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
