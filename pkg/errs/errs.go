package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and user-facing presentation.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindForbidden
	KindHasChildren
	KindUnknownCommand
	KindIO
)

// String converts Kind to string
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindHasChildren:
		return "has_children"
	case KindUnknownCommand:
		return "unknown_command"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside a wrapped cause.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing page, button or user.
func NotFoundf(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// Validationf reports a malformed draft, duplicate id or dangling reference.
func Validationf(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

// Forbiddenf reports a failed capability check.
func Forbiddenf(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

// HasChildrenf reports a blocked non-cascading delete.
func HasChildrenf(format string, args ...any) *Error {
	return newf(KindHasChildren, format, args...)
}

// UnknownCommandf reports a command name missing from the registry.
func UnknownCommandf(format string, args ...any) *Error {
	return newf(KindUnknownCommand, format, args...)
}

// IO wraps a store failure.
func IO(message string, err error) *Error {
	return &Error{Kind: KindIO, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage maps an error to the text shown to the chat user. Internal
// detail stays in the logs.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return "⚠️ Not found."
	case KindValidation:
		var e *Error
		if errors.As(err, &e) {
			return "⚠️ " + e.Message + " Please try again."
		}
		return "⚠️ Invalid input. Please try again."
	case KindForbidden:
		return "⛔ You don't have permission to do that."
	case KindHasChildren:
		return "⚠️ This page has sub-pages. Delete them first or confirm a cascading delete."
	case KindUnknownCommand:
		return "⚠️ Unknown command."
	default:
		return "⚠️ Something went wrong. Please try again later."
	}
}
