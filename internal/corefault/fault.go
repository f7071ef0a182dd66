// Package corefault defines colink-core's error taxonomy, distinct from
// whatever transport carries it to a caller.
package corefault

import "fmt"

// Code is one of the eight fault categories a component may raise.
type Code string

const (
	Unauthenticated    Code = "unauthenticated"
	PermissionDenied   Code = "permission_denied"
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	AlreadyExists      Code = "already_exists"
	FailedPrecondition Code = "failed_precondition"
	Unavailable        Code = "unavailable"
	Internal           Code = "internal"
)

// Fault is a domain error tagged with a Code, wrapping an optional cause.
type Fault struct {
	Code    Code
	Message string
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// New builds a *Fault with no wrapped cause.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Fault carrying an underlying error.
func Wrap(code Code, cause error, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Fault, otherwise
// returns Internal.
func CodeOf(err error) Code {
	var f *Fault
	if asFault(err, &f) {
		return f.Code
	}
	return Internal
}

func asFault(err error, target **Fault) bool {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			*target = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
