package request

import "errors"

// WorkError is the superclass of all work-execution errors (spec.md §7).
type WorkError struct {
	msg string
	err error
}

func NewWorkError(msg string) *WorkError { return &WorkError{msg: msg} }

func wrapWorkError(msg string, cause error) *WorkError { return &WorkError{msg: msg, err: cause} }

func (e *WorkError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *WorkError) Unwrap() error { return e.err }

// Is lets errors.Is(err, ErrWork) match any *WorkError, not only ErrWork
// itself.
func (e *WorkError) Is(target error) bool {
	_, ok := target.(*WorkError)
	return ok
}

// CancelledError indicates cooperative cancellation of a work request. It is
// a distinct type from WorkError but errors.Is(err, ErrWork) still matches
// it, mirroring the Python CancelledError(WorkError) subtype relationship.
type CancelledError struct {
	msg string
}

func NewCancelledError(msg string) *CancelledError { return &CancelledError{msg: msg} }

func (e *CancelledError) Error() string { return e.msg }

// Is lets errors.Is(err, &WorkError{}) and errors.Is(err, ErrCancelled)
// treat CancelledError as a kind of WorkError, matching the Python
// exception hierarchy where CancelledError subclasses WorkError.
func (e *CancelledError) Is(target error) bool {
	switch target.(type) {
	case *WorkError, *CancelledError:
		return true
	}
	return false
}

// Sentinel values usable with errors.Is at call sites that only care about
// the category, not the message.
var (
	ErrWork      = NewWorkError("work error")
	ErrCancelled = NewCancelledError("cancelled")
)

// IsCancelled reports whether err represents a cancelled work request.
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}
