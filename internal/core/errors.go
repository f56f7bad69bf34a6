package core

import "fmt"

// ErrorKind is the closed, machine-readable error taxonomy callers can
// switch on without parsing messages.
type ErrorKind string

const (
	ErrInvalidInput         ErrorKind = "INVALID_INPUT"
	ErrMissingRequiredField ErrorKind = "MISSING_REQUIRED_FIELD"
	ErrInvalidID            ErrorKind = "INVALID_ID"
	ErrInvalidStatus        ErrorKind = "INVALID_STATUS"
	ErrInvalidContentType   ErrorKind = "INVALID_CONTENT_TYPE"
	ErrTitleTooLong         ErrorKind = "TITLE_TOO_LONG"
	ErrNotFound             ErrorKind = "NOT_FOUND"
	ErrAlreadyExists        ErrorKind = "ALREADY_EXISTS"
	ErrConflict             ErrorKind = "CONFLICT"
	ErrImmutable            ErrorKind = "IMMUTABLE"
	ErrCycleDetected        ErrorKind = "CYCLE_DETECTED"
	ErrMemberRequired       ErrorKind = "MEMBER_REQUIRED"
	ErrConstraint           ErrorKind = "CONSTRAINT"
)

// Error is the error type returned by every core operation. Retryable
// marks transient conditions (used by the sync engine to decide on
// backoff-and-retry vs. surfacing to the caller).
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a non-retryable core error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a core error that wraps an underlying cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err, if err is (or wraps) a *Error.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return "", false
	}
	return ce.Kind, true
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
