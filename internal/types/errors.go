package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Code is a stable machine-readable error code. The API layer maps codes to
// transport status; the engine never retries VALIDATION/NOT_FOUND/CONFLICT.
type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeTransient  Code = "TRANSIENT"
	CodePermanent  Code = "PERMANENT"
	CodeCancelled  Code = "CANCELLED"
)

// Error is the typed error surfaced by every engine operation.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration // optional hint, only meaningful for TRANSIENT
	Err        error         // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a VALIDATION error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a CONFLICT error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a TRANSIENT error wrapping cause.
func Transientf(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeTransient, Message: fmt.Sprintf(format, args...), Err: cause}
}

// RetryLater builds the TRANSIENT back-pressure error returned when the
// pending mirror-write queue is above its high-water mark.
func RetryLater(after time.Duration) *Error {
	return &Error{Code: CodeTransient, Message: "RETRY_LATER", RetryAfter: after}
}

// Permanentf builds a PERMANENT error wrapping cause.
func Permanentf(cause error, format string, args ...any) *Error {
	return &Error{Code: CodePermanent, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Cancelledf builds a CANCELLED error.
func Cancelledf(format string, args ...any) *Error {
	return &Error{Code: CodeCancelled, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, defaulting to TRANSIENT for unclassified
// errors (safe default: the caller may retry).
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeTransient
}

func hasCode(err error, code Code) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsTransient reports whether err carries CodeTransient.
func IsTransient(err error) bool { return hasCode(err, CodeTransient) }

// IsPermanent reports whether err carries CodePermanent.
func IsPermanent(err error) bool { return hasCode(err, CodePermanent) }

// IsCancelled reports whether err carries CodeCancelled.
func IsCancelled(err error) bool { return hasCode(err, CodeCancelled) }
