package shared

import (
	"errors"
	"fmt"
)

// Code classifies a failure for callers of the engine.
type Code string

const (
	// CodeInvalidArgument marks malformed or missing input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodePermissionDenied marks authorization or ownership failures.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeFailedPrecondition marks operations not allowed in the current state.
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	// CodeResourceExhausted marks overdraft, counter overflow and rate limits.
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	// CodeAborted marks version or transaction conflicts.
	CodeAborted Code = "ABORTED"
	// CodeNotFound marks a missing referenced aggregate.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "INTERNAL"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the store aborted a transaction because of a concurrent write.
	ErrConflict = errors.New("concurrent modification detected")
	// ErrUnauthenticated indicates the request carried no actor.
	ErrUnauthenticated = errors.New("actor required")
)

// Error carries a taxonomy code plus structured details for the caller.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode exposes the taxonomy code to CodeOf.
func (e *Error) ErrorCode() Code {
	return e.Code
}

// Errorf builds an Error with a formatted message and no details.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap attaches cause to the error so errors.Is matches package sentinels.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// InvalidArgument reports malformed input.
func InvalidArgument(message string, details map[string]any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message, Details: details}
}

// PermissionDenied reports an authorization failure.
func PermissionDenied(message string, details map[string]any) *Error {
	return &Error{Code: CodePermissionDenied, Message: message, Details: details}
}

// FailedPrecondition reports an operation rejected by current state.
func FailedPrecondition(message string, details map[string]any) *Error {
	return &Error{Code: CodeFailedPrecondition, Message: message, Details: details}
}

// ResourceExhausted reports a capacity or rate limit breach.
func ResourceExhausted(message string, details map[string]any) *Error {
	return &Error{Code: CodeResourceExhausted, Message: message, Details: details}
}

// Aborted reports a conflict the caller may resolve by re-reading.
func Aborted(message string, cause error) *Error {
	return &Error{Code: CodeAborted, Message: message, Err: cause}
}

// NotFound reports a missing aggregate and wraps ErrNotFound.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
		Err:     ErrNotFound,
	}
}

// CodeOf extracts the taxonomy code, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded interface{ ErrorCode() Code }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	if errors.Is(err, ErrConflict) {
		return CodeAborted
	}
	return CodeInternal
}

// DetailsOf returns the first structured details found along the wrap chain.
func DetailsOf(err error) map[string]any {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := e.(type) {
		case *Error:
			if v.Details != nil {
				return v.Details
			}
		case interface{ Details() map[string]any }:
			return v.Details()
		}
	}
	return nil
}

// IsConflict reports whether err is a retryable store conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
