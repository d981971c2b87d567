package core

import (
	"errors"
	"fmt"
)

// ErrorCode tags a pipeline failure.
type ErrorCode string

// Pipeline error taxonomy.
const (
	ErrUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrMalformedIntent     ErrorCode = "malformed_intent"
	ErrNoMatch             ErrorCode = "no_match"
	ErrGeneration          ErrorCode = "generation_error"
	ErrExecutionTimeout    ErrorCode = "execution_timeout"
	ErrExecutionException  ErrorCode = "execution_exception"
)

// Error is a tagged pipeline error.
type Error struct {
	Code ErrorCode
	Err  error
}

// NewError wraps err with code. err may be nil.
func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Err == nil
}

// CodeOf returns the tag of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
