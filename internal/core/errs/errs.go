// Package errs provides coded error types shared by the comparison pipeline.
//
// Job-level failures (JOB_NOT_FOUND, STORAGE_ERROR, JOB_STATE) abort the
// calling operation. Page-level failures (RENDER_FAILED, COMPARISON_FAILED)
// are recorded on the page result and never abort a job.
//
//	err := errs.New(errs.CodeJobNotFound, "job not found: %s", id)
//	if errs.Is(err, errs.CodeJobNotFound) {
//	    // 404
//	}
package errs

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeJobNotFound  Code = "JOB_NOT_FOUND"
	CodeJobState     Code = "JOB_STATE"
	CodeRender       Code = "RENDER_FAILED"
	CodeComparison   Code = "COMPARISON_FAILED"
	CodeStorage      Code = "STORAGE_ERROR"
	CodeNotify       Code = "NOTIFY_FAILED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the message without the code prefix.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return e.Message + ": " + e.Cause.Error()
		}
		return e.Message
	}
	return err.Error()
}
