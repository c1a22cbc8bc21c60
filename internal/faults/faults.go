// Package faults defines the coded error type shared by the pipeline packages.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a class of pipeline failure.
type Code string

// Error carries a code, a human message and optional structured context.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Cause   error          `json:"-"`
}

// New creates an error without a cause.
func New(code Code, message string, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context}
}

// Wrap creates an error around cause.
func Wrap(code Code, message string, cause error, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HasCode reports whether err or anything it wraps carries code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
