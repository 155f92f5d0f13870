// Package errors provides structured, coded errors for the hot-reload core.
// Each error carries a stable code (e.g. "E101") that maps to a registered
// category, message, and disposition.
package errors

import "fmt"

// Category represents the type of error.
type Category string

const (
	CategoryWatch    Category = "watch"
	CategoryCompile  Category = "compile"
	CategoryProtocol Category = "protocol"
	CategoryState    Category = "state"
	CategoryConfig   Category = "config"
)

// Error is a structured error with a stable code and optional detail.
type Error struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type (watch, compile, protocol, state, config).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation, often the raw tool or I/O output.
	Detail string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches two coded errors by code, so sentinel-style comparisons like
// errors.Is(err, lumenerrors.New("E101")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail attaches detail text to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// Wrap attaches an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an error from a registered code. Unregistered codes produce a
// generic error carrying just the code.
func New(code string) *Error {
	if tmpl, ok := registry[code]; ok {
		return &Error{
			Code:     code,
			Category: tmpl.Category,
			Message:  tmpl.Message,
			Detail:   tmpl.Detail,
		}
	}
	return &Error{
		Code:    code,
		Message: "unknown error",
	}
}
