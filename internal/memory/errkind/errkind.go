// Package errkind provides the structured error type shared by every memory
// component. It mirrors the error-kind table in the service specification:
// each error carries a Code, the component/operation that raised it, and a
// free-form context map for logging, while still unwrapping cleanly for
// errors.Is/errors.As.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorises an error for callers that need to react differently to
// different failure kinds (e.g. degrade to keyword search on a Model error,
// but surface a DataStore error to the caller).
type Code string

const (
	// Validation covers bad arguments: empty content, out-of-range values,
	// selectors that don't resolve to a memory. Rejected immediately, no retry.
	Validation Code = "VALIDATION"

	// NotFound covers a key or query with no viable match.
	NotFound Code = "NOT_FOUND"

	// Conflict covers key collisions at create time where the disambiguator
	// suffix space has been exhausted.
	Conflict Code = "CONFLICT"

	// DataStore covers failures in the relational store or the operation log.
	// These abort the operation; nothing is left in an ambiguous state.
	DataStore Code = "DATA_STORE"

	// VectorStore covers failures in the vector index. These do not fail the
	// caller's request; the persona is marked dirty and a later rebuild
	// reconciles the index.
	VectorStore Code = "VECTOR_STORE"

	// Model covers embedder/reranker failures. Callers degrade to the
	// keyword-only search path rather than failing outright.
	Model Code = "MODEL"

	// Cancelled covers caller-initiated cancellation.
	Cancelled Code = "CANCELLED"

	// Internal covers anything unexpected. Logged, never crashes the process.
	Internal Code = "INTERNAL"
)

// Error is the structured error type returned by every memory component.
type Error struct {
	Code      Code
	Message   string
	Component string
	Operation string
	Context   map[string]any
	Cause     error
}

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Context: make(map[string]any)}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Context: make(map[string]any), Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithComponent sets which component raised the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets which operation was being attempted.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithContext attaches a single key/value of diagnostic context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("]")
	if e.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Component)
	}
	if e.Operation != "" {
		sb.WriteString(".")
		sb.WriteString(e.Operation)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, v)
			first = false
		}
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is compares errors by Code, so errors.Is(err, errkind.New(NotFound, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// GetCode extracts the Code from any error, defaulting to Internal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}
