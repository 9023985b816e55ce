package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Signature (parse-time) error codes. Never retried.
const (
	ErrSignatureParse ErrorCode = "SIGNATURE_PARSE"
	ErrUnknownType    ErrorCode = "UNKNOWN_TYPE"
	ErrDuplicateField ErrorCode = "DUPLICATE_FIELD"
)

// Attempt-time error codes. Retried inside the generation loop.
const (
	ErrValidation      ErrorCode = "VALIDATION"
	ErrMissingField    ErrorCode = "MISSING_FIELD"
	ErrAssertionFailed ErrorCode = "ASSERTION_FAILED"
)

// Terminal error codes.
const (
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrTransport        ErrorCode = "TRANSPORT"
	ErrUpstreamTimeout  ErrorCode = "UPSTREAM_TIMEOUT"
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrPromptTooLong    ErrorCode = "PROMPT_TOO_LONG"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// CodedError is implemented by every error type the engine produces.
type CodedError interface {
	error
	ErrorCode() ErrorCode
}

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// ErrorCode implements CodedError.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Retryable reports whether errors with this code are recoverable by
// re-prompting the model. Transport failures are never retryable here;
// provider middleware owns network retries.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrValidation, ErrMissingField, ErrAssertionFailed:
		return true
	default:
		return false
	}
}

// GetErrorCode extracts the error code from the first CodedError in the chain.
func GetErrorCode(err error) ErrorCode {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// IsRetryable checks if an error is recoverable by the generation loop.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return GetErrorCode(err).Retryable()
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
