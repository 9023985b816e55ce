package signature

import (
	"fmt"
	"strings"

	"github.com/BaSui01/sigflow/types"
)

// ParseError 描述 DSL 中无法解析的位置。Offset 为字节偏移（从 0 开始）。
type ParseError struct {
	DSL     string `json:"dsl"`
	Token   string `json:"token"`
	Offset  int    `json:"offset"`
	Message string `json:"message"`
}

// Error implements error.
func (e *ParseError) Error() string {
	token := e.Token
	if token == "" {
		token = "end of input"
	}
	return fmt.Sprintf("signature: %s at column %d near %q", e.Message, e.Offset+1, token)
}

// ErrorCode implements types.CodedError.
func (e *ParseError) ErrorCode() types.ErrorCode { return types.ErrSignatureParse }

// UnknownTypeError reports a type tag outside the closed set.
type UnknownTypeError struct {
	*ParseError
	Tag string `json:"tag"`
}

// ErrorCode implements types.CodedError.
func (e *UnknownTypeError) ErrorCode() types.ErrorCode { return types.ErrUnknownType }

// Unwrap exposes the positional ParseError.
func (e *UnknownTypeError) Unwrap() error { return e.ParseError }

// DuplicateFieldError reports a name (or rendered title) used twice across inputs and outputs.
type DuplicateFieldError struct {
	*ParseError
	Name string `json:"name"`
}

// ErrorCode implements types.CodedError.
func (e *DuplicateFieldError) ErrorCode() types.ErrorCode { return types.ErrDuplicateField }

// Unwrap exposes the positional ParseError.
func (e *DuplicateFieldError) Unwrap() error { return e.ParseError }

// ValidationError 输出字段的类型/格式不匹配。
type ValidationError struct {
	Field    string `json:"field"`
	Title    string `json:"title"`
	Value    string `json:"value"`
	Expected string `json:"expected"`
	Message  string `json:"message"`
}

func newValidationError(f Field, raw, message string) *ValidationError {
	expected := typeTags[f.typ]
	if f.array {
		expected += "[]"
	}
	return &ValidationError{
		Field:    f.name,
		Title:    f.title,
		Value:    raw,
		Expected: expected,
		Message:  message,
	}
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %q: %s", e.Field, e.Expected, e.Value, e.Message)
}

// ErrorCode implements types.CodedError.
func (e *ValidationError) ErrorCode() types.ErrorCode { return types.ErrValidation }

// Feedback renders the error as a correction line for the next prompt.
func (e *ValidationError) Feedback() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

// MissingFieldError 必填输出字段在响应中从未出现或为空。
type MissingFieldError struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

// NewMissingFieldError builds the error for f.
func NewMissingFieldError(f Field) *MissingFieldError {
	return &MissingFieldError{Field: f.name, Title: f.title}
}

// Error implements error.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q: required value is missing", e.Field)
}

// ErrorCode implements types.CodedError.
func (e *MissingFieldError) ErrorCode() types.ErrorCode { return types.ErrMissingField }

// Feedback renders the error as a correction line for the next prompt.
func (e *MissingFieldError) Feedback() string {
	return fmt.Sprintf("%s: this field is required but was not found in the output", e.Title)
}

// InputError 调用方输入与 Signature 不符，在调用模型之前返回，不会重试。
type InputError struct {
	Problems []string `json:"problems"`
}

// Error implements error.
func (e *InputError) Error() string {
	return "invalid inputs: " + strings.Join(e.Problems, "; ")
}

// ErrorCode implements types.CodedError.
func (e *InputError) ErrorCode() types.ErrorCode { return types.ErrInvalidInput }
