package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedStub struct{ code ErrorCode }

func (c *codedStub) Error() string        { return string(c.code) }
func (c *codedStub) ErrorCode() ErrorCode { return c.code }

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTransport, "upstream failed").WithCause(root)

	assert.Equal(t, ErrTransport, GetErrorCode(err))
	assert.False(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "upstream failed")
	assert.Contains(t, err.Error(), "root")
}

func TestErrorCode_Retryable(t *testing.T) {
	t.Parallel()

	retryable := []ErrorCode{ErrValidation, ErrMissingField, ErrAssertionFailed}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), c)
	}
	terminal := []ErrorCode{ErrSignatureParse, ErrUnknownType, ErrDuplicateField, ErrTransport,
		ErrUpstreamTimeout, ErrGenerationFailed, ErrInvalidInput}
	for _, c := range terminal {
		assert.False(t, c.Retryable(), c)
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", &codedStub{code: ErrMissingField})
	assert.Equal(t, ErrMissingField, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, IsErrorCode(err, ErrMissingField))

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestError_WithRetryableOverride(t *testing.T) {
	t.Parallel()

	err := NewError(ErrValidation, "bad").WithRetryable(false)
	assert.False(t, IsRetryable(err))
}
