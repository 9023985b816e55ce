package gen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/types"
)

// GenerationError 重试预算耗尽。Errors 是最后一次尝试的全部错误
// （*signature.ValidationError、*signature.MissingFieldError 或 *assertion.Failure）.
type GenerationError struct {
	Attempts  int
	Errors    []error
	Assertion string // 最后一次失败是断言时的规则消息
	TraceID   string
}

func (e *GenerationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("generation failed after %d attempts: %s", e.Attempts, strings.Join(msgs, "; "))
}

// Unwrap exposes every last-attempt error to errors.Is and errors.As.
func (e *GenerationError) Unwrap() []error { return e.Errors }

// ErrorCode implements types.CodedError.
func (e *GenerationError) ErrorCode() types.ErrorCode { return types.ErrGenerationFailed }

// TransportError 模型调用失败。生成循环从不重试它，重试网络由 Provider 中间件负责.
type TransportError struct {
	Err     error
	Timeout bool
	Attempt int
}

func (e *TransportError) Error() string {
	kind := "model invocation failed"
	if e.Timeout {
		kind = "model invocation timed out"
	}
	return fmt.Sprintf("%s on attempt %d: %v", kind, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorCode implements types.CodedError.
func (e *TransportError) ErrorCode() types.ErrorCode {
	if e.Timeout {
		return types.ErrUpstreamTimeout
	}
	return types.ErrTransport
}

func newTransportError(err error, attempt int) *TransportError {
	var lerr *llm.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &lerr) && lerr.IsTimeout())
	return &TransportError{Err: err, Timeout: timeout, Attempt: attempt}
}
