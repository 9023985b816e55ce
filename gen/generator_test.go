package gen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/sigflow/assertion"
	"github.com/BaSui01/sigflow/config"
	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/llm/cache"
	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/testutil/mocks"
	"github.com/BaSui01/sigflow/types"
)

const capitalDSL = `"Answer questions about geography." question -> answer, confidence:number`

func capitalInputs() signature.Values {
	return signature.Values{"question": signature.String("What is the capital of France?")}
}

// --- fakes ---

type fakeMetrics struct {
	mu           sync.Mutex
	generations  []string
	attempts     []int
	failures     []string
	fieldErrors  []string
	transitions  []string
	promptTokens []int
	cacheHits    int
	cacheMisses  int
}

func (f *fakeMetrics) RecordGeneration(outcome string, attempts int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, outcome)
	f.attempts = append(f.attempts, attempts)
}

func (f *fakeMetrics) RecordAttemptFailure(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
}

func (f *fakeMetrics) RecordFieldError(field string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fieldErrors = append(f.fieldErrors, field)
}

func (f *fakeMetrics) RecordStateTransition(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+"->"+to)
}

func (f *fakeMetrics) RecordPromptTokens(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promptTokens = append(f.promptTokens, n)
}

func (f *fakeMetrics) RecordCacheHit(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheHits++
}

func (f *fakeMetrics) RecordCacheMiss(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheMisses++
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (f *fakeRecorder) RecordAttempt(_ context.Context, a Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return f.err
}

func systemPrompt(call mocks.MockProviderCall) string {
	for _, m := range call.Request.Messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func notParis(out assertion.Output) assertion.Verdict {
	v, ok := out.Value("answer")
	if !ok {
		return assertion.Indeterminate
	}
	if strings.EqualFold(v.Str(), "Paris") {
		return assertion.Fail
	}
	return assertion.Pass
}

// --- 基本流程 ---

func TestForward_Success(t *testing.T) {
	g, err := New(capitalDSL, WithModel("gpt-4o"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 0.9")
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Cached)
	assert.Equal(t, "Paris", res.Values["answer"].Str())
	assert.InDelta(t, 0.9, res.Values["confidence"].Num(), 1e-9)
	assert.Equal(t, "Answer: Paris\nConfidence: 0.9", res.Raw)
	assert.Empty(t, res.Reasoning)
	assert.NotEmpty(t, res.TraceID)

	v, ok := res.Value("answer")
	require.True(t, ok)
	assert.Equal(t, signature.KindString, v.Kind())

	require.Equal(t, 1, model.GetCallCount())
	call := model.GetLastCall()
	assert.False(t, call.Stream)
	assert.Equal(t, "gpt-4o", call.Request.Model)
	assert.Equal(t, res.TraceID, call.Request.TraceID)
	assert.Equal(t, "1", call.Request.Metadata["attempt"])
	assert.Contains(t, systemPrompt(*call), "Answer questions about geography.")
	assert.NotContains(t, systemPrompt(*call), "previous answer")
}

func TestForward_ContextCarriesCallScope(t *testing.T) {
	type scope struct {
		traceID, sig string
		attempt      int
	}
	var seen []scope
	replies := []string{"Answer: Paris\nConfidence: high", "Answer: Paris\nConfidence: 0.7"}
	model := llm.TextModel(func(ctx context.Context, _ *llm.ChatRequest) (string, error) {
		traceID, _ := types.TraceID(ctx)
		sig, _ := types.Signature(ctx)
		attempt, _ := types.Attempt(ctx)
		seen = append(seen, scope{traceID, sig, attempt})
		return replies[len(seen)-1], nil
	})

	g, err := New(capitalDSL)
	require.NoError(t, err)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	require.Len(t, seen, 2)
	for i, s := range seen {
		assert.Equal(t, res.TraceID, s.traceID)
		assert.Equal(t, g.Signature().String(), s.sig)
		assert.Equal(t, i+1, s.attempt)
	}
}

func TestForward_OptionalOutputMissingIsNull(t *testing.T) {
	g, err := New(`question -> answer, note?`)
	require.NoError(t, err)

	res, err := g.Forward(context.Background(), mocks.NewSuccessProvider("Answer: yes"),
		signature.Values{"question": signature.String("ok?")})
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Values["answer"].Str())
	assert.True(t, res.Values["note"].IsNull())
}

func TestForward_RetriesWithFeedback(t *testing.T) {
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithMetrics(metrics))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: very high",
		"Answer: Paris\nConfidence: 0.8",
	)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.InDelta(t, 0.8, res.Values["confidence"].Num(), 1e-9)
	// 反馈不出现在结果中
	assert.Equal(t, "Answer: Paris\nConfidence: 0.8", res.Raw)

	calls := model.GetCalls()
	require.Len(t, calls, 2)
	second := systemPrompt(calls[1])
	assert.Contains(t, second, "The previous answer had the following problems")
	assert.Contains(t, second, "- Confidence:")
	assert.Equal(t, "2", calls[1].Request.Metadata["attempt"])
	assert.Equal(t, calls[0].Request.TraceID, calls[1].Request.TraceID)

	assert.Equal(t, []string{reasonValidation}, metrics.failures)
	assert.Equal(t, []string{"confidence"}, metrics.fieldErrors)
	assert.Equal(t, []string{outcomeSuccess}, metrics.generations)
	assert.Equal(t, []int{2}, metrics.attempts)
}

func TestForward_BudgetExhausted(t *testing.T) {
	g, err := New(capitalDSL, WithMaxAttempts(3))
	require.NoError(t, err)

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: sure")
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.Error(t, err)
	assert.Nil(t, res)

	assert.Equal(t, 3, model.GetCallCount(), "exactly MaxAttempts calls")

	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 3, gerr.Attempts)
	assert.Empty(t, gerr.Assertion)
	assert.NotEmpty(t, gerr.TraceID)

	var verr *signature.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "confidence", verr.Field)

	assert.Equal(t, types.ErrGenerationFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestForward_MissingRequiredField(t *testing.T) {
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithMaxAttempts(2), WithMetrics(metrics))
	require.NoError(t, err)

	model := mocks.NewSuccessProvider("Answer: Paris")
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var merr *signature.MissingFieldError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "confidence", merr.Field)
	assert.Equal(t, []string{reasonMissing, reasonMissing}, metrics.failures)

	calls := model.GetCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, systemPrompt(calls[1]), "Confidence: this field is required")
}

func TestForward_PerCallOptionOverride(t *testing.T) {
	g, err := New(capitalDSL, WithMaxAttempts(5))
	require.NoError(t, err)

	model := mocks.NewSuccessProvider("nonsense")
	_, err = g.Forward(context.Background(), model, capitalInputs(), WithMaxAttempts(1))
	require.Error(t, err)
	assert.Equal(t, 1, model.GetCallCount())

	// 生成器本身的配置不受影响
	model.Reset()
	_, err = g.Forward(context.Background(), model, capitalInputs())
	require.Error(t, err)
	assert.Equal(t, 5, model.GetCallCount())
}

// --- 断言 ---

func TestForward_AssertionRetry(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)
	g.AddAssert(notParis, "Answer must not be Paris")
	assert.Equal(t, 1, g.Assertions())

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: 0.9",
		"Answer: Lyon\nConfidence: 0.2",
	)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.Equal(t, "Lyon", res.Values["answer"].Str())
	assert.Equal(t, 2, res.Attempts)

	calls := model.GetCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, systemPrompt(calls[1]), "- Answer must not be Paris")
}

func TestForward_AssertionExhausted(t *testing.T) {
	g, err := New(capitalDSL, WithMaxAttempts(2))
	require.NoError(t, err)
	g.AddAssert(notParis, "Answer must not be Paris")

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 0.9")
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "Answer must not be Paris", gerr.Assertion)
	assert.Equal(t, 2, gerr.Attempts)

	var failure *assertion.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "Answer must not be Paris", failure.Message)
}

func TestForward_AssertionsSeeOnlyValidOutputs(t *testing.T) {
	g, err := New(capitalDSL, WithMaxAttempts(2))
	require.NoError(t, err)

	var checks int
	g.AddAssert(func(out assertion.Output) assertion.Verdict {
		checks++
		return assertion.Pass
	}, "never fails")

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: unsure",
		"Answer: Paris\nConfidence: 1",
	)
	_, err = g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.Equal(t, 1, checks, "assertions run only after validation passes")
}

func TestForward_AddRequire(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)
	g.AddRequire("Confidence must be between 0 and 1", func(out assertion.Output) bool {
		v, _ := out.Value("confidence")
		return v.Num() >= 0 && v.Num() <= 1
	}, "confidence")

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: 7",
		"Answer: Paris\nConfidence: 0.7",
	)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestForward_SeparateAssertionBudget(t *testing.T) {
	t.Run("assertion failures use their own budget", func(t *testing.T) {
		g, err := New(capitalDSL, WithMaxAttempts(2), WithMaxAssertionAttempts(3))
		require.NoError(t, err)
		g.AddAssert(notParis, "Answer must not be Paris")

		model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 0.9")
		_, err = g.Forward(context.Background(), model, capitalInputs())

		var gerr *GenerationError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, 3, model.GetCallCount())
		assert.Equal(t, 3, gerr.Attempts)
	})

	t.Run("validation failures count only against max attempts", func(t *testing.T) {
		g, err := New(capitalDSL, WithMaxAttempts(2), WithMaxAssertionAttempts(3))
		require.NoError(t, err)
		g.AddAssert(notParis, "Answer must not be Paris")

		model := mocks.NewMockProvider().WithResponses(
			"Answer: Lyon\nConfidence: ?",
			"Answer: Paris\nConfidence: 0.9",
			"Answer: Lyon\nConfidence: ?",
		)
		_, err = g.Forward(context.Background(), model, capitalInputs())

		var gerr *GenerationError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, 3, gerr.Attempts)
		assert.Equal(t, 3, model.GetCallCount())

		var verr *signature.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

// --- 传输错误与取消 ---

func TestForward_TransportErrorNotRetried(t *testing.T) {
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithMaxAttempts(5), WithMetrics(metrics))
	require.NoError(t, err)

	upstream := &llm.Error{Code: llm.ErrUpstreamError, Message: "bad gateway", Retryable: true}
	model := mocks.NewErrorProvider(upstream)
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout)
	assert.Equal(t, 1, te.Attempt)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(err))
	assert.Equal(t, 1, model.GetCallCount())
	assert.Equal(t, []string{outcomeTransport}, metrics.generations)
}

func TestForward_TransportTimeout(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)

	model := mocks.NewErrorProvider(&llm.Error{Code: llm.ErrUpstreamTimeout, Message: "upstream timed out"})
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "timed out on attempt 1")
}

func TestForward_TransportErrorAfterRetry(t *testing.T) {
	g, err := New(capitalDSL, WithMaxAttempts(3))
	require.NoError(t, err)

	model := mocks.NewMockProvider().
		WithResponses("Answer: Paris\nConfidence: ?").
		WithError(errors.New("connection reset"))
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempt)
	assert.Equal(t, 2, model.GetCallCount())
}

func TestForward_StreamErrorIsTransport(t *testing.T) {
	g, err := New(capitalDSL, WithStreaming(true), WithMaxAttempts(3))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithChunkSize(4).WithSteps(mocks.Step{
		Text:      "Answer: Par",
		StreamErr: &llm.Error{Code: llm.ErrUpstreamError, Message: "stream reset"},
	})
	_, err = g.Forward(context.Background(), model, capitalInputs())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, model.GetCallCount())
}

func TestForward_CanceledBeforeCall(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 1")
	_, err = g.Forward(ctx, model, capitalInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, model.GetCallCount())
}

func TestForward_DeadlineDuringCall(t *testing.T) {
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithMetrics(metrics))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 1").WithDelay(time.Second)
	_, err = g.Forward(ctx, model, capitalInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "canceled on attempt 1")

	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.Equal(t, []string{outcomeCanceled}, metrics.generations)
}

func TestForward_CanceledMidStreamFiresNoListeners(t *testing.T) {
	var events []FieldEvent
	g, err := New(capitalDSL, WithStreaming(true), WithFieldListener(func(ev FieldEvent) {
		events = append(events, ev)
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// 每个块 10ms，整段需要远超 30ms
	model := mocks.NewStreamProvider("Answer: Paris\nConfidence: 0.9", 1).WithDelay(10 * time.Millisecond)
	_, err = g.Forward(ctx, model, capitalInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, events)
}

// bufferedStream 返回一个流式模型，所有增量在调用时已排队且通道已关闭.
func bufferedStream(parts ...string) llm.Provider {
	return llm.NewFuncModel("buffered", nil, func(_ context.Context, _ *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, len(parts))
		for i, p := range parts {
			ch <- llm.StreamChunk{Index: i, Delta: llm.Message{Role: llm.RoleAssistant, Content: p}}
		}
		close(ch)
		return ch, nil
	})
}

func TestForward_CancelFromListenerStopsNotifications(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{"queued chunks", []string{"Alpha: a\n", "Beta: b\n", "Gamma: c\n"}},
		{"single chunk", []string{"Alpha: a\nBeta: b\nGamma: c\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				var names []string
				g, err := New(`q -> alpha, beta, gamma`, WithStreaming(true), WithFieldListener(func(ev FieldEvent) {
					names = append(names, ev.Name)
					if ev.Name == "alpha" {
						cancel()
					}
				}))
				require.NoError(t, err)

				_, err = g.Forward(ctx, bufferedStream(tt.parts...), signature.Values{"q": signature.String("x")})
				cancel()
				require.ErrorIs(t, err, context.Canceled)
				require.Equal(t, []string{"alpha"}, names, "iteration %d", i)
			}
		})
	}
}

// --- 输入校验 ---

func TestForward_InputErrors(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)
	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 1")

	_, err = g.Forward(context.Background(), model, signature.Values{})
	var ierr *signature.InputError
	require.ErrorAs(t, err, &ierr)

	_, err = g.Forward(context.Background(), model, signature.Values{
		"question": signature.String("q"),
		"extra":    signature.String("x"),
	})
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, err.Error(), "extra")

	assert.Equal(t, 0, model.GetCallCount())

	_, err = g.Forward(context.Background(), nil, capitalInputs())
	assert.Error(t, err)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(`question -> answer:colour`)
	require.Error(t, err)

	_, err = NewFromSignature(nil)
	assert.Error(t, err)

	// reasoning 已被声明时无法启用思维链
	sig := signature.MustParse(`question -> reasoning, answer`)
	_, err = NewFromSignature(sig, WithChainOfThought(true))
	assert.Error(t, err)

	g, err := NewFromSignature(sig)
	require.NoError(t, err)
	assert.Same(t, sig, g.Signature())
}

// --- 思维链 ---

func TestForward_ChainOfThought(t *testing.T) {
	g, err := New(capitalDSL, WithChainOfThought(true))
	require.NoError(t, err)
	g.AddAssert(func(out assertion.Output) assertion.Verdict {
		if out.Has("reasoning") {
			return assertion.Fail
		}
		return assertion.Pass
	}, "reasoning leaked into assertions")

	model := mocks.NewSuccessProvider("Reasoning: France's capital city\nhas been Paris for centuries.\nAnswer: Paris\nConfidence: 0.95")
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	assert.Equal(t, "France's capital city\nhas been Paris for centuries.", res.Reasoning)
	assert.Equal(t, "Paris", res.Values["answer"].Str())
	_, ok := res.Values["reasoning"]
	assert.False(t, ok)
	assert.Len(t, res.Values, 2)

	sys := systemPrompt(*model.GetLastCall())
	assert.Contains(t, sys, "- Reasoning (think step by step")
	assert.Less(t, strings.Index(sys, "Reasoning:"), strings.Index(sys, "Answer:"))
}

func TestForward_ChainOfThoughtReasoningOptional(t *testing.T) {
	g, err := New(capitalDSL, WithChainOfThought(true))
	require.NoError(t, err)

	res, err := g.Forward(context.Background(), mocks.NewSuccessProvider("Answer: Paris\nConfidence: 1"), capitalInputs())
	require.NoError(t, err)
	assert.Empty(t, res.Reasoning)
	assert.Equal(t, 1, res.Attempts)
}

// --- 流式 ---

func TestForward_StreamingListeners(t *testing.T) {
	var (
		mu     sync.Mutex
		events []FieldEvent
	)
	g, err := New(capitalDSL, WithStreaming(true), WithFieldListener(func(ev FieldEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	require.NoError(t, err)

	model := mocks.NewStreamProvider("Answer: Paris\nConfidence: 0.9", 3)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Values["answer"].Str())
	assert.True(t, model.GetLastCall().Stream)

	require.Len(t, events, 2)
	assert.Equal(t, "answer", events[0].Name)
	assert.Equal(t, "Paris", events[0].Value.Str())
	assert.Equal(t, "confidence", events[1].Name)
	assert.NoError(t, events[1].Err)
	assert.Equal(t, 1, events[1].Attempt)
}

func TestForward_ListenerSeesCoercionError(t *testing.T) {
	var events []FieldEvent
	g, err := New(capitalDSL, WithMaxAttempts(2), WithFieldListener(func(ev FieldEvent) {
		events = append(events, ev)
	}))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: lots",
		"Answer: Paris\nConfidence: 0.5",
	)
	_, err = g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	require.Len(t, events, 4)
	var verr *signature.ValidationError
	assert.ErrorAs(t, events[1].Err, &verr)
	assert.Equal(t, 1, events[1].Attempt)
	assert.Equal(t, 2, events[3].Attempt)
	assert.NoError(t, events[3].Err)
}

func TestForward_EarlyAssertionAbortsStream(t *testing.T) {
	var events []FieldEvent
	g, err := New(capitalDSL,
		WithStreaming(true),
		WithEarlyAssertions(true),
		WithFieldListener(func(ev FieldEvent) { events = append(events, ev) }),
	)
	require.NoError(t, err)
	g.AddRequire("Answer must not be Paris", func(out assertion.Output) bool {
		v, _ := out.Value("answer")
		return v.Str() != "Paris"
	}, "answer")

	model := mocks.NewMockProvider().WithChunkSize(2).WithResponses(
		"Answer: Paris\nConfidence: 0.9\n",
		"Answer: Lyon\nConfidence: 0.4\n",
	)
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.Equal(t, "Lyon", res.Values["answer"].Str())
	assert.Equal(t, 2, res.Attempts)

	// 第一次尝试在 answer 完成后即中止，confidence 从未完成
	var first []string
	for _, ev := range events {
		if ev.Attempt == 1 {
			first = append(first, ev.Name)
		}
	}
	assert.Equal(t, []string{"answer"}, first)

	calls := model.GetCalls()
	require.Len(t, calls, 2)
	assert.Contains(t, systemPrompt(calls[1]), "- Answer must not be Paris")
}

// --- 结果缓存 ---

func TestForward_ResultCache(t *testing.T) {
	metrics := &fakeMetrics{}
	rc := cache.NewResultCache(nil, &cache.Config{LocalMaxSize: 10, EnableLocal: true}, zaptest.NewLogger(t))

	g, err := New(capitalDSL, WithResultCache(rc), WithMetrics(metrics))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: 0.9",
		"Answer: Rome\nConfidence: 0.9",
	)

	first, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, first.Raw, second.Raw)
	assert.Equal(t, "Paris", second.Values["answer"].Str())
	assert.NotEqual(t, first.TraceID, second.TraceID)
	assert.Equal(t, 1, model.GetCallCount())

	// 不同输入不命中
	other, err := g.Forward(context.Background(), model,
		signature.Values{"question": signature.String("What is the capital of Italy?")})
	require.NoError(t, err)
	assert.Equal(t, "Rome", other.Values["answer"].Str())
	assert.Equal(t, 2, model.GetCallCount())

	assert.Equal(t, 1, metrics.cacheHits)
	assert.Equal(t, 2, metrics.cacheMisses)
	assert.Equal(t, []string{outcomeSuccess, outcomeCached, outcomeSuccess}, metrics.generations)
}

func TestForward_CachedResultRevalidated(t *testing.T) {
	rc := cache.NewResultCache(nil, &cache.Config{LocalMaxSize: 10, EnableLocal: true}, nil)

	plain, err := New(capitalDSL, WithResultCache(rc))
	require.NoError(t, err)
	_, err = plain.Forward(context.Background(), mocks.NewSuccessProvider("Answer: Paris\nConfidence: 0.9"), capitalInputs())
	require.NoError(t, err)

	// 同一请求，但新增的断言否决了缓存中的回复
	var events []string
	metrics := &fakeMetrics{}
	strict, err := New(capitalDSL, WithResultCache(rc), WithMetrics(metrics),
		WithFieldListener(func(ev FieldEvent) {
			events = append(events, ev.Name+"="+ev.Value.String())
		}))
	require.NoError(t, err)
	strict.AddAssert(notParis, "Answer must not be Paris")

	model := mocks.NewSuccessProvider("Answer: Lyon\nConfidence: 0.3")
	res, err := strict.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "Lyon", res.Values["answer"].Str())
	assert.Equal(t, 1, model.GetCallCount())

	// 被否决的缓存条目不产生监听事件，也不计入状态转换
	assert.Equal(t, []string{"answer=Lyon", "confidence=0.3"}, events)
	require.NotEmpty(t, metrics.transitions)
	assert.Equal(t, "rendering->awaiting_response", metrics.transitions[0])
	assert.Empty(t, metrics.fieldErrors)
	assert.Empty(t, metrics.failures)
	assert.Equal(t, 0, metrics.cacheHits)
	assert.Equal(t, 1, metrics.cacheMisses)
}

func TestForward_CacheHitReplaysListenerEvents(t *testing.T) {
	rc := cache.NewResultCache(nil, &cache.Config{LocalMaxSize: 10, EnableLocal: true}, nil)

	var events []string
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithResultCache(rc), WithMetrics(metrics),
		WithFieldListener(func(ev FieldEvent) {
			events = append(events, ev.Name+"="+ev.Value.String())
		}))
	require.NoError(t, err)

	_, err = g.Forward(context.Background(), mocks.NewSuccessProvider("Answer: Paris\nConfidence: 0.9"), capitalInputs())
	require.NoError(t, err)
	events = nil
	metrics.transitions = nil

	res, err := g.Forward(context.Background(), mocks.NewSuccessProvider("unused"), capitalInputs())
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, []string{"answer=Paris", "confidence=0.9"}, events)
	assert.Equal(t, []string{"rendering->done"}, metrics.transitions)
}

func TestForward_FailedGenerationNotCached(t *testing.T) {
	rc := cache.NewResultCache(nil, &cache.Config{LocalMaxSize: 10, EnableLocal: true}, nil)
	g, err := New(capitalDSL, WithResultCache(rc), WithMaxAttempts(1))
	require.NoError(t, err)

	_, err = g.Forward(context.Background(), mocks.NewSuccessProvider("garbage"), capitalInputs())
	require.Error(t, err)

	model := mocks.NewSuccessProvider("Answer: Paris\nConfidence: 1")
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, model.GetCallCount())
}

// --- 可观测性 ---

func TestForward_StateTransitions(t *testing.T) {
	metrics := &fakeMetrics{}
	g, err := New(capitalDSL, WithMetrics(metrics))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris",
		"Answer: Paris\nConfidence: 1",
	)
	_, err = g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"rendering->awaiting_response",
		"awaiting_response->extracting",
		"extracting->validating",
		"validating->retrying",
		"retrying->rendering",
		"rendering->awaiting_response",
		"awaiting_response->extracting",
		"extracting->validating",
		"validating->asserting",
		"asserting->done",
	}, metrics.transitions)
}

func TestForward_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	g, err := New(capitalDSL, WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	model := mocks.NewMockProvider().WithResponses("Answer: Paris", "Answer: Paris\nConfidence: 1")
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "gen.attempt", spans[0].Name())
	assert.Equal(t, "gen.attempt", spans[1].Name())
	root := spans[2]
	assert.Equal(t, "gen.Forward", root.Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range root.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, res.TraceID, attrs["sigflow.trace_id"].AsString())
	assert.Equal(t, outcomeSuccess, attrs["sigflow.outcome"].AsString())
	assert.Equal(t, int64(2), attrs["sigflow.attempts"].AsInt64())

	assert.Equal(t, root.SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestForward_AttemptRecorder(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	g, err := New(capitalDSL, WithAttemptRecorder(rec))
	require.NoError(t, err)
	g.AddAssert(notParis, "Answer must not be Paris")

	model := mocks.NewMockProvider().WithResponses(
		"Answer: Paris\nConfidence: 1",
		"Answer: Lyon\nConfidence: 1",
	)
	// 记录失败只写日志，不影响生成
	res, err := g.Forward(context.Background(), model, capitalInputs())
	require.NoError(t, err)

	require.Len(t, rec.attempts, 2)
	assert.Equal(t, reasonAssertion, rec.attempts[0].Outcome)
	assert.Equal(t, []string{"Answer must not be Paris"}, rec.attempts[0].Feedback)
	assert.Equal(t, outcomeSuccess, rec.attempts[1].Outcome)
	assert.Empty(t, rec.attempts[1].Feedback)
	assert.Equal(t, res.TraceID, rec.attempts[1].TraceID)
	assert.Equal(t, 2, rec.attempts[1].Number)
}

func TestForward_Concurrent(t *testing.T) {
	g, err := New(capitalDSL)
	require.NoError(t, err)
	g.AddAssert(notParis, "Answer must not be Paris")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := mocks.NewMockProvider().WithResponses(
				"Answer: Paris\nConfidence: 1",
				fmt.Sprintf("Answer: City %d\nConfidence: 0.5", i),
			)
			res, err := g.Forward(context.Background(), model, capitalInputs())
			if err != nil {
				errs <- err
				return
			}
			if got := res.Values["answer"].Str(); got != fmt.Sprintf("City %d", i) {
				errs <- fmt.Errorf("goroutine %d got %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// --- 配置 ---

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.MaxAttempts = 4
	cfg.Engine.MaxAssertionAttempts = 2
	cfg.Engine.ChainOfThought = true
	cfg.Engine.Stream = true
	cfg.Engine.EarlyAssertions = true
	cfg.Engine.ClassMatch = "strict"
	cfg.Engine.DisplayZone = "America/New_York"
	cfg.Engine.Model = "gpt-4o"
	cfg.Tokenizer.Enabled = true
	cfg.Tokenizer.MaxPromptTokens = 512

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)

	o := defaultOptions().apply(opts)
	assert.Equal(t, 4, o.MaxAttempts)
	assert.Equal(t, 2, o.MaxAssertionAttempts)
	assert.True(t, o.ChainOfThought)
	assert.True(t, o.Streaming)
	assert.True(t, o.EarlyAssertions)
	assert.Equal(t, signature.ClassMatchStrict, o.ClassMatch)
	require.NotNil(t, o.DisplayZone)
	assert.Equal(t, "America/New_York", o.DisplayZone.String())
	assert.Equal(t, "gpt-4o", o.Model)
	assert.NotNil(t, o.Tokenizer)
	assert.Equal(t, 512, o.MaxPromptTokens)
}

func TestOptionsFromConfig_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.ClassMatch = "fuzzy"
	_, err := OptionsFromConfig(cfg)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.Engine.DisplayZone = "Mars/Olympus"
	_, err = OptionsFromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display_zone")
}

func TestOptions_ApplyDefaults(t *testing.T) {
	o := defaultOptions().apply([]Option{
		WithMaxAttempts(-1),
		WithMaxAssertionAttempts(-3),
		WithLogger(nil),
		WithMetrics(nil),
		WithTracer(nil),
	})
	assert.Equal(t, DefaultMaxAttempts, o.MaxAttempts)
	assert.Zero(t, o.MaxAssertionAttempts)
	assert.NotNil(t, o.Logger)
	assert.NotNil(t, o.Metrics)
	assert.NotNil(t, o.Tracer)
}
