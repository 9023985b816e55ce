// MockProvider 的模型调用测试模拟实现。
//
// 支持按脚本依次返回的响应、流式输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/sigflow/llm"
)

// --- MockProvider 结构 ---

// Step 脚本中的一次调用结果：Err 非空时返回错误，否则返回 Text.
type Step struct {
	Text string
	Err  error
	// StreamErr 在流式输出完 Text 之后作为最后一个块的错误下发
	StreamErr *llm.Error
}

// MockProvider 是 llm.Provider 的模拟实现。脚本用尽后重复最后一步.
type MockProvider struct {
	mu sync.Mutex

	name      string
	steps     []Step
	chunkSize int           // 流式分块大小（字节），0 表示整段一个块
	delay     time.Duration // 每次调用（或每个流式块）前的延迟

	calls     []MockProviderCall
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request *llm.ChatRequest
	Stream  bool
	Text    string
	Error   error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock"}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponses 依次返回给定文本
func (m *MockProvider) WithResponses(texts ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.steps = append(m.steps, Step{Text: t})
	}
	return m
}

// WithError 追加一个返回错误的步骤
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, Step{Err: err})
	return m
}

// WithSteps 追加任意步骤
func (m *MockProvider) WithSteps(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
	return m
}

// WithChunkSize 设置流式分块大小
func (m *MockProvider) WithChunkSize(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSize = n
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MockProvider) next(req *llm.ChatRequest, stream bool) (Step, time.Duration, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var step Step
	if n := len(m.steps); n > 0 {
		i := m.callCount
		if i >= n {
			i = n - 1
		}
		step = m.steps[i]
	}
	m.callCount++
	m.calls = append(m.calls, MockProviderCall{Request: req, Stream: stream, Text: step.Text, Error: step.Err})
	return step, m.delay, m.chunkSize
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Completion 返回脚本中的下一步
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	step, delay, _ := m.next(req, false)
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := llm.TextResponse(req.Model, step.Text)
	resp.ID = "mock-response-id"
	resp.Provider = m.Name()
	return resp, nil
}

// Stream 把脚本中的下一步按 chunkSize 分块下发。ctx 取消后立即关闭通道.
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	step, delay, size := m.next(req, true)
	if step.Err != nil {
		return nil, step.Err
	}

	parts := splitText(step.Text, size)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, part := range parts {
			if sleep(ctx, delay) != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ch <- llm.StreamChunk{Index: i, Delta: llm.Message{Role: llm.RoleAssistant, Content: part}}:
			}
		}
		if step.StreamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- llm.StreamChunk{Err: step.StreamErr}:
			}
		}
	}()
	return ch, nil
}

func splitText(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	var parts []string
	for len(text) > size {
		parts = append(parts, text[:size])
		text = text[size:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// --- 调用记录 ---

// GetCalls 返回所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GetLastCall 返回最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset 清空调用记录并从脚本开头重新开始
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
}

// --- 预设构造 ---

// NewSuccessProvider 始终返回同一段文本
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponses(response)
}

// NewErrorProvider 始终返回错误
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewStreamProvider 以固定分块大小流式返回文本
func NewStreamProvider(response string, chunkSize int) *MockProvider {
	return NewMockProvider().WithResponses(response).WithChunkSize(chunkSize)
}

var _ llm.Provider = (*MockProvider)(nil)
