// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertValues(t, map[string]any{"answer": "Paris"}, res.Values)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/signature"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertValues 断言输出值与期望的普通 Go 值一致（经 Value.Interface 比较）.
// expected 中未列出的字段不检查；值为 nil 表示期望 Null.
func AssertValues(t *testing.T, expected map[string]any, actual signature.Values) {
	t.Helper()
	for name, want := range expected {
		v, ok := actual.Get(name)
		if !assert.Truef(t, ok, "missing output %q", name) {
			continue
		}
		if want == nil {
			assert.Truef(t, v.IsNull(), "output %q: expected null, got %s", name, v)
			continue
		}
		assert.Equalf(t, want, v.Interface(), "output %q", name)
	}
}

// =============================================================================
// 🌊 流式辅助
// =============================================================================

// CollectStreamContent 拼接通道中全部块的文本
func CollectStreamContent(ch <-chan llm.StreamChunk) string {
	text, _ := llm.CollectStream(context.Background(), ch)
	return text
}

// SendChunksToChannel 把给定文本作为流式块依次写入一个已关闭的缓冲通道
func SendChunksToChannel(parts ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(parts))
	for i, p := range parts {
		ch <- llm.StreamChunk{Index: i, Delta: llm.Message{Role: llm.RoleAssistant, Content: p}}
	}
	close(ch)
	return ch
}

// SystemPrompt 返回请求中的 system 消息
func SystemPrompt(req *llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

// UserPrompt 返回请求中的 user 消息
func UserPrompt(req *llm.ChatRequest) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}
