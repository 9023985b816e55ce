package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer 统一的 token 计数接口，供提示词预算检查使用.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 轻量级消息结构，避免 tokenizer 依赖 llm 包.
type Message struct {
	Role    string
	Content string
}

// 按模型名缓存的分词器.
var (
	cache   = make(map[string]Tokenizer)
	cacheMu sync.Mutex
)

// ForModel returns a tokenizer for model: tiktoken for OpenAI-family model
// names (exact or prefix match), the character estimator otherwise.
// Instances are cached per model name.
func ForModel(model string) Tokenizer {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if t, ok := cache[model]; ok {
		return t
	}

	var t Tokenizer
	if info, ok := lookupEncoding(model); ok {
		t = newTiktoken(model, info)
	} else {
		t = NewEstimatorTokenizer(model, 0)
	}
	cache[model] = t
	return t
}

func lookupEncoding(model string) (encodingInfo, bool) {
	if info, ok := modelEncodings[model]; ok {
		return info, true
	}
	// 最长前缀优先，gpt-4o-mini-2024 应匹配 gpt-4o-mini 而不是 gpt-4
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return encodingInfo{}, false
	}
	return modelEncodings[best], true
}
