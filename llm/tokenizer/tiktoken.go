package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// 模型名到 tiktoken 编码与上下文长度.
var modelEncodings = map[string]encodingInfo{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4.1":       {encoding: "o200k_base", maxTokens: 1047576},
	"o3":            {encoding: "o200k_base", maxTokens: 200000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// TiktokenTokenizer 基于 tiktoken 的精确计数.
// 编码表在首次使用时加载，加载失败时退化为估算器.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *EstimatorTokenizer
}

func newTiktoken(model string, info encodingInfo) *TiktokenTokenizer {
	return &TiktokenTokenizer{model: model, encoding: info.encoding, maxTokens: info.maxTokens}
}

// NewTiktokenTokenizer creates a tiktoken tokenizer, defaulting to cl100k_base
// for unknown model names.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, ok := lookupEncoding(model)
	if !ok {
		info = encodingInfo{encoding: "cl100k_base", maxTokens: 8192}
	}
	return newTiktoken(model, info)
}

func (t *TiktokenTokenizer) load() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.fallback = NewEstimatorTokenizer(t.model, t.maxTokens)
			return
		}
		t.enc = enc
	})
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	t.load()
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	t.load()
	if t.enc == nil {
		return t.fallback.CountMessages(messages)
	}
	total := 0
	for _, msg := range messages {
		// <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(msg.Role, nil, nil))
	}
	return total + 3, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.maxTokens }

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
