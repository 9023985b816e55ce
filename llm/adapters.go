package llm

import (
	"context"
	"strings"
)

// CompletionFunc adapts a function to the synchronous half of Model.
type CompletionFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// StreamFunc adapts a function to the streaming half of Model.
type StreamFunc func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

// funcModel 由两个函数组成的 Model。缺少 stream 时由 completion 模拟为单块流。
type funcModel struct {
	name       string
	completion CompletionFunc
	stream     StreamFunc
}

// NewFuncModel builds a Provider from functions. stream may be nil.
func NewFuncModel(name string, completion CompletionFunc, stream StreamFunc) Provider {
	return &funcModel{name: name, completion: completion, stream: stream}
}

// TextModel adapts a plain "request in, text out" function, the minimal
// capability the generation engine needs.
func TextModel(fn func(ctx context.Context, req *ChatRequest) (string, error)) Provider {
	return NewFuncModel("text", func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		text, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return TextResponse(req.Model, text), nil
	}, nil)
}

func (m *funcModel) Name() string { return m.name }

func (m *funcModel) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return m.completion(ctx, req)
}

func (m *funcModel) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if m.stream != nil {
		return m.stream(ctx, req)
	}
	resp, err := m.completion(ctx, req)
	if err != nil {
		return nil, err
	}
	text, err := Text(resp)
	if err != nil {
		return nil, err
	}
	return StreamText(ctx, text, 0), nil
}

// StreamText replays text as a stream of chunks of at most size bytes
// (the whole text when size <= 0), respecting UTF-8 boundaries.
// The channel closes early when ctx is cancelled.
func StreamText(ctx context.Context, text string, size int) <-chan StreamChunk {
	parts := splitChunks(text, size)
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for i, part := range parts {
			select {
			case <-ctx.Done():
				return
			case ch <- StreamChunk{Index: i, Delta: Message{Role: RoleAssistant, Content: part}}:
			}
		}
	}()
	return ch
}

func splitChunks(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	var parts []string
	var sb strings.Builder
	for _, r := range text {
		if sb.Len() > 0 && sb.Len()+len(string(r)) > size {
			parts = append(parts, sb.String())
			sb.Reset()
		}
		sb.WriteRune(r)
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}
