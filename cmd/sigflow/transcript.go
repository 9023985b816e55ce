package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/sigflow/llm"
)

// =============================================================================
// 📼 脚本化对话记录
// =============================================================================

// transcriptStep 一次模型调用的脚本结果
type transcriptStep struct {
	Text      string `yaml:"text"`
	Error     string `yaml:"error,omitempty"`
	Retryable bool   `yaml:"retryable,omitempty"`
	Timeout   bool   `yaml:"timeout,omitempty"`
}

// transcript 按顺序回放的模型回复
type transcript struct {
	Provider  string           `yaml:"provider"`
	ChunkSize int              `yaml:"chunk_size"`
	Responses []transcriptStep `yaml:"responses"`
}

func loadTranscript(path string) (*transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var t transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	if len(t.Responses) == 0 {
		return nil, fmt.Errorf("transcript %s has no responses", path)
	}
	if t.Provider == "" {
		t.Provider = "transcript"
	}
	return &t, nil
}

// transcriptPlayer 把对话记录作为 llm.Provider 回放，用尽后返回 ErrProviderUnavailable
type transcriptPlayer struct {
	mu    sync.Mutex
	t     *transcript
	next  int
	calls int
}

func newTranscriptProvider(t *transcript) (llm.Provider, *transcriptPlayer) {
	p := &transcriptPlayer{t: t}
	return llm.NewFuncModel(t.Provider, p.completion, p.stream), p
}

// Calls returns how many model calls were made.
func (p *transcriptPlayer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *transcriptPlayer) step() (transcriptStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.next >= len(p.t.Responses) {
		return transcriptStep{}, &llm.Error{
			Code:     llm.ErrProviderUnavailable,
			Message:  fmt.Sprintf("transcript exhausted after %d responses", len(p.t.Responses)),
			Provider: p.t.Provider,
		}
	}
	s := p.t.Responses[p.next]
	p.next++
	if s.Error != "" {
		code := llm.ErrUpstreamError
		if s.Timeout {
			code = llm.ErrUpstreamTimeout
		}
		return transcriptStep{}, &llm.Error{Code: code, Message: s.Error, Retryable: s.Retryable, Provider: p.t.Provider}
	}
	return s, nil
}

func (p *transcriptPlayer) completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.step()
	if err != nil {
		return nil, err
	}
	resp := llm.TextResponse(req.Model, s.Text)
	resp.Provider = p.t.Provider
	return resp, nil
}

func (p *transcriptPlayer) stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.step()
	if err != nil {
		return nil, err
	}
	return llm.StreamText(ctx, s.Text, p.t.ChunkSize), nil
}
