package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("local", 0)
	assert.Equal(t, 4096, e.MaxTokens())

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.CountTokens("会议时间")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.CountTokens("こんにちは")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "non-empty text counts at least one token")
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("local", 100)
	n, err := e.CountMessages([]Message{
		{Role: "system", Content: "abcdefgh"},
		{Role: "user", Content: "abcd"},
	})
	require.NoError(t, err)
	assert.Equal(t, (2+4)+(1+4)+3, n)
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "estimator", ForModel("llama-3").Name())
	assert.Same(t, ForModel("llama-3"), ForModel("llama-3"))

	tk := ForModel("gpt-4o-mini-2024-07-18")
	assert.Equal(t, "tiktoken[o200k_base]", tk.Name())
	assert.Equal(t, 128000, tk.MaxTokens())

	assert.Equal(t, "tiktoken[cl100k_base]", ForModel("gpt-4-0613").Name())
}

func TestLookupEncoding_LongestPrefix(t *testing.T) {
	info, ok := lookupEncoding("gpt-4-turbo-preview")
	require.True(t, ok)
	assert.Equal(t, 128000, info.maxTokens)

	_, ok = lookupEncoding("claude")
	assert.False(t, ok)
}
