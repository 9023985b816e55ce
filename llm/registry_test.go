package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedModel(name string) Provider {
	return NewFuncModel(name, func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return TextResponse("", name), nil
	}, nil)
}

func TestProviderRegistry(t *testing.T) {
	r := NewProviderRegistry()
	r.Register(namedModel("script"))
	r.Register(namedModel("echo"))

	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "script", p.Name(), "first registered is the default")

	require.NoError(t, r.SetDefault("echo"))
	p, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())

	assert.Error(t, r.SetDefault("nope"))
	_, err = r.Resolve("nope")
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrProviderUnavailable, llmErr.Code)

	assert.Equal(t, []string{"echo", "script"}, r.List())
}
