package llm

import (
	"context"
	"fmt"
	"strings"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// Text returns the content of the first choice.
func Text(resp *ChatResponse) (string, error) {
	choice, err := FirstChoice(resp)
	if err != nil {
		return "", err
	}
	return choice.Message.Content, nil
}

// CollectStream drains a stream into one string. It stops at the first chunk
// carrying an error, or when ctx is cancelled.
func CollectStream(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			sb.WriteString(chunk.Delta.Content)
		}
	}
}

// TextResponse wraps text in a single-choice assistant response.
func TextResponse(model, text string) *ChatResponse {
	return &ChatResponse{
		Model: model,
		Choices: []ChatChoice{{
			FinishReason: "stop",
			Message:      Message{Role: RoleAssistant, Content: text},
		}},
	}
}
