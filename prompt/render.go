package prompt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/llm/tokenizer"
	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/types"
)

// ReasoningField 思维链模式下插入在输出最前面的字段名.
const ReasoningField = "reasoning"

const defaultDescription = "Use the input fields to produce the output fields."

// ErrPromptTooLong is wrapped by the error Render returns when the rendered
// messages exceed the token budget.
var ErrPromptTooLong = errors.New("prompt exceeds token budget")

// Renderer 渲染配置。零值可用：日期时间以 UTC 显示，不做 token 预算检查。
type Renderer struct {
	DisplayZone     *time.Location
	Tokenizer       tokenizer.Tokenizer
	MaxPromptTokens int
}

// Request 渲染结果.
type Request struct {
	System string
	User   string
	Tokens int // 仅在配置了 Tokenizer 时计算
}

// Messages returns the system and user messages.
func (r *Request) Messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: r.System},
		{Role: llm.RoleUser, Content: r.User},
	}
}

// ChatRequest builds the model request for model.
func (r *Request) ChatRequest(model string) *llm.ChatRequest {
	return &llm.ChatRequest{Model: model, Messages: r.Messages()}
}

// Render builds the request for sig and inputs. feedback lines from a failed
// attempt are appended as a corrections block.
func (rd Renderer) Render(sig *signature.Signature, inputs signature.Values, feedback []string) (*Request, error) {
	req := &Request{
		System: rd.system(sig, feedback),
		User:   rd.user(sig, inputs),
	}

	if rd.Tokenizer != nil {
		n, err := rd.Tokenizer.CountMessages([]tokenizer.Message{
			{Role: string(llm.RoleSystem), Content: req.System},
			{Role: string(llm.RoleUser), Content: req.User},
		})
		if err != nil {
			return nil, fmt.Errorf("count prompt tokens: %w", err)
		}
		req.Tokens = n
		if rd.MaxPromptTokens > 0 && n > rd.MaxPromptTokens {
			return nil, types.NewError(types.ErrPromptTooLong,
				fmt.Sprintf("rendered prompt has %d tokens, budget is %d", n, rd.MaxPromptTokens)).
				WithCause(ErrPromptTooLong)
		}
	}
	return req, nil
}

func (rd Renderer) system(sig *signature.Signature, feedback []string) string {
	var sb strings.Builder
	desc := sig.Description()
	if desc == "" {
		desc = defaultDescription
	}
	sb.WriteString(desc)

	sb.WriteString("\n\nInput Fields:\n")
	for _, f := range sig.Inputs() {
		writeFieldLine(&sb, f, "")
	}

	sb.WriteString("\nOutput Fields:\n")
	for _, f := range sig.Outputs() {
		extra := ""
		if f.Name() == ReasoningField {
			extra = "think step by step before producing the other output fields"
		}
		writeFieldLine(&sb, f, extra)
	}

	sb.WriteString("\nFollow this format exactly. Write each output field on its own line, in this order, starting with its label:\n\n")
	for _, f := range sig.Outputs() {
		sb.WriteString(f.Title())
		sb.WriteString(":")
		sb.WriteString(placeholder(f))
		sb.WriteString("\n")
	}

	if len(feedback) > 0 {
		sb.WriteString("\nThe previous answer had the following problems. Correct them and keep to the format above:\n")
		for _, line := range feedback {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeFieldLine(sb *strings.Builder, f signature.Field, extra string) {
	sb.WriteString("- ")
	sb.WriteString(f.Title())
	hint := f.Hint()
	if extra != "" {
		hint = extra
	}
	if hint != "" {
		sb.WriteString(" (")
		sb.WriteString(hint)
		sb.WriteString(")")
	}
	if d := f.Description(); d != "" {
		sb.WriteString(": ")
		sb.WriteString(d)
	}
	sb.WriteString("\n")
}

func placeholder(f signature.Field) string {
	if f.IsArray() {
		return "\n- <" + strings.ToLower(f.Title()) + " item>"
	}
	return " <" + strings.ToLower(f.Title()) + ">"
}

func (rd Renderer) user(sig *signature.Signature, inputs signature.Values) string {
	var sb strings.Builder
	for _, f := range sig.Inputs() {
		v, ok := inputs.Get(f.Name())
		if !ok || v.IsNull() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(f.Title())
		sb.WriteString(":")
		if v.Kind() == signature.KindArray {
			for _, e := range v.Elems() {
				sb.WriteString("\n- ")
				sb.WriteString(rd.FormatValue(e))
			}
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(rd.FormatValue(v))
	}
	return sb.String()
}

// FormatValue serializes a scalar value in the canonical wire form the
// coercer accepts back: dates as YYYY-MM-DD, datetimes in DisplayZone with a
// zone label, JSON compact.
func (rd Renderer) FormatValue(v signature.Value) string {
	switch v.Kind() {
	case signature.KindDate:
		return signature.FormatDate(v.Time())
	case signature.KindDateTime:
		return signature.FormatDateTime(v.Time(), rd.DisplayZone)
	default:
		return v.String()
	}
}
