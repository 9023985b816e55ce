// =============================================================================
// 📦 测试数据工厂 - 会议抽取签名
// =============================================================================
// 一组贯穿解析、渲染、抽取与生成测试的样例：从聊天消息中识别会议
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/sigflow/llm"
	"github.com/BaSui01/sigflow/signature"
)

// MeetingDSL 会议抽取签名
const MeetingDSL = `"Extract meeting details from a chat message." ` +
	`chatMessage, currentDate:datetime -> ` +
	`subject, foundMeeting:boolean, ticketNumber?:number, datesMentioned:datetime[], ` +
	`messageType:class "reminder, follow-up, meeting, other"`

// MeetingResponse 符合 MeetingDSL 的标准回复，带一段会被丢弃的前言
const MeetingResponse = `Here is the analysis.

Subject: Call tomorrow or Friday
Found Meeting: true
Ticket Number: 300
Dates Mentioned:
- 2024-01-16 10:00 America/New_York
- 2024-01-19 10:00 America/New_York
Message Type: meeting
`

// MeetingBadDateResponse 日期无法识别时的回复
const MeetingBadDateResponse = `Subject: Call tomorrow or Friday
Found Meeting: true
Dates Mentioned:
- next tuesday-ish
Message Type: meeting
`

// MeetingSignature 返回解析后的会议签名
func MeetingSignature() *signature.Signature {
	return signature.MustParse(MeetingDSL)
}

// MeetingInputs 返回会议签名的输入
func MeetingInputs() signature.Values {
	return signature.Values{
		"chatMessage": signature.String("Can we talk tomorrow or Friday at 10am about ticket 300?"),
		"currentDate": signature.DateTime(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)),
	}
}

// MeetingExpected 返回 MeetingResponse 应得到的普通 Go 值
func MeetingExpected() map[string]any {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return map[string]any{
		"subject":      "Call tomorrow or Friday",
		"foundMeeting": true,
		"ticketNumber": float64(300),
		"datesMentioned": []any{
			time.Date(2024, 1, 16, 10, 0, 0, 0, ny).UTC(),
			time.Date(2024, 1, 19, 10, 0, 0, 0, ny).UTC(),
		},
		"messageType": "meeting",
	}
}

// =============================================================================
// 🎯 ChatResponse / StreamChunk 工厂
// =============================================================================

// SimpleResponse 返回单一选择的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	resp := llm.TextResponse("gpt-4o", content)
	resp.ID = "resp-001"
	resp.Provider = "mock"
	resp.Usage = llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	return resp
}

// StreamChunks 把 content 按 size 字节切成流式块
func StreamChunks(content string, size int) []llm.StreamChunk {
	if size <= 0 {
		size = len(content)
	}
	var chunks []llm.StreamChunk
	for i := 0; len(content) > 0; i++ {
		n := size
		if n > len(content) {
			n = len(content)
		}
		chunks = append(chunks, llm.StreamChunk{
			Index: i,
			Delta: llm.Message{Role: llm.RoleAssistant, Content: content[:n]},
		})
		content = content[n:]
	}
	return chunks
}
