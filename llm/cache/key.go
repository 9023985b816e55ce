package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/sigflow/llm"
)

const keyPrefix = "sigflow:result:"

type keyMaterial struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Extra    []string      `json:"extra,omitempty"`
}

// RequestKey 生成缓存键。只使用模型名与消息内容，TraceID 等每次不同的字段不参与计算；
// extra 用于区分影响结果解释方式的选项。
func RequestKey(req *llm.ChatRequest, extra ...string) string {
	m := keyMaterial{Model: req.Model, Messages: req.Messages, Extra: extra}
	data, err := json.Marshal(m)
	if err != nil {
		// fallback: 使用 fmt.Sprintf 生成确定性字符串避免 key 碰撞
		data = []byte(fmt.Sprintf("%v", m))
	}
	hash := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(hash[:16]) // 使用前 16 字节
}
