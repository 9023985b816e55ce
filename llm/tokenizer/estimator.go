package tokenizer

import "unicode"

// 估算参数：表意文字约 1.5 字符一个 token，其余约 4 字符一个 token
const (
	ideographCharsPerToken = 1.5
	otherCharsPerToken     = 4.0
	perMessageOverhead     = 4 // 角色标记与分隔符
	replyPrimingOverhead   = 3
	defaultEstimatorLimit  = 4096
)

// ideographs 按单字计 token 的文字
var ideographs = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

// EstimatorTokenizer 按字符类别估算 token 数，用于没有 tiktoken 编码的模型
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer maxTokens <= 0 时取 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultEstimatorLimit
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// CountTokens 非空文本至少计 1
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	var ideo, other int
	for _, r := range text {
		if isIdeograph(r) {
			ideo++
		} else {
			other++
		}
	}

	n := int(float64(ideo)/ideographCharsPerToken + float64(other)/otherCharsPerToken)
	return max(n, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPrimingOverhead
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

func isIdeograph(r rune) bool {
	if r < 0x1100 {
		return false
	}
	// 全角符号与 CJK 标点也按单字计
	if (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF) {
		return true
	}
	return unicode.In(r, ideographs...)
}
