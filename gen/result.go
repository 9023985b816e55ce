package gen

import "github.com/BaSui01/sigflow/signature"

// Result 成功生成的结果。失败尝试的反馈只出现在内部日志中.
type Result struct {
	Values    signature.Values // 声明的输出字段；缺失的可选字段为 Null
	Raw       string           // 成功尝试的原始回复
	Reasoning string           // 思维链模式下的推理文本
	Attempts  int              // 使用的尝试次数；命中结果缓存时为 0
	TraceID   string
	Cached    bool
}

// Value returns the typed output value of name.
func (r *Result) Value(name string) (signature.Value, bool) {
	return r.Values.Get(name)
}
