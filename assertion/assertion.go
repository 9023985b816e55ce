package assertion

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/sigflow/signature"
	"github.com/BaSui01/sigflow/types"
)

// Verdict 单条规则的评估结论.
type Verdict uint8

const (
	Pass Verdict = iota
	Fail
	Indeterminate
)

func (v Verdict) String() string {
	switch v {
	case Fail:
		return "fail"
	case Indeterminate:
		return "indeterminate"
	default:
		return "pass"
	}
}

// Predicate 对输出做语义判断.
type Predicate func(Output) Verdict

// Rule 断言规则.
type Rule struct {
	Predicate Predicate
	Message   string
}

// Failure 断言失败。Message 即规则消息，会作为纠正反馈注入下一次渲染.
type Failure struct {
	Message string
	Rule    int    // 规则在引擎中的下标
	Panic   string // 谓词 panic 时的内容
}

func (f *Failure) Error() string {
	if f.Panic != "" {
		return fmt.Sprintf("assertion %d panicked (%s): %s", f.Rule, f.Panic, f.Message)
	}
	return "assertion failed: " + f.Message
}

// ErrorCode implements types.CodedError.
func (f *Failure) ErrorCode() types.ErrorCode { return types.ErrAssertionFailed }

// Engine 有序断言规则集合。规则通常在启动阶段注册，之后被多个生成请求并发读取.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Add appends a rule. A nil predicate is ignored.
func (e *Engine) Add(pred Predicate, message string) {
	if pred == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, Rule{Predicate: pred, Message: message})
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Rules returns a copy of the registered rules in order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Check evaluates rules in order against out and returns the first failure,
// or nil when every rule passes or is indeterminate.
func (e *Engine) Check(out Output) *Failure {
	for i, r := range e.Rules() {
		if f := evaluate(i, r, out); f != nil {
			return f
		}
	}
	return nil
}

func evaluate(i int, r Rule, out Output) (failure *Failure) {
	defer func() {
		if p := recover(); p != nil {
			failure = &Failure{Message: r.Message, Rule: i, Panic: fmt.Sprint(p)}
		}
	}()
	if r.Predicate(out) == Fail {
		return &Failure{Message: r.Message, Rule: i}
	}
	return nil
}

// Output 对一次尝试已转换输出的只读视图.
type Output struct {
	values signature.Values
}

// NewOutput wraps values. The map is copied.
func NewOutput(values signature.Values) Output {
	return Output{values: values.Clone()}
}

// Value returns the typed value of name. Null values count as absent.
func (o Output) Value(name string) (signature.Value, bool) {
	v, ok := o.values[name]
	if !ok || v.IsNull() {
		return signature.Value{}, false
	}
	return v, true
}

// Get returns the plain Go value of name.
func (o Output) Get(name string) (any, bool) {
	v, ok := o.Value(name)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

// Has reports whether name holds a non-null value.
func (o Output) Has(name string) bool {
	_, ok := o.Value(name)
	return ok
}

// Names returns the present field names, sorted.
func (o Output) Names() []string {
	names := make([]string, 0, len(o.values))
	for name, v := range o.values {
		if !v.IsNull() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Require builds a predicate that is Indeterminate until every named field is
// present, then reports fn's answer.
func Require(names []string, fn func(Output) bool) Predicate {
	names = append([]string(nil), names...)
	return func(out Output) Verdict {
		for _, name := range names {
			if !out.Has(name) {
				return Indeterminate
			}
		}
		if fn(out) {
			return Pass
		}
		return Fail
	}
}
