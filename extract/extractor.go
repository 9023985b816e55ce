package extract

import (
	"context"
	"strings"

	"github.com/BaSui01/sigflow/signature"
)

// Status 字段在一次抽取中的状态.
type Status uint8

const (
	Pending    Status = iota // 尚未出现标记
	InProgress               // 正在接收内容
	Complete                 // 已被下一个标记或输入结束关闭
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	default:
		return "pending"
	}
}

// Completion 字段完成事件.
type Completion struct {
	Field signature.Field
	Index int
	Raw   string
}

// FieldState 单个字段的抽取结果.
type FieldState struct {
	Field  signature.Field
	Status Status
	Raw    string
}

// State 一次抽取的快照，按字段声明顺序排列.
type State struct {
	Fields []FieldState
}

// Get returns the state of the named field.
func (s State) Get(name string) (FieldState, bool) {
	for _, f := range s.Fields {
		if f.Field.Name() == name {
			return f, true
		}
	}
	return FieldState{}, false
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithListener registers a completion listener at construction.
func WithListener(fn func(Completion)) Option {
	return func(e *Extractor) { e.listeners = append(e.listeners, fn) }
}

// WithContext stops completion notifications once ctx is done. Fields still
// open at that point stay InProgress.
func WithContext(ctx context.Context) Option {
	return func(e *Extractor) { e.ctx = ctx }
}

// Extractor 单次尝试的抽取状态机。不是并发安全的，由一个 goroutine 按顺序驱动.
type Extractor struct {
	fields  []signature.Field
	titles  []string
	status  []Status
	buffers []strings.Builder

	current   int // 当前字段下标，-1 表示尚未遇到任何标记
	partial   strings.Builder
	raw       strings.Builder
	finished  bool
	listeners []func(Completion)
	ctx       context.Context
}

// New creates an extractor for the ordered output fields.
func New(fields []signature.Field, opts ...Option) *Extractor {
	e := &Extractor{
		fields:  append([]signature.Field(nil), fields...),
		titles:  make([]string, len(fields)),
		status:  make([]Status, len(fields)),
		buffers: make([]strings.Builder, len(fields)),
		current: -1,
	}
	for i, f := range fields {
		e.titles[i] = f.Title()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnComplete registers a listener called synchronously, in declared field
// order, whenever a field's buffer closes.
func (e *Extractor) OnComplete(fn func(Completion)) {
	e.listeners = append(e.listeners, fn)
}

// Write feeds the next increment. Complete lines are processed immediately;
// a trailing partial line waits for more input or Finish. Writes after
// Finish are ignored.
func (e *Extractor) Write(chunk string) {
	if e.finished || chunk == "" {
		return
	}
	e.raw.WriteString(chunk)

	for {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			e.partial.WriteString(chunk)
			return
		}
		e.partial.WriteString(chunk[:i])
		line := e.partial.String()
		e.partial.Reset()
		e.processLine(line)
		chunk = chunk[i+1:]
	}
}

// Finish processes the trailing partial line and closes the open field.
func (e *Extractor) Finish() {
	if e.finished {
		return
	}
	if e.partial.Len() > 0 {
		line := e.partial.String()
		e.partial.Reset()
		e.processLine(line)
	}
	e.closeCurrent()
	e.finished = true
}

// Finished reports whether Finish has been called.
func (e *Extractor) Finished() bool { return e.finished }

// Raw returns all text received so far.
func (e *Extractor) Raw() string { return e.raw.String() }

// Snapshot returns the current per-field state.
func (e *Extractor) Snapshot() State {
	st := State{Fields: make([]FieldState, len(e.fields))}
	for i, f := range e.fields {
		st.Fields[i] = FieldState{
			Field:  f,
			Status: e.status[i],
			Raw:    strings.TrimSpace(e.buffers[i].String()),
		}
	}
	return st
}

// Consume drives the extractor from a channel of increments until it closes,
// then calls Finish. On cancellation it stops reading and returns ctx.Err()
// without finishing, so no further completions fire, including ones a
// listener would otherwise trigger later in the same increment.
func (e *Extractor) Consume(ctx context.Context, chunks <-chan string) error {
	if e.ctx == nil {
		e.ctx = ctx
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			// select 在 ctx 与已排队的增量之间随机选择
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ok {
				e.Finish()
				return nil
			}
			e.Write(chunk)
		}
	}
}

// ExtractText runs a complete response through a fresh extractor.
func ExtractText(fields []signature.Field, text string) State {
	e := New(fields)
	e.Write(text)
	e.Finish()
	return e.Snapshot()
}

func (e *Extractor) processLine(line string) {
	line = strings.TrimRight(line, "\r")

	if j, value, ok := e.matchMarker(line); ok {
		e.closeCurrent()
		e.current = j
		e.status[j] = InProgress
		e.buffers[j].WriteString(value)
		return
	}

	if e.current < 0 {
		return
	}
	buf := &e.buffers[e.current]
	if e.fields[e.current].SingleLine() {
		if strings.TrimSpace(buf.String()) == "" {
			buf.Reset()
			buf.WriteString(strings.TrimSpace(line))
		}
		return
	}
	buf.WriteString("\n")
	buf.WriteString(line)
}

func (e *Extractor) closeCurrent() {
	if e.current < 0 || e.status[e.current] != InProgress {
		return
	}
	if e.ctx != nil && e.ctx.Err() != nil {
		return
	}
	i := e.current
	e.status[i] = Complete
	c := Completion{Field: e.fields[i], Index: i, Raw: strings.TrimSpace(e.buffers[i].String())}
	for _, fn := range e.listeners {
		fn(c)
	}
}

// matchMarker 检查行是否以当前字段之后某个字段的 "标题:" 开头，返回字段下标与标记后的内容.
func (e *Extractor) matchMarker(line string) (int, string, bool) {
	s := strings.TrimLeft(line, " \t")
	s = strings.TrimPrefix(s, "**")
	for j := e.current + 1; j < len(e.fields); j++ {
		title := e.titles[j]
		if len(s) < len(title) || !strings.EqualFold(s[:len(title)], title) {
			continue
		}
		rest := strings.TrimPrefix(s[len(title):], "**")
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		rest = strings.TrimPrefix(rest[1:], "**")
		return j, strings.TrimSpace(rest), true
	}
	return 0, "", false
}
