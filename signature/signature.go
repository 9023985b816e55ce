package signature

import (
	"strconv"
	"strings"
)

// Signature 有序的输入字段、输出字段与可选任务描述。
// 解析后不可变，可在并发的生成请求之间安全共享。
type Signature struct {
	description string
	inputs      []Field
	outputs     []Field
}

// Description returns the task description, empty when the DSL had none.
func (s *Signature) Description() string { return s.description }

// Inputs returns a copy of the input fields in declared order.
func (s *Signature) Inputs() []Field { return append([]Field(nil), s.inputs...) }

// Outputs returns a copy of the output fields in declared order.
func (s *Signature) Outputs() []Field { return append([]Field(nil), s.outputs...) }

// Input looks up an input field by name.
func (s *Signature) Input(name string) (Field, bool) { return lookup(s.inputs, name) }

// Output looks up an output field by name.
func (s *Signature) Output(name string) (Field, bool) { return lookup(s.outputs, name) }

// Field looks up a field on either side.
func (s *Signature) Field(name string) (Field, bool) {
	if f, ok := s.Input(name); ok {
		return f, true
	}
	return s.Output(name)
}

func lookup(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	return Field{}, false
}

// String renders the canonical DSL. Parse(s.String()) is structurally equal to s.
func (s *Signature) String() string {
	var sb strings.Builder
	if s.description != "" {
		sb.WriteString(strconv.Quote(s.description))
		sb.WriteString(" ")
	}
	writeFields(&sb, s.inputs)
	sb.WriteString(" -> ")
	writeFields(&sb, s.outputs)
	return sb.String()
}

func writeFields(sb *strings.Builder, fields []Field) {
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
}

// Equal reports structural equality.
func (s *Signature) Equal(o *Signature) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.description == o.description &&
		fieldsEqual(s.inputs, o.inputs) &&
		fieldsEqual(s.outputs, o.outputs)
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// WithOutputPrefix returns a copy of s with f inserted ahead of the declared
// outputs. Used for the chain-of-thought reasoning slot.
func (s *Signature) WithOutputPrefix(f Field) (*Signature, error) {
	dsl := s.String()
	for _, existing := range append(s.Inputs(), s.outputs...) {
		if existing.name == f.name || strings.EqualFold(existing.title, f.title) {
			return nil, &DuplicateFieldError{
				ParseError: &ParseError{DSL: dsl, Token: f.name, Offset: 0,
					Message: "field " + strconv.Quote(f.name) + " collides with an existing field"},
				Name: f.name,
			}
		}
	}
	out := &Signature{
		description: s.description,
		inputs:      s.inputs,
		outputs:     append([]Field{f}, s.outputs...),
	}
	return out, nil
}

// WithDescription returns a copy of s with the task description replaced.
func (s *Signature) WithDescription(desc string) *Signature {
	return &Signature{description: desc, inputs: s.inputs, outputs: s.outputs}
}
