package signature

import (
	"strconv"
	"strings"
	"unicode"
)

// Field 是 Signature 中一个命名、有类型的槽位。构造后不可变。
type Field struct {
	name        string
	title       string
	typ         FieldType
	array       bool
	optional    bool
	description string
	options     []string
}

// FieldOption configures a Field built with NewField.
type FieldOption func(*Field)

// AsArray marks the field as a list of its base type.
func AsArray() FieldOption {
	return func(f *Field) { f.array = true }
}

// AsOptional marks the field as optional.
func AsOptional() FieldOption {
	return func(f *Field) { f.optional = true }
}

// WithDescription attaches free text used only for prompt rendering.
func WithDescription(desc string) FieldOption {
	return func(f *Field) { f.description = desc }
}

// WithOptions sets the class-enum label set.
func WithOptions(labels ...string) FieldOption {
	return func(f *Field) { f.options = append([]string(nil), labels...) }
}

// NewField builds a field programmatically. Parse is the usual entry point;
// NewField exists for synthetic fields such as the chain-of-thought reasoning slot.
func NewField(name string, typ FieldType, opts ...FieldOption) Field {
	f := Field{name: name, title: toTitle(name), typ: typ}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func (f Field) Name() string        { return f.name }
func (f Field) Title() string       { return f.title }
func (f Field) Type() FieldType     { return f.typ }
func (f Field) IsArray() bool       { return f.array }
func (f Field) IsOptional() bool    { return f.optional }
func (f Field) Description() string { return f.description }

// ClassOptions returns a copy of the class-enum labels.
func (f Field) ClassOptions() []string {
	return append([]string(nil), f.options...)
}

// Marker renders the type part of the field in DSL form, e.g. `:class "a, b"[]`.
func (f Field) Marker() string {
	if f.typ == TypeString && !f.array {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(":")
	sb.WriteString(f.typ.String())
	if f.typ == TypeClass {
		sb.WriteString(" ")
		sb.WriteString(strconv.Quote(strings.Join(f.options, ", ")))
	}
	if f.array {
		sb.WriteString("[]")
	}
	return sb.String()
}

// String renders the field in canonical DSL form.
func (f Field) String() string {
	var sb strings.Builder
	sb.WriteString(f.name)
	sb.WriteString(f.Marker())
	if f.optional {
		sb.WriteString("?")
	}
	if f.description != "" {
		sb.WriteString(" ")
		sb.WriteString(strconv.Quote(f.description))
	}
	return sb.String()
}

// Equal reports structural equality.
func (f Field) Equal(o Field) bool {
	if f.name != o.name || f.typ != o.typ || f.array != o.array ||
		f.optional != o.optional || f.description != o.description ||
		len(f.options) != len(o.options) {
		return false
	}
	for i := range f.options {
		if f.options[i] != o.options[i] {
			return false
		}
	}
	return true
}

// toTitle 把 camelCase / snake_case 名称转换为提示词中的字段标题：
// foundMeeting -> Found Meeting, userID -> User ID, ticket_number -> Ticket Number。
func toTitle(name string) string {
	runes := []rune(name)
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if r == '_' {
			flush()
			continue
		}
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
