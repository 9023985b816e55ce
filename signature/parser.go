package signature

import (
	"fmt"
	"strings"
)

// parser 递归下降解析器，每次前看一个 token。
//
//	signature := [string] fields "->" fields
//	fields    := field { "," field }
//	field     := ident ["?"] [":" ident [string] ["[" "]"]] ["?"] [string]
type parser struct {
	lex *lexer
	tok token
}

// Parse parses a signature DSL such as
//
//	"Summarise a chat" chatMessage, currentDate:datetime -> subject, foundMeeting:boolean, datesMentioned:datetime[]
//
// Errors are *ParseError, *UnknownTypeError or *DuplicateFieldError and carry
// the offending token with its byte offset.
func Parse(dsl string) (*Signature, error) {
	p := &parser{lex: &lexer{src: dsl}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	sig := &Signature{}
	if p.tok.kind == tokString {
		sig.description = p.tok.value
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	inputs, err := p.fields("input")
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokArrow {
		return nil, p.unexpected("expected ',' or '->'")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	outputs, err := p.fields("output")
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.unexpected("expected ',' or end of input")
	}

	if err := checkUnique(dsl, append(append([]fieldAt(nil), inputs...), outputs...)); err != nil {
		return nil, err
	}
	sig.inputs = plainFields(inputs)
	sig.outputs = plainFields(outputs)
	return sig, nil
}

// MustParse is like Parse but panics on error. Intended for package-level signatures.
func MustParse(dsl string) *Signature {
	sig, err := Parse(dsl)
	if err != nil {
		panic(err)
	}
	return sig
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) unexpected(msg string) *ParseError {
	return p.lex.errorf(p.tok.offset, p.tok.text, msg)
}

func (p *parser) fields(side string) ([]fieldAt, error) {
	if p.tok.kind != tokIdent {
		return nil, p.unexpected(fmt.Sprintf("expected %s field name", side))
	}
	var out []fieldAt
	for {
		f, err := p.field()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.tok.kind != tokComma {
			return out, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokIdent {
			return nil, p.unexpected(fmt.Sprintf("expected %s field name after ','", side))
		}
	}
}

func (p *parser) field() (fieldAt, error) {
	name := p.tok
	f := fieldAt{Field: Field{name: name.value, title: toTitle(name.value)}, offset: name.offset}
	if err := p.advance(); err != nil {
		return fieldAt{}, err
	}

	// 可选标记紧跟名称：ticketNumber?:number
	if p.tok.kind == tokQuestion {
		f.optional = true
		if err := p.advance(); err != nil {
			return fieldAt{}, err
		}
	}

	if p.tok.kind == tokColon {
		if err := p.advance(); err != nil {
			return fieldAt{}, err
		}
		if err := p.fieldType(&f.Field); err != nil {
			return fieldAt{}, err
		}
	}

	if p.tok.kind == tokQuestion {
		if f.optional {
			return fieldAt{}, p.unexpected("field already marked optional")
		}
		f.optional = true
		if err := p.advance(); err != nil {
			return fieldAt{}, err
		}
	}

	if p.tok.kind == tokString {
		f.description = p.tok.value
		if err := p.advance(); err != nil {
			return fieldAt{}, err
		}
	}
	return f, nil
}

func (p *parser) fieldType(f *Field) error {
	if p.tok.kind != tokIdent {
		return p.unexpected("expected type name after ':'")
	}
	typ, ok := ParseFieldType(p.tok.value)
	if !ok {
		return &UnknownTypeError{
			ParseError: p.unexpected(fmt.Sprintf("unknown type %q", p.tok.value)),
			Tag:        p.tok.value,
		}
	}
	f.typ = typ
	if err := p.advance(); err != nil {
		return err
	}

	if typ == TypeClass {
		if p.tok.kind != tokString {
			return p.unexpected(`class type requires a quoted label list, e.g. :class "a, b"`)
		}
		labels, err := p.classLabels()
		if err != nil {
			return err
		}
		f.options = labels
		if err := p.advance(); err != nil {
			return err
		}
	}

	if p.tok.kind == tokLBracket {
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.kind != tokRBracket {
			return p.unexpected("expected ']'")
		}
		f.array = true
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) classLabels() ([]string, error) {
	seen := make(map[string]bool)
	var labels []string
	for _, part := range strings.Split(p.tok.value, ",") {
		label := strings.TrimSpace(part)
		if label == "" {
			return nil, p.unexpected("class label list contains an empty label")
		}
		if seen[label] {
			return nil, p.unexpected(fmt.Sprintf("duplicate class label %q", label))
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels, nil
}

// fieldAt 解析期间记录字段在 DSL 中的位置，用于重复字段报错。
type fieldAt struct {
	Field
	offset int
}

// checkUnique 字段名在输入与输出之间唯一（区分大小写）。
// 标题是抽取时的标记，标题相同（忽略大小写）的两个字段同样视为重复。
func checkUnique(dsl string, fields []fieldAt) error {
	names := make(map[string]bool)
	titles := make(map[string]string)
	for _, f := range fields {
		dup := ""
		switch {
		case names[f.name]:
			dup = fmt.Sprintf("duplicate field %q", f.name)
		case titles[strings.ToLower(f.title)] != "":
			dup = fmt.Sprintf("field %q renders the same title %q as field %q",
				f.name, f.title, titles[strings.ToLower(f.title)])
		}
		if dup != "" {
			return &DuplicateFieldError{
				ParseError: &ParseError{DSL: dsl, Token: f.name, Offset: f.offset, Message: dup},
				Name:       f.name,
			}
		}
		names[f.name] = true
		titles[strings.ToLower(f.title)] = f.name
	}
	return nil
}

func plainFields(in []fieldAt) []Field {
	out := make([]Field, len(in))
	for i, f := range in {
		out[i] = f.Field
	}
	return out
}
