package signature

import (
	"strconv"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokArrow
	tokComma
	tokColon
	tokQuestion
	tokLBracket
	tokRBracket
)

var tokenNames = [...]string{
	tokEOF:      "end of input",
	tokIdent:    "identifier",
	tokString:   "quoted string",
	tokArrow:    "'->'",
	tokComma:    "','",
	tokColon:    "':'",
	tokQuestion: "'?'",
	tokLBracket: "'['",
	tokRBracket: "']'",
}

func (k tokenKind) String() string { return tokenNames[k] }

// token 词法单元。text 为源文本片段，value 为字符串字面量解码后的内容。
type token struct {
	kind   tokenKind
	text   string
	value  string
	offset int
}

// lexer 按需产生 token，记录每个 token 在 DSL 中的字节偏移。
type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(offset int, text, msg string) *ParseError {
	return &ParseError{DSL: l.src, Token: text, Offset: offset, Message: msg}
}

func (l *lexer) next() (token, *ParseError) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	start := l.pos
	if start >= len(l.src) {
		return token{kind: tokEOF, offset: start}, nil
	}

	single := func(k tokenKind) (token, *ParseError) {
		l.pos++
		return token{kind: k, text: l.src[start:l.pos], offset: start}, nil
	}

	switch c := l.src[start]; {
	case c == ',':
		return single(tokComma)
	case c == ':':
		return single(tokColon)
	case c == '?':
		return single(tokQuestion)
	case c == '[':
		return single(tokLBracket)
	case c == ']':
		return single(tokRBracket)
	case c == '-':
		if start+1 < len(l.src) && l.src[start+1] == '>' {
			l.pos += 2
			return token{kind: tokArrow, text: "->", offset: start}, nil
		}
		return token{}, l.errorf(start, "-", "expected '->'")
	case c == '"':
		return l.lexString()
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		return token{kind: tokIdent, text: text, value: text, offset: start}, nil
	}

	_, size := utf8.DecodeRuneInString(l.src[start:])
	return token{}, l.errorf(start, l.src[start:start+size], "unexpected character")
}

func (l *lexer) lexString() (token, *ParseError) {
	start := l.pos
	i := start + 1
	for i < len(l.src) {
		switch l.src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			text := l.src[start : i+1]
			value, err := strconv.Unquote(text)
			if err != nil {
				return token{}, l.errorf(start, text, "invalid string literal")
			}
			l.pos = i + 1
			return token{kind: tokString, text: text, value: value, offset: start}, nil
		}
		i++
	}
	return token{}, l.errorf(start, l.src[start:], "unterminated string")
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}
