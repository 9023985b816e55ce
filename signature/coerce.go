package signature

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/sigflow/internal/tzdb"
)

// ClassMatch 决定 class 字段的标签匹配策略。
type ClassMatch uint8

const (
	// ClassMatchFold 先精确匹配，再忽略大小写匹配，返回声明时的标签写法。
	ClassMatchFold ClassMatch = iota
	// ClassMatchStrict 仅接受与声明完全一致的标签。
	ClassMatchStrict
)

// ParseClassMatch parses "fold" or "strict".
func ParseClassMatch(s string) (ClassMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fold":
		return ClassMatchFold, nil
	case "strict":
		return ClassMatchStrict, nil
	}
	return 0, fmt.Errorf("unknown class match policy %q", s)
}

func (c ClassMatch) String() string {
	if c == ClassMatchStrict {
		return "strict"
	}
	return "fold"
}

// CoerceOptions 转换时的可配置策略。零值可直接使用。
type CoerceOptions struct {
	ClassMatch ClassMatch
	Zones      *tzdb.DB
}

// Coerce converts raw model text into the typed value of f.
// Surrounding whitespace is ignored. Arrays are split and each element
// coerced with the base type; any failing element fails the whole field.
func Coerce(f Field, raw string, opts CoerceOptions) (Value, *ValidationError) {
	raw = strings.TrimSpace(raw)
	if !f.array {
		return coerceScalar(f, raw, opts)
	}

	items, verr := splitArray(f, raw)
	if verr != nil {
		return Value{}, verr
	}
	scalar := f
	scalar.array = false
	elems := make([]Value, 0, len(items))
	for i, item := range items {
		v, verr := coerceScalar(scalar, item, opts)
		if verr != nil {
			return Value{}, newValidationError(f, raw, fmt.Sprintf("item %d: %s", i+1, verr.Message))
		}
		elems = append(elems, v)
	}
	return Array(elems...), nil
}

func coerceScalar(f Field, raw string, opts CoerceOptions) (Value, *ValidationError) {
	spec, ok := registry[f.typ]
	if !ok {
		return Value{}, newValidationError(f, raw, "unsupported field type")
	}
	return spec.coerce(f, raw, opts)
}

func coerceString(_ Field, raw string, _ CoerceOptions) (Value, *ValidationError) {
	return String(raw), nil
}

func coerceNumber(f Field, raw string, _ CoerceOptions) (Value, *ValidationError) {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, newValidationError(f, raw, "Invalid number. Please provide a plain number such as 42 or 3.14.")
	}
	return Number(n), nil
}

func coerceBoolean(f Field, raw string, _ CoerceOptions) (Value, *ValidationError) {
	switch strings.ToLower(raw) {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	return Value{}, newValidationError(f, raw, "Invalid boolean. Please answer with true or false.")
}

func coerceDate(f Field, raw string, _ CoerceOptions) (Value, *ValidationError) {
	t, err := ParseDate(raw)
	if err != nil {
		return Value{}, newValidationError(f, raw, err.Error())
	}
	return Date(t), nil
}

func coerceDateTime(f Field, raw string, opts CoerceOptions) (Value, *ValidationError) {
	t, err := ParseDateTime(raw, opts.Zones)
	if err != nil {
		return Value{}, newValidationError(f, raw, err.Error())
	}
	return DateTime(t), nil
}

func coerceJSON(f Field, raw string, _ CoerceOptions) (Value, *ValidationError) {
	var decoded any
	if err := json.Unmarshal([]byte(stripFences(raw)), &decoded); err != nil {
		return Value{}, newValidationError(f, raw, "Invalid JSON: "+err.Error())
	}
	return JSON(decoded), nil
}

func coerceClass(f Field, raw string, opts CoerceOptions) (Value, *ValidationError) {
	label := strings.Trim(raw, "\"'`*")
	for _, opt := range f.options {
		if opt == label {
			return Class(opt), nil
		}
	}
	if opts.ClassMatch == ClassMatchFold {
		for _, opt := range f.options {
			if strings.EqualFold(opt, label) {
				return Class(opt), nil
			}
		}
	}
	return Value{}, newValidationError(f, raw,
		fmt.Sprintf("Invalid class. Please choose one of: %s.", strings.Join(f.options, ", ")))
}

var (
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")
	bulletPattern = regexp.MustCompile(`^(?:[-*+•]|\d+[.)])\s+`)
)

// stripFences 去掉模型常见的 markdown 代码块包裹。
func stripFences(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// splitArray 把数组字段的原始文本拆分为元素文本。按优先级接受三种写法：
//  1. JSON 数组：["a, b", "c"]，元素内允许出现逗号；
//  2. Markdown 列表，每行一个元素（"- x"、"* x"、"1. x"），元素内允许出现逗号；
//  3. 单行无项目符号的文本，按逗号拆分，不支持元素内嵌逗号。
func splitArray(f Field, raw string) ([]string, *ValidationError) {
	raw = stripFences(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				out = append(out, jsonItemText(item))
			}
			return out, nil
		}
		// [a, b, c] 这类未加引号的写法，去掉方括号后按逗号拆分
		return splitCommas(raw[1 : len(raw)-1]), nil
	}

	lines := nonEmptyLines(raw)
	bulleted := false
	for _, line := range lines {
		if bulletPattern.MatchString(line) {
			bulleted = true
			break
		}
	}
	if len(lines) == 1 && !bulleted {
		return splitCommas(lines[0]), nil
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimSpace(bulletPattern.ReplaceAllString(line, "")))
	}
	if len(out) == 0 {
		return nil, newValidationError(f, raw, "Invalid list. Please provide one item per line starting with \"- \".")
	}
	return out, nil
}

func jsonItemText(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func splitCommas(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "\"'")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
