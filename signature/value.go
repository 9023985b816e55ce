package signature

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind 标记 Value 中实际存放的变体。
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindDate
	KindDateTime
	KindJSON
	KindClass
	KindArray
)

var kindNames = [...]string{
	KindNull:     "null",
	KindString:   "string",
	KindNumber:   "number",
	KindBoolean:  "boolean",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindJSON:     "json",
	KindClass:    "class",
	KindArray:    "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// kindOf maps a field type to the kind of its scalar values.
func kindOf(t FieldType) Kind {
	switch t {
	case TypeNumber:
		return KindNumber
	case TypeBoolean:
		return KindBoolean
	case TypeDate:
		return KindDate
	case TypeDateTime:
		return KindDateTime
	case TypeJSON:
		return KindJSON
	case TypeClass:
		return KindClass
	default:
		return KindString
	}
}

// Value 是字段值的封闭联合体。零值为 null。
// 时间统一以 UTC 存放；date 为当天 00:00 UTC。
type Value struct {
	kind  Kind
	str   string
	num   float64
	b     bool
	t     time.Time
	js    any
	elems []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a number.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Date wraps the calendar date of t (in t's own location) as midnight UTC.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateTime wraps an instant, normalised to UTC.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t.UTC()} }

// JSON wraps an already-decoded JSON value.
func JSON(v any) Value { return Value{kind: KindJSON, js: v} }

// Class wraps a class-enum label.
func Class(label string) Value { return Value{kind: KindClass, str: label} }

// Array wraps a list of values.
func Array(elems ...Value) Value {
	return Value{kind: KindArray, elems: append([]Value{}, elems...)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string of a string or class value.
func (v Value) Str() string { return v.str }

// Num returns the number of a number value.
func (v Value) Num() float64 { return v.num }

// Bool returns the boolean of a boolean value.
func (v Value) Bool() bool { return v.b }

// Time returns the instant of a date or datetime value.
func (v Value) Time() time.Time { return v.t }

// JSONValue returns the decoded JSON of a json value.
func (v Value) JSONValue() any { return v.js }

// Elems returns a copy of the elements of an array value.
func (v Value) Elems() []Value { return append([]Value(nil), v.elems...) }

// Len returns the number of elements of an array value.
func (v Value) Len() int { return len(v.elems) }

// Interface converts the value to a plain Go value:
// string, float64, bool, time.Time, decoded JSON, []any or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString, KindClass:
		return v.str
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	case KindDate, KindDateTime:
		return v.t
	case KindJSON:
		return v.js
	case KindArray:
		out := make([]any, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality. Instants compare with time.Time.Equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindClass:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBoolean:
		return v.b == o.b
	case KindDate, KindDateTime:
		return v.t.Equal(o.t)
	case KindJSON:
		return reflect.DeepEqual(v.js, o.js)
	case KindArray:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for logs and CLI output. Prompt rendering lives in
// package prompt and uses the canonical formats directly.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString, KindClass:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case KindDate:
		return FormatDate(v.t)
	case KindDateTime:
		return FormatDateTime(v.t, time.UTC)
	case KindJSON:
		data, err := json.Marshal(v.js)
		if err != nil {
			return fmt.Sprintf("%v", v.js)
		}
		return string(data)
	case KindArray:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// MarshalJSON encodes the plain value; dates use YYYY-MM-DD.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindDate:
		return json.Marshal(FormatDate(v.t))
	case KindArray:
		return json.Marshal(v.elems)
	default:
		return json.Marshal(v.Interface())
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', 0, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Values 字段名到值的映射，用于输入与输出。
type Values map[string]Value

// Get returns the value for name.
func (vs Values) Get(name string) (Value, bool) {
	v, ok := vs[name]
	return v, ok
}

// Clone returns a copy that shares no slices with vs.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		if v.kind == KindArray {
			v = Array(v.elems...)
		}
		out[k] = v
	}
	return out
}

// Map converts every value with Interface.
func (vs Values) Map() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Interface()
	}
	return out
}

// ValueFor converts a native Go value into the Value shape expected by f.
// time.Time becomes a date or datetime depending on the field, strings become
// class labels for class fields, slices become arrays.
func ValueFor(f Field, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	if x == nil {
		return Null(), nil
	}
	if f.array {
		elems, err := sliceElems(x)
		if err != nil {
			return Value{}, fmt.Errorf("field %q: %w", f.name, err)
		}
		scalar := f
		scalar.array = false
		out := make([]Value, len(elems))
		for i, e := range elems {
			v, err := ValueFor(scalar, e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q item %d: %w", f.name, i, err)
			}
			out[i] = v
		}
		return Array(out...), nil
	}

	switch f.typ {
	case TypeNumber:
		n, ok := toFloat(x)
		if !ok {
			return Value{}, fmt.Errorf("field %q: expected number, got %T", f.name, x)
		}
		return Number(n), nil
	case TypeBoolean:
		b, ok := x.(bool)
		if !ok {
			return Value{}, fmt.Errorf("field %q: expected bool, got %T", f.name, x)
		}
		return Bool(b), nil
	case TypeDate, TypeDateTime:
		t, ok := x.(time.Time)
		if !ok {
			return Value{}, fmt.Errorf("field %q: expected time.Time, got %T", f.name, x)
		}
		if f.typ == TypeDate {
			return Date(t), nil
		}
		return DateTime(t), nil
	case TypeClass:
		s, ok := x.(string)
		if !ok {
			return Value{}, fmt.Errorf("field %q: expected string label, got %T", f.name, x)
		}
		return Class(s), nil
	case TypeJSON:
		if raw, ok := x.(json.RawMessage); ok {
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return Value{}, fmt.Errorf("field %q: %w", f.name, err)
			}
			return JSON(decoded), nil
		}
		return JSON(x), nil
	default:
		switch s := x.(type) {
		case string:
			return String(s), nil
		case fmt.Stringer:
			return String(s.String()), nil
		}
		return String(fmt.Sprint(x)), nil
	}
}

// ValuesFrom converts a plain map into typed input values for sig.
func ValuesFrom(sig *Signature, in map[string]any) (Values, error) {
	out := make(Values, len(in))
	for name, x := range in {
		f, ok := sig.Input(name)
		if !ok {
			return nil, fmt.Errorf("unknown input field %q", name)
		}
		v, err := ValueFor(f, x)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func sliceElems(x any) ([]any, error) {
	switch s := x.(type) {
	case []any:
		return s, nil
	case []string:
		return toAny(s), nil
	case []float64:
		return toAny(s), nil
	case []int:
		return toAny(s), nil
	case []bool:
		return toAny(s), nil
	case []time.Time:
		return toAny(s), nil
	case []Value:
		return toAny(s), nil
	}
	return nil, fmt.Errorf("expected a slice, got %T", x)
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
