package signature

import "strings"

// FieldType 字段类型标签。集合是封闭的，新增类型需要同时扩展 registry。
type FieldType uint8

const (
	TypeString FieldType = iota
	TypeNumber
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeJSON
	TypeClass
)

// typeTags 按 FieldType 索引的 DSL 标签。与 registry 分开存放，
// 转换函数生成错误信息时会引用它。
var typeTags = [...]string{
	TypeString:   "string",
	TypeNumber:   "number",
	TypeBoolean:  "boolean",
	TypeDate:     "date",
	TypeDateTime: "datetime",
	TypeJSON:     "json",
	TypeClass:    "class",
}

// typeSpec 描述一种字段类型：渲染提示、单行约束与转换函数。
type typeSpec struct {
	hint   string
	single bool // 值只占一行，多余的行在抽取时丢弃
	coerce func(f Field, raw string, opts CoerceOptions) (Value, *ValidationError)
}

// registry 是纯函数表，按类型标签索引，初始化后不再修改。
var registry = map[FieldType]typeSpec{
	TypeString: {
		coerce: coerceString,
	},
	TypeNumber: {
		hint:   "number",
		single: true,
		coerce: coerceNumber,
	},
	TypeBoolean: {
		hint:   "boolean, true or false",
		single: true,
		coerce: coerceBoolean,
	},
	TypeDate: {
		hint:   "date, in YYYY-MM-DD format",
		single: true,
		coerce: coerceDate,
	},
	TypeDateTime: {
		hint:   "date and time, in YYYY-MM-DD HH:mm:ss format followed by a time zone",
		single: true,
		coerce: coerceDateTime,
	},
	TypeJSON: {
		hint:   "JSON",
		coerce: coerceJSON,
	},
	TypeClass: {
		single: true,
		coerce: coerceClass,
	},
}

// String returns the DSL tag of the type.
func (t FieldType) String() string {
	if int(t) < len(typeTags) {
		return typeTags[t]
	}
	return "unknown"
}

// ParseFieldType looks up a DSL tag. Tags are case-sensitive.
func ParseFieldType(tag string) (FieldType, bool) {
	for t, name := range typeTags {
		if name == tag {
			return FieldType(t), true
		}
	}
	return 0, false
}

// Hint returns the format guidance rendered next to a field of this type.
func (f Field) Hint() string {
	spec := registry[f.typ]
	hint := spec.hint
	if f.typ == TypeClass {
		hint = "one of: " + strings.Join(f.options, ", ")
	}
	if f.array {
		if hint == "" {
			hint = "list, one item per line starting with \"- \""
		} else {
			hint = "list of " + hint + ", one item per line starting with \"- \""
		}
	}
	if f.optional {
		if hint == "" {
			hint = "optional"
		} else {
			hint += ", optional"
		}
	}
	return hint
}

// SingleLine reports whether the field's value is expected on a single line.
// Arrays, strings and JSON may span lines.
func (f Field) SingleLine() bool {
	return !f.array && registry[f.typ].single
}
