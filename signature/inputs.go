package signature

import (
	"fmt"
	"slices"
	"sort"
)

// ValidateInputs checks caller-supplied inputs against sig before any model call:
// every required input is present, each value has the shape of its field type,
// class values are declared labels, and no unknown names are supplied.
// All problems are collected into a single *InputError.
func ValidateInputs(sig *Signature, values Values) error {
	var problems []string
	for _, f := range sig.inputs {
		v, ok := values[f.name]
		if !ok || v.IsNull() {
			if !f.optional {
				problems = append(problems, fmt.Sprintf("input %q is required", f.name))
			}
			continue
		}
		if msg := checkShape(f, v); msg != "" {
			problems = append(problems, fmt.Sprintf("input %q: %s", f.name, msg))
		}
	}

	var unknown []string
	for name := range values {
		if _, ok := sig.Input(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		problems = append(problems, fmt.Sprintf("unknown input %q", name))
	}

	if len(problems) > 0 {
		return &InputError{Problems: problems}
	}
	return nil
}

func checkShape(f Field, v Value) string {
	if f.array {
		if v.kind != KindArray {
			return fmt.Sprintf("expected %s[], got %s", f.typ, v.kind)
		}
		for i, e := range v.elems {
			if msg := checkScalar(f, e); msg != "" {
				return fmt.Sprintf("item %d: %s", i+1, msg)
			}
		}
		return ""
	}
	return checkScalar(f, v)
}

func checkScalar(f Field, v Value) string {
	want := kindOf(f.typ)
	// 字符串字段也接受 class 值，二者都是文本
	if want == KindString && v.kind == KindClass {
		return ""
	}
	if v.kind != want {
		return fmt.Sprintf("expected %s, got %s", f.typ, v.kind)
	}
	if f.typ == TypeClass && !slices.Contains(f.options, v.str) {
		return fmt.Sprintf("%q is not one of the labels %v", v.str, f.options)
	}
	return ""
}
