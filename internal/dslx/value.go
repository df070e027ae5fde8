// Package dslx implements the small expression language used to template
// HTTP-tool URLs, headers and bodies (member access, indexing, arithmetic,
// comparisons, ternary, pipe, object/array literals, and a fixed set of
// built-in functions). Evaluation is pure and side-effect-free except that
// it reads from the caller-supplied Context.
package dslx

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
	KindFunction
)

// Func is the signature of a DSL-callable Go function: it receives already
// evaluated arguments and returns a Value or an error.
type Func func(args []Value) (Value, error)

// Value is a tagged variant over the DSL's value space. Member/index lookup
// on the wrong Kind is total: it returns Null rather than panicking or
// erroring, matching the source DSL's graceful-degradation behavior.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
	fn   Func
}

func Null() Value                { return Value{kind: KindNull} }
func String(s string) Value       { return Value{kind: KindString, str: s} }
func Number(n float64) Value      { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Array(items []Value) Value   { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}
func Function(f Func) Value { return Value{kind: KindFunction, fn: f} }

func (v Value) Kind() Kind { return v.kind }

// FromAny converts an arbitrary Go value (as produced by encoding/json.
// Unmarshal into any, or hand-built maps/slices) into a Value.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromAny(e)
		}
		return Array(out)
	case []Value:
		return Array(x)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = FromAny(e)
		}
		return Object(out)
	case map[string]Value:
		return Object(x)
	case Func:
		return Function(x)
	default:
		return String(fmt.Sprintf("%v", x))
	}
}

// ToAny converts a Value back to a plain Go value suitable for
// encoding/json.Marshal or further host-side processing.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.ToAny()
		}
		return out
	case KindFunction:
		return v.fn
	default:
		return nil
	}
}

// Truthy mirrors the source DSL's is_truthy: null is false, bool is itself,
// numbers are false only at zero, strings/arrays/objects are false only
// when empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0
	case KindString:
		return len(v.str) > 0
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	default:
		return true
	}
}

// AsString renders the value the way toString() does.
func (v Value) AsString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindArray, KindObject:
		b, err := json.Marshal(v.ToAny())
		if err != nil {
			return fmt.Sprintf("<JSON Error: %s>", err)
		}
		return string(b)
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// Member implements obj.prop / obj[key] lookup: total, returns Null on any
// mismatch (wrong Kind, missing key, out-of-range index) rather than error.
func (v Value) Member(key Value) Value {
	switch v.kind {
	case KindObject:
		return getObjectKey(v.obj, key.AsString())
	case KindArray:
		idx, ok := numericIndex(key)
		if !ok || idx < 0 || idx >= len(v.arr) {
			return Null()
		}
		return v.arr[idx]
	default:
		return Null()
	}
}

func getObjectKey(m map[string]Value, key string) Value {
	if val, ok := m[key]; ok {
		return val
	}
	return Null()
}

func numericIndex(key Value) (int, bool) {
	switch key.kind {
	case KindNumber:
		return int(key.num), true
	case KindString:
		var i int
		if _, err := fmt.Sscanf(key.str, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Keys returns the sorted keys of an object Value, or nil otherwise.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns the elements of an array Value, or nil otherwise.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Raw exposes the underlying map for object Values (used by functions.go).
func (v Value) Raw() map[string]Value { return v.obj }

// Call invokes a function Value.
func (v Value) Call(args []Value) (Value, error) {
	if v.kind != KindFunction {
		return Null(), fmt.Errorf("value is not callable")
	}
	return v.fn(args)
}

// Equal implements the DSL's == by comparing the canonical Go
// representation, matching the source's Python `==`.
func Equal(a, b Value) bool {
	return deepEqual(a.ToAny(), b.ToAny())
}

func deepEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
