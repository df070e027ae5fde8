package dslx

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// builtins is the fixed set of functions available unqualified in any
// expression, matching the source DSL's registry plus its extra
// convenience helpers (filterBy, pluck, filterActive, getNames, includes).
var builtins = map[string]Func{
	"toString": fnToString,
	"toNumber": fnToNumber,
	"toJSON":   fnToJSON,
	"fromJSON": fnFromJSON,
	"length":   fnLength,
	"map":      fnMap,
	"filter":   fnFilter,
	"find":     fnFind,
	"sort":     fnSort,
	"slice":    fnSlice,
	"concat":   fnConcat,
	"join":     fnJoin,
	"keys":     fnKeys,
	"values":   fnValues,
	"merge":    fnMerge,
	"pick":     fnPick,
	"omit":     fnOmit,
	"split":    fnSplit,
	"replace":  fnReplace,
	"match":    fnMatch,
	"extract":  fnExtract,
	"default":  fnDefault,

	"filterBy":     fnFilterBy,
	"pluck":        fnPluck,
	"filterActive": fnFilterActive,
	"getNames":     fnGetNames,
	"includes":     fnIncludes,
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Null()
}

func fnToString(args []Value) (Value, error) {
	return String(arg(args, 0).AsString()), nil
}

func fnToNumber(args []Value) (Value, error) {
	v := arg(args, 0)
	switch v.Kind() {
	case KindNumber:
		return v, nil
	case KindBool:
		if v.b {
			return Number(1), nil
		}
		return Number(0), nil
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return Null(), newEvalError(ErrInvalidArgument, "toNumber: cannot convert %q", v.str)
		}
		return Number(n), nil
	default:
		return Null(), newEvalError(ErrInvalidArgument, "toNumber: cannot convert value")
	}
}

func fnToJSON(args []Value) (Value, error) {
	b, err := json.Marshal(arg(args, 0).ToAny())
	if err != nil {
		return Null(), newEvalError(ErrInvalidArgument, "toJSON: %s", err)
	}
	return String(string(b)), nil
}

func fnFromJSON(args []Value) (Value, error) {
	v := arg(args, 0)
	if v.Kind() != KindString {
		return Null(), newEvalError(ErrTypeMismatch, "fromJSON: expected a string")
	}
	var out any
	if err := json.Unmarshal([]byte(v.str), &out); err != nil {
		return Null(), newEvalError(ErrInvalidArgument, "fromJSON: %s", err)
	}
	return FromAny(out), nil
}

func fnLength(args []Value) (Value, error) {
	v := arg(args, 0)
	switch v.Kind() {
	case KindString:
		return Number(float64(len([]rune(v.str)))), nil
	case KindArray:
		return Number(float64(len(v.arr))), nil
	case KindObject:
		return Number(float64(len(v.obj))), nil
	case KindNull:
		return Number(0), nil
	default:
		return Null(), newEvalError(ErrTypeMismatch, "length: unsupported type")
	}
}

func fnMap(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	fn := arg(args, 1)
	out := make([]Value, len(items))
	for i, it := range items {
		v, err := fn.Call([]Value{it})
		if err != nil {
			return Null(), err
		}
		out[i] = v
	}
	return Array(out), nil
}

func fnFilter(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	fn := arg(args, 1)
	var out []Value
	for _, it := range items {
		v, err := fn.Call([]Value{it})
		if err != nil {
			return Null(), err
		}
		if v.Truthy() {
			out = append(out, it)
		}
	}
	return Array(out), nil
}

func fnFind(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	fn := arg(args, 1)
	for _, it := range items {
		v, err := fn.Call([]Value{it})
		if err != nil {
			return Null(), err
		}
		if v.Truthy() {
			return it, nil
		}
	}
	return Null(), nil
}

func fnSort(args []Value) (Value, error) {
	items := append([]Value(nil), arg(args, 0).Items()...)
	var fn Value
	hasFn := len(args) > 1
	if hasFn {
		fn = args[1]
	}
	var sortErr error
	sort.SliceStable(items, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		if hasFn {
			r, err := fn.Call([]Value{items[i], items[j]})
			if err != nil {
				sortErr = err
				return false
			}
			return r.num < 0
		}
		a, b := items[i], items[j]
		if a.Kind() == KindNumber && b.Kind() == KindNumber {
			return a.num < b.num
		}
		return a.AsString() < b.AsString()
	})
	if sortErr != nil {
		return Null(), sortErr
	}
	return Array(items), nil
}

func fnSlice(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	start := 0
	end := len(items)
	if len(args) > 1 {
		start = clampIndex(int(arg(args, 1).num), len(items))
	}
	if len(args) > 2 {
		end = clampIndex(int(arg(args, 2).num), len(items))
	}
	if start > end {
		return Array(nil), nil
	}
	out := make([]Value, end-start)
	copy(out, items[start:end])
	return Array(out), nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func fnConcat(args []Value) (Value, error) {
	var out []Value
	for _, a := range args {
		if a.Kind() == KindArray {
			out = append(out, a.Items()...)
		} else {
			out = append(out, a)
		}
	}
	return Array(out), nil
}

func fnJoin(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	sep := ","
	if len(args) > 1 {
		sep = arg(args, 1).AsString()
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.AsString()
	}
	return String(strings.Join(parts, sep)), nil
}

func fnKeys(args []Value) (Value, error) {
	ks := arg(args, 0).Keys()
	out := make([]Value, len(ks))
	for i, k := range ks {
		out[i] = String(k)
	}
	return Array(out), nil
}

func fnValues(args []Value) (Value, error) {
	v := arg(args, 0)
	ks := v.Keys()
	raw := v.Raw()
	out := make([]Value, len(ks))
	for i, k := range ks {
		out[i] = raw[k]
	}
	return Array(out), nil
}

func fnMerge(args []Value) (Value, error) {
	out := make(map[string]Value)
	for _, a := range args {
		if a.Kind() != KindObject {
			return Null(), newEvalError(ErrTypeMismatch, "merge: all arguments must be objects")
		}
		for k, v := range a.Raw() {
			out[k] = v
		}
	}
	return Object(out), nil
}

func fnPick(args []Value) (Value, error) {
	v := arg(args, 0)
	if v.Kind() != KindObject {
		return Null(), newEvalError(ErrTypeMismatch, "pick: expected an object")
	}
	out := make(map[string]Value)
	raw := v.Raw()
	for _, k := range arg(args, 1).Items() {
		name := k.AsString()
		if val, ok := raw[name]; ok {
			out[name] = val
		}
	}
	return Object(out), nil
}

func fnOmit(args []Value) (Value, error) {
	v := arg(args, 0)
	if v.Kind() != KindObject {
		return Null(), newEvalError(ErrTypeMismatch, "omit: expected an object")
	}
	excl := make(map[string]bool)
	for _, k := range arg(args, 1).Items() {
		excl[k.AsString()] = true
	}
	out := make(map[string]Value)
	for k, val := range v.Raw() {
		if !excl[k] {
			out[k] = val
		}
	}
	return Object(out), nil
}

func fnSplit(args []Value) (Value, error) {
	s := arg(args, 0).AsString()
	sep := arg(args, 1).AsString()
	var parts []string
	if sep == "" {
		parts = strings.Split(s, "")
	} else {
		parts = strings.Split(s, sep)
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = String(p)
	}
	return Array(out), nil
}

func fnReplace(args []Value) (Value, error) {
	s := arg(args, 0).AsString()
	old := arg(args, 1).AsString()
	new := arg(args, 2).AsString()
	return String(strings.ReplaceAll(s, old, new)), nil
}

func fnMatch(args []Value) (Value, error) {
	s := arg(args, 0).AsString()
	pattern := arg(args, 1).AsString()
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Null(), newEvalError(ErrInvalidArgument, "match: invalid pattern: %s", err)
	}
	return Bool(re.MatchString(s)), nil
}

func fnExtract(args []Value) (Value, error) {
	s := arg(args, 0).AsString()
	pattern := arg(args, 1).AsString()
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Null(), newEvalError(ErrInvalidArgument, "extract: invalid pattern: %s", err)
	}
	groups := re.FindStringSubmatch(s)
	if groups == nil {
		return Null(), nil
	}
	if len(groups) == 1 {
		return String(groups[0]), nil
	}
	out := make([]Value, len(groups)-1)
	for i, g := range groups[1:] {
		out[i] = String(g)
	}
	return Array(out), nil
}

func fnDefault(args []Value) (Value, error) {
	v := arg(args, 0)
	if v.Kind() == KindNull {
		return arg(args, 1), nil
	}
	return v, nil
}

// fnFilterBy(items, field, value) keeps items whose field member equals value.
func fnFilterBy(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	field := arg(args, 1)
	want := arg(args, 2)
	var out []Value
	for _, it := range items {
		if Equal(it.Member(field), want) {
			out = append(out, it)
		}
	}
	return Array(out), nil
}

// fnPluck(items, field) extracts one member from every item.
func fnPluck(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	field := arg(args, 1)
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = it.Member(field)
	}
	return Array(out), nil
}

// fnFilterActive(items) keeps items whose "active" (or "enabled") field is
// truthy, defaulting to true when neither field is present.
func fnFilterActive(args []Value) (Value, error) {
	items := arg(args, 0).Items()
	var out []Value
	for _, it := range items {
		active := it.Member(String("active"))
		if active.Kind() == KindNull {
			active = it.Member(String("enabled"))
		}
		if active.Kind() == KindNull || active.Truthy() {
			out = append(out, it)
		}
	}
	return Array(out), nil
}

// fnGetNames(items) plucks the "name" field from every item.
func fnGetNames(args []Value) (Value, error) {
	return fnPluck([]Value{arg(args, 0), String("name")})
}

// fnIncludes(collection, value) tests array membership or substring
// containment, mirroring the source's polymorphic includes().
func fnIncludes(args []Value) (Value, error) {
	coll := arg(args, 0)
	target := arg(args, 1)
	switch coll.Kind() {
	case KindArray:
		for _, it := range coll.arr {
			if Equal(it, target) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindString:
		return Bool(strings.Contains(coll.str, target.AsString())), nil
	default:
		return Bool(false), nil
	}
}
